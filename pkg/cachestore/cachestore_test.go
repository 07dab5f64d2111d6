package cachestore

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New(10)
	s.Put("a", Entry{Body: []byte("hi")})
	e, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("hi"), e.Body)
}

func TestGetMiss(t *testing.T) {
	s := New(10)
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestEvictionIsInsertionOrderNotRecency(t *testing.T) {
	s := New(3)
	s.Put("1", Entry{})
	s.Put("2", Entry{})
	s.Put("3", Entry{})

	// Touch key "1" via Get repeatedly; since Get must not affect
	// recency, "1" should still be the next eviction victim.
	for i := 0; i < 5; i++ {
		s.Get("1")
	}

	s.Put("4", Entry{})

	_, ok := s.Get("1")
	assert.False(t, ok, "oldest insertion should be evicted even though it was recently read")

	for _, k := range []string{"2", "3", "4"} {
		_, ok := s.Get(k)
		assert.True(t, ok, "key %s should remain", k)
	}
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	s := New(4)
	for i := 0; i < 100; i++ {
		s.Put(strconv.Itoa(i), Entry{})
		assert.LessOrEqual(t, s.Size(), 4)
	}
}

func TestRemoveAndClear(t *testing.T) {
	s := New(10)
	s.Put("a", Entry{})
	s.Remove("a")
	_, ok := s.Get("a")
	assert.False(t, ok)

	s.Put("b", Entry{})
	s.Put("c", Entry{})
	s.Clear()
	assert.Equal(t, 0, s.Size())
}

func TestIsValidRespectsExpiry(t *testing.T) {
	s := New(10)
	s.Put("a", Entry{ExpiresTime: 100})
	assert.True(t, s.IsValid("a", 50))
	assert.False(t, s.IsValid("a", 150))
}

func TestIsValidUnsetExpiryAlwaysValid(t *testing.T) {
	s := New(10)
	s.Put("a", Entry{ExpiresTime: 0})
	assert.True(t, s.IsValid("a", 999999))
}

func TestIsValidRequiresValidationIsNeverValid(t *testing.T) {
	s := New(10)
	s.Put("a", Entry{ExpiresTime: 100, RequiresValidation: true})
	assert.False(t, s.IsValid("a", 50), "an entry needing revalidation is never valid, expiry aside")
}

func TestReplaceDoesNotMoveNodeToFront(t *testing.T) {
	s := New(2)
	s.Put("a", Entry{})
	s.Put("b", Entry{})
	s.Put("a", Entry{Body: []byte("updated")})
	// "a" already existed, so this Put only overwrote its entry in
	// place — it did not touch the list, so "a" (the oldest insertion)
	// is still the tail and gets evicted next, not "b".
	a, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("updated"), a.Body)

	s.Put("c", Entry{})

	_, aOk := s.Get("a")
	assert.False(t, aOk, "a was the tail and should have been evicted")

	_, bOk := s.Get("b")
	assert.True(t, bOk)

	_, cOk := s.Get("c")
	assert.True(t, cOk)
}
