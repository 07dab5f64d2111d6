package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":12345", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.Backlog)
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	cfg, err := Load([]string{"-listen", ":9999"})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cacherelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":7000\"\ncacheMaxEntries: 42\n"), 0o644))

	cfg, err := Load([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 42, cfg.CacheMaxEntries)
}

func TestLoadFlagOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cacherelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":7000\"\n"), 0o644))

	cfg, err := Load([]string{"-config", path, "-listen", ":8000"})
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.ListenAddr)
}
