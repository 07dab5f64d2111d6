package logging

import "testing"

// TestSetupLevels ensures Setup can be called with different log levels without panic.
func TestSetupLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "error", "invalid"}
	for _, l := range levels {
		Setup(l) // just assert no panic
	}
}

func TestForConnectionUsesNoIDWhenEmpty(t *testing.T) {
	log := ForConnection("")
	log.Info().Msg("no panic expected")
}

func TestForConnectionStampsGivenID(t *testing.T) {
	log := ForConnection("abc-123")
	log.Info().Msg("no panic expected")
}
