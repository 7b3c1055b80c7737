package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Start returns a debug-level logger that writes through t.Log.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel).With().Str("test", t.Name()).Logger()
	logger.Debug().Msg("test start")
	return logger
}
