package observability

import (
	"github.com/danmuck/perfctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the runtime logger for app and installs it as the
// process-wide fallback used by command entrypoints.
func InitLogger(app string) zerolog.Logger {
	logger := logging.New(app)
	log.Logger = logger
	return logger
}
