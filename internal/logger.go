package internal

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Dev gets human-readable console
// output; everything else writes structured JSON.
func NewLogger(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	if env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}
