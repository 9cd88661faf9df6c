// Package logger builds the process-wide zerolog.Logger.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/corewave-ai/litegate/internal/config"
)

// New returns a configured zerolog.Logger: console-pretty in development,
// plain JSON otherwise.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
