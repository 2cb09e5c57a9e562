package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Printf-style helpers over the global zerolog logger. Messages follow the
// "pkg.Type.method key=value" convention used across the repo.

func Tracef(format string, args ...any) { log.Trace().Msgf(format, args...) }

func Debugf(format string, args ...any) { log.Debug().Msgf(format, args...) }

func Infof(format string, args ...any) { log.Info().Msgf(format, args...) }

func Warnf(format string, args ...any) { log.Warn().Msgf(format, args...) }

func Errorf(format string, args ...any) { log.Error().Msgf(format, args...) }

// Logger returns the configured logger for components that prefer
// structured fields (the admin request logger).
func Logger() zerolog.Logger {
	return log.Logger
}
