package librt

import (
	"fmt"

	"github.com/rs/zerolog"
)

// zerologLogger adapts a zerolog.Logger to the Logger interface so
// applications already running zerolog can plug their logger straight in.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger wraps the given zerolog.Logger.
func NewZerologLogger(zl zerolog.Logger) Logger {
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) WithField(key string, value any) Logger {
	return &zerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) Debug(args ...any) {
	l.zl.Debug().Msg(fmt.Sprint(args...))
}

func (l *zerologLogger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *zerologLogger) Debugln(args ...any) {
	l.zl.Debug().Msg(fmt.Sprintln(args...))
}

func (l *zerologLogger) Info(args ...any) {
	l.zl.Info().Msg(fmt.Sprint(args...))
}

func (l *zerologLogger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *zerologLogger) Infoln(args ...any) {
	l.zl.Info().Msg(fmt.Sprintln(args...))
}

func (l *zerologLogger) Warn(args ...any) {
	l.zl.Warn().Msg(fmt.Sprint(args...))
}

func (l *zerologLogger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *zerologLogger) Warnln(args ...any) {
	l.zl.Warn().Msg(fmt.Sprintln(args...))
}

func (l *zerologLogger) Error(args ...any) {
	l.zl.Error().Msg(fmt.Sprint(args...))
}

func (l *zerologLogger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

func (l *zerologLogger) Errorln(args ...any) {
	l.zl.Error().Msg(fmt.Sprintln(args...))
}
