package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// BadgerLogger routes badger's printf-style logs into zerolog under the
// "badger" component. Badger terminates its messages with newlines and pads
// some of them, both are trimmed.
type BadgerLogger struct{ log zerolog.Logger }

func NewBadgerLogger(log *zerolog.Logger) *BadgerLogger {
	return &BadgerLogger{log.With().Str("component", "badger").Logger()}
}

func (l *BadgerLogger) emit(event *zerolog.Event, format string, args []any) {
	format = strings.TrimSpace(format)
	if format == "" {
		return
	}
	event.Msgf(format, args...)
}

func (l *BadgerLogger) Debugf(format string, args ...any) {
	l.emit(l.log.Debug(), format, args)
}

func (l *BadgerLogger) Infof(format string, args ...any) {
	l.emit(l.log.Info(), format, args)
}

func (l *BadgerLogger) Warningf(format string, args ...any) {
	l.emit(l.log.Warn(), format, args)
}

func (l *BadgerLogger) Errorf(format string, args ...any) {
	l.emit(l.log.Error(), format, args)
}
