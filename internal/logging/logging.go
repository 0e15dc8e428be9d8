package logging

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var ErrInvalidLogFormat = errors.New("invalid log format, expected 'console' or 'json'")

func CreateLogger(level zerolog.Level, format string, out ...io.Writer) (zerolog.Logger, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var writer io.Writer = os.Stderr
	if len(out) > 0 {
		writer = io.MultiWriter(out...)
	}

	switch format {
	case "console":
		writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = writer
			w.TimeFormat = time.RFC3339
		})
	case "json":
	default:
		return zerolog.Logger{}, ErrInvalidLogFormat
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Caller().Logger(), nil
}
