package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBadgerLoggerMapsLevels(t *testing.T) {
	t.Parallel()

	writer := bytes.NewBuffer(nil)
	zlogger, err := CreateLogger(zerolog.TraceLevel, "json", writer)
	require.NoError(t, err)

	logger := NewBadgerLogger(&zlogger)

	for _, tc := range []struct {
		log     func(string, ...any)
		level   string
		message string
	}{
		{logger.Debugf, "debug", "Replaying file id: 1"},
		{logger.Infof, "info", "All 0 tables opened"},
		{logger.Warningf, "warn", "Truncate needed"},
		{logger.Errorf, "error", "Unable to acquire directory lock"},
	} {
		writer.Reset()
		tc.log("  %s\n", tc.message)
		require.Contains(t, writer.String(), `"level":"`+tc.level+`"`)
		require.Contains(t, writer.String(), `"component":"badger"`)
		require.Contains(t, writer.String(), `"message":"`+tc.message+`"`)
	}
}

func TestBadgerLoggerHonoursLevel(t *testing.T) {
	t.Parallel()

	writer := bytes.NewBuffer(nil)
	zlogger, err := CreateLogger(zerolog.WarnLevel, "json", writer)
	require.NoError(t, err)

	logger := NewBadgerLogger(&zlogger)
	logger.Infof("value log GC %s", "skipped")
	require.Empty(t, writer.String())

	logger.Warningf("value log GC %s", "failed")
	require.Contains(t, writer.String(), "value log GC failed")
}

func TestBadgerLoggerSkipsBlankMessages(t *testing.T) {
	t.Parallel()

	writer := bytes.NewBuffer(nil)
	zlogger, err := CreateLogger(zerolog.TraceLevel, "json", writer)
	require.NoError(t, err)

	NewBadgerLogger(&zlogger).Infof("\n")
	require.Empty(t, writer.String())
}
