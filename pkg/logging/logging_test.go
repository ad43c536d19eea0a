package logging

import (
	"bytes"
	"testing"

	"cloud.google.com/go/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSeverity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		level    zerolog.Level
		severity logging.Severity
	}{
		{zerolog.DebugLevel, logging.Debug},
		{zerolog.InfoLevel, logging.Info},
		{zerolog.WarnLevel, logging.Warning},
		{zerolog.ErrorLevel, logging.Error},
		{zerolog.FatalLevel, logging.Alert},
		{zerolog.PanicLevel, logging.Emergency},
		{zerolog.NoLevel, logging.Default},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.severity, Severity(tc.level), tc.level.String())
	}
}

func TestSeverityHook(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(severityHook{})
	logger.Warn().Msg("stuck transaction")
	require.Contains(t, buf.String(), `"severity":"`+logging.Warning.String()+`"`)
}
