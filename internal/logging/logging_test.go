package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"

	"seclens/internal/config"
	"seclens/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	l, err := logging.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l)

	l, err = logging.ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_WritesToFileAtFlagLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seclens.log")
	logger, err := logging.New(config.LoggingConfig{Level: "info", File: path, JSON: true}, false, true)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Error("shown")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}
