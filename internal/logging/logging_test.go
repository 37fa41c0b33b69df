package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rcliao/promptscope/internal/config"
)

func TestNew_Levels(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = New(config.LoggingConfig{Level: "warn", Verbose: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.LoggingConfig{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestTee(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Tee(zap.NewNop(), core)
	logger.Debug("[WI] Entry 1 activated", zap.String("k", "v"))

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[WI] Entry 1 activated", logs.All()[0].Message)

	base := zap.NewNop()
	assert.Same(t, base, Tee(base))
}
