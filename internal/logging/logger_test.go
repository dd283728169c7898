package logging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		path := filepath.Join(t.TempDir(), "out.log")
		logger, err := New(Options{Level: "debug", Format: format, OutputPaths: []string{path}})
		require.NoError(t, err, format)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
		logger.Info("hello", zap.String("k", "v"))
		_ = logger.Sync()
	}

	_, err := New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logger, err := New(Options{Level: "verbose", OutputPaths: []string{filepath.Join(t.TempDir(), "out.log")}})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-9")

	core, observed := observer.New(zap.InfoLevel)
	WithContext(ctx, zap.New(core)).Info("contextual log")

	records := observed.All()
	require.Len(t, records, 1)
	fields := records[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "task-9", fields["task_id"])

	assert.NotNil(t, WithContext(context.Background(), nil))
}
