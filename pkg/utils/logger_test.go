package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := NewLogger(LoggerConfig{Level: "debug", OutputPath: path, Format: "json"})
	require.NoError(t, err)
	logger.Info("hello", zap.String("instance_id", "i-1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"instance_id":"i-1"`)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.NotContains(t, string(data), `"service"`)
}

func TestNewLogger_ServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")

	logger, err := NewLogger(LoggerConfig{OutputPath: path, Format: "json", Service: "workflow-engine"})
	require.NoError(t, err)
	logger.Info("ready")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"workflow-engine"`)
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "chatty", OutputPath: "stderr", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestKVLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	kv := NewKVLogger(zap.New(core))

	kv.Info("Transition attempted", "instance_id", "i-1", "outcome", "applied", "dangling")
	kv.Error("Transition not persisted", "error", errors.New("disk full"), 42, "answer")

	entries := logs.All()
	require.Len(t, entries, 2)

	info := entries[0].ContextMap()
	assert.Equal(t, "i-1", info["instance_id"])
	assert.Equal(t, "applied", info["outcome"])
	assert.NotContains(t, info, "dangling")

	errCtx := entries[1].ContextMap()
	assert.Equal(t, "disk full", errCtx["error"])
	assert.Equal(t, "answer", errCtx["42"])
}
