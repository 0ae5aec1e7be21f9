package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	require.NoError(t, Initialize(true))
	// Repeat calls are safe; the singleton is built once.
	require.NoError(t, Initialize(false))
	assert.NotNil(t, GetLogger())
}

func TestGetLogger_FallbackBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-123")
	ctx = context.WithValue(ctx, ClientIDKey, int64(42))
	ctx = context.WithValue(ctx, RoomNameKey, "alpha-main.go")

	fields := appendContextFields(ctx, []zap.Field{zap.String("extra", "x")})

	keys := make(map[string]bool)
	for _, f := range fields {
		keys[f.Key] = true
	}
	assert.True(t, keys["extra"])
	assert.True(t, keys["correlation_id"])
	assert.True(t, keys["client_id"])
	assert.True(t, keys["room_name"])
	assert.True(t, keys["service"])
}

func TestAppendContextFields_NilContext(t *testing.T) {
	fields := appendContextFields(nil, nil)
	assert.Empty(t, fields)
}

func TestContextLoggers_DoNotPanic(t *testing.T) {
	ctx := context.Background()
	Info(ctx, "info message", zap.String("k", "v"))
	Warn(ctx, "warn message")
	Error(ctx, "error message")
}
