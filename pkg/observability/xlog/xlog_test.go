package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"log/slog"
)

func buildJSON(t *testing.T, buf *bytes.Buffer, opts ...func(*Builder)) LoggerWithLevel {
	t.Helper()

	b := New().SetOutput(buf).SetFormat("json")
	for _, opt := range opts {
		opt(b)
	}
	logger, err := b.Build()
	require.NoError(t, err)
	return logger
}

// lastLine 解码缓冲区中最后一行 JSON 日志。
func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &record))
	return record
}

func TestBuilder_JSONOutput(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := buildJSON(t, &buf)

	logger.Info(ctx, "hello", slog.String("key", "value"))

	record := lastLine(t, &buf)
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "value", record["key"])
	assert.Equal(t, "INFO", record["level"])
}

func TestBuilder_TextOutput(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	logger, err := New().SetOutput(&buf).SetFormat("text").Build()
	require.NoError(t, err)

	logger.Warn(ctx, "disk almost full", slog.Int("percent", 93))
	assert.Contains(t, buf.String(), "disk almost full")
	assert.Contains(t, buf.String(), "percent=93")
}

func TestBuilder_UnknownFormat(t *testing.T) {
	_, err := New().SetFormat("xml").Build()
	assert.ErrorContains(t, err, "unknown format")
}

func TestBuilder_EmptyFormatDefaultsToText(t *testing.T) {
	_, err := New().SetFormat("").Build()
	assert.NoError(t, err)
}

func TestBuilder_SetLevelString(t *testing.T) {
	_, err := New().SetLevelString("nope").Build()
	assert.ErrorContains(t, err, "unknown level")

	logger, err := New().SetLevelString("ERROR").Build()
	require.NoError(t, err)
	assert.Equal(t, LevelError, logger.GetLevel())
}

func TestLogger_LevelFiltering(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := buildJSON(t, &buf)

	logger.Debug(ctx, "invisible")
	assert.Empty(t, buf.String(), "debug is below the default level")

	logger.SetLevel(LevelDebug)
	logger.Debug(ctx, "visible")
	assert.Contains(t, buf.String(), "visible")
	assert.True(t, logger.Enabled(ctx, LevelDebug))
}

func TestLogger_DerivedSharesLevel(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := buildJSON(t, &buf)

	derived := logger.With(slog.String("component", "test"))
	logger.SetLevel(LevelError)

	derived.Info(ctx, "suppressed")
	assert.Empty(t, buf.String(), "derived logger follows the shared level var")

	derived.Error(ctx, "kept")
	record := lastLine(t, &buf)
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "test", record["component"])
}

func TestLogger_WithGroup(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := buildJSON(t, &buf)

	logger.WithGroup("req").With(slog.String("id", "42")).Info(ctx, "grouped")

	record := lastLine(t, &buf)
	group, ok := record["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", group["id"])
}

func TestLogger_Stack(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := buildJSON(t, &buf)

	logger.Stack(ctx, "something broke")

	record := lastLine(t, &buf)
	stack, ok := record[KeyStack].(string)
	require.True(t, ok)
	assert.Contains(t, stack, "goroutine", "stack trace must contain the goroutine header")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"fatal", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	logger := Nop()

	// 所有方法都是安全的空操作
	logger.Debug(ctx, "a")
	logger.Info(ctx, "b")
	logger.Warn(ctx, "c")
	logger.Error(ctx, "d")
	logger.Stack(ctx, "e")
	assert.NotNil(t, logger.With(slog.String("k", "v")))
	assert.NotNil(t, logger.WithGroup("g"))
}
