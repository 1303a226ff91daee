package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, "json").Info("store_opened", "path", "/tmp/x")
	assert.Contains(t, buf.String(), `"msg":"store_opened"`)

	buf.Reset()
	New(&buf, slog.LevelWarn, "text").Info("dropped")
	assert.Empty(t, buf.String())
}

func TestOrDefault(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })

	Log = nil
	assert.NotNil(t, OrDefault(nil))

	l := Discard()
	assert.Same(t, l, OrDefault(l))

	Log = slog.Default()
	assert.Same(t, Log, OrDefault(nil))
}
