package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewReturnsUsableLogger(t *testing.T) {
	log := New(Config{Level: "debug", Format: FormatJSON, Component: "test", Version: "dev"})
	assert.NotNil(t, log)
	assert.True(t, log.Enabled(nil, slog.LevelDebug))

	log = NewProduction("fleetd", "1.0.0")
	assert.False(t, log.Enabled(nil, slog.LevelDebug))
	assert.True(t, log.Enabled(nil, slog.LevelInfo))
}
