package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/stockview/internal/config"
)

func TestNewWritesToFileAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.log")
	l, err := New(config.LoggerConfig{Level: "warn", File: path})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "shown")
	assert.NotContains(t, string(b), "hidden")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l, err := New(config.LoggerConfig{Development: true})
	require.NoError(t, err)
	assert.Same(t, l, OrNop(l))
}
