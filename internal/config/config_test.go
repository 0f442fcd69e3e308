package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, TransportWS, cfg.Stream.Transport)
	assert.False(t, cfg.Stream.Reconnect.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Render.ResizeDelay)
	assert.Equal(t, 365, cfg.Render.MaxCandles)
	assert.Equal(t, "@every 5s", cfg.Server.UpdateSchedule)
	assert.Contains(t, cfg.Server.Symbols, "002363")

	_, offset := time.Date(2024, 3, 1, 0, 0, 0, 0, cfg.Market.Location()).Zone()
	assert.Equal(t, 8*3600, offset)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  timeout: 3s
stream:
  transport: grpc
  grpc_addr: feed:50051
  reconnect:
    enabled: true
    initial_backoff: 500ms
    max_backoff: 4s
`), 0o644))

	t.Setenv("API_BASE_URL", "http://example.test/api")
	t.Setenv("RENDER_MAX_CANDLES", "48")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/api", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, TransportGRPC, cfg.Stream.Transport)
	assert.Equal(t, "feed:50051", cfg.Stream.GRPCAddr)
	assert.True(t, cfg.Stream.Reconnect.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.Reconnect.InitialBackoff)
	assert.Equal(t, 48, cfg.Render.MaxCandles)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Stream.Transport = "carrier-pigeon"
	assert.ErrorContains(t, bad.Validate(), "stream.transport")

	bad = *cfg
	bad.Stream.Reconnect = ReconnectConfig{Enabled: true, InitialBackoff: time.Second, MaxBackoff: time.Millisecond}
	assert.ErrorContains(t, bad.Validate(), "stream.reconnect")

	bad = *cfg
	bad.API.Timeout = 0
	bad.Market.UTCOffsetHours = 20
	err = bad.Validate()
	assert.ErrorContains(t, err, "api.timeout")
	assert.ErrorContains(t, err, "utc_offset_hours")
}
