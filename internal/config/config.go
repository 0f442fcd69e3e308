package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the viewer and the backend.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Stream StreamConfig `mapstructure:"stream"`
	Render RenderConfig `mapstructure:"render"`
	Market MarketConfig `mapstructure:"market"`
	Server ServerConfig `mapstructure:"server"`
	Logger LoggerConfig `mapstructure:"logger"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StreamConfig struct {
	Transport string          `mapstructure:"transport"` // "ws" or "grpc"
	WSURL     string          `mapstructure:"ws_url"`
	GRPCAddr  string          `mapstructure:"grpc_addr"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig controls what happens after the push connection drops.
// Disabled means the user re-queries to reconnect.
type ReconnectConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type RenderConfig struct {
	ResizeDelay time.Duration `mapstructure:"resize_delay"`
	MaxCandles  int           `mapstructure:"max_candles"`
}

type MarketConfig struct {
	UTCOffsetHours int `mapstructure:"utc_offset_hours"`
}

// Location is the fixed zone wire timestamps are written in.
func (m MarketConfig) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", m.UTCOffsetHours), m.UTCOffsetHours*60*60)
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	GRPCAddr       string   `mapstructure:"grpc_addr"`
	DBPath         string   `mapstructure:"db_path"`
	UpdateSchedule string   `mapstructure:"update_schedule"`
	// TicksPerBar is how many scheduled updates a 5-minute bar stays open.
	TicksPerBar    int      `mapstructure:"ticks_per_bar"`
	Symbols        []string `mapstructure:"symbols"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

const (
	TransportWS   = "ws"
	TransportGRPC = "grpc"
)

var keys = []string{
	"api.base_url", "api.timeout",
	"stream.transport", "stream.ws_url", "stream.grpc_addr",
	"stream.reconnect.enabled", "stream.reconnect.initial_backoff", "stream.reconnect.max_backoff",
	"render.resize_delay", "render.max_candles",
	"market.utc_offset_hours",
	"server.addr", "server.grpc_addr", "server.db_path", "server.update_schedule", "server.ticks_per_bar", "server.symbols",
	"logger.level", "logger.development", "logger.file",
}

// Load reads configuration from defaults, an optional config file, a .env
// file and environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	// A missing .env is fine; real env vars still apply.
	_ = godotenv.Load()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// "stream.ws_url" -> STREAM_WS_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.timeout", 10*time.Second)

	v.SetDefault("stream.transport", TransportWS)
	v.SetDefault("stream.ws_url", "ws://localhost:8000/ws")
	v.SetDefault("stream.grpc_addr", "localhost:50051")
	v.SetDefault("stream.reconnect.enabled", false)
	v.SetDefault("stream.reconnect.initial_backoff", time.Second)
	v.SetDefault("stream.reconnect.max_backoff", 30*time.Second)

	v.SetDefault("render.resize_delay", 100*time.Millisecond)
	v.SetDefault("render.max_candles", 365)

	v.SetDefault("market.utc_offset_hours", 8)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.db_path", "data/stock_data.db")
	v.SetDefault("server.update_schedule", "@every 5s")
	v.SetDefault("server.ticks_per_bar", 6)
	v.SetDefault("server.symbols", []string{"002363", "000001", "600519"})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.development", false)
	v.SetDefault("logger.file", "")
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	switch c.Stream.Transport {
	case TransportWS:
		if c.Stream.WSURL == "" {
			errs = append(errs, errors.New("stream.ws_url is required for the ws transport"))
		}
	case TransportGRPC:
		if c.Stream.GRPCAddr == "" {
			errs = append(errs, errors.New("stream.grpc_addr is required for the grpc transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("stream.transport must be %q or %q, got %q", TransportWS, TransportGRPC, c.Stream.Transport))
	}
	if r := c.Stream.Reconnect; r.Enabled {
		if r.InitialBackoff <= 0 || r.MaxBackoff < r.InitialBackoff {
			errs = append(errs, errors.New("stream.reconnect needs 0 < initial_backoff <= max_backoff"))
		}
	}
	if c.Render.ResizeDelay < 0 {
		errs = append(errs, errors.New("render.resize_delay must not be negative"))
	}
	if c.Market.UTCOffsetHours < -12 || c.Market.UTCOffsetHours > 14 {
		errs = append(errs, fmt.Errorf("market.utc_offset_hours out of range: %d", c.Market.UTCOffsetHours))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
