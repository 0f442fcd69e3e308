package cmd

import (
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/adapter/grpcfeed"
	"github.com/yitech/stockview/adapter/stockapi"
	"github.com/yitech/stockview/internal/config"
	"github.com/yitech/stockview/internal/eventloop"
	"github.com/yitech/stockview/internal/logger"
	"github.com/yitech/stockview/session"
	"github.com/yitech/stockview/stream"
)

// setup loads the configuration and builds the logger. The terminal UI owns
// stdout, so fileLog sends logs to a file unless one is configured.
func setup(fileLog bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if transport != "" {
		cfg.Stream.Transport = transport
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	if fileLog && cfg.Logger.File == "" {
		cfg.Logger.File = defaultLogFile
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// deps are the backend collaborators of a viewer.
type deps struct {
	fetcher   adapter.Fetcher
	transport adapter.Transport
	cfg       *config.Config
	log       *zap.Logger
	cc        *grpc.ClientConn
}

func newDeps(cfg *config.Config, log *zap.Logger) (*deps, error) {
	api := stockapi.New(cfg.API.BaseURL, cfg.Stream.WSURL, cfg.API.Timeout, cfg.Market.Location())
	d := &deps{fetcher: api, transport: api, cfg: cfg, log: log}

	if cfg.Stream.Transport == config.TransportGRPC {
		tr, cc, err := grpcfeed.Dial(cfg.Stream.GRPCAddr)
		if err != nil {
			return nil, err
		}
		d.transport, d.cc = tr, cc
	}
	log.Info("viewer configured",
		zap.String("api", cfg.API.BaseURL),
		zap.String("transport", cfg.Stream.Transport))
	return d, nil
}

func (d *deps) streamClient(poster eventloop.Poster) *stream.Client {
	r := d.cfg.Stream.Reconnect
	return stream.New(d.transport, poster, stream.Options{
		Reconnect: stream.ReconnectPolicy{
			Enabled:        r.Enabled,
			InitialBackoff: r.InitialBackoff,
			MaxBackoff:     r.MaxBackoff,
		},
		Location: d.cfg.Market.Location(),
		Logger:   d.log,
	})
}

func (d *deps) sessionConfig() session.Config {
	return session.Config{
		MaxCandles:  d.cfg.Render.MaxCandles,
		ResizeDelay: d.cfg.Render.ResizeDelay,
		Logger:      d.log,
	}
}

func (d *deps) Close() error {
	if d.cc == nil {
		return nil
	}
	if err := d.cc.Close(); err != nil {
		return fmt.Errorf("grpc close: %w", err)
	}
	return nil
}
