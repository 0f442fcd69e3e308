package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yitech/stockview/internal/config"
	"github.com/yitech/stockview/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "stocksrv",
	Short: "Stock candle backend with a synthetic market",
	Long: `stocksrv serves daily and 5-minute candles for a fixed set of stock codes.

It keeps bars in SQLite, advances a synthetic trading session on a cron
schedule and pushes every move to subscribers:

  GET /api/stock/{code}/daily?end_date=YYYY-MM-DD
  GET /api/stock/{code}/min5?end_date=YYYY-MM-DD
  GET /ws/{code}                 (WebSocket push feed)
  stockview.feed.v1.Feed         (gRPC push feed)

Settings come from --config, a .env file and SERVER_*, MARKET_* and
LOGGER_* environment variables.`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
	dbPath   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logger.level")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override server.db_path")
}

// setup loads the configuration, applies flag overrides and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if dbPath != "" {
		cfg.Server.DBPath = dbPath
	}
	if len(cfg.Server.Symbols) == 0 {
		return nil, nil, fmt.Errorf("config: server.symbols is empty")
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
