package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/yitech/stockview/internal/eventloop"
	"github.com/yitech/stockview/model/candle"
)

const defaultLogFile = "stockview.log"

var rootCmd = &cobra.Command{
	Use:   "stockview",
	Short: "Terminal candle viewer for the stock backend",
	Long: `stockview shows the daily and 5-minute candles of one stock code and keeps
the 5-minute chart live over the push feed.

Keys:
  enter      query the code (and optional end date)
  tab        move between code, end date and chart
  d / m      daily / min5 tab
  + / -      zoom in / out        ← / →   pan
  0          reset zoom           r       re-query
  q          quit

Settings come from --config, a .env file and API_*, STREAM_*, RENDER_*,
MARKET_* and LOGGER_* environment variables.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

var (
	cfgFile   string
	transport string
	symbol    string
	endDate   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "", `override stream.transport ("ws" or "grpc")`)
	rootCmd.PersistentFlags().StringVar(&endDate, "end-date", "", "query end date, YYYY-MM-DD (default latest)")

	rootCmd.Flags().StringVarP(&symbol, "symbol", "s", "", "query this code on start")
}

func runTUI(cmd *cobra.Command, args []string) error {
	if err := checkEndDate(endDate); err != nil {
		return err
	}
	cfg, log, err := setup(true)
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := newDeps(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	queue := eventloop.New()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go queue.Run(ctx)

	loop := &teaLoop{queue: queue}
	m := newModel(d, loop)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	loop.send = p.Send
	if symbol != "" {
		m.startWith(symbol, endDate)
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func checkEndDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := time.Parse(candle.DateLayout, s); err != nil {
		return fmt.Errorf("end date %q: want YYYY-MM-DD", s)
	}
	return nil
}
