package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yitech/stockview/adapter"
	"github.com/yitech/stockview/internal/eventloop"
	"github.com/yitech/stockview/model/candle"
	"github.com/yitech/stockview/render"
	"github.com/yitech/stockview/session"
)

var watchCmd = &cobra.Command{
	Use:   "watch <code>",
	Short: "Print the series and push status of one code without the chart",
	Long: `Watch runs the same query and push pipeline as the viewer and prints one
line per change: push status, daily and 5-minute series summaries and failed
queries. It runs until interrupted.

Example:
  stockview watch 002363 --transport grpc`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := checkEndDate(endDate); err != nil {
		return err
	}
	cfg, log, err := setup(false)
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := newDeps(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	loop := eventloop.New()
	ctrl := session.New(d.fetcher, d.streamClient(loop), loop, d.sessionConfig(), watchHooks(out))
	loop.Post(func() { ctrl.Query(args[0], endDate) })

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = loop.Run(ctx)
	// The loop has stopped, so the controller is ours to close here.
	ctrl.Close()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func watchHooks(out io.Writer) session.Hooks {
	return session.Hooks{
		OnStatus: func(symbol string, st adapter.Status, err error) {
			if err != nil && st == adapter.Error {
				fmt.Fprintf(out, "%s push %s: %v\n", symbol, st, err)
				return
			}
			fmt.Fprintf(out, "%s push %s\n", symbol, st)
		},
		OnLoading: func(view render.View, loading bool) {
			if loading {
				fmt.Fprintf(out, "%s loading\n", tabName(view))
			}
		},
		OnSeries: func(view render.View, s *candle.Series) {
			fmt.Fprintln(out, summary(view, s))
		},
		OnFetchFailure: func(view render.View, err error) {
			fmt.Fprintf(out, "%s query failed: %v\n", tabName(view), err)
		},
	}
}

// summary is a one-line description of a series.
func summary(view render.View, s *candle.Series) string {
	c, ok := s.Latest()
	if !ok {
		return fmt.Sprintf("%s empty", tabName(view))
	}
	stamp := c.Time.Format(candle.DateLayout)
	if view == render.Intraday {
		stamp = c.Time.Format("15:04")
	}
	line := fmt.Sprintf("%s %s bars=%d last=%s O:%.2f H:%.2f L:%.2f C:%.2f V:%d",
		tabName(view), s.Code, s.Len(), stamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	if !s.UpdatedAt.IsZero() {
		line += " updated=" + s.UpdatedAt.Format("15:04:05")
	}
	return line
}
