package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yitech/stockview/server/market"
	"github.com/yitech/stockview/server/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate history and today's opening bars, then exit",
	Long: `Seed fills the database with daily history and the opening 5-minute bars
of the latest trading day for every configured symbol. A session already in
the database is left as it is.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.Open(cfg.Server.DBPath, cfg.Market.Location())
	if err != nil {
		return err
	}
	defer st.Close()

	m := market.New(st, market.Config{
		Symbols:     cfg.Server.Symbols,
		Location:    cfg.Market.Location(),
		TicksPerBar: cfg.Server.TicksPerBar,
		Logger:      log,
	})
	if err := m.Seed(); err != nil {
		return err
	}

	codes, err := st.Codes()
	if err != nil {
		return err
	}
	log.Info("seeded", zap.String("db", cfg.Server.DBPath), zap.Strings("symbols", codes))
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d symbols into %s\n", len(codes), cfg.Server.DBPath)
	return nil
}
