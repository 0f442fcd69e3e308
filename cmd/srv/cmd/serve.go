package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/yitech/stockview/adapter/grpcfeed"
	"github.com/yitech/stockview/server/api"
	"github.com/yitech/stockview/server/market"
	"github.com/yitech/stockview/server/store"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST, WebSocket and gRPC endpoints",
	Long: `Serve seeds the synthetic market, starts its update schedule and serves
the HTTP endpoints on server.addr and the gRPC feed on server.grpc_addr until
interrupted.

Example:
  stocksrv serve --addr :8000 --grpc-addr :50051`,
	RunE: runServe,
}

var (
	serveAddr     string
	serveGRPCAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override server.addr")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "override server.grpc_addr")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveGRPCAddr != "" {
		cfg.Server.GRPCAddr = serveGRPCAddr
	}

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
	if err := m.Start(cfg.Server.UpdateSchedule); err != nil {
		return err
	}
	defer m.Stop()

	srv := api.New(m, log)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	gs := grpc.NewServer()
	grpcfeed.Register(gs, srv)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := gs.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		log.Error("server failed", zap.Error(err))
	}

	// Push feeds end first so neither server waits on a subscriber.
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("http shutdown", zap.Error(serr))
	}
	gs.GracefulStop()
	return err
}
