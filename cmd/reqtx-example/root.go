package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-saas/reqtx"
	"github.com/go-saas/reqtx/event"
	ugorm "github.com/go-saas/reqtx/gorm"
	"github.com/go-saas/reqtx/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "reqtx-example",
	Short:        "A silly server that generates random numbers, but only commits positive ones",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		logger, err := NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
}

func serve(ctx context.Context, cfg Config, logger *zap.Logger) error {
	db, err := OpenDB(cfg.Database)
	if err != nil {
		return err
	}

	events := &logProducer{log: logger}
	mgr := reqtx.NewManager(event.Wrap(ugorm.NewTransactionDb(db), events),
		reqtx.WithLogger(NewKratosLogger(logger)),
		reqtx.WithObserver(metrics.New()),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           NewRouter(mgr, events, rand.Int31, promhttp.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
