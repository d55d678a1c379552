package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raohassandev/modbus-gateway/pkg/gatewayapi"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Bring up the configured device fleet and serve metrics/push endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context())
	},
}

func runStart(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := gatewayapi.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	bringUpCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BringUp.TimeoutMs)*time.Millisecond+time.Second)
	defer cancel()
	if err := gw.Start(bringUpCtx); err != nil {
		logger.Warn("gatewayd: bring-up completed with errors", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.HTTP.MetricsPath, metricsHandler(gw))
	mux.Handle(cfg.HTTP.PushPath, gw.PushHub())

	srv := &http.Server{Addr: cfg.HTTP.ListenAddress, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("gatewayd: listening", zap.String("address", cfg.HTTP.ListenAddress))

	select {
	case <-ctx.Done():
		logger.Info("gatewayd: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func metricsHandler(gw *gatewayapi.Gateway) http.Handler {
	base := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.MetricsRegistry().Refresh()
		base.ServeHTTP(w, r)
	})
}
