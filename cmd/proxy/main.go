package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gps-svr/internal/config"
	"gps-svr/internal/observability"
	"gps-svr/internal/proxy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	h, err := proxy.New(cfg.ProxyTarget, logger)
	if err != nil {
		logger.Fatal("proxy init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ProxyListenPort,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("proxy running", zap.String("port", cfg.ProxyListenPort), zap.String("target", cfg.ProxyTarget))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("proxy server failed", zap.Error(err))
	}
}
