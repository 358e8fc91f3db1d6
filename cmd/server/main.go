package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gps-svr/internal/api"
	"gps-svr/internal/config"
	"gps-svr/internal/dispatcher"
	"gps-svr/internal/grpcclient"
	"gps-svr/internal/link"
	"gps-svr/internal/observability"
	"gps-svr/internal/rawlog"
	"gps-svr/internal/server"
	"gps-svr/internal/store"
	"gps-svr/internal/uplink"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = logger.Sync() }()
	logger.Info("Starting gps-svr...", zap.String("tcp_port", cfg.TCPPort), zap.String("http_port", cfg.HTTPPort))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// La base de datos es obligatoria al arrancar; el resto de sinks es opcional.
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	sqlStore, err := store.OpenSQL(startCtx, cfg.DBDriver, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal("database init failed", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer func() { _ = sqlStore.Close() }()
	logger.Info("database connected", zap.String("driver", cfg.DBDriver))

	sinks := []store.Sink{sqlStore}

	if cfg.RedisAddr != "" {
		shadow, err := store.NewShadowCache(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Error("Redis init failed, device shadow disabled", zap.Error(err))
		} else {
			defer func() { _ = shadow.Close() }()
			sinks = append(sinks, shadow)
		}
	}

	if cfg.NATSURL != "" {
		ns, err := uplink.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("NATS init failed, uplink disabled", zap.Error(err))
		} else {
			defer func() { _ = ns.Close() }()
			sinks = append(sinks, ns)
		}
	}

	if cfg.GRPCServer != "" {
		gc, err := grpcclient.NewGRPCClient(cfg.GRPCServer)
		if err != nil {
			logger.Error("gRPC init failed, forwarder disabled", zap.Error(err))
		} else {
			defer func() { _ = gc.Close() }()
			sinks = append(sinks, gc)
		}
	}

	var lk *link.Client
	if cfg.ProxyAddr != "" {
		lk = link.New(cfg.ProxyAddr, logger)
		go lk.Run(ctx)
		sinks = append(sinks, lk)
	} else {
		logger.Info("link disabled (no proxy address configured)")
	}

	rl, err := rawlog.Open(cfg.RawLogFile, cfg.Location(), time.Now())
	if err != nil {
		logger.Fatal("raw log init failed", zap.String("path", cfg.RawLogFile), zap.Error(err))
	}
	defer func() {
		if err := rl.Close(time.Now()); err != nil {
			logger.Error("raw log close failed", zap.Error(err))
		}
	}()
	logger.Info("raw log ready", zap.String("path", rl.Path()))

	disp := dispatcher.New(dispatcher.Options{
		QueueSize:   cfg.QueueSize,
		Workers:     cfg.Workers,
		SinkTimeout: cfg.SinkTimeout,
	}, logger, sinks...)
	defer disp.Close()

	go observability.StartMetricsServer(ctx, cfg.MetricsPort, logger)

	httpAPI := api.NewServer(sqlStore, rl, disp, cfg.Location(), logger)
	go func() {
		if err := httpAPI.Start(cfg.HTTPPort); err != nil {
			logger.Error("HTTP API failed", zap.Error(err))
		}
	}()

	tcp := server.New(server.Options{
		Addr:           ":" + cfg.TCPPort,
		ReadBufferSize: cfg.ReadBufferSize,
		IdleTimeout:    cfg.IdleTimeout,
	}, rl, disp, logger)
	if lk != nil {
		tcp.SetNotifier(lk)
	}
	if err := tcp.Listen(); err != nil {
		logger.Fatal("TCP server failed", zap.Error(err))
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- tcp.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("TCP server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := tcp.Shutdown(shutdownCtx); err != nil {
		logger.Warn("TCP shutdown incomplete", zap.Error(err))
	}
	if err := httpAPI.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	// los defers cierran dispatcher (drena la cola), raw log (marca de cierre) y sinks
}
