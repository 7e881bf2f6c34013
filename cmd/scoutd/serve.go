package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corescout/scoutd/internal/config"
	"github.com/corescout/scoutd/internal/history"
	"github.com/corescout/scoutd/internal/history/factory"
	"github.com/corescout/scoutd/internal/logger"
	"github.com/corescout/scoutd/internal/metrics"
	"github.com/corescout/scoutd/internal/server"
	"github.com/corescout/scoutd/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve. Use --config=scoutd.toml or provide as argument")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Listen = flags.Listen
	}

	logger.Setup(os.Stdout, cfg.SlogLevel())

	spec, err := cfg.WorkerSpec()
	if err != nil {
		return fmt.Errorf("assemble worker spec: %w", err)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	prefsStore, err := cfg.PrefsStore()
	if err != nil {
		return err
	}

	var sinks []history.Sink
	logRef := ""
	if cfg.History.File != "" {
		fs := history.NewFileSink(cfg.History.File, cfg.Log)
		sinks = append(sinks, fs)
		logRef = fs.LogRef()
	}
	if cfg.History.DSN != "" {
		dbSink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history dsn: %w", err)
		}
		sinks = append(sinks, dbSink)
	}
	defer func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}()

	sup := supervisor.New(supervisor.Options{
		Spec:              spec,
		Stop:              cfg.Stop,
		Health:            cfg.Health,
		AllowedExtensions: cfg.DataSource.AllowedExtensions,
		DataSourcePath:    cfg.DataSource.Initial,
		Prefs:             prefsStore,
		Sinks:             sinks,
		LogRef:            logRef,
	})
	defer func() { _ = sup.Close() }()

	var sampler *metrics.Sampler
	if cfg.Metrics.Enabled {
		sampler = metrics.NewSampler(cfg.Metrics, sup.WorkerPID)
		if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("sampler metrics registration failed", "error", err)
		}
		sampler.Start(context.Background())
		defer sampler.Stop()
	}

	router := server.NewRouter(sup, "")
	if cfg.Metrics.Enabled {
		router.ServeMetrics()
	}
	if sampler != nil {
		router.AttachSampler(sampler)
	}
	srv, err := router.Serve(cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	slog.Info("scoutd serving", "listen", srv.Addr, "base", server.DefaultBasePath, "config", configPath)

	if cfg.DataSource.AutoStart {
		res, err := sup.RequestStart(supervisor.StartOptions{AllowNoDataSource: cfg.DataSource.AllowNoDataSource})
		if err != nil {
			slog.Error("auto-start failed", "error", err)
		} else {
			slog.Info("auto-start requested", "status", string(res.Status), "pid", res.PID, "port", res.Port)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	return sup.Close()
}
