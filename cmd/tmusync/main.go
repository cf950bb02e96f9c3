package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tmusync/internal/config"
	"tmusync/internal/ics"
	appLog "tmusync/internal/log"
	"tmusync/internal/pipeline"
	"tmusync/internal/refresh"
	"tmusync/internal/scheduler"
	"tmusync/internal/storage"
	"tmusync/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("tmusync starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_months", conf.HorizonMonths,
		"ics_count", len(conf.ICS),
		"catalog_entries", len(conf.Catalog.Entries),
		"catalog_file", conf.Catalog.File,
		"portal", conf.Catalog.Portal != nil,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	fetcher := ics.NewFetcher(&http.Client{}, conf.CacheDir, conf.FetchTimeout())
	runner := pipeline.New(fetcher)

	if flags.once {
		if err := runOnce(ctx, conf, runner); err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		return
	}

	if err := os.MkdirAll(filepath.Dir(conf.Database), 0o700); err != nil {
		appLog.Error("failed to create database dir", err, "path", conf.Database)
		os.Exit(1)
	}
	store, err := storage.NewSQLite(conf.Database)
	if err != nil {
		appLog.Error("failed to open database", err, "path", conf.Database)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	svc := refresh.New(conf, runner, store)

	sched, err := scheduler.New(conf.RefreshCron, conf.Location(), func(ctx context.Context) {
		if _, err := svc.Refresh(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		appLog.Error("failed to create scheduler", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return web.NewServer(conf, svc).Run(gctx) })

	if err := g.Wait(); err != nil {
		appLog.Error("tmusync stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("tmusync exiting")
}

// runOnce performs a single refresh and prints the result as JSON.
func runOnce(ctx context.Context, conf *config.Config, runner *pipeline.Runner) error {
	svc := refresh.New(conf, runner, nil)
	res, err := svc.Run(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/tmusync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print the result as JSON and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info or error (overrides config if set)")

	flag.Parse()

	return cfg
}
