// Command tabvol keeps a per-site, per-tab volume for every tab of a
// Chromium browser and serves a small HTTP + MCP control surface.
//
// Usage:
//
//	tabvol                                   # launch a headless Chrome, defaults
//	tabvol -config tabvol.yaml               # settings from YAML
//	tabvol -remote 9222 -addr 127.0.0.1:8787 # drive a running Chrome
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/tabvol/browser"
	"github.com/hazyhaar/tabvol/config"
	"github.com/hazyhaar/tabvol/coordinator"
	"github.com/hazyhaar/tabvol/mixer"
	"github.com/hazyhaar/tabvol/shield"
	"github.com/hazyhaar/tabvol/volstore"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to tabvol.yaml config file")
	dbPath := flag.String("db", "", "volume database path (overrides store.path)")
	addr := flag.String("addr", "", `control surface address (overrides http.addr, "-" disables)`)
	remote := flag.String("remote", "", "debugging URL or port of a running Chrome (overrides browser.remote)")
	headful := flag.Bool("headful", false, "launch Chrome with a window")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			logger.Error("tabvol: load config", "error", err)
			os.Exit(1)
		}
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *remote != "" {
		cfg.Browser.Remote = *remote
	}
	if *headful {
		cfg.Browser.Mode = "headful"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("tabvol: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	store, err := volstore.Open(cfg.Store.Path,
		volstore.WithBusyTimeout(cfg.Store.BusyTimeout),
		volstore.WithPollInterval(cfg.Store.PollInterval),
		volstore.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := browser.NewManager(browser.Config{
		RemoteURL: cfg.Browser.Remote,
		Headless:  cfg.Browser.Headless(),
		Bin:       cfg.Browser.Bin,
		Stealth:   cfg.Browser.Stealth,
		Logger:    logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	tabs := browser.NewTabs(mgr, logger)
	coord := coordinator.New(coordinator.Config{
		Injector:         tabs,
		Store:            store,
		PreviewRate:      cfg.Coordinator.PreviewRate,
		ProbeConcurrency: cfg.Coordinator.ProbeConcurrency,
		Logger:           logger,
	})
	mix := mixer.New(mixer.Config{
		Store:       store,
		Coordinator: coord,
		Threshold:   cfg.Agent.Threshold,
		Debounce:    cfg.Agent.Debounce,
		Logger:      logger,
	})
	defer mix.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		store.Watch(ctx)
		return nil
	})

	g.Go(func() error {
		if err := mix.Follow(ctx, mgr, tabs); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	for _, u := range cfg.Browser.Open {
		g.Go(func() error {
			if _, err := mgr.Open(ctx, u); err != nil {
				logger.Warn("tabvol: open tab", "url", u, "error", err)
			}
			return nil
		})
	}

	if cfg.HTTP.Addr != "-" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router(logger, coord),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		g.Go(func() error {
			logger.Info("tabvol: control surface listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("tabvol: stopped")
	return err
}

func router(logger *slog.Logger, coord *coordinator.Coordinator) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(logger) {
		r.Use(mw)
	}
	coord.RegisterHTTP(r)

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "tabvol", Version: version}, nil)
	coord.RegisterMCP(mcpSrv)
	r.Handle("/mcp", coordinator.MCPHandler(mcpSrv))
	return r
}
