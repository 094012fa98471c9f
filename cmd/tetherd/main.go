package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mvisser/tether/internal/backoff"
	"github.com/mvisser/tether/internal/bus"
	"github.com/mvisser/tether/internal/config"
	"github.com/mvisser/tether/internal/database"
	"github.com/mvisser/tether/internal/journal"
	"github.com/mvisser/tether/internal/liveness"
	"github.com/mvisser/tether/internal/manager"
	"github.com/mvisser/tether/internal/transport"
	"github.com/mvisser/tether/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/tetherd.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting tetherd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"endpoint", cfg.Endpoint.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database and start the transition journal, if enabled
	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		jrnl = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, pool, logger)
		if err := jrnl.Start(ctx); err != nil {
			logger.Error("failed to start transition journal", "error", err)
			os.Exit(1)
		}
	}

	// Socket factory for the managed endpoint
	wsCfg := transport.WebSocketConfig{
		URL:              cfg.Endpoint.URL,
		HandshakeTimeout: cfg.Endpoint.ConnectTimeout,
		WriteTimeout:     cfg.Endpoint.WriteTimeout,
		EventBuffer:      cfg.Endpoint.EventBuffer,
	}
	dial := func() transport.Socket {
		return transport.NewWebSocket(wsCfg, logger)
	}

	// Connection manager
	mgr := manager.NewManager(manager.Config{
		ConnectTimeout: cfg.Endpoint.ConnectTimeout,
		MaxAttempts:    cfg.Endpoint.MaxAttempts,
		Backoff: backoff.Policy{
			Base:   cfg.Endpoint.BackoffBase,
			Factor: cfg.Endpoint.BackoffFactor,
			Max:    cfg.Endpoint.BackoffMax,
		},
		MinReconnectInterval: cfg.Endpoint.MinReconnectInterval,
	}, dial, logger, manager.WithPublisher(bus.NewLogging(logger)))

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	if jrnl != nil {
		jrnl.Attach(mgr)
	}

	// Resume-on-reachability monitor, if enabled
	var monitor *liveness.Monitor
	if cfg.Liveness.Enabled {
		sig, err := parseSignal(cfg.Liveness.Signal)
		if err != nil {
			logger.Error("invalid liveness signal", "error", err)
			os.Exit(1)
		}
		monitor = liveness.NewMonitor(mgr, logger)
		monitor.Watch(liveness.NewSignalSource(sig))
		logger.Info("liveness monitor watching", "signal", cfg.Liveness.Signal)
	}

	mgr.Connect()

	// Health server
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Health.Enabled {
		healthServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
			Handler: healthHandler(mgr, jrnl),
		}

		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return healthServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("tetherd running")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	if err := g.Wait(); err != nil {
		logger.Error("health server shutdown", "error", err)
	}

	if monitor != nil {
		monitor.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	mgr.Disconnect()
	if jrnl != nil {
		jrnl.Stop(shutdownCtx)
	}
	mgr.Stop(shutdownCtx)

	logger.Info("tetherd stopped")
}

// healthHandler reports connection state and journal metrics.
func healthHandler(mgr *manager.Manager, jrnl *journal.Journal) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := mgr.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["connection"] = map[string]any{
			"state":    stats.State.String(),
			"attempts": stats.Attempts,
			"down":     stats.Down.String(),
		}
		if stats.State != manager.StateConnected {
			health.Status = "degraded"
		}

		if jrnl != nil {
			m := jrnl.Stats()
			health.Components["journal"] = map[string]any{
				"inserts": m.Inserts,
				"flushes": m.Flushes,
				"errors":  m.Errors,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseSignal(s string) (os.Signal, error) {
	switch s {
	case "SIGUSR1":
		return syscall.SIGUSR1, nil
	case "SIGUSR2":
		return syscall.SIGUSR2, nil
	case "SIGHUP":
		return syscall.SIGHUP, nil
	default:
		return nil, fmt.Errorf("unsupported signal %q", s)
	}
}
