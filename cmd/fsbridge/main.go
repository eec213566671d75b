// Command fsbridge watches a set of paths from a YAML configuration file
// and logs every decoded change event as a structured JSON record. When a
// journal path is configured it persists the identifier of the last
// processed event, so a restarted run resumes from that cursor instead of
// only "from now". It exposes optional /metrics and /healthz endpoints
// and shuts the watch session down gracefully on SIGTERM or SIGINT.
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

	"github.com/fsbridge/fsbridge"
	"github.com/fsbridge/fsbridge/fsev"
	"github.com/fsbridge/fsbridge/internal/config"
	"github.com/fsbridge/fsbridge/journal"
)

func main() {
	configPath := flag.String("config", "fsbridge.yaml", "path to the fsbridge YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsbridge: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.Int("paths", len(cfg.Paths)),
		slog.Duration("latency", time.Duration(cfg.Latency)),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx := context.Background()

	// Resolve the resume cursor. Without a journal every run starts from
	// "now".
	sinceWhen := fsev.SinceNow
	var jnl *journal.Journal
	if cfg.JournalPath != "" {
		jnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			logger.Error("failed to open journal", slog.Any("error", err))
			os.Exit(1)
		}
		defer jnl.Close()

		sinceWhen, err = jnl.Cursor(ctx, cfg.Session)
		if err != nil {
			logger.Error("failed to load resume cursor", slog.Any("error", err))
			os.Exit(1)
		}
		if sinceWhen != fsev.SinceNow {
			logger.Info("resuming from stored cursor",
				slog.String("session", cfg.Session),
				slog.Uint64("event_id", uint64(sinceWhen)))
		}
	}

	createFlags := fsev.FileEvents
	if cfg.NoDefer {
		createFlags |= fsev.NoDefer
	}

	metrics := fsbridge.NewMetrics()
	stream, handle, err := fsbridge.NewRawEventStream(
		cfg.Paths, sinceWhen, time.Duration(cfg.Latency), createFlags,
		fsbridge.WithLogger(logger),
		fsbridge.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("failed to start watch", slog.Any("error", err))
		os.Exit(1)
	}

	// Optional metrics/health HTTP server.
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"status":"ok"}`)
		})
		metricsServer = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", slog.Any("error", err))
			}
		}()
	}

	// Abort the watch session on SIGTERM/SIGINT. Abort is the blocking
	// teardown; after it returns the stream reports closure and the
	// consume loop below falls through.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		handle.Abort()
	}()

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, fsbridge.ErrClosed) {
				logger.Error("stream error", slog.Any("error", err))
			}
			break
		}

		logger.Info("event",
			slog.String("path", ev.Path),
			slog.Int64("inode", ev.Inode),
			slog.String("flags", ev.Flags.String()),
			slog.Uint64("raw_flags", uint64(ev.RawFlags)),
			slog.Uint64("id", uint64(ev.ID)),
		)

		if jnl != nil {
			if err := jnl.Commit(ctx, cfg.Session, ev.ID); err != nil {
				logger.Warn("failed to commit cursor", slog.Any("error", err))
			}
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown error", slog.Any("error", err))
		}
	}

	logger.Info("fsbridge exited cleanly",
		slog.Int64("delivered", metrics.EventsDelivered.Load()),
		slog.Int64("dropped", metrics.EventsDropped.Load()),
	)
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
