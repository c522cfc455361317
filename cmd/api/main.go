package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "go.uber.org/automaxprocs"

	"github.com/zhouzirui/botdialog/internal/config"
	"github.com/zhouzirui/botdialog/internal/handler"
	"github.com/zhouzirui/botdialog/internal/handler/stream"
	"github.com/zhouzirui/botdialog/internal/model/chat"
	"github.com/zhouzirui/botdialog/internal/model/persona"
	"github.com/zhouzirui/botdialog/internal/service/ai"
	chatservice "github.com/zhouzirui/botdialog/internal/service/chat"
	"github.com/zhouzirui/botdialog/internal/service/dialog"
	"github.com/zhouzirui/botdialog/internal/storage"
)

// store is the persistence shared by sessions and the HTTP layer.
type store interface {
	dialog.Store
	persona.Store
	ListExchanges(ctx context.Context, key chat.SessionKey, limit int) ([]chat.Exchange, error)
	io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("no .env file loaded, using process environment", "error", envErr)
	}

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()

	gen, err := ai.New(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("initialize response generator: %w", err)
	}
	slog.Info("response generator ready", "provider", cfg.AI.Provider, "model", cfg.AI.Model)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := stream.NewHub()
	registry := dialog.NewRegistry(st, gen, dialog.Config{
		SessionTimeout: cfg.Dialog.SessionTimeout(),
		QueueSize:      cfg.Dialog.QueueSize,
		StopGrace:      cfg.Dialog.StopGrace(),
		RequestTimeout: cfg.AI.RequestTimeout(),
		PersistRetries: cfg.Dialog.PersistRetries,
	},
		dialog.WithLogger(slog.Default()),
		dialog.WithMetrics(dialog.NewMetrics(reg)),
		dialog.WithExchangeHook(hub.Publish),
	)

	reaper := dialog.NewReaper(registry, cfg.Dialog.ReapInterval(), registry.SessionTimeout(),
		dialog.WithReaperLogger(slog.Default()),
	)
	if err := reaper.Start(ctx); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}

	router := handler.NewRouter(handler.Dependencies{
		Sessions:    registry,
		Transcripts: st,
		Bots:        st,
		Generator:   gen,
		Hub:         hub,
		Gatherer:    reg,
	})

	serveErr := startServer(ctx, cfg.Server, router)

	reaper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dialog.StopGrace()+10*time.Second)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("session shutdown incomplete", "error", err)
	}
	return serveErr
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	if strings.EqualFold(cfg.Driver, "memory") {
		var seed []persona.Bot
		if cfg.Seed {
			seed = persona.Seed()
		}
		slog.Info("using in-memory store", "seeded", cfg.Seed)
		return chatservice.NewService(seed...), nil
	}

	gormStore, err := storage.NewGormStore(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if cfg.Seed {
		if err := gormStore.SeedBots(ctx, persona.Seed()); err != nil {
			_ = gormStore.Close()
			return nil, fmt.Errorf("seed bots: %w", err)
		}
	}
	slog.Info("store ready", "driver", cfg.Driver, "seeded", cfg.Seed)
	return gormStore, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr, err := serverCfg.Addr()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("bot dialog server listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
