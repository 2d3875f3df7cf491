package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/blogchat/internal/auth"
	"github.com/Tyrowin/blogchat/internal/bot"
	"github.com/Tyrowin/blogchat/internal/logging"
	"github.com/Tyrowin/blogchat/internal/server"
	"github.com/Tyrowin/blogchat/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "blogchat:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := server.LoadConfig(args, os.LookupEnv)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting blogchat hub", "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("closing store failed", "error", err)
		}
	}()

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}

	responder := bot.New(backend, bot.Options{
		SiteURL:     cfg.Bot.SiteURL,
		Contact:     cfg.Bot.Contact,
		LatestLimit: cfg.Bot.LatestLimit,
	})

	hub := server.NewHub(server.HubDeps{
		Messages: backend,
		Bot:      responder,
		Logger:   logger,
		Limits: server.ClientLimits{
			MaxMessageSize: cfg.MaxMessageSize,
			RateLimit:      cfg.RateLimit,
		},
	})
	go hub.Run()

	mux := server.SetupRoutes(hub, verifier, backend, cfg.AllowedOrigins)
	httpServer := server.CreateServer(cfg.Port, mux)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = hub.Shutdown(shutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Error("http shutdown incomplete", "error", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Error("hub shutdown incomplete", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg server.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case server.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return store.OpenMongo(connectCtx, cfg.MongoURI, cfg.MongoDB, logger)
	case server.DriverPebble:
		return store.OpenPebble(cfg.PebblePath, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
