package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/thereayou/clubchat/internal/config"
	applog "github.com/thereayou/clubchat/pkg/log"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			applog.L().Debug().Msg(".env not found, using environment variables")
		}
	}

	cfg, err := config.LoadAndWatch(func(next *config.Config) {
		applog.SetLevel(next.Log.Level)
	})
	if err != nil {
		applog.L().Fatal().Err(err).Msg("failed to load configuration")
	}
	applog.Init(cfg.Log)

	srv, err := NewServer(cfg)
	if err != nil {
		applog.L().Fatal().Err(err).Msg("failed to start server")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			applog.L().Error().Err(err).Msg("server stopped")
		}
	}

	applog.L().Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		applog.L().Error().Err(err).Msg("server forced to shutdown")
	}
	applog.L().Info().Msg("server stopped")
}
