package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/visa-backlog/internal/api"
	"github.com/david/visa-backlog/internal/auth"
	"github.com/david/visa-backlog/internal/db"
	"github.com/david/visa-backlog/internal/ingest"
	"github.com/david/visa-backlog/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.FromEnv()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	cfg, err := ingest.LoadConfig(os.Getenv("BACKLOG_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	authService, err := auth.NewServiceFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up auth")
	}

	store := db.NewStore(pool)
	pipeline := ingest.NewPipeline(cfg, nil, store)
	srv := api.NewServer(store, authService, pipeline)

	go func() {
		log.Info().Str("port", port).Msg("Server starting")
		if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}
