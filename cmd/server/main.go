package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/velocitype/go-socket-velocitype/internal/coordinator"
	"github.com/velocitype/go-socket-velocitype/internal/db"
	"github.com/velocitype/go-socket-velocitype/internal/handlers"
)

func main() {
	godotenv.Load()

	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.Connect(ctx, envOr("MONGO_URI", "mongodb://localhost:27017"))
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to mongodb")
	}
	defer client.Disconnect(context.Background())

	store := db.NewMongoStore(client)
	coord := coordinator.New(clockwork.NewRealClock(), store)

	origin := os.Getenv("ALLOWED_ORIGIN")
	mux := http.NewServeMux()
	mux.Handle("GET /ws/race", handlers.NewWS(coord, origin))
	handlers.NewAPI(coord).Register(mux, origin)

	srv := &http.Server{
		Addr:    ":" + envOr("PORT", "8080"),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		coord.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
