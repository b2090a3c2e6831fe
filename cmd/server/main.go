package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stampchat/internal/relay"
	"stampchat/internal/store"
)

func main() {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	cfg, err := relay.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("opening message store")
	}

	r := relay.NewRelay(st, cfg.RelayOptions())
	go r.Run()
	log.Info().Str("backend", cfg.StoreBackend).Msg("relay started")

	handler := relay.NewHandler(r, cfg)
	server := relay.CreateServer(cfg.Port, handler.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- relay.StartServer(server)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	if err := relay.ShutdownServer(server, 10*time.Second); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown")
	}
	if err := r.Shutdown(5 * time.Second); err != nil {
		log.Error().Err(err).Msg("relay shutdown")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("closing message store")
	}
}

func setupLogger(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}

func openStore(cfg *relay.Config) (store.MessageStore, error) {
	switch cfg.StoreBackend {
	case relay.BackendMemory:
		return store.NewMemoryStore(), nil
	case relay.BackendFile:
		return store.OpenFileStore(cfg.HistoryFile)
	case relay.BackendSQLite:
		return store.OpenSQLiteStore(cfg.DatabasePath)
	case relay.BackendBadger:
		return store.OpenBadgerStore(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
