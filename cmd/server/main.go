// Command server wires the matching engine's components together and
// exposes the process's operational surface (health, metrics). The
// request/response HTTP contract described in the trading interface itself
// is an external collaborator's concern, not this binary's — see
// SPEC_FULL.md's scope notes; this entrypoint only starts what the core
// needs to run.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"order-matching-engine/internal/config"
	"order-matching-engine/internal/depth"
	"order-matching-engine/internal/metrics"
	"order-matching-engine/internal/service"
	"order-matching-engine/internal/settlement"
	"order-matching-engine/internal/storage"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg := config.Load()

	database, err := storage.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		log.Info().Msg("closing database connection")
		database.Close()
	}()
	log.Info().Msg("database connection established")

	orderStore, err := storage.NewOrderStore(database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare order store")
	}
	defer orderStore.Close()

	tradeStore, err := storage.NewTradeStore(database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare trade store")
	}
	defer tradeStore.Close()

	accountStore, err := storage.NewAccountStore(database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare account store")
	}
	defer accountStore.Close()

	settler := settlement.New(accountStore)
	registry := prometheus.NewRegistry()
	recorder := metrics.New(registry)

	orderService := service.New(database, orderStore, tradeStore, accountStore, settler, recorder, log)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := orderService.LoadWorking(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore in-memory order books")
	}

	venueClient := depth.NewHTTPVenueClient(cfg.DepthVenueBaseURL)
	depthMerger := depth.New(venueClient, log)
	_ = depthMerger // held by the (out-of-scope) HTTP surface; constructed here, not called by this binary, venue URL not contacted at startup

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Ping(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("operational server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("operational server failed")
		}
	}()

	<-stop
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	} else {
		log.Info().Msg("server gracefully stopped")
	}
}
