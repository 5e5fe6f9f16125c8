package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/Pi2608/storymap-live/internal/config"
	"github.com/Pi2608/storymap-live/internal/session/gateway"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("nats_url", cfg.NATS.URL).
		Str("port", cfg.Server.Port).
		Msg("starting session gateway")

	states := gateway.NewSessionStateManager()
	connManager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), states)

	consumerConfig := gateway.DefaultJetStreamConsumerConfig()
	consumerConfig.URL = cfg.NATS.URL
	consumerConfig.StreamName = cfg.NATS.StreamName
	consumerConfig.ConsumerName = cfg.NATS.ConsumerName
	consumerConfig.SubjectFilter = cfg.NATS.SubjectPrefix + ".>"
	consumerConfig.MaxDeliver = cfg.NATS.MaxDeliver
	consumerConfig.AckWait = cfg.NATS.AckWait

	publisherConfig := gateway.DefaultJetStreamPublisherConfig()
	publisherConfig.URL = cfg.NATS.URL
	publisherConfig.StreamName = cfg.NATS.StreamName
	publisherConfig.SubjectPrefix = cfg.NATS.SubjectPrefix

	// Publisher first: it ensures the stream the consumer binds to.
	publisher, err := gateway.NewJetStreamPublisher(publisherConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	defer publisher.Close()

	consumer, err := gateway.NewEventConsumer(connManager, states, consumerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event consumer")
	}
	defer consumer.Stop()

	mux := http.NewServeMux()
	handler := gateway.NewHandler(connManager, publisher)
	handler.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     h2c.NewHandler(c.Handler(mux), &http2.Server{}),
		IdleTimeout: 120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go connManager.Start(ctx)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	time.Sleep(1 * time.Second)

	log.Info().Msg("session gateway shutdown complete")
}
