package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lostnfound-shop/internal/catalog"
	"lostnfound-shop/internal/client"
	"lostnfound-shop/internal/config"
	"lostnfound-shop/internal/repository"
	"lostnfound-shop/internal/server"
	"lostnfound-shop/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatal().Err(err).Msg("parse config")
	}

	setupLogging(&cfg.Log)

	db, err := client.InitMysqlClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("init database")
	}

	cat := catalog.Default()
	stripeClient := client.NewStripeClient(&cfg.Stripe)
	paypalClient := client.NewPaypalClient(&cfg.Paypal)

	saleRepo := repository.NewSaleRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	paymentService := service.NewPaymentService(
		db, cat, cfg.BaseURL,
		saleRepo,
		webhookEventRepo,
		stripeClient,
		paypalClient,
	)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	srv := server.NewServer(paymentService, cat)

	log.Info().Str("addr", serverAddr).Msg("starting HTTP server")
	go func() {
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info().Msg("signal received, starting graceful shutdown")

	if err := srv.Shutdown(); err != nil {
		log.Fatal().Err(err).Msg("HTTP server shutdown error")
	}
}

func setupLogging(cfg *config.Log) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "lostnfound-shop").Logger()
}
