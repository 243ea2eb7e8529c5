package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/GoPolymarket/puzzle-prizes/internal/app"
	"github.com/GoPolymarket/puzzle-prizes/internal/config"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	profile := flag.String("profile", "", "deployment profile: dev|testnet|mainnet")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the environment is read")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("dotenv file not loaded")
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.WithError(err).Warn("config file not loaded, using defaults")
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	p := *profile
	if p == "" {
		p = cfg.Profile
	}
	if err := config.ApplyProfile(&cfg, p); err != nil {
		log.Fatalf("invalid -profile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	log.WithFields(log.Fields{
		"profile":         cfg.Profile,
		"store":           cfg.Store.Driver,
		"chain":           cfg.Chain.Backend,
		"max_winners":     cfg.Engine.MaxWinners,
		"recovery_window": cfg.Engine.RecoveryWindow,
		"admins":          len(cfg.Admins),
	}).Info("puzzle-prizes starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		log.WithError(err).Error("run error")
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	a.Shutdown(shutdownCtx)
}
