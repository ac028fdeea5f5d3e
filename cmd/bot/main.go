package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meme-surge-bot/internal/app"
	"meme-surge-bot/internal/config"
	"meme-surge-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	envPath := flag.String("env", ".env", "dotenv file with exchange and alert credentials")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config %s: %v\n", *configPath, err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log).With(zap.String("bot", cfg.Bot.Name))
	defer func() { _ = log.Sync() }()
	log.Info("config loaded",
		zap.String("path", *configPath),
		zap.String("exchange_mode", cfg.Exchange.Mode),
		zap.String("policy", cfg.Policy.Kind),
		zap.String("sentiment", cfg.Sentiment.Kind),
		zap.Strings("assets", cfg.Symbols()),
	)

	bot, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize bot", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = bot.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("bot stopped", zap.String("status", bot.Status().Status))
	default:
		log.Error("bot terminated", zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}
