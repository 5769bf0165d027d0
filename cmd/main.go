package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/spf13/pflag"

	"voice-commerce-service/internal/app"
	"voice-commerce-service/internal/config"
	"voice-commerce-service/internal/observability/logging"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides LOG_LEVEL)")
	cli.Parse()

	cfg, err := config.LoadWithEnvFile(*envFile)
	if err != nil {
		logging.Init(logging.DefaultConfig())
		bootLogger := logging.Logger()
		bootLogger.Fatal().Err(err).Str("envFile", *envFile).Msg("Failed to load env file")
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = *logLevel
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)
	logger := logging.Logger()

	application, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Service stopped")
}
