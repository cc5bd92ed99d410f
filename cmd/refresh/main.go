package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	config "refreshd/configs"
	"refreshd/pkg/app"
	"refreshd/pkg/auth"
	"refreshd/pkg/executor"
	"refreshd/pkg/executor/runner"
	"refreshd/pkg/logger"
	"refreshd/pkg/models"
)

func main() {
	var (
		envFile  = pflag.String("env-file", "", "dotenv file to load before reading the environment (default ./.env if present)")
		dryRun   = pflag.Bool("dry-run", false, "log the commands instead of running them")
		token    = pflag.String("token", "", "print a bearer token for this subject and exit")
		tokenTTL = pflag.Duration("token-ttl", 5*time.Minute, "lifetime of the token printed by --token")
	)
	pflag.Parse()

	code, err := run(*envFile, *dryRun, *token, *tokenTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "refresh: %v\n", err)
	}
	os.Exit(code)
}

func run(envFile string, dryRun bool, tokenSubject string, tokenTTL time.Duration) (int, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return 2, err
	}
	cfg := config.LoadConfig()

	if tokenSubject != "" {
		return printToken(cfg.WebhookSecret, tokenSubject, tokenTTL)
	}

	// A terminal run needs no secret; everything else must be valid.
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = "unused"
	}
	if err := cfg.Validate(); err != nil {
		return 2, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logger.DefaultConfig("refresh")
	logCfg.Level = cfg.LogLevel
	logCfg.Encoding = "console"
	logCfg.OutputPath = "stderr"
	log, err := logger.New(logCfg)
	if err != nil {
		return 2, err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var jobRunner runner.JobRunner = runner.NewShellRunner()
	if dryRun {
		jobRunner = runner.NewDryRunner(log)
	}

	a, err := app.Build(ctx, cfg, jobRunner, log)
	if err != nil {
		return 2, err
	}
	defer a.Close()

	res, err := a.Executor.Trigger(ctx, executor.TriggerInfo{Source: models.TriggerManual})
	if err != nil {
		log.Error("refresh could not run", zap.Error(err))
		return 1, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return 1, err
	}
	if !res.Success {
		return 1, nil
	}
	return 0, nil
}

func printToken(secret, subject string, ttl time.Duration) (int, error) {
	if secret == "" {
		return 2, errors.New("WEBHOOK_SECRET is required to sign a token")
	}
	tokens, err := auth.NewTokenService(auth.DefaultTokenConfig(secret))
	if err != nil {
		return 2, err
	}
	token, err := tokens.GenerateToken(subject, ttl)
	if err != nil {
		return 1, err
	}
	fmt.Println(token)
	return 0, nil
}
