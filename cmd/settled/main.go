package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/caesar-terminal/settle/internal/app"
	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/config"
	"github.com/caesar-terminal/settle/internal/logger"
)

func main() {
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "settled: %v\n", err)
		memguard.SafeExit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	key, err := app.LoadKeyRing(ctx, cfg.Signer, cfg.LocalStackEndpoint)
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}
	var operator auth.Identity
	if key != nil {
		defer key.Destroy()
		operator = key.Address()
	}

	log.Info("settled starting",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store.Backend),
		zap.String("socket", cfg.Server.SocketPath),
		zap.String("operator", operator.Hex()))

	a, err := app.New(cfg, operator, log)
	if err != nil {
		return err
	}

	g, err := genesis(cfg.Genesis, operator)
	if err != nil {
		return err
	}
	if g.Admin == (auth.Identity{}) {
		log.Warn("no genesis admin configured, skipping genesis")
	} else if err := a.InitChain(ctx, g); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("settled stopped")
	return nil
}

func genesis(cfg config.GenesisConfig, operator auth.Identity) (app.Genesis, error) {
	g := app.Genesis{Admin: operator, Oracle: cfg.Oracle}
	if cfg.Admin != "" {
		admin, err := auth.ParseIdentity(cfg.Admin)
		if err != nil {
			return g, fmt.Errorf("genesis admin: %w", err)
		}
		g.Admin = admin
	}
	if cfg.Feeder != "" {
		feeder, err := auth.ParseIdentity(cfg.Feeder)
		if err != nil {
			return g, fmt.Errorf("genesis feeder: %w", err)
		}
		g.Feeder = feeder
	}
	return g, nil
}
