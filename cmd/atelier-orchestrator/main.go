// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Atelier-orchestrator is the control-plane daemon: it reconciles the
// Matrix workspace hierarchy and sandbox fleet against its YAML
// configuration, then watches the project lobby rooms and turns every
// qualifying message into a task — a private task room, a forked spark
// sandbox, and an in-sandbox bridge process.
//
// Configuration comes from --config or the MATRIX_ORCHESTRATOR_CONFIG
// environment variable. LOG_LEVEL (debug|info|warn|error) selects the
// log level. SIGINT and SIGTERM stop the loop after the current event
// batch.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/atelier-works/atelier/lib/clock"
	"github.com/atelier-works/atelier/lib/config"
	"github.com/atelier-works/atelier/lib/process"
	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/lib/version"
	"github.com/atelier-works/atelier/messaging"
	"github.com/atelier-works/atelier/orchestrator"
	"github.com/atelier-works/atelier/spark"
	"github.com/atelier-works/atelier/state"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the orchestrator config file (overrides "+config.ConfigEnvVar+")")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("atelier-orchestrator %s\n", version.Info())
		return nil
	}

	logger := setupLogging()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	botUserID, err := ref.ParseUserID(cfg.BotUserID)
	if err != nil {
		return fmt.Errorf("bot_user_id: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chat, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.HomeserverURL,
		UserID:        botUserID,
		AccessToken:   cfg.BotAccessToken,
		Password:      cfg.BotPassword,
		HTTPClient:    &http.Client{Timeout: time.Duration(cfg.Runtime.SyncTimeoutMS)*time.Millisecond + 30*time.Second},
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := chat.Authenticate(ctx); err != nil {
		return err
	}

	sandbox := spark.NewClient(spark.ClientConfig{Logger: logger})

	store := state.NewStore(cfg.Runtime.StateFile, logger)
	o, err := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Store:  store,
		Chat:   chat,
		Spark:  sandbox,
		Logger: logger,
		Clock:  clock.Real(),
	})
	if err != nil {
		return err
	}

	if err := o.Initialize(ctx); err != nil {
		return err
	}

	logger.Info("atelier orchestrator running",
		"version", version.Short(),
		"homeserver", chat.HomeserverURL(),
		"bot", botUserID,
		"pid", os.Getpid(),
	)
	return o.RunLoop(ctx)
}
