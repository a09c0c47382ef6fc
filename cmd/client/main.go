package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tunnelgate/clientside"
	"tunnelgate/config"
	"tunnelgate/utils"
)

func main() {
	cfg, err := config.ParseClientConfig(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to parse arguments: %v\n", err)
		os.Exit(1)
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogPath)
	defer log.Sync()

	tlsConfig, err := config.ClientTLSConfig(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		log.Error("failed to load TLS material", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runCfg := clientside.Config{
		RemoteAddr: cfg.RemoteAddr(),
		Rule:       cfg.Rule,
		TLSConfig:  tlsConfig,
		Logger:     log,
	}

	// Crash-only by design (spec §4.8): any channel loss or heartbeat
	// starvation exits non-zero rather than attempting to reconnect.
	if err := clientside.Run(ctx, runCfg); err != nil && ctx.Err() == nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
