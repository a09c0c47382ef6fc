package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tunnelgate/admission"
	"tunnelgate/bindregistry"
	"tunnelgate/config"
	"tunnelgate/serverside"
	"tunnelgate/transport"
	"tunnelgate/utils"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogPath)
	defer log.Sync()

	tlsConfig, err := config.ServerTLSConfig(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		log.Error("failed to load TLS material", zap.Error(err))
		os.Exit(1)
	}

	allowlist, err := admission.Load(cfg.AuthorizedClientsPath, log)
	if err != nil {
		log.Error("failed to load allow-list", zap.Error(err))
		os.Exit(1)
	}
	defer allowlist.Close()

	listener, err := transport.Listen(cfg.ListenAddr(), tlsConfig, log)
	if err != nil {
		log.Error("failed to listen", zap.Error(err))
		os.Exit(1)
	}
	defer listener.Close()

	binds := bindregistry.New(log)
	srv := serverside.New(listener, allowlist, binds, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("tunnelgate server starting", zap.String("listen_addr", cfg.ListenAddr()))
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error("server loop exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("tunnelgate server shutting down")
}
