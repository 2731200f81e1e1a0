package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"commitprotocol/config"
	"commitprotocol/native/clients"
	"commitprotocol/native/commitment"
	"commitprotocol/native/params"
	"commitprotocol/observability/logging"
	"commitprotocol/rpc"
	"commitprotocol/storage"
)

func main() {
	configFile := flag.String("config", "./commitd.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("commitd", "info").Error("failed to load config", "path", *configFile, "err", err)
		os.Exit(1)
	}

	logger := logging.Setup("commitd", cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "commit.db"), nil)
	if err != nil {
		logger.Error("failed to open state database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	for _, token := range cfg.AllowedTokens {
		if err := store.AllowToken(token); err != nil {
			logger.Error("failed to allow-list token", "token", token, "err", err)
			os.Exit(1)
		}
	}

	// Config seeds the parameter store on first boot; afterwards the
	// persisted record is authoritative.
	paramStore := params.NewStore(store)
	proto, ok, err := paramStore.Protocol()
	if err != nil {
		logger.Error("failed to load protocol parameters", "err", err)
		os.Exit(1)
	}
	if !ok {
		proto = params.Protocol{
			Admin:              cfg.Admin(),
			ProtocolFeeAddress: cfg.ProtocolFee(),
			Vault:              cfg.Vault(),
			ProtocolShareBps:   cfg.ProtocolShareBps,
			CreateFee:          cfg.CreateFeeAmount(),
			JoinFee:            cfg.JoinFeeAmount(),
		}
		if err := paramStore.SetProtocol(proto); err != nil {
			logger.Error("failed to seed protocol parameters", "err", err)
			os.Exit(1)
		}
	}

	registry := clients.NewRegistry()
	registry.SetState(store)

	engine := commitment.NewEngine()
	engine.SetState(store)
	engine.SetPauseView(store)
	engine.SetClientDirectory(registry)
	engine.SetDisperser(store)
	engine.SetVault(proto.Vault)
	engine.SetAdmin(proto.Admin)
	engine.SetProtocolFeeAddress(proto.ProtocolFeeAddress)
	engine.SetProtocolShareBps(proto.ProtocolShareBps)
	engine.SetCreateFee(proto.CreateFee)
	engine.SetJoinFee(proto.JoinFee)

	server := rpc.NewServer(rpc.ServerConfig{
		Engine:     engine,
		Registry:   registry,
		Store:      store,
		Admin:      proto.Admin,
		Logger:     logger,
		RatePerSec: cfg.RateLimitPerSecond,
		RateBurst:  cfg.RateLimitBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting commitment service",
		"listen", cfg.ListenAddress,
		"dataDir", cfg.DataDir,
		"protocolShareBps", proto.ProtocolShareBps)

	if err := server.Start(ctx, cfg.ListenAddress); err != nil {
		logger.Error("rpc server exited", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
