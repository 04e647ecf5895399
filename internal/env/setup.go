package environment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"vpnkeys-bot/internal/config"
)

type closer func()

type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	Servers  *Servers
	Clients  *Clients
	Services *Services

	Closers []closer
}

func Setup(ctx context.Context) (*Env, error) {
	// .env необязателен
	_ = godotenv.Load()

	var cfg config.Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("env processing: %w", err)
	}

	var e Env

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("initLogger: %w", err)
	}

	if err := cfg.Webhook.PrepareCertFiles(); err != nil {
		return nil, fmt.Errorf("prepare TLS certificates: %w", err)
	}
	if cfg.Webhook.Enabled() {
		logger.Info("Webhook mode configured",
			"url", cfg.Webhook.URL(),
			"tls", cfg.Webhook.TLSEnabled())
	}

	clients, err := newClients(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("newClients: %w", err)
	}

	services, err := newServices(ctx, clients, &cfg, logger)
	if err != nil {
		clients.DB.Close()
		return nil, fmt.Errorf("newServices: %w", err)
	}

	servers, err := newServers(ctx, cfg, logger, clients, services)
	if err != nil {
		clients.DB.Close()
		return nil, fmt.Errorf("newServers: %w", err)
	}

	e.Servers = servers
	e.Config = &cfg
	e.Logger = logger
	e.Clients = clients
	e.Services = services
	e.Closers = []closer{
		func() {
			if err := clients.DB.Close(); err != nil {
				logger.Error("Failed to close database", "error", err)
			}
		},
	}

	return &e, nil
}
