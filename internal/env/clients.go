package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vpnkeys-bot/internal/config"
	"vpnkeys-bot/internal/infra/database"
	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
	"vpnkeys-bot/internal/infra/telegram"
	"vpnkeys-bot/internal/infra/yookassa"
)

type Clients struct {
	DB          *database.DB
	Marzban     *marzbanAPI.Client
	YooKassa    *yookassa.Client
	TelegramBot *telegram.Client
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, error) {
	db, err := provideDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	marzbanClient, err := marzbanAPI.NewClient(cfg.Marzban.URL, cfg.Marzban.Username, cfg.Marzban.Password,
		marzbanAPI.WithTimeout(cfg.Marzban.Timeout),
		marzbanAPI.WithTokenTTL(cfg.Marzban.TokenTTL),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("marzban client: %w", err)
	}

	yookassaClient, err := yookassa.NewClient(cfg.YooKassa.AccountID, cfg.YooKassa.SecretKey, cfg.YooKassa.ReturnURL, cfg.YooKassa.Timeout, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("yookassa client: %w", err)
	}

	telegramBot, err := telegram.NewClient(ctx, cfg.Telegram.BotToken, cfg.Telegram.Timeout, logger.WithGroup("telegram"))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Clients{
		DB:          db,
		Marzban:     marzbanClient,
		YooKassa:    yookassaClient,
		TelegramBot: telegramBot,
	}, nil
}

func provideDB(ctx context.Context, cfg config.Config) (*database.DB, error) {
	maxLifetimeStr := cfg.DB.MaxLifetime
	if maxLifetimeStr == "" {
		maxLifetimeStr = "5m"
	}
	maxLifetime, err := time.ParseDuration(maxLifetimeStr)
	if err != nil {
		return nil, fmt.Errorf("parse DB_MAX_LIFETIME: %w", err)
	}

	if cfg.DB.Driver == database.DriverSQLite3 {
		if dir := filepath.Dir(cfg.DB.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	opts := []database.Option{
		database.WithDriver(cfg.DB.Driver),
		database.WithDSN(cfg.DB.DSN()),
		database.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		database.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		database.WithConnMaxLifetime(maxLifetime),
		database.WithMigrations(),
	}

	return database.New(ctx, opts...)
}
