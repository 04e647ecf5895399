package marzban

import (
	"context"

	marzbanAPI "vpnkeys-bot/internal/infra/marzban"
)

type Client interface {
	AddUser(ctx context.Context, req marzbanAPI.UserCreate) (*marzbanAPI.User, error)
	GetUser(ctx context.Context, username string) (*marzbanAPI.User, error)
	ModifyUser(ctx context.Context, username string, req marzbanAPI.UserModify) (*marzbanAPI.User, error)
	ListUsers(ctx context.Context, params marzbanAPI.ListUsersParams) (*marzbanAPI.UsersPage, error)
	LinkTelegramUser(ctx context.Context, username string, telegramID int64) error
	GetTelegramUser(ctx context.Context, telegramID int64) (*marzbanAPI.TelegramUser, error)
	CreateTelegramUser(ctx context.Context, req marzbanAPI.TelegramUser) (*marzbanAPI.TelegramUser, error)
}
