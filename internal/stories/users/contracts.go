package users

import "context"

type (
	Storage interface {
		CreateUser(ctx context.Context, user User) (*User, error)
		GetUser(ctx context.Context, criteria GetCriteria) (*User, error)
		UpdateUser(ctx context.Context, criteria GetCriteria, params UpdateParams) (*User, error)
		ListUsers(ctx context.Context, criteria ListCriteria) ([]*User, error)
		ListTelegramIDs(ctx context.Context) ([]int64, error)
		ClaimTestPeriod(ctx context.Context, telegramID int64) (bool, error)
	}

	// PanelRegistry mirrors bot users into the panel's telegram user registry.
	PanelRegistry interface {
		EnsureTelegramUser(ctx context.Context, profile Profile) error
	}
)
