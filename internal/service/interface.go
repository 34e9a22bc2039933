package service

import (
	"context"

	"github.com/taskhive/backend/internal/model"
)

// UserStore is the persistence surface the auth services need. It is
// satisfied by *db.Postgres; tests supply an in-memory fake.
type UserStore interface {
	CreateUser(ctx context.Context, id, email, name, passwordHash string) (*model.User, error)
	UpsertFederatedUser(ctx context.Context, id, email, name, provider string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	SetSessionHash(ctx context.Context, userID, sessionHash string) error
	ClearSessionHash(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error
}
