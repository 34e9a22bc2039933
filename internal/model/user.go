package model

import (
	"time"

	"github.com/taskhive/backend/pkg/api"
)

// Federation provider tags stored on the users row. Empty means a
// password account.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash *string
	Provider     string
	Premium      bool
	// SessionHash is the sha256 of the current session identifier, or
	// nil when no session is active. Exactly one session per account.
	SessionHash *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuthUser is the identity attached to a request after bearer
// verification. It carries no mutable account state.
type AuthUser struct {
	ID    string
	Email string
}

func (u *User) Account() *api.Account {
	return &api.Account{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Provider:  u.Provider,
		Premium:   u.Premium,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
