// Package api defines the wire types shared between the auth server and
// the client SDK.
package api

import "time"

// Error codes returned alongside 4xx auth responses. Clients branch on
// these rather than on response text.
const (
	CodeNoRefreshToken      = "NO_REFRESH_TOKEN"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeSessionRevoked      = "SESSION_REVOKED"
	CodeExpired             = "EXPIRED"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailTaken          = "EMAIL_TAKEN"
	CodeInvalidInput        = "INVALID_INPUT"
)

// Account is the public view of a user account. Password hashes and
// session hashes never cross the wire.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider,omitempty"`
	Premium   bool      `json:"premium"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LogoutRequest struct {
	Email string `json:"email"`
}

// AuthResponse is returned by login, refresh and the OAuth callback. The
// refresh credential travels separately in an HTTP-only cookie.
type AuthResponse struct {
	AccessToken string   `json:"accessToken"`
	Account     *Account `json:"user"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
