package auth

import (
	"context"
	"time"
)

// Identity is the authenticated caller, resolved once per request from the
// access token and passed to every operation that needs to know who acts.
type Identity struct {
	Username string
	IsAdmin  bool
}

// Session is the result of a successful login.
type Session struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Username         string    `json:"username"`
	IsAdmin          bool      `json:"is_admin"`
}

// CredentialPurger removes a user's passkeys.
type CredentialPurger interface {
	DeleteAllForUser(ctx context.Context, username string) (int, error)
}
