// Package token issues and validates session tokens: short-lived signed
// access tokens and longer-lived opaque refresh tokens held in a
// RefreshStore.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prettydl/prettydl/internal/settings"
)

var (
	ErrExpired  = errors.New("token expired")
	ErrInvalid  = errors.New("token invalid")
	ErrNotFound = errors.New("refresh token not found")
)

const (
	typeAccess = "access"

	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 30 * 24 * time.Hour
	defaultShortRefreshTTL = 24 * time.Hour
)

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	Type     string `json:"type"`
}

// AdminLookup resolves a user's current admin flag. It returns an error when
// the user can no longer hold a session.
type AdminLookup interface {
	IsAdmin(ctx context.Context, username string) (bool, error)
}

// Pair is a freshly issued access and refresh token.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Access is a freshly minted access token.
type Access struct {
	Token     string
	ExpiresAt time.Time
	Username  string
	IsAdmin   bool
}

// Service issues and validates tokens. Lifetimes are read from settings on
// every issuance so changes apply without a restart.
type Service struct {
	secret   []byte
	store    RefreshStore
	admins   AdminLookup
	settings settings.Source
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a token Service.
func NewService(secret []byte, store RefreshStore, admins AdminLookup, src settings.Source, opts ...Option) *Service {
	s := &Service{
		secret:   secret,
		store:    store,
		admins:   admins,
		settings: src,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueAccessToken signs an access token for username.
func (s *Service) IssueAccessToken(username string, isAdmin bool) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(settings.Seconds(s.settings, settings.KeyAccessTokenExpiry, defaultAccessTTL))

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
		IsAdmin:  isAdmin,
		Type:     typeAccess,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken stores a new random refresh token for username. A
// remembered session gets the long lifetime, otherwise the short one.
func (s *Service) IssueRefreshToken(ctx context.Context, username string, rememberMe bool) (string, time.Time, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("generating refresh token: %w", err)
	}
	tok := hex.EncodeToString(b)

	ttl := settings.Seconds(s.settings, settings.KeyShortRefreshTokenExpiry, defaultShortRefreshTTL)
	if rememberMe {
		ttl = settings.Seconds(s.settings, settings.KeyRefreshTokenExpiry, defaultRefreshTTL)
	}
	expiresAt := s.now().Add(ttl)

	if err := s.store.Put(ctx, tok, RefreshEntry{Username: username, ExpiresAt: expiresAt}); err != nil {
		return "", time.Time{}, err
	}
	return tok, expiresAt, nil
}

// IssuePair issues an access token and a refresh token together.
func (s *Service) IssuePair(ctx context.Context, username string, isAdmin, rememberMe bool) (*Pair, error) {
	access, accessExp, err := s.IssueAccessToken(username, isAdmin)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(ctx, username, rememberMe)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ValidateAccessToken checks signature, expiry and token type. Expired
// tokens yield ErrExpired; anything else wrong yields ErrInvalid.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Type != typeAccess || claims.Username == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// ValidateRefreshToken returns the username bound to tok. Expired tokens are
// evicted. Validation does not consume the token.
func (s *Service) ValidateRefreshToken(ctx context.Context, tok string) (string, error) {
	e, ok, err := s.store.Get(ctx, tok)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	if !s.now().Before(e.ExpiresAt) {
		if err := s.store.Delete(ctx, tok); err != nil {
			return "", err
		}
		return "", ErrExpired
	}
	return e.Username, nil
}

// Refresh mints a new access token from a valid refresh token, using the
// user's current admin flag. The refresh token itself is left unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Access, error) {
	username, err := s.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	isAdmin, err := s.admins.IsAdmin(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", username, err)
	}

	tok, expiresAt, err := s.IssueAccessToken(username, isAdmin)
	if err != nil {
		return nil, err
	}
	return &Access{Token: tok, ExpiresAt: expiresAt, Username: username, IsAdmin: isAdmin}, nil
}

// Revoke removes a refresh token. Unknown tokens are ignored.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	return s.store.Delete(ctx, tok)
}

// RevokeAll removes every refresh token of username.
func (s *Service) RevokeAll(ctx context.Context, username string) error {
	return s.store.DeleteUser(ctx, username)
}

// Sweep removes expired refresh tokens and returns how many were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, s.now())
}
