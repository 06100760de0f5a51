package token_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/prettydl/prettydl/internal/settings"
	"github.com/prettydl/prettydl/internal/token"
)

var secret = []byte("test-secret-key")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type admins map[string]bool

func (a admins) IsAdmin(_ context.Context, username string) (bool, error) {
	v, ok := a[username]
	if !ok {
		return false, errors.New("gone")
	}
	return v, nil
}

func defaultSettings() settings.Static {
	return settings.Static{
		settings.KeyAccessTokenExpiry:       "900",
		settings.KeyRefreshTokenExpiry:      "2592000",
		settings.KeyShortRefreshTokenExpiry: "86400",
	}
}

func setup(t *testing.T, store token.RefreshStore, lookup token.AdminLookup) (*token.Service, *clock) {
	t.Helper()
	// Anchored to real time so Redis-side expiry agrees with the fake clock.
	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	if lookup == nil {
		lookup = admins{"alice": false, "root": true}
	}
	return token.NewService(secret, store, lookup, defaultSettings(), token.WithClock(clk.Now)), clk
}

// --- Access Token Tests ---

func TestAccessToken_ValidUntilLifetimeElapses(t *testing.T) {
	svc, clk := setup(t, token.NewMemoryStore(), nil)

	tok, expiresAt, err := svc.IssueAccessToken("root", true)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(15*time.Minute), expiresAt)

	claims, err := svc.ValidateAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "access", claims.Type)

	clk.Advance(14 * time.Minute)
	_, err = svc.ValidateAccessToken(tok)
	assert.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = svc.ValidateAccessToken(tok)
	assert.ErrorIs(t, err, token.ErrExpired)
	assert.NotErrorIs(t, err, token.ErrInvalid)
}

func TestAccessToken_Deterministic(t *testing.T) {
	svc, _ := setup(t, token.NewMemoryStore(), nil)

	a, _, err := svc.IssueAccessToken("alice", false)
	require.NoError(t, err)
	b, _, err := svc.IssueAccessToken("alice", false)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestAccessToken_TamperingInvalidates(t *testing.T) {
	svc, _ := setup(t, token.NewMemoryStore(), nil)
	tok, _, err := svc.IssueAccessToken("alice", false)
	require.NoError(t, err)

	signed := tok[:strings.LastIndex(tok, ".")]
	for i := 0; i < len(signed); i++ {
		if signed[i] == '.' {
			continue
		}
		replacement := byte('A')
		if signed[i] == 'A' {
			replacement = 'B'
		}
		tampered := tok[:i] + string(replacement) + tok[i+1:]

		_, err := svc.ValidateAccessToken(tampered)
		require.ErrorIs(t, err, token.ErrInvalid, "byte %d", i)
	}
}

func TestAccessToken_Rejections(t *testing.T) {
	svc, clk := setup(t, token.NewMemoryStore(), nil)
	now := clk.Now()

	sign := func(method jwt.SigningMethod, key any, claims token.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Username: "alice",
		Type:     "access",
	}

	wrongType := valid
	wrongType.Type = "refresh"

	noExpiry := valid
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-jwt"},
		{"wrong key", sign(jwt.SigningMethodHS256, []byte("other"), valid)},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, secret, valid)},
		{"none algorithm", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)},
		{"wrong type", sign(jwt.SigningMethodHS256, secret, wrongType)},
		{"no expiry", sign(jwt.SigningMethodHS256, secret, noExpiry)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, token.ErrInvalid)
		})
	}
}

func TestAccessToken_LifetimeFromSettings(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	src := settings.Static{settings.KeyAccessTokenExpiry: "60"}
	svc := token.NewService(secret, token.NewMemoryStore(), admins{}, src, token.WithClock(clk.Now))

	_, expiresAt, err := svc.IssueAccessToken("alice", false)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(time.Minute), expiresAt)
}

// runRefreshSuite covers refresh-token behaviour against a RefreshStore.
func runRefreshSuite(t *testing.T, newStore func(t *testing.T) token.RefreshStore) {
	t.Run("remember me picks lifetime", func(t *testing.T) {
		svc, clk := setup(t, newStore(t), nil)
		ctx := context.Background()

		_, longExp, err := svc.IssueRefreshToken(ctx, "alice", true)
		require.NoError(t, err)
		_, shortExp, err := svc.IssueRefreshToken(ctx, "alice", false)
		require.NoError(t, err)

		assert.Equal(t, clk.Now().Add(30*24*time.Hour), longExp)
		assert.Equal(t, clk.Now().Add(24*time.Hour), shortExp)
	})

	t.Run("validation does not consume", func(t *testing.T) {
		svc, _ := setup(t, newStore(t), nil)
		ctx := context.Background()
		tok, _, err := svc.IssueRefreshToken(ctx, "alice", false)
		require.NoError(t, err)
		assert.Len(t, tok, 64)

		for i := 0; i < 2; i++ {
			username, err := svc.ValidateRefreshToken(ctx, tok)
			require.NoError(t, err)
			assert.Equal(t, "alice", username)
		}

		require.NoError(t, svc.Revoke(ctx, tok))
		_, err = svc.ValidateRefreshToken(ctx, tok)
		assert.ErrorIs(t, err, token.ErrNotFound)

		assert.NoError(t, svc.Revoke(ctx, tok), "revoke is idempotent")
	})

	t.Run("expired is evicted", func(t *testing.T) {
		svc, clk := setup(t, newStore(t), nil)
		ctx := context.Background()
		tok, _, err := svc.IssueRefreshToken(ctx, "alice", false)
		require.NoError(t, err)

		clk.Advance(24 * time.Hour)
		_, err = svc.ValidateRefreshToken(ctx, tok)
		assert.ErrorIs(t, err, token.ErrExpired)

		_, err = svc.ValidateRefreshToken(ctx, tok)
		assert.ErrorIs(t, err, token.ErrNotFound)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		svc, _ := setup(t, newStore(t), nil)
		ctx := context.Background()
		a1, _, err := svc.IssueRefreshToken(ctx, "alice", true)
		require.NoError(t, err)
		a2, _, err := svc.IssueRefreshToken(ctx, "alice", false)
		require.NoError(t, err)
		r1, _, err := svc.IssueRefreshToken(ctx, "root", false)
		require.NoError(t, err)

		require.NoError(t, svc.RevokeAll(ctx, "alice"))

		for _, tok := range []string{a1, a2} {
			_, err := svc.ValidateRefreshToken(ctx, tok)
			assert.ErrorIs(t, err, token.ErrNotFound)
		}
		_, err = svc.ValidateRefreshToken(ctx, r1)
		assert.NoError(t, err)
		assert.NoError(t, svc.RevokeAll(ctx, "nobody"))
	})
}

func TestRefreshToken_MemoryStore(t *testing.T) {
	runRefreshSuite(t, func(*testing.T) token.RefreshStore { return token.NewMemoryStore() })
}

func TestRefresh_UsesCurrentAdminFlag(t *testing.T) {
	lookup := admins{"alice": false}
	svc, _ := setup(t, token.NewMemoryStore(), lookup)
	ctx := context.Background()

	refresh, _, err := svc.IssueRefreshToken(ctx, "alice", false)
	require.NoError(t, err)

	lookup["alice"] = true
	access, err := svc.Refresh(ctx, refresh)
	require.NoError(t, err)
	assert.True(t, access.IsAdmin)

	claims, err := svc.ValidateAccessToken(access.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)

	_, err = svc.ValidateRefreshToken(ctx, refresh)
	assert.NoError(t, err, "refresh does not rotate the refresh token")
}

func TestRefresh_Failures(t *testing.T) {
	lookup := admins{"alice": false}
	svc, _ := setup(t, token.NewMemoryStore(), lookup)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, "unknown")
	assert.ErrorIs(t, err, token.ErrNotFound)

	refresh, _, err := svc.IssueRefreshToken(ctx, "alice", false)
	require.NoError(t, err)
	delete(lookup, "alice")

	_, err = svc.Refresh(ctx, refresh)
	assert.Error(t, err)
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	store := token.NewMemoryStore()
	svc, clk := setup(t, store, nil)
	ctx := context.Background()

	_, _, err := svc.IssueRefreshToken(ctx, "alice", false)
	require.NoError(t, err)
	keep, _, err := svc.IssueRefreshToken(ctx, "alice", true)
	require.NoError(t, err)

	clk.Advance(2 * 24 * time.Hour)
	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	_, err = svc.ValidateRefreshToken(ctx, keep)
	assert.NoError(t, err)
}

func TestSweep_ConcurrentWithIssuance(t *testing.T) {
	store := token.NewMemoryStore()
	svc, clk := setup(t, store, nil)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			tok, _, err := svc.IssueRefreshToken(ctx, "alice", true)
			if err != nil {
				return err
			}
			_, err = svc.ValidateRefreshToken(ctx, tok)
			return err
		})
		g.Go(func() error {
			_, err := svc.Sweep(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 20, store.Len())

	clk.Advance(31 * 24 * time.Hour)
	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}
