package invite_test

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/invite"
	"github.com/prettydl/prettydl/internal/store"
)

func setup(t *testing.T) (*invite.Service, *time.Time) {
	t.Helper()
	backend, err := store.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)
	svc := invite.NewService(backend, events.Nop{}, invite.WithClock(func() time.Time { return now }))
	return svc, &now
}

// --- Create Tests ---

func TestCreate_Defaults(t *testing.T) {
	svc, now := setup(t)

	inv, err := svc.Create(context.Background(), "root", invite.Params{DailyQuota: 3})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(inv.Code)
	require.NoError(t, err)
	assert.Len(t, raw, 16)
	assert.Equal(t, "root", inv.Creator)
	assert.Equal(t, now.Add(7*24*time.Hour), inv.ExpiresAt)
	assert.Equal(t, 1, inv.MaxUses)
	assert.Equal(t, 0, inv.Uses)
	assert.Equal(t, 3, inv.Limits().Daily)
}

func TestCreate_NegativeMaxUsesIsUnlimited(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "root", invite.Params{MaxUses: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, inv.MaxUses)

	for i := 0; i < 5; i++ {
		_, err := svc.Consume(ctx, inv.Code, "user")
		require.NoError(t, err)
	}
}

// --- Validate Tests ---

func TestValidate(t *testing.T) {
	svc, now := setup(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "root", invite.Params{ExpiresIn: time.Hour, MaxUses: 1})
	require.NoError(t, err)

	got, err := svc.Validate(ctx, inv.Code)
	require.NoError(t, err)
	assert.Equal(t, inv.Code, got.Code)

	_, err = svc.Validate(ctx, "nope")
	assert.ErrorIs(t, err, invite.ErrNotFound)
	assert.ErrorIs(t, err, invite.ErrInvalid)

	*now = now.Add(time.Hour)
	_, err = svc.Validate(ctx, inv.Code)
	assert.ErrorIs(t, err, invite.ErrExpired)
	assert.ErrorIs(t, err, invite.ErrInvalid)
}

// --- Consume Tests ---

func TestConsume_ExhaustsAtMaxUses(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "root", invite.Params{MaxUses: 2})
	require.NoError(t, err)

	got, err := svc.Consume(ctx, inv.Code, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Uses)
	_, err = svc.Consume(ctx, inv.Code, "b")
	require.NoError(t, err)

	_, err = svc.Consume(ctx, inv.Code, "c")
	assert.ErrorIs(t, err, invite.ErrExhausted)
	_, err = svc.Validate(ctx, inv.Code)
	assert.ErrorIs(t, err, invite.ErrExhausted)
}

func TestConsume_Concurrent(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "root", invite.Params{MaxUses: 3})
	require.NoError(t, err)

	var ok, exhausted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := svc.Consume(ctx, inv.Code, "user")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, invite.ErrExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(17), exhausted.Load())
}

// --- Delete & List Tests ---

func TestDelete(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "root", invite.Params{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, inv.Code, "root"))
	assert.ErrorIs(t, svc.Delete(ctx, inv.Code, "root"), invite.ErrNotFound)
	_, err = svc.Validate(ctx, inv.Code)
	assert.ErrorIs(t, err, invite.ErrNotFound)
}

func TestExpiredInviteKeptUntilListed(t *testing.T) {
	svc, now := setup(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "root", invite.Params{ExpiresIn: time.Hour})
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	_, err = svc.Validate(ctx, inv.Code)
	assert.ErrorIs(t, err, invite.ErrExpired)
	_, err = svc.Validate(ctx, inv.Code)
	assert.ErrorIs(t, err, invite.ErrExpired, "validation must not remove the invite")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = svc.Validate(ctx, inv.Code)
	assert.ErrorIs(t, err, invite.ErrNotFound)
}

func TestList_DropsExpired(t *testing.T) {
	svc, now := setup(t)
	ctx := context.Background()

	short, err := svc.Create(ctx, "root", invite.Params{ExpiresIn: time.Hour})
	require.NoError(t, err)
	long, err := svc.Create(ctx, "root", invite.Params{ExpiresIn: 48 * time.Hour})
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, long.Code, list[0].Code)

	_, err = svc.Validate(ctx, short.Code)
	assert.ErrorIs(t, err, invite.ErrNotFound)

	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
