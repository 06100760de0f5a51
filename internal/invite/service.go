// Package invite issues and redeems registration codes.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/store"
)

var errUnchanged = errors.New("unchanged")

const (
	defaultExpiry  = 7 * 24 * time.Hour
	defaultMaxUses = 1
	codeBytes      = 16
)

// Service manages invites.
type Service struct {
	coll   *store.Collection[Invite]
	events events.Recorder
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an invite Service.
func NewService(backend store.Backend, rec events.Recorder, opts ...Option) *Service {
	s := &Service{
		coll:   store.NewCollection[Invite](backend, "invites"),
		events: rec,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create issues a new invite on behalf of creator.
func (s *Service) Create(ctx context.Context, creator string, p Params) (*Invite, error) {
	code, err := newCode()
	if err != nil {
		return nil, err
	}

	expiresIn := p.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiry
	}
	maxUses := p.MaxUses
	switch {
	case maxUses == 0:
		maxUses = defaultMaxUses
	case maxUses < 0:
		maxUses = 0
	}

	now := s.now().UTC()
	inv := Invite{
		Code:         code,
		Creator:      creator,
		CreatedAt:    now,
		ExpiresAt:    now.Add(expiresIn),
		MaxUses:      maxUses,
		IsAdmin:      p.IsAdmin,
		DailyQuota:   p.DailyQuota,
		WeeklyQuota:  p.WeeklyQuota,
		MonthlyQuota: p.MonthlyQuota,
	}

	err = s.coll.Update(ctx, func(invites []Invite) ([]Invite, error) {
		return append(invites, inv), nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing invite: %w", err)
	}

	s.events.Record(ctx, creator, events.TypeInviteCreated, map[string]any{
		"expires_at": inv.ExpiresAt,
		"max_uses":   inv.MaxUses,
		"is_admin":   inv.IsAdmin,
	})
	return &inv, nil
}

// Validate returns the invite for code if it can still be used.
func (s *Service) Validate(ctx context.Context, code string) (*Invite, error) {
	invites, err := s.coll.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading invites: %w", err)
	}
	i := indexOf(invites, code)
	if i < 0 {
		return nil, ErrNotFound
	}
	if err := invites[i].check(s.now()); err != nil {
		return nil, err
	}
	return &invites[i], nil
}

// Consume counts one registration against the invite. The check and the
// increment happen under the collection lock, so an invite is never used
// more than MaxUses times.
func (s *Service) Consume(ctx context.Context, code, username string) (*Invite, error) {
	var out Invite
	err := s.coll.Update(ctx, func(invites []Invite) ([]Invite, error) {
		i := indexOf(invites, code)
		if i < 0 {
			return nil, ErrNotFound
		}
		if err := invites[i].check(s.now()); err != nil {
			return nil, err
		}
		invites[i].Uses++
		out = invites[i]
		return invites, nil
	})
	if err != nil {
		return nil, fmt.Errorf("consuming invite: %w", err)
	}

	s.events.Record(ctx, username, events.TypeInviteUsed, map[string]any{
		"creator": out.Creator,
		"uses":    out.Uses,
	})
	return &out, nil
}

// Delete removes an invite.
func (s *Service) Delete(ctx context.Context, code, admin string) error {
	err := s.coll.Update(ctx, func(invites []Invite) ([]Invite, error) {
		i := indexOf(invites, code)
		if i < 0 {
			return nil, ErrNotFound
		}
		return slices.Delete(invites, i, i+1), nil
	})
	if err != nil {
		return fmt.Errorf("deleting invite: %w", err)
	}

	s.events.Record(ctx, admin, events.TypeInviteDeleted, nil)
	return nil
}

// List returns the invites that have not expired, dropping expired ones
// from the store first.
func (s *Service) List(ctx context.Context) ([]Invite, error) {
	if _, err := s.Sweep(ctx); err != nil {
		return nil, err
	}
	invites, err := s.coll.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading invites: %w", err)
	}
	return invites, nil
}

// Sweep removes expired invites and returns how many were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	var removed int
	err := s.coll.Update(ctx, func(invites []Invite) ([]Invite, error) {
		now := s.now()
		before := len(invites)
		invites = slices.DeleteFunc(invites, func(inv Invite) bool { return !now.Before(inv.ExpiresAt) })
		removed = before - len(invites)
		if removed == 0 {
			return nil, errUnchanged
		}
		return invites, nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return 0, fmt.Errorf("sweeping invites: %w", err)
	}
	return removed, nil
}

func indexOf(invites []Invite, code string) int {
	return slices.IndexFunc(invites, func(inv Invite) bool { return inv.Code == code })
}
