// Package quota implements per-user rolling download quotas. Counters reset
// lazily: every read or mutation first zeroes the periods that have elapsed.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prettydl/prettydl/internal/events"
)

// Accounts gives the engine read-modify-write access to a user's quota block.
type Accounts interface {
	// MutateQuotas calls fn with the user's admin flag and quotas. The set is
	// written back only when fn returns changed=true and no error.
	MutateQuotas(ctx context.Context, username string, fn func(isAdmin bool, q *Set) (changed bool, err error)) error
}

// Engine checks and charges quotas.
type Engine struct {
	accounts Accounts
	events   events.Recorder
	now      func() time.Time
	locks    keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a quota Engine.
func NewEngine(accounts Accounts, rec events.Recorder, opts ...Option) *Engine {
	e := &Engine{
		accounts: accounts,
		events:   rec,
		now:      time.Now,
		locks:    keyedMutex{locks: make(map[string]*keyedEntry)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckAndReset applies any due resets and returns the current quotas.
func (e *Engine) CheckAndReset(ctx context.Context, username string) (Set, error) {
	var out Set
	err := e.accounts.MutateQuotas(ctx, username, func(_ bool, q *Set) (bool, error) {
		changed := q.Reset(e.now().UTC())
		out = *q
		return changed, nil
	})
	if err != nil {
		return Set{}, fmt.Errorf("resetting quotas for %s: %w", username, err)
	}
	return out, nil
}

// CheckLimits returns an *ExceededError for the first exhausted period,
// checked daily, weekly, then monthly. Admins always pass.
func (e *Engine) CheckLimits(ctx context.Context, username string) error {
	var exceeded *ExceededError
	err := e.accounts.MutateQuotas(ctx, username, func(isAdmin bool, q *Set) (bool, error) {
		changed := q.Reset(e.now().UTC())
		if isAdmin {
			return changed, nil
		}
		if p, ok := q.Exceeded(); ok {
			exceeded = &ExceededError{Period: p, Limit: q.Get(p).Limit, Used: q.Get(p).Used}
		}
		return changed, nil
	})
	if err != nil {
		return fmt.Errorf("checking quotas for %s: %w", username, err)
	}

	if exceeded != nil {
		e.events.Record(ctx, username, events.TypeQuotaExceeded, map[string]any{
			"period": string(exceeded.Period),
			"limit":  exceeded.Limit,
			"used":   exceeded.Used,
		})
		return exceeded
	}
	return nil
}

// IncrementUsage counts one download against every period.
func (e *Engine) IncrementUsage(ctx context.Context, username string) error {
	err := e.accounts.MutateQuotas(ctx, username, func(_ bool, q *Set) (bool, error) {
		q.Reset(e.now().UTC())
		q.Increment()
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", username, err)
	}
	return nil
}

// SetLimits replaces a user's limits and returns the updated quotas.
func (e *Engine) SetLimits(ctx context.Context, username string, l Limits) (Set, error) {
	var out Set
	err := e.accounts.MutateQuotas(ctx, username, func(_ bool, q *Set) (bool, error) {
		q.Reset(e.now().UTC())
		q.SetLimits(l)
		out = *q
		return true, nil
	})
	if err != nil {
		return Set{}, fmt.Errorf("setting quota limits for %s: %w", username, err)
	}

	e.events.Record(ctx, username, events.TypeQuotaUpdated, map[string]any{
		"daily":   l.Daily,
		"weekly":  l.Weekly,
		"monthly": l.Monthly,
	})
	return out, nil
}

// Charge runs action only if the user is within quota, and counts it only
// if action succeeds. Concurrent charges for the same user are serialized so
// a limit can never be overrun.
func (e *Engine) Charge(ctx context.Context, username string, action func(context.Context) error) error {
	unlock := e.locks.lock(username)
	defer unlock()

	if err := e.CheckLimits(ctx, username); err != nil {
		return err
	}
	if err := action(ctx); err != nil {
		return err
	}
	return e.IncrementUsage(ctx, username)
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
