// Package user manages account records and their lifecycle. Every mutation
// that can remove admin rights checks that at least one active admin
// remains.
package user

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/prettydl/prettydl/internal/quota"
)

var (
	ErrDuplicateUsername      = errors.New("username already exists")
	ErrSelfAction             = errors.New("cannot perform this action on your own account")
	ErrLastAdmin              = errors.New("cannot remove the last active admin")
	ErrInvalidCredentials     = errors.New("invalid username or password")
	ErrAccountSuspended       = errors.New("account is suspended")
	ErrAccountPendingApproval = errors.New("account is pending approval")
	ErrNotPending             = errors.New("account is not pending approval")
)

var errUnchanged = errors.New("unchanged")

// Directory implements the account operations.
type Directory struct {
	repo       Repository
	bcryptCost int
	now        func() time.Time

	// dummyHash is compared against when the user does not exist so that
	// unknown usernames cost the same as wrong passwords.
	dummyHash []byte
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the clock used for creation timestamps and quota resets.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory creates a Directory. bcryptCost is clamped to bcrypt's
// accepted range.
func NewDirectory(repo Repository, bcryptCost int, opts ...Option) (*Directory, error) {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.MinCost
	}
	if bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.MaxCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}

	d := &Directory{
		repo:       repo,
		bcryptCost: bcryptCost,
		now:        time.Now,
		dummyHash:  dummy,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Directory) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), d.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// Create stores a new account with zeroed quota usage.
func (d *Directory) Create(ctx context.Context, nu NewUser) (*User, error) {
	hash, err := d.hash(nu.Password)
	if err != nil {
		return nil, err
	}

	now := d.now().UTC()
	u := User{
		Username:        nu.Username,
		PasswordHash:    hash,
		IsAdmin:         nu.IsAdmin,
		PendingApproval: nu.PendingApproval,
		Quotas:          quota.NewSet(nu.Limits, now),
		CreatedAt:       now,
	}

	err = d.repo.Mutate(ctx, func(users []User) ([]User, error) {
		if indexOf(users, u.Username) >= 0 {
			return nil, ErrDuplicateUsername
		}
		return append(users, u), nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", nu.Username, err)
	}
	return &u, nil
}

// Authenticate checks the password first and the account status second, so
// a wrong password never reveals whether the username exists or what state
// the account is in.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := d.repo.Get(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	hash := d.dummyHash
	if u != nil && u.PasswordHash != "" {
		hash = []byte(u.PasswordHash)
	}
	match := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil

	if u == nil || u.PasswordHash == "" || !match {
		return nil, ErrInvalidCredentials
	}
	if err := u.StatusErr(); err != nil {
		return nil, err
	}
	return u, nil
}

// VerifyCredentials is the boolean form of Authenticate. It fails closed, and
// account status is only consulted once the password has matched.
func (d *Directory) VerifyCredentials(ctx context.Context, username, password string) bool {
	_, err := d.Authenticate(ctx, username, password)
	return err == nil
}

// Delete removes an account.
func (d *Directory) Delete(ctx context.Context, username, requester string) error {
	if username == requester {
		return ErrSelfAction
	}

	err := d.repo.Mutate(ctx, func(users []User) ([]User, error) {
		i := indexOf(users, username)
		if i < 0 {
			return nil, ErrUserNotFound
		}
		if isLastActiveAdmin(users, i) {
			return nil, ErrLastAdmin
		}
		return slices.Delete(users, i, i+1), nil
	})
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", username, err)
	}
	return nil
}

// ToggleAdmin flips the admin flag and returns the new value.
func (d *Directory) ToggleAdmin(ctx context.Context, username string) (bool, error) {
	var isAdmin bool
	err := d.update(ctx, username, func(users []User, i int) error {
		if isLastActiveAdmin(users, i) {
			return ErrLastAdmin
		}
		users[i].IsAdmin = !users[i].IsAdmin
		isAdmin = users[i].IsAdmin
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("toggling admin for %s: %w", username, err)
	}
	return isAdmin, nil
}

// Suspend blocks an account from logging in.
func (d *Directory) Suspend(ctx context.Context, username, requester string) error {
	if username == requester {
		return ErrSelfAction
	}

	err := d.update(ctx, username, func(users []User, i int) error {
		if isLastActiveAdmin(users, i) {
			return ErrLastAdmin
		}
		users[i].Suspended = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("suspending %s: %w", username, err)
	}
	return nil
}

// Unsuspend lifts a suspension.
func (d *Directory) Unsuspend(ctx context.Context, username string) error {
	err := d.update(ctx, username, func(users []User, i int) error {
		users[i].Suspended = false
		return nil
	})
	if err != nil {
		return fmt.Errorf("unsuspending %s: %w", username, err)
	}
	return nil
}

// Approve activates an account awaiting approval.
func (d *Directory) Approve(ctx context.Context, username string) error {
	err := d.update(ctx, username, func(users []User, i int) error {
		if !users[i].PendingApproval {
			return ErrNotPending
		}
		users[i].PendingApproval = false
		return nil
	})
	if err != nil {
		return fmt.Errorf("approving %s: %w", username, err)
	}
	return nil
}

// Reject deletes an account awaiting approval.
func (d *Directory) Reject(ctx context.Context, username string) error {
	err := d.repo.Mutate(ctx, func(users []User) ([]User, error) {
		i := indexOf(users, username)
		if i < 0 {
			return nil, ErrUserNotFound
		}
		if !users[i].PendingApproval {
			return nil, ErrNotPending
		}
		return slices.Delete(users, i, i+1), nil
	})
	if err != nil {
		return fmt.Errorf("rejecting %s: %w", username, err)
	}
	return nil
}

// ChangePassword replaces the password hash.
func (d *Directory) ChangePassword(ctx context.Context, username, newPassword string) error {
	hash, err := d.hash(newPassword)
	if err != nil {
		return err
	}

	err = d.update(ctx, username, func(users []User, i int) error {
		users[i].PasswordHash = hash
		return nil
	})
	if err != nil {
		return fmt.Errorf("changing password for %s: %w", username, err)
	}
	return nil
}

// List returns all accounts.
func (d *Directory) List(ctx context.Context) ([]User, error) {
	users, err := d.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// Get returns a single account.
func (d *Directory) Get(ctx context.Context, username string) (*User, error) {
	u, err := d.repo.Get(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", username, err)
	}
	return u, nil
}

// IsAdmin reports the stored admin flag of username.
func (d *Directory) IsAdmin(ctx context.Context, username string) (bool, error) {
	u, err := d.Get(ctx, username)
	if err != nil {
		return false, err
	}
	return u.IsAdmin, nil
}

// Count returns the number of accounts.
func (d *Directory) Count(ctx context.Context) (int, error) {
	users, err := d.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}

// MutateQuotas implements quota.Accounts.
func (d *Directory) MutateQuotas(ctx context.Context, username string, fn func(isAdmin bool, q *quota.Set) (bool, error)) error {
	err := d.update(ctx, username, func(users []User, i int) error {
		changed, err := fn(users[i].IsAdmin, &users[i].Quotas)
		if err != nil {
			return err
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// update runs fn against the named user inside a single atomic mutation.
func (d *Directory) update(ctx context.Context, username string, fn func(users []User, i int) error) error {
	return d.repo.Mutate(ctx, func(users []User) ([]User, error) {
		i := indexOf(users, username)
		if i < 0 {
			return nil, ErrUserNotFound
		}
		if err := fn(users, i); err != nil {
			return nil, err
		}
		return users, nil
	})
}

// isLastActiveAdmin reports whether users[i] is the only active admin left.
func isLastActiveAdmin(users []User, i int) bool {
	if !users[i].ActiveAdmin() {
		return false
	}
	active := 0
	for j := range users {
		if users[j].ActiveAdmin() {
			active++
		}
	}
	return active <= 1
}
