// Package auth ties the user directory, token service, invites and passkeys
// together into the login, registration and account administration flows.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/invite"
	"github.com/prettydl/prettydl/internal/quota"
	"github.com/prettydl/prettydl/internal/settings"
	"github.com/prettydl/prettydl/internal/token"
	"github.com/prettydl/prettydl/internal/user"
)

// ErrInvalidToken is returned when an access token cannot be used.
var ErrInvalidToken = errors.New("invalid or expired access token")

// Service provides authentication and account administration.
type Service struct {
	users    *user.Directory
	tokens   *token.Service
	invites  *invite.Service
	passkeys CredentialPurger
	settings settings.Source
	events   events.Recorder
}

// NewService creates a new auth Service.
func NewService(users *user.Directory, tokens *token.Service, invites *invite.Service, passkeys CredentialPurger, src settings.Source, rec events.Recorder) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		invites:  invites,
		passkeys: passkeys,
		settings: src,
		events:   rec,
	}
}

// sessionAccounts lets the token service re-read a user's admin flag on
// refresh and refuse accounts that can no longer log in.
type sessionAccounts struct {
	users *user.Directory
}

// NewAdminLookup returns a token.AdminLookup backed by the directory.
// Suspended, pending and deleted users fail the lookup.
func NewAdminLookup(users *user.Directory) token.AdminLookup {
	return sessionAccounts{users: users}
}

func (s sessionAccounts) IsAdmin(ctx context.Context, username string) (bool, error) {
	u, err := s.users.Get(ctx, username)
	if err != nil {
		return false, err
	}
	if err := u.StatusErr(); err != nil {
		return false, err
	}
	return u.IsAdmin, nil
}

// Login checks credentials and opens a session.
func (s *Service) Login(ctx context.Context, username, password string, rememberMe bool) (*Session, error) {
	u, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		if isLoginRefusal(err) {
			s.events.Record(ctx, username, events.TypeLoginFailed, map[string]any{"reason": err.Error()})
		}
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, u.Username, u.IsAdmin, rememberMe)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, u.Username, events.TypeLogin, map[string]any{"remember_me": rememberMe})
	return &Session{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		Username:         u.Username,
		IsAdmin:          u.IsAdmin,
	}, nil
}

func isLoginRefusal(err error) bool {
	return errors.Is(err, user.ErrInvalidCredentials) ||
		errors.Is(err, user.ErrAccountSuspended) ||
		errors.Is(err, user.ErrAccountPendingApproval)
}

// Refresh mints a new access token from a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Access, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	username, err := s.tokens.ValidateRefreshToken(ctx, refreshToken)
	if err != nil && !errors.Is(err, token.ErrNotFound) && !errors.Is(err, token.ErrExpired) {
		return err
	}
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	if username != "" {
		s.events.Record(ctx, username, events.TypeLogout, nil)
	}
	return nil
}

// Authenticate resolves an access token to the caller's Identity. Failures
// match ErrInvalidToken and also keep the token error, so token.ErrExpired
// can be told apart from token.ErrInvalid.
func (s *Service) Authenticate(accessToken string) (*Identity, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return &Identity{Username: claims.Username, IsAdmin: claims.IsAdmin}, nil
}

// Register creates an account. Without an invite the account waits for
// admin approval and gets the default quotas; with a valid invite it is
// active immediately with the invite's grants. A user created for an invite
// that then cannot be consumed is removed again.
func (s *Service) Register(ctx context.Context, username, password, inviteCode string) (*user.User, error) {
	if inviteCode == "" {
		u, err := s.users.Create(ctx, user.NewUser{
			Username:        username,
			Password:        password,
			PendingApproval: true,
			Limits:          s.defaultLimits(),
		})
		if err != nil {
			return nil, err
		}
		s.events.Record(ctx, username, events.TypeRegistered, map[string]any{"pending_approval": true})
		return u, nil
	}

	inv, err := s.invites.Validate(ctx, inviteCode)
	if err != nil {
		return nil, err
	}

	u, err := s.users.Create(ctx, user.NewUser{
		Username: username,
		Password: password,
		IsAdmin:  inv.IsAdmin,
		Limits:   inv.Limits(),
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.invites.Consume(ctx, inviteCode, username); err != nil {
		if delErr := s.users.Delete(ctx, username, ""); delErr != nil {
			slog.Error("failed to remove user after invite consumption failed",
				"username", username, "error", delErr)
		}
		return nil, err
	}

	s.events.Record(ctx, username, events.TypeRegistered, map[string]any{
		"pending_approval": false,
		"invite_creator":   inv.Creator,
	})
	return u, nil
}

func (s *Service) defaultLimits() quota.Limits {
	return quota.Limits{
		Daily:   settings.Int(s.settings, settings.KeyDefaultDailyQuota, 0),
		Weekly:  settings.Int(s.settings, settings.KeyDefaultWeeklyQuota, 0),
		Monthly: settings.Int(s.settings, settings.KeyDefaultMonthlyQuota, 0),
	}
}

// CreateUser creates an active account on behalf of an admin.
func (s *Service) CreateUser(ctx context.Context, admin Identity, nu user.NewUser) (*user.User, error) {
	u, err := s.users.Create(ctx, nu)
	if err != nil {
		return nil, err
	}
	s.events.Record(ctx, nu.Username, events.TypeUserCreated, map[string]any{"by": admin.Username, "is_admin": nu.IsAdmin})
	return u, nil
}

// ChangeOwnPassword replaces the caller's password after checking the
// current one. All of the caller's sessions are ended.
func (s *Service) ChangeOwnPassword(ctx context.Context, caller Identity, current, next string) error {
	if _, err := s.users.Authenticate(ctx, caller.Username, current); err != nil {
		return err
	}
	return s.setPassword(ctx, caller.Username, next, caller.Username)
}

// ResetPassword sets another user's password on behalf of an admin.
func (s *Service) ResetPassword(ctx context.Context, admin Identity, username, next string) error {
	return s.setPassword(ctx, username, next, admin.Username)
}

func (s *Service) setPassword(ctx context.Context, username, next, by string) error {
	if err := s.users.ChangePassword(ctx, username, next); err != nil {
		return err
	}
	if err := s.tokens.RevokeAll(ctx, username); err != nil {
		return fmt.Errorf("revoking sessions of %s: %w", username, err)
	}
	s.events.Record(ctx, username, events.TypePasswordChanged, map[string]any{"by": by})
	return nil
}

// SuspendUser suspends an account and ends its sessions.
func (s *Service) SuspendUser(ctx context.Context, admin Identity, username string) error {
	if err := s.users.Suspend(ctx, username, admin.Username); err != nil {
		return err
	}
	if err := s.tokens.RevokeAll(ctx, username); err != nil {
		return fmt.Errorf("revoking sessions of %s: %w", username, err)
	}
	s.events.Record(ctx, username, events.TypeUserSuspended, map[string]any{"by": admin.Username})
	return nil
}

// UnsuspendUser lifts a suspension.
func (s *Service) UnsuspendUser(ctx context.Context, admin Identity, username string) error {
	if err := s.users.Unsuspend(ctx, username); err != nil {
		return err
	}
	s.events.Record(ctx, username, events.TypeUserUnsuspended, map[string]any{"by": admin.Username})
	return nil
}

// ApproveUser activates a pending account.
func (s *Service) ApproveUser(ctx context.Context, admin Identity, username string) error {
	if err := s.users.Approve(ctx, username); err != nil {
		return err
	}
	s.events.Record(ctx, username, events.TypeUserApproved, map[string]any{"by": admin.Username})
	return nil
}

// RejectUser deletes a pending account.
func (s *Service) RejectUser(ctx context.Context, admin Identity, username string) error {
	if err := s.users.Reject(ctx, username); err != nil {
		return err
	}
	if err := s.purge(ctx, username); err != nil {
		return err
	}
	s.events.Record(ctx, username, events.TypeUserRejected, map[string]any{"by": admin.Username})
	return nil
}

// DeleteUser removes an account along with its sessions and passkeys.
func (s *Service) DeleteUser(ctx context.Context, admin Identity, username string) error {
	if err := s.users.Delete(ctx, username, admin.Username); err != nil {
		return err
	}
	if err := s.purge(ctx, username); err != nil {
		return err
	}
	s.events.Record(ctx, username, events.TypeUserDeleted, map[string]any{"by": admin.Username})
	return nil
}

// ToggleAdmin flips a user's admin flag and returns the new value. Existing
// access tokens keep their old claim until they expire; refreshed ones pick
// up the change.
func (s *Service) ToggleAdmin(ctx context.Context, admin Identity, username string) (bool, error) {
	isAdmin, err := s.users.ToggleAdmin(ctx, username)
	if err != nil {
		return false, err
	}
	s.events.Record(ctx, username, events.TypeAdminToggled, map[string]any{"by": admin.Username, "is_admin": isAdmin})
	return isAdmin, nil
}

func (s *Service) purge(ctx context.Context, username string) error {
	if err := s.tokens.RevokeAll(ctx, username); err != nil {
		return fmt.Errorf("revoking sessions of %s: %w", username, err)
	}
	if _, err := s.passkeys.DeleteAllForUser(ctx, username); err != nil {
		return fmt.Errorf("removing passkeys of %s: %w", username, err)
	}
	return nil
}

// BootstrapAdmin creates the first admin account when no users exist. When
// password is empty a random one is generated and logged once. It returns
// the password used, or an empty string if users already existed.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) (string, error) {
	count, err := s.users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return "", nil
	}

	generated := password == ""
	if generated {
		b := make([]byte, 18)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating admin password: %w", err)
		}
		password = base64.RawURLEncoding.EncodeToString(b)
	}

	if _, err := s.users.Create(ctx, user.NewUser{Username: username, Password: password, IsAdmin: true}); err != nil {
		return "", fmt.Errorf("creating admin: %w", err)
	}

	if generated {
		slog.Info("Admin account created", "username", username, "password", password)
	} else {
		slog.Info("Admin account created", "username", username)
	}
	return password, nil
}
