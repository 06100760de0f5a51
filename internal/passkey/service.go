// Package passkey runs the WebAuthn registration and authentication
// ceremonies. Each ceremony issues a challenge held server-side under a
// session ID; the first attempt to finish the ceremony consumes it.
package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/settings"
	"github.com/prettydl/prettydl/internal/store"
	"github.com/prettydl/prettydl/internal/token"
	"github.com/prettydl/prettydl/internal/user"
)

const challengeTTL = 5 * time.Minute

// Users resolves accounts.
type Users interface {
	Get(ctx context.Context, username string) (*user.User, error)
}

// Sessions mints tokens once a user is authenticated.
type Sessions interface {
	IssuePair(ctx context.Context, username string, isAdmin, rememberMe bool) (*token.Pair, error)
}

// Result is a successful passkey login.
type Result struct {
	Username   string
	IsAdmin    bool
	RememberMe bool
	Tokens     *token.Pair
}

// Service implements the passkey ceremonies.
type Service struct {
	coll       *store.Collection[Credential]
	users      Users
	sessions   Sessions
	settings   settings.Source
	events     events.Recorder
	challenges *challengeStore
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a passkey Service.
func NewService(backend store.Backend, users Users, sessions Sessions, src settings.Source, rec events.Recorder, opts ...Option) *Service {
	s := &Service{
		coll:       store.NewCollection[Credential](backend, "passkeys"),
		users:      users,
		sessions:   sessions,
		settings:   src,
		events:     rec,
		challenges: newChallengeStore(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// relyingParty builds the WebAuthn configuration from the current
// settings. RP_ORIGIN may list several origins separated by commas.
func (s *Service) relyingParty() (*webauthn.WebAuthn, error) {
	var origins []string
	for _, o := range strings.Split(settings.String(s.settings, settings.KeyRPOrigin, "http://localhost"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	timeouts := webauthn.TimeoutConfig{Timeout: challengeTTL, TimeoutUVD: challengeTTL}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:                  settings.String(s.settings, settings.KeyRPID, "localhost"),
		RPDisplayName:         settings.String(s.settings, settings.KeyRPName, "PrettyDownloader"),
		RPOrigins:             origins,
		AttestationPreference: protocol.PreferNoAttestation,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeouts,
			Registration: timeouts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configuring relying party: %w", err)
	}
	return wa, nil
}

func verificationError(err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.DevInfo != "" {
		return fmt.Errorf("%w: %s: %s", ErrVerification, perr.Details, perr.DevInfo)
	}
	return fmt.Errorf("%w: %v", ErrVerification, err)
}

// BeginRegistration starts registering a new passkey for username. The
// user's existing credentials are excluded so the same authenticator cannot
// be registered twice.
func (s *Service) BeginRegistration(ctx context.Context, username string) (*Ceremony[CreationOptions], error) {
	existing, err := s.ListCredentials(ctx, username)
	if err != nil {
		return nil, err
	}
	acct, err := newAccount(username, existing)
	if err != nil {
		return nil, err
	}
	wa, err := s.relyingParty()
	if err != nil {
		return nil, err
	}

	creation, session, err := wa.BeginRegistration(acct,
		webauthn.WithExclusions(acct.descriptors()),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	)
	if err != nil {
		return nil, fmt.Errorf("starting passkey registration: %w", err)
	}

	sessionID := s.challenges.put(pending{
		kind:      kindRegistration,
		session:   *session,
		username:  username,
		expiresAt: s.now().Add(challengeTTL),
	})
	return &Ceremony[CreationOptions]{SessionID: sessionID, PublicKey: creation.Response}, nil
}

// FinishRegistration verifies the client's PublicKeyCredential, attestation
// object included, and stores the new credential under name.
func (s *Service) FinishRegistration(ctx context.Context, sessionID, username string, credential json.RawMessage, name string) (*Credential, error) {
	p, err := s.challenges.take(sessionID, kindRegistration, s.now())
	if err != nil {
		return nil, err
	}
	if p.username != username {
		return nil, ErrChallengeMissing
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(credential))
	if err != nil {
		return nil, verificationError(err)
	}

	existing, err := s.ListCredentials(ctx, username)
	if err != nil {
		return nil, err
	}
	acct, err := newAccount(username, existing)
	if err != nil {
		return nil, err
	}
	wa, err := s.relyingParty()
	if err != nil {
		return nil, err
	}

	created, err := wa.CreateCredential(acct, p.session, parsed)
	if err != nil {
		return nil, verificationError(err)
	}

	cred := newCredential(username, name, created, s.now().UTC())
	err = s.coll.Update(ctx, func(creds []Credential) ([]Credential, error) {
		if slices.ContainsFunc(creds, func(c Credential) bool { return c.CredentialID == cred.CredentialID }) {
			return nil, ErrDuplicateCredential
		}
		return append(creds, cred), nil
	})
	if err != nil {
		return nil, fmt.Errorf("storing passkey: %w", err)
	}

	s.events.Record(ctx, username, events.TypePasskeyRegistered, map[string]any{"name": name})
	return &cred, nil
}

// BeginAuthentication starts a login ceremony. With a username only that
// user's credentials are allowed; without one the authenticator offers a
// discoverable credential and user verification is required.
func (s *Service) BeginAuthentication(ctx context.Context, username string, rememberMe bool) (*Ceremony[RequestOptions], error) {
	wa, err := s.relyingParty()
	if err != nil {
		return nil, err
	}

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
	)
	if username != "" {
		creds, err := s.ListCredentials(ctx, username)
		if err != nil {
			return nil, err
		}
		if len(creds) == 0 {
			return nil, ErrNoCredentials
		}
		acct, err := newAccount(username, creds)
		if err != nil {
			return nil, err
		}
		assertion, session, err = wa.BeginLogin(acct, webauthn.WithUserVerification(protocol.VerificationDiscouraged))
		if err != nil {
			return nil, fmt.Errorf("starting passkey login: %w", err)
		}
	} else {
		creds, err := s.coll.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading passkeys: %w", err)
		}
		if len(creds) == 0 {
			return nil, ErrNoCredentials
		}
		assertion, session, err = wa.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
		if err != nil {
			return nil, fmt.Errorf("starting passkey login: %w", err)
		}
	}

	sessionID := s.challenges.put(pending{
		kind:      kindAuthentication,
		session:   *session,
		username:  username,
		remember:  rememberMe,
		expiresAt: s.now().Add(challengeTTL),
	})
	return &Ceremony[RequestOptions]{SessionID: sessionID, PublicKey: assertion.Response}, nil
}

// FinishAuthentication verifies an assertion and, on success, issues tokens
// for the credential's owner. A sign count that does not increase is
// rejected and leaves the stored credential untouched.
func (s *Service) FinishAuthentication(ctx context.Context, sessionID string, credential json.RawMessage) (*Result, error) {
	p, err := s.challenges.take(sessionID, kindAuthentication, s.now())
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(credential))
	if err != nil {
		return nil, verificationError(err)
	}

	cred, err := s.findCredential(ctx, parsed.RawID, p.username)
	if err != nil {
		return nil, err
	}
	owned, err := s.ListCredentials(ctx, cred.Username)
	if err != nil {
		return nil, err
	}
	acct, err := newAccount(cred.Username, owned)
	if err != nil {
		return nil, err
	}
	wa, err := s.relyingParty()
	if err != nil {
		return nil, err
	}

	if p.username != "" {
		_, err = wa.ValidateLogin(acct, p.session, parsed)
	} else {
		_, err = wa.ValidateDiscoverableLogin(func(_, userHandle []byte) (webauthn.User, error) {
			if !bytes.Equal(userHandle, acct.WebAuthnID()) {
				return nil, ErrCredentialNotFound
			}
			return acct, nil
		}, p.session, parsed)
	}
	if err != nil {
		return nil, verificationError(err)
	}

	counter := parsed.Response.AuthenticatorData.Counter
	if counter <= cred.SignCount {
		s.events.Record(ctx, cred.Username, events.TypePasskeyCloneSuspected, map[string]any{
			"credential_id": cred.CredentialID,
			"stored":        cred.SignCount,
			"asserted":      counter,
		})
		return nil, ErrPossibleClone
	}

	u, err := s.users.Get(ctx, cred.Username)
	if err != nil {
		return nil, fmt.Errorf("resolving passkey owner: %w", err)
	}
	if err := u.StatusErr(); err != nil {
		return nil, err
	}

	err = s.coll.Update(ctx, func(creds []Credential) ([]Credential, error) {
		i := slices.IndexFunc(creds, func(c Credential) bool { return c.CredentialID == cred.CredentialID })
		if i < 0 {
			return nil, ErrCredentialNotFound
		}
		if counter <= creds[i].SignCount {
			return nil, ErrPossibleClone
		}
		creds[i].SignCount = counter
		creds[i].BackupState = parsed.Response.AuthenticatorData.Flags.HasBackupState()
		creds[i].LastUsedAt = s.now().UTC()
		return creds, nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating passkey: %w", err)
	}

	pair, err := s.sessions.IssuePair(ctx, u.Username, u.IsAdmin, p.remember)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, u.Username, events.TypePasskeyLogin, map[string]any{"name": cred.Name})
	return &Result{Username: u.Username, IsAdmin: u.IsAdmin, RememberMe: p.remember, Tokens: pair}, nil
}

func (s *Service) findCredential(ctx context.Context, rawID []byte, username string) (*Credential, error) {
	id := b64.EncodeToString(rawID)
	creds, err := s.coll.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading passkeys: %w", err)
	}
	for i := range creds {
		if creds[i].CredentialID != id {
			continue
		}
		if username != "" && creds[i].Username != username {
			continue
		}
		return &creds[i], nil
	}
	return nil, ErrCredentialNotFound
}

// ListCredentials returns the passkeys registered by username.
func (s *Service) ListCredentials(ctx context.Context, username string) ([]Credential, error) {
	creds, err := s.coll.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading passkeys: %w", err)
	}
	return slices.DeleteFunc(creds, func(c Credential) bool { return c.Username != username }), nil
}

// DeleteCredential removes one of username's passkeys.
func (s *Service) DeleteCredential(ctx context.Context, username, credentialID string) error {
	err := s.coll.Update(ctx, func(creds []Credential) ([]Credential, error) {
		i := slices.IndexFunc(creds, func(c Credential) bool {
			return c.CredentialID == credentialID && c.Username == username
		})
		if i < 0 {
			return nil, ErrCredentialNotFound
		}
		return slices.Delete(creds, i, i+1), nil
	})
	if err != nil {
		return fmt.Errorf("deleting passkey: %w", err)
	}

	s.events.Record(ctx, username, events.TypePasskeyDeleted, map[string]any{"credential_id": credentialID})
	return nil
}

// DeleteAllForUser removes every passkey of username and returns how many
// were removed.
func (s *Service) DeleteAllForUser(ctx context.Context, username string) (int, error) {
	var removed int
	err := s.coll.Update(ctx, func(creds []Credential) ([]Credential, error) {
		before := len(creds)
		creds = slices.DeleteFunc(creds, func(c Credential) bool { return c.Username == username })
		removed = before - len(creds)
		return creds, nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting passkeys for %s: %w", username, err)
	}
	return removed, nil
}

// SweepChallenges drops ceremonies that were never finished.
func (s *Service) SweepChallenges(_ context.Context) (int, error) {
	return s.challenges.sweep(s.now()), nil
}

// PendingCeremonies returns how many challenges are outstanding.
func (s *Service) PendingCeremonies() int {
	return s.challenges.size()
}
