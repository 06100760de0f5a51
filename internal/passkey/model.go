package passkey

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	ErrCredentialNotFound  = errors.New("passkey not found")
	ErrPossibleClone       = errors.New("passkey sign count did not increase, possible cloned authenticator")
	ErrChallengeMissing    = errors.New("no pending passkey challenge for this session")
	ErrVerification        = errors.New("passkey verification failed")
	ErrNoCredentials       = errors.New("no passkeys registered")
	ErrDuplicateCredential = errors.New("passkey already registered")
)

var b64 = base64.RawURLEncoding

// Credential is a registered public-key credential. CredentialID and
// PublicKey are base64url; PublicKey holds the COSE key from the
// attestation.
type Credential struct {
	Username        string    `json:"username"`
	Name            string    `json:"name"`
	CredentialID    string    `json:"credential_id"`
	PublicKey       string    `json:"public_key"`
	AttestationType string    `json:"attestation_type"`
	AAGUID          string    `json:"aaguid,omitempty"`
	Transports      []string  `json:"transports,omitempty"`
	BackupEligible  bool      `json:"backup_eligible"`
	BackupState     bool      `json:"backup_state"`
	SignCount       uint32    `json:"sign_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used"`
}

func (c *Credential) webAuthn() (webauthn.Credential, error) {
	id, err := b64.DecodeString(c.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("stored passkey id: %w", err)
	}
	pub, err := b64.DecodeString(c.PublicKey)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("stored passkey key: %w", err)
	}
	aaguid, err := b64.DecodeString(c.AAGUID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("stored passkey aaguid: %w", err)
	}

	transports := make([]protocol.AuthenticatorTransport, len(c.Transports))
	for i, t := range c.Transports {
		transports[i] = protocol.AuthenticatorTransport(t)
	}
	return webauthn.Credential{
		ID:              id,
		PublicKey:       pub,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    aaguid,
			SignCount: c.SignCount,
		},
	}, nil
}

func newCredential(username, name string, wc *webauthn.Credential, now time.Time) Credential {
	transports := make([]string, len(wc.Transport))
	for i, t := range wc.Transport {
		transports[i] = string(t)
	}
	return Credential{
		Username:        username,
		Name:            name,
		CredentialID:    b64.EncodeToString(wc.ID),
		PublicKey:       b64.EncodeToString(wc.PublicKey),
		AttestationType: wc.AttestationType,
		AAGUID:          b64.EncodeToString(wc.Authenticator.AAGUID),
		Transports:      transports,
		BackupEligible:  wc.Flags.BackupEligible,
		BackupState:     wc.Flags.BackupState,
		SignCount:       wc.Authenticator.SignCount,
		CreatedAt:       now,
		LastUsedAt:      now,
	}
}

// account presents a user and their stored passkeys to the WebAuthn
// library. The user handle is the username.
type account struct {
	username string
	creds    []webauthn.Credential
}

func newAccount(username string, stored []Credential) (*account, error) {
	a := &account{username: username, creds: make([]webauthn.Credential, 0, len(stored))}
	for i := range stored {
		wc, err := stored[i].webAuthn()
		if err != nil {
			return nil, err
		}
		a.creds = append(a.creds, wc)
	}
	return a, nil
}

func (a *account) WebAuthnID() []byte                         { return []byte(a.username) }
func (a *account) WebAuthnName() string                       { return a.username }
func (a *account) WebAuthnDisplayName() string                { return a.username }
func (a *account) WebAuthnCredentials() []webauthn.Credential { return a.creds }

func (a *account) descriptors() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, len(a.creds))
	for i := range a.creds {
		out[i] = a.creds[i].Descriptor()
	}
	return out
}

// Ceremony pairs ceremony options with the session that must be presented
// when finishing it.
type Ceremony[T any] struct {
	SessionID string `json:"session_id"`
	PublicKey T      `json:"publicKey"`
}

// CreationOptions are handed to navigator.credentials.create.
type CreationOptions = protocol.PublicKeyCredentialCreationOptions

// RequestOptions are handed to navigator.credentials.get.
type RequestOptions = protocol.PublicKeyCredentialRequestOptions
