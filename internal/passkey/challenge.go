package passkey

import (
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

type ceremonyKind int

const (
	kindRegistration ceremonyKind = iota + 1
	kindAuthentication
)

// pending is one issued, not yet answered challenge.
type pending struct {
	kind      ceremonyKind
	session   webauthn.SessionData
	username  string
	remember  bool
	expiresAt time.Time
}

// challengeStore holds pending challenges keyed by ceremony session. A slot
// is removed by the first attempt to use it, whatever the outcome.
type challengeStore struct {
	mu    sync.Mutex
	slots map[string]pending
}

func newChallengeStore() *challengeStore {
	return &challengeStore{slots: make(map[string]pending)}
}

func (c *challengeStore) put(p pending) string {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[id] = p
	return id
}

func (c *challengeStore) take(id string, kind ceremonyKind, now time.Time) (pending, error) {
	c.mu.Lock()
	p, ok := c.slots[id]
	delete(c.slots, id)
	c.mu.Unlock()

	if !ok || p.kind != kind || !now.Before(p.expiresAt) {
		return pending{}, ErrChallengeMissing
	}
	return p, nil
}

func (c *challengeStore) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, p := range c.slots {
		if !now.Before(p.expiresAt) {
			delete(c.slots, id)
			n++
		}
	}
	return n
}

func (c *challengeStore) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
