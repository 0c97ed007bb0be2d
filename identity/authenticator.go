package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownUser may be returned by a HashLookup for users without a
// password. PasswordAuthenticator treats it as a failed check.
var ErrUnknownUser = errors.New("unknown user")

// HashLookup returns the stored PHC hash of a user.
type HashLookup func(ctx context.Context, userID string) (string, error)

// PasswordAuthenticator re-authenticates users against stored Argon2id
// hashes.
type PasswordAuthenticator struct {
	hasher *Hasher
	lookup HashLookup
}

// NewPasswordAuthenticator returns an authenticator reading hashes through
// lookup.
func NewPasswordAuthenticator(hasher *Hasher, lookup HashLookup) *PasswordAuthenticator {
	return &PasswordAuthenticator{hasher: hasher, lookup: lookup}
}

// Reauthenticate reports whether password is the current password of
// userID. A malformed stored hash is an error; an unknown user is not.
func (a *PasswordAuthenticator) Reauthenticate(ctx context.Context, userID, password string) (bool, error) {
	if a == nil || a.hasher == nil || a.lookup == nil {
		return false, errors.New("password authenticator not configured")
	}

	encoded, err := a.lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			return false, nil
		}
		return false, err
	}
	if encoded == "" {
		return false, nil
	}
	return a.hasher.Verify(password, encoded)
}

// MemoryHashes is an in-process HashLookup source for demos and tests.
type MemoryHashes struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewMemoryHashes returns an empty table.
func NewMemoryHashes() *MemoryHashes {
	return &MemoryHashes{hashes: make(map[string]string)}
}

// Set stores the hash for userID.
func (m *MemoryHashes) Set(userID, encoded string) {
	m.mu.Lock()
	m.hashes[userID] = encoded
	m.mu.Unlock()
}

// Lookup implements HashLookup.
func (m *MemoryHashes) Lookup(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	encoded, ok := m.hashes[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	return encoded, nil
}
