package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func fastParams() Params {
	return Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(fastParams())
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	encoded, err := h.Hash("correct horse")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("correct horse", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = h.Verify("wrong horse", encoded)
	if err != nil || ok {
		t.Fatalf("Verify(wrong) = %v, %v", ok, err)
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := newTestHasher(t)
	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	p := fastParams()
	p.Memory = 1024
	if _, err := NewHasher(p); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	p = fastParams()
	p.SaltLength = 8
	if _, err := NewHasher(p); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	cases := []string{
		"",
		"not-a-phc-hash",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$a2V5",
	}
	for _, encoded := range cases {
		if _, err := h.Verify("password", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q) expected ErrMalformedHash, got %v", encoded, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t)
	encoded, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := fastParams()
	stronger.Time = 2
	strong, err := NewHasher(stronger)
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}

	if needs, err := strong.NeedsRehash(encoded); err != nil || !needs {
		t.Fatalf("NeedsRehash(stronger) = %v, %v", needs, err)
	}
	if needs, err := weak.NeedsRehash(encoded); err != nil || needs {
		t.Fatalf("NeedsRehash(same) = %v, %v", needs, err)
	}
}

func TestPasswordAuthenticator(t *testing.T) {
	h := newTestHasher(t)
	hashes := NewMemoryHashes()

	encoded, err := h.Hash("alice-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	hashes.Set("alice", encoded)

	auth := NewPasswordAuthenticator(h, hashes.Lookup)
	ctx := context.Background()

	if ok, err := auth.Reauthenticate(ctx, "alice", "alice-password"); err != nil || !ok {
		t.Fatalf("Reauthenticate(correct) = %v, %v", ok, err)
	}
	if ok, err := auth.Reauthenticate(ctx, "alice", "nope-nope-nope"); err != nil || ok {
		t.Fatalf("Reauthenticate(wrong) = %v, %v", ok, err)
	}
	if ok, err := auth.Reauthenticate(ctx, "bob", "alice-password"); err != nil || ok {
		t.Fatalf("Reauthenticate(unknown) = %v, %v", ok, err)
	}
}

func TestPasswordAuthenticatorLookupFailure(t *testing.T) {
	h := newTestHasher(t)
	boom := errors.New("user db down")
	auth := NewPasswordAuthenticator(h, func(context.Context, string) (string, error) {
		return "", boom
	})

	if _, err := auth.Reauthenticate(context.Background(), "alice", "whatever-pass"); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
