package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrEthical07/twofactor"
	"github.com/MrEthical07/twofactor/identity"
	"github.com/MrEthical07/twofactor/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestScenariosAgainstMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	defer client.Close()

	cfg := twofactor.DefaultConfig()
	cfg.Audit.Async = false

	hasher, err := identity.NewHasher(identity.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewHasher error: %v", err)
	}
	hash, err := hasher.Hash(demoPassword)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	hashes := identity.NewMemoryHashes()
	hashes.Set(aliceID, hash)
	hashes.Set(bobID, hash)

	clock := &offsetClock{}
	engine, err := twofactor.New().
		WithConfig(cfg).
		WithRedis(client).
		WithStore(redisstore.New(client)).
		WithIdentity(identity.NewPasswordAuthenticator(hasher, hashes.Lookup)).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	defer engine.Close()

	var out bytes.Buffer
	d := &demo{engine: engine, clock: clock, out: &out}
	ctx := context.Background()

	if err := d.enrollAndTrust(ctx); err != nil {
		t.Fatalf("enrollAndTrust: %v\n%s", err, out.String())
	}
	if err := d.lockoutAndRecover(ctx); err != nil {
		t.Fatalf("lockoutAndRecover: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "backup codes remaining: 7") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
