// Command twofactor-demo walks through the two reference scenarios against
// Redis, or an in-process miniredis when no address is given:
//
//  1. authenticator enrollment, a backup-code login that remembers the
//     device, then a login that bypasses the challenge;
//  2. five wrong codes that lock the account, a rejected correct code
//     during the cooldown, and a successful login after it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrEthical07/twofactor"
	"github.com/MrEthical07/twofactor/identity"
	"github.com/MrEthical07/twofactor/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		redisAddr = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		envFile   = flag.String("env", "", "optional .env file with TWOFACTOR_* settings")
		verbose   = flag.Bool("v", false, "log swallowed failures at debug level")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := twofactor.LoadConfigFromEnv(files...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	d, err := newDemo(context.Background(), client, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	defer d.engine.Close()

	start := time.Now()
	for _, s := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"enrollment, backup-code login, trusted device", d.enrollAndTrust},
		{"lockout and recovery", d.lockoutAndRecover},
	} {
		fmt.Printf("---- %s ----\n", s.name)
		if err := s.run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "scenario failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("done in %s\n", time.Since(start).Round(time.Millisecond))
}

// newDemo seeds two users with the same password and builds an engine with
// a clock the lockout scenario can advance.
func newDemo(ctx context.Context, client redis.UniversalClient, cfg twofactor.Config, logger *slog.Logger) (*demo, error) {
	hasher, err := identity.NewHasher(identity.DefaultParams())
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(demoPassword)
	if err != nil {
		return nil, err
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
		WithLogger(logger).
		WithClock(clock.Now).
		Build()
	if err != nil {
		return nil, err
	}

	return &demo{engine: engine, clock: clock, out: os.Stdout}, nil
}
