package twofactor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/twofactor"
	"github.com/MrEthical07/twofactor/store/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier keeps the last code per address and fails while fail is
// set.
type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
	fail  bool
}

func (n *recordingNotifier) SendCode(_ context.Context, destination, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp unavailable")
	}
	if n.codes == nil {
		n.codes = make(map[string]string)
	}
	n.codes[destination] = code
	n.sent++
	return nil
}

func (n *recordingNotifier) setFail(fail bool) {
	n.mu.Lock()
	n.fail = fail
	n.mu.Unlock()
}

func (n *recordingNotifier) last(destination string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[destination]
}

type harness struct {
	engine   *twofactor.Engine
	clock    *fakeClock
	notifier *recordingNotifier
	store    *redisstore.Store
}

func testConfig() twofactor.Config {
	cfg := twofactor.DefaultConfig()
	cfg.Issuer = "Chat"
	cfg.Audit.Async = false
	cfg.TOTP.QRCodeSize = 64
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*twofactor.Config)) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	h := &harness{
		clock:    &fakeClock{now: time.Unix(1700000000, 0).UTC()},
		notifier: &recordingNotifier{},
		store:    redisstore.New(rdb),
	}
	engine, err := twofactor.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(h.store).
		WithIdentity(twofactor.IdentityFunc(func(_ context.Context, _, password string) (bool, error) {
			return password == testPassword, nil
		})).
		WithNotifier(h.notifier).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// codeAt returns the TOTP code of secret at the harness clock plus offset.
func (h *harness) codeAt(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, h.clock.Now().Add(offset), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// wrongCode returns a six digit code different from code.
func wrongCode(code string) string {
	b := []byte(code)
	b[len(b)-1] = '0' + (b[len(b)-1]-'0'+1)%10
	return string(b)
}

// enrollAuthenticator enables the authenticator method for userID and
// moves the clock past the spent enrollment step.
func (h *harness) enrollAuthenticator(t *testing.T, userID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	e, err := h.engine.StartEnrollment(ctx, userID, testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	e, err = h.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodAuthenticator)
	if err != nil {
		t.Fatalf("ChooseMethod failed: %v", err)
	}
	secret := e.Setup.Secret

	e, err = h.engine.ConfirmFirstCode(ctx, e.Ticket, h.codeAt(t, secret, 0))
	if err != nil {
		t.Fatalf("ConfirmFirstCode failed: %v", err)
	}
	codes := e.BackupCodes
	if _, err := h.engine.CompleteEnrollment(ctx, e.Ticket); err != nil {
		t.Fatalf("CompleteEnrollment failed: %v", err)
	}

	h.clock.Advance(5 * time.Minute)
	return secret, codes
}

// enrollEmail enables the email method for userID at address.
func (h *harness) enrollEmail(t *testing.T, userID, address string) {
	t.Helper()
	ctx := context.Background()

	e, err := h.engine.StartEnrollment(ctx, userID, testPassword)
	if err != nil {
		t.Fatalf("StartEnrollment failed: %v", err)
	}
	e, err = h.engine.ChooseMethod(ctx, e.Ticket, twofactor.MethodEmail)
	if err != nil {
		t.Fatalf("ChooseMethod failed: %v", err)
	}
	e, err = h.engine.SubmitEmailAddress(ctx, e.Ticket, address)
	if err != nil {
		t.Fatalf("SubmitEmailAddress failed: %v", err)
	}
	e, err = h.engine.ConfirmFirstCode(ctx, e.Ticket, h.notifier.last(address))
	if err != nil {
		t.Fatalf("ConfirmFirstCode failed: %v", err)
	}
	if _, err := h.engine.CompleteEnrollment(ctx, e.Ticket); err != nil {
		t.Fatalf("CompleteEnrollment failed: %v", err)
	}
}

func (h *harness) begin(t *testing.T, userID, fingerprint string) *twofactor.Challenge {
	t.Helper()
	ch, err := h.engine.BeginChallenge(context.Background(), userID, fingerprint)
	if err != nil {
		t.Fatalf("BeginChallenge failed: %v", err)
	}
	return ch
}

var laptop = twofactor.ClientSignals{
	UserAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Safari/605.1.15",
	Platform:     "MacIntel",
	Language:     "en-GB",
	Languages:    []string{"en-GB", "en"},
	Timezone:     "Europe/London",
	ScreenWidth:  1512,
	ScreenHeight: 982,
	ColorDepth:   30,
	PixelRatio:   2,
}
