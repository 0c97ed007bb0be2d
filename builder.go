package twofactor

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/twofactor/internal"
	"github.com/MrEthical07/twofactor/internal/audit"
	"github.com/MrEthical07/twofactor/internal/limiters"
	"github.com/MrEthical07/twofactor/internal/stores"
	"github.com/MrEthical07/twofactor/internal/ticket"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    Store
	identity Identity
	notifier Notifier

	auditSink AuditSink
	logger    *slog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client for flows, codes, cooldowns and the lockout
// ledger. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the durable store. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithIdentity sets the password re-authentication collaborator. Required.
func (b *Builder) WithIdentity(identity Identity) *Builder {
	b.identity = identity
	return b
}

// WithNotifier sets the email code sender. Without one, email enrollment
// and email challenges fail with ErrEngineNotReady.
func (b *Builder) WithNotifier(notifier Notifier) *Builder {
	b.notifier = notifier
	return b
}

// WithAuditSink adds a sink that receives every event next to the
// activity store.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for swallowed failures. Defaults to
// slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now. Every expiry, TOTP step and cooldown
// decision reads this clock.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and collaborators and returns a ready
// Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.identity == nil {
		return nil, errors.New("identity required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	signingKey := []byte(cfg.Tickets.SigningKey)
	if len(signingKey) == 0 {
		key, err := internal.NewSecret(32)
		if err != nil {
			return nil, err
		}
		signingKey = key
	}
	tickets, err := ticket.NewManager(ticket.Config{
		SigningMethod: ticket.SigningMethod(cfg.Tickets.SigningMethod),
		PrivateKey:    signingKey,
		Issuer:        cfg.Issuer,
		Leeway:        cfg.Tickets.Leeway,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Redis.KeyPrefix
	engine := &Engine{
		config:   cfg,
		store:    b.store,
		identity: b.identity,
		notifier: b.notifier,
		logger:   logger,
		clock:    clock,
		tickets:  tickets,
		totp:     newTOTPManager(cfg.Issuer, cfg.TOTP),
		metrics:  NewMetrics(cfg.Metrics),
	}

	engine.lockout = limiters.NewLockoutLedger(b.redis, prefix+":lock", limiters.LockoutConfig{
		Threshold: cfg.Lockout.Threshold,
		Cooldown:  cfg.Lockout.Cooldown,
		LedgerTTL: cfg.Lockout.LedgerTTL,
	})
	engine.resend = limiters.NewResendLimiter(b.redis, prefix+":resend", cfg.EmailCode.ResendCooldown)
	engine.replay = limiters.NewReplayGuard(b.redis, prefix+":step", engine.totp.replayWindow())
	engine.enrollments = stores.NewEnrollmentStore(b.redis, prefix+":enroll")
	engine.challenges = stores.NewChallengeStore(b.redis, prefix+":challenge")
	engine.emailCodes = stores.NewEmailCodeStore(b.redis, prefix+":code")

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		Async:      cfg.Audit.Async,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		// Bounds the activity write and any configured sink alike.
		DeliveryTimeout: cfg.Timeouts.Persistence,
	},
		activitySink{store: b.store, logger: logger},
		b.auditSink,
	)

	b.built = true

	return engine, nil
}
