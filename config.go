package twofactor

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
//
// Every field can also be set from the environment with LoadConfigFromEnv;
// the env tags below are relative to the TWOFACTOR_ prefix.
type Config struct {
	// Issuer names the service in authenticator apps and emails.
	Issuer string `env:"ISSUER"`

	TOTP        TOTPConfig        `envPrefix:"TOTP_"`
	BackupCodes BackupCodeConfig  `envPrefix:"BACKUP_CODES_"`
	DeviceTrust DeviceTrustConfig `envPrefix:"DEVICE_TRUST_"`
	Lockout     LockoutConfig     `envPrefix:"LOCKOUT_"`
	EmailCode   EmailCodeConfig   `envPrefix:"EMAIL_CODE_"`
	Enrollment  EnrollmentConfig  `envPrefix:"ENROLLMENT_"`
	Challenge   ChallengeConfig   `envPrefix:"CHALLENGE_"`
	Tickets     TicketConfig      `envPrefix:"TICKETS_"`
	Timeouts    TimeoutConfig     `envPrefix:"TIMEOUT_"`
	Audit       AuditConfig       `envPrefix:"AUDIT_"`
	Metrics     MetricsConfig     `envPrefix:"METRICS_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
}

// TOTPConfig holds authenticator parameters.
type TOTPConfig struct {
	Digits    int           `env:"DIGITS"`
	Period    time.Duration `env:"PERIOD"`
	Skew      int           `env:"SKEW"`
	Algorithm string        `env:"ALGORITHM"`
	// SecretSize is the shared secret length in bytes (minimum 20).
	SecretSize int `env:"SECRET_SIZE"`
	// EnforceReplayProtection rejects a second use of the same time step.
	EnforceReplayProtection bool `env:"ENFORCE_REPLAY_PROTECTION"`
	// QRCodeSize is the PNG edge in pixels; 0 disables rendering in
	// ChooseMethod.
	QRCodeSize int `env:"QR_CODE_SIZE"`
}

// BackupCodeConfig controls backup code batches.
type BackupCodeConfig struct {
	Count       int `env:"COUNT"`
	Groups      int `env:"GROUPS"`
	GroupLength int `env:"GROUP_LENGTH"`
}

// DeviceTrustConfig controls remembered devices.
type DeviceTrustConfig struct {
	Enabled bool          `env:"ENABLED"`
	TTL     time.Duration `env:"TTL"`
}

// LockoutConfig is the shared failure policy for every verification path.
type LockoutConfig struct {
	Threshold int           `env:"THRESHOLD"`
	Cooldown  time.Duration `env:"COOLDOWN"`
	LedgerTTL time.Duration `env:"LEDGER_TTL"`
}

// EmailCodeConfig controls emailed one-time codes.
type EmailCodeConfig struct {
	Digits         int           `env:"DIGITS"`
	TTL            time.Duration `env:"TTL"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS"`
	ResendCooldown time.Duration `env:"RESEND_COOLDOWN"`
}

// EnrollmentConfig controls enrollment flows.
type EnrollmentConfig struct {
	FlowTTL         time.Duration `env:"FLOW_TTL"`
	MaxCodeAttempts int           `env:"MAX_CODE_ATTEMPTS"`
}

// ChallengeConfig controls login challenges.
type ChallengeConfig struct {
	TTL time.Duration `env:"TTL"`
}

// TicketConfig controls the signed flow tickets handed to clients.
type TicketConfig struct {
	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string `env:"SIGNING_METHOD"`
	// SigningKey is the HMAC secret (hs256) or PEM private key (ed25519).
	// When empty, Build generates a random HMAC key, which only works for a
	// single process.
	SigningKey string        `env:"SIGNING_KEY"`
	Leeway     time.Duration `env:"LEEWAY"`
}

// TimeoutConfig bounds collaborator calls. Zero disables a bound.
type TimeoutConfig struct {
	Notifier    time.Duration `env:"NOTIFIER"`
	Persistence time.Duration `env:"PERSISTENCE"`
}

// AuditConfig controls the activity dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	Async      bool `env:"ASYNC"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool `env:"ENABLED"`
}

// RedisConfig controls key naming for the short-lived records.
type RedisConfig struct {
	KeyPrefix string `env:"KEY_PREFIX"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Issuer: "Chat",
		TOTP: TOTPConfig{
			Digits:                  6,
			Period:                  30 * time.Second,
			Skew:                    1,
			Algorithm:               "SHA1",
			SecretSize:              20,
			EnforceReplayProtection: true,
			QRCodeSize:              256,
		},
		BackupCodes: BackupCodeConfig{
			Count:       8,
			Groups:      4,
			GroupLength: 4,
		},
		DeviceTrust: DeviceTrustConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Cooldown:  15 * time.Minute,
			LedgerTTL: 24 * time.Hour,
		},
		EmailCode: EmailCodeConfig{
			Digits:         6,
			TTL:            10 * time.Minute,
			MaxAttempts:    5,
			ResendCooldown: 30 * time.Second,
		},
		Enrollment: EnrollmentConfig{
			FlowTTL:         15 * time.Minute,
			MaxCodeAttempts: 5,
		},
		Challenge: ChallengeConfig{
			TTL: 10 * time.Minute,
		},
		Tickets: TicketConfig{
			SigningMethod: "hs256",
			Leeway:        5 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Notifier:    5 * time.Second,
			Persistence: 3 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Async:      true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "tf",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("Issuer must be set")
	}
	if strings.Contains(c.Issuer, ":") {
		return errors.New("Issuer must not contain ':'")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15*time.Second || c.TOTP.Period%time.Second != 0 {
		return errors.New("TOTP Period must be a whole number of seconds >= 15s")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.TOTP.SecretSize < 20 {
		return errors.New("TOTP SecretSize must be >= 20 bytes")
	}
	if c.TOTP.QRCodeSize < 0 {
		return errors.New("TOTP QRCodeSize must be >= 0")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 {
		return errors.New("BackupCodes Count must be > 0")
	}
	if c.BackupCodes.Groups <= 0 || c.BackupCodes.GroupLength <= 0 {
		return errors.New("BackupCodes Groups and GroupLength must be > 0")
	}
	if c.BackupCodes.Groups*c.BackupCodes.GroupLength < 10 {
		return errors.New("BackupCodes must have at least 10 characters")
	}

	// Device trust
	if c.DeviceTrust.Enabled && c.DeviceTrust.TTL <= 0 {
		return errors.New("DeviceTrust TTL must be > 0")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Cooldown <= 0 {
		return errors.New("Lockout Cooldown must be > 0")
	}
	if c.Lockout.LedgerTTL < 0 {
		return errors.New("Lockout LedgerTTL must be >= 0")
	}

	// Email codes
	if c.EmailCode.Digits < 6 || c.EmailCode.Digits > 10 {
		return errors.New("EmailCode Digits must be between 6 and 10")
	}
	if c.EmailCode.TTL <= 0 {
		return errors.New("EmailCode TTL must be > 0")
	}
	if c.EmailCode.MaxAttempts <= 0 {
		return errors.New("EmailCode MaxAttempts must be > 0")
	}
	if c.EmailCode.ResendCooldown < 0 {
		return errors.New("EmailCode ResendCooldown must be >= 0")
	}

	// Flows
	if c.Enrollment.FlowTTL <= 0 {
		return errors.New("Enrollment FlowTTL must be > 0")
	}
	if c.Enrollment.MaxCodeAttempts <= 0 {
		return errors.New("Enrollment MaxCodeAttempts must be > 0")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}

	// Tickets
	switch c.Tickets.SigningMethod {
	case "hs256":
		if c.Tickets.SigningKey != "" && len(c.Tickets.SigningKey) < 32 {
			return errors.New("Tickets SigningKey must be >= 32 bytes for hs256")
		}
	case "ed25519":
		if c.Tickets.SigningKey == "" {
			return errors.New("ed25519 tickets require SigningKey")
		}
	default:
		return errors.New("unsupported Tickets SigningMethod")
	}
	if c.Tickets.Leeway < 0 || c.Tickets.Leeway > 2*time.Minute {
		return errors.New("Tickets Leeway must be between 0 and 2m")
	}

	// Timeouts
	if c.Timeouts.Notifier < 0 || c.Timeouts.Persistence < 0 {
		return errors.New("Timeouts must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Async is enabled")
	}

	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		return errors.New("Redis KeyPrefix must be set")
	}

	return nil
}
