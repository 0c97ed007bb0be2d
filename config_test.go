package twofactor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Lockout.Threshold != 5 || cfg.Lockout.Cooldown != 15*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Lockout)
	}
	if cfg.DeviceTrust.TTL != 30*24*time.Hour {
		t.Fatalf("unexpected trust ttl: %v", cfg.DeviceTrust.TTL)
	}
	if cfg.BackupCodes.Count != 8 {
		t.Fatalf("unexpected backup code count: %d", cfg.BackupCodes.Count)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "issuer with colon",
			mutate: func(c *Config) {
				c.Issuer = "Chat:Prod"
			},
			wantValid: false,
		},
		{
			name: "eight digit totp",
			mutate: func(c *Config) {
				c.TOTP.Digits = 8
			},
			wantValid: true,
		},
		{
			name: "seven digit totp",
			mutate: func(c *Config) {
				c.TOTP.Digits = 7
			},
			wantValid: false,
		},
		{
			name: "fractional period",
			mutate: func(c *Config) {
				c.TOTP.Period = 30*time.Second + time.Millisecond
			},
			wantValid: false,
		},
		{
			name: "skew too wide",
			mutate: func(c *Config) {
				c.TOTP.Skew = 3
			},
			wantValid: false,
		},
		{
			name: "short secret",
			mutate: func(c *Config) {
				c.TOTP.SecretSize = 10
			},
			wantValid: false,
		},
		{
			name: "unknown algorithm",
			mutate: func(c *Config) {
				c.TOTP.Algorithm = "MD5"
			},
			wantValid: false,
		},
		{
			name: "backup code too short",
			mutate: func(c *Config) {
				c.BackupCodes.Groups = 2
				c.BackupCodes.GroupLength = 4
			},
			wantValid: false,
		},
		{
			name: "trust disabled without ttl",
			mutate: func(c *Config) {
				c.DeviceTrust.Enabled = false
				c.DeviceTrust.TTL = 0
			},
			wantValid: true,
		},
		{
			name: "zero threshold",
			mutate: func(c *Config) {
				c.Lockout.Threshold = 0
			},
			wantValid: false,
		},
		{
			name: "short hs256 key",
			mutate: func(c *Config) {
				c.Tickets.SigningKey = "too-short"
			},
			wantValid: false,
		},
		{
			name: "ed25519 without key",
			mutate: func(c *Config) {
				c.Tickets.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "rs256 unsupported",
			mutate: func(c *Config) {
				c.Tickets.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "async audit without buffer",
			mutate: func(c *Config) {
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "blank redis prefix",
			mutate: func(c *Config) {
				c.Redis.KeyPrefix = " "
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TWOFACTOR_ISSUER", "Acme")
	t.Setenv("TWOFACTOR_LOCKOUT_THRESHOLD", "3")
	t.Setenv("TWOFACTOR_LOCKOUT_COOLDOWN", "5m")
	t.Setenv("TWOFACTOR_DEVICE_TRUST_ENABLED", "false")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv error: %v", err)
	}
	if cfg.Issuer != "Acme" {
		t.Fatalf("expected issuer Acme, got %q", cfg.Issuer)
	}
	if cfg.Lockout.Threshold != 3 || cfg.Lockout.Cooldown != 5*time.Minute {
		t.Fatalf("unexpected lockout config: %+v", cfg.Lockout)
	}
	if cfg.DeviceTrust.Enabled {
		t.Fatal("expected device trust disabled")
	}
	if cfg.TOTP.Digits != 6 {
		t.Fatalf("expected untouched defaults, got digits %d", cfg.TOTP.Digits)
	}
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TWOFACTOR_EMAIL_CODE_TTL=2m\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TWOFACTOR_EMAIL_CODE_TTL") })

	cfg, err := LoadConfigFromEnv(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv error: %v", err)
	}
	if cfg.EmailCode.TTL != 2*time.Minute {
		t.Fatalf("expected 2m email code ttl, got %v", cfg.EmailCode.TTL)
	}
}

func TestLoadConfigFromEnvRejectsInvalid(t *testing.T) {
	t.Setenv("TWOFACTOR_TOTP_DIGITS", "7")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected invalid digits to be rejected")
	}
}
