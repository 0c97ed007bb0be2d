package twofactor

import (
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/twofactor/internal"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	issuer string
	config TOTPConfig
	opts   totp.ValidateOpts
}

func newTOTPManager(issuer string, cfg TOTPConfig) *totpManager {
	return &totpManager{
		issuer: issuer,
		config: cfg,
		opts: totp.ValidateOpts{
			Period:    uint(cfg.Period / time.Second),
			Skew:      uint(cfg.Skew),
			Digits:    otp.Digits(cfg.Digits),
			Algorithm: parseAlgorithm(cfg.Algorithm),
		},
	}
}

func parseAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// generate creates a fresh secret and its provisioning key for account.
func (m *totpManager) generate(account string) ([]byte, *otp.Key, error) {
	if m == nil {
		return nil, nil, ErrEngineNotReady
	}
	secret, err := internal.NewSecret(m.config.SecretSize)
	if err != nil {
		return nil, nil, err
	}
	key, err := m.key(secret, account)
	if err != nil {
		return nil, nil, err
	}
	return secret, key, nil
}

// key rebuilds the provisioning key for an existing secret.
func (m *totpManager) key(secret []byte, account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      m.opts.Period,
		SecretSize:  uint(len(secret)),
		Secret:      secret,
		Digits:      m.opts.Digits,
		Algorithm:   m.opts.Algorithm,
	})
}

// verify checks code against steps -skew..+skew around at and returns the
// matched time step. Every candidate is compared so timing does not reveal
// which step matched.
func (m *totpManager) verify(secret []byte, code string, at time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	normalized, ok := normalizeNumericCode(code, m.config.Digits)
	if !ok {
		return false, 0, nil
	}

	encoded := secretEncoding.EncodeToString(secret)
	period := int64(m.opts.Period)
	base := at.Unix() / period

	var (
		matched bool
		step    int64
	)
	for offset := -int64(m.config.Skew); offset <= int64(m.config.Skew); offset++ {
		counter := base + offset
		if counter < 0 {
			continue
		}
		generated, err := totp.GenerateCodeCustom(encoded, time.Unix(counter*period, 0), m.opts)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(normalized)) == 1 && !matched {
			matched = true
			step = counter
		}
	}
	return matched, step, nil
}

// replayWindow is how long a spent time step must stay claimed.
func (m *totpManager) replayWindow() time.Duration {
	return time.Duration(2*m.config.Skew+2) * m.config.Period
}

// normalizeNumericCode strips whitespace, rejects non-digits and left-pads
// with zeros to digits.
func normalizeNumericCode(code string, digits int) (string, bool) {
	var b strings.Builder
	b.Grow(digits)
	for _, r := range code {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			continue
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	s := b.String()
	if s == "" || len(s) > digits {
		return "", false
	}
	if len(s) < digits {
		s = strings.Repeat("0", digits-len(s)) + s
	}
	return s, true
}

func renderQRCode(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("empty qr content")
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}
