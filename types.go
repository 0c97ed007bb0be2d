package twofactor

import (
	"context"
	"time"
)

// Method identifies a second-factor delivery method.
type Method uint8

const (
	// MethodNone is the zero value and never stored.
	MethodNone Method = iota
	// MethodAuthenticator is a TOTP authenticator app.
	MethodAuthenticator
	// MethodEmail delivers one-time codes by email.
	MethodEmail
)

// String returns the wire name of m.
func (m Method) String() string {
	switch m {
	case MethodAuthenticator:
		return "authenticator"
	case MethodEmail:
		return "email"
	default:
		return "none"
	}
}

// ParseMethod maps a wire name to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "authenticator", "totp", "app":
		return MethodAuthenticator, nil
	case "email":
		return MethodEmail, nil
	default:
		return MethodNone, ErrInvalidMethod
	}
}

// Factor is the method-specific payload of an enabled profile. It is
// implemented only by AuthenticatorFactor and EmailFactor, so a profile can
// never hold a secret and an address at the same time.
type Factor interface {
	Method() Method
	isFactor()
}

// AuthenticatorFactor carries the TOTP shared secret.
type AuthenticatorFactor struct {
	Secret []byte
}

// Method implements Factor.
func (AuthenticatorFactor) Method() Method { return MethodAuthenticator }
func (AuthenticatorFactor) isFactor()      {}

// EmailFactor carries the delivery address for email codes.
type EmailFactor struct {
	Address string
}

// Method implements Factor.
func (EmailFactor) Method() Method { return MethodEmail }
func (EmailFactor) isFactor()      {}

// Profile is the durable second-factor state of one user. A zero Profile
// (nil Factor) means 2FA is off.
type Profile struct {
	UserID    string
	Factor    Factor
	EnabledAt time.Time
}

// Enabled reports whether a factor is configured.
func (p Profile) Enabled() bool {
	return p.Factor != nil
}

// Method returns the configured method, or MethodNone.
func (p Profile) Method() Method {
	if p.Factor == nil {
		return MethodNone
	}
	return p.Factor.Method()
}

// BackupCodeRecord is the stored form of one backup code. Only the salted
// hash is kept; UsedAt is zero while the code is unused.
type BackupCodeRecord struct {
	Hash      [32]byte
	CreatedAt time.Time
	UsedAt    time.Time
}

// Used reports whether the code has been consumed.
func (r BackupCodeRecord) Used() bool {
	return !r.UsedAt.IsZero()
}

// BackupCodeStatus is the list view of a backup code. It never contains
// the code itself.
type BackupCodeStatus struct {
	Position  int
	Used      bool
	UsedAt    time.Time
	CreatedAt time.Time
}

// TrustedDevice is a time-bounded exemption from second-factor challenges
// for one (user, fingerprint) pair.
//
// A trusted device is a convenience, not an authenticated device: the
// fingerprint is derived from client-reported signals that an attacker can
// replay.
type TrustedDevice struct {
	Fingerprint string
	Label       string
	CreatedAt   time.Time
	LastUsedAt  time.Time
	ExpiresAt   time.Time
}

// ActiveAt reports whether the grant is still in force at t.
func (d TrustedDevice) ActiveAt(t time.Time) bool {
	return d.ExpiresAt.After(t)
}

// ActivityRecord is one append-only security event.
type ActivityRecord struct {
	ID        string
	UserID    string
	EventType string
	Success   bool
	Timestamp time.Time
	Context   map[string]string
}

// ClientSignals are the client-reported values that feed the device
// fingerprint. Every field is optional.
type ClientSignals struct {
	UserAgent           string
	RenderingEngine     string
	Platform            string
	Language            string
	Languages           []string
	Timezone            string
	TimezoneOffset      int
	ScreenWidth         int
	ScreenHeight        int
	ColorDepth          int
	PixelRatio          float64
	HardwareConcurrency int
	CanvasHash          string
	WebGLRenderer       string
}

// SecretSetup is what the user needs to add the account to an
// authenticator app.
type SecretSetup struct {
	// Secret is the base32 (unpadded) form for manual entry.
	Secret string
	// URI is the otpauth:// provisioning URI.
	URI string
	// Image is a PNG QR code of URI, when rendering is enabled.
	Image []byte
}

// Identity re-authenticates a user with their current password.
type Identity interface {
	Reauthenticate(ctx context.Context, userID, password string) (bool, error)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context, userID, password string) (bool, error)

// Reauthenticate implements Identity.
func (f IdentityFunc) Reauthenticate(ctx context.Context, userID, password string) (bool, error) {
	return f(ctx, userID, password)
}

// Notifier delivers a one-time code to an address.
type Notifier interface {
	SendCode(ctx context.Context, destination, code string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, destination, code string) error

// SendCode implements Notifier.
func (f NotifierFunc) SendCode(ctx context.Context, destination, code string) error {
	return f(ctx, destination, code)
}

// ProfileStore persists second-factor profiles.
type ProfileStore interface {
	// GetProfile returns a zero Profile (not an error) for unknown users.
	GetProfile(ctx context.Context, userID string) (Profile, error)
	// EnableProfile stores p only if the user has no enabled profile, and
	// reports whether it did.
	EnableProfile(ctx context.Context, p Profile) (bool, error)
	// DeleteProfile removes the profile. Deleting a missing profile is not
	// an error.
	DeleteProfile(ctx context.Context, userID string) error
}

// BackupCodeStore persists backup code hashes.
type BackupCodeStore interface {
	// ReplaceBackupCodes deletes every existing code of the user and stores
	// codes, as one atomic step.
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	// ListBackupCodes returns codes in issue order.
	ListBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error)
	// ConsumeBackupCode marks the code with hash as used at usedAt only if it
	// is still unused. Exactly one concurrent caller may observe true.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, usedAt time.Time) (bool, error)
	// DeleteBackupCodes removes every code of the user.
	DeleteBackupCodes(ctx context.Context, userID string) error
}

// DeviceStore persists trusted devices.
type DeviceStore interface {
	// UpsertTrustedDevice inserts or refreshes the row keyed by
	// (userID, device.Fingerprint). CreatedAt of an existing row is kept.
	UpsertTrustedDevice(ctx context.Context, userID string, device TrustedDevice) error
	// GetTrustedDevice returns the row regardless of expiry.
	GetTrustedDevice(ctx context.Context, userID, fingerprint string) (TrustedDevice, bool, error)
	// TouchTrustedDevice updates LastUsedAt without changing the expiry.
	TouchTrustedDevice(ctx context.Context, userID, fingerprint string, at time.Time) error
	// ListTrustedDevices returns rows expiring after the given time.
	ListTrustedDevices(ctx context.Context, userID string, after time.Time) ([]TrustedDevice, error)
	// DeleteTrustedDevice removes one row and reports whether it existed.
	DeleteTrustedDevice(ctx context.Context, userID, fingerprint string) (bool, error)
	// DeleteTrustedDevices removes every row of the user.
	DeleteTrustedDevices(ctx context.Context, userID string) (int, error)
	// PurgeExpiredDevices removes rows that expired at or before the given time.
	PurgeExpiredDevices(ctx context.Context, userID string, before time.Time) (int, error)
}

// ActivityStore persists activity records.
type ActivityStore interface {
	AppendActivity(ctx context.Context, record ActivityRecord) error
	// ListActivity returns at most limit records, newest first.
	ListActivity(ctx context.Context, userID string, limit int) ([]ActivityRecord, error)
}

// Store is the persistence service the engine depends on.
type Store interface {
	ProfileStore
	BackupCodeStore
	DeviceStore
	ActivityStore
}
