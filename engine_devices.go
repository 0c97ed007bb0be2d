package twofactor

import (
	"context"
	"strconv"
	"strings"

	"github.com/MrEthical07/twofactor/internal"
)

// Fingerprint derives the device identifier "v1:<32 hex>" from client
// signals. Empty and zero-valued signals are skipped; with no usable signal
// the result is "".
//
// The fingerprint is a heuristic that recognizes a returning browser. It is
// derived from values the client reports and can be replayed, so a trusted
// device only reduces friction and never counts as an authenticated device.
func (e *Engine) Fingerprint(signals ClientSignals) string {
	return Fingerprint(signals)
}

// Fingerprint is the package-level form of Engine.Fingerprint.
func Fingerprint(s ClientSignals) string {
	return internal.Fingerprint(
		s.UserAgent,
		s.RenderingEngine,
		s.Platform,
		s.Language,
		strings.Join(s.Languages, ","),
		s.Timezone,
		intSignal(s.TimezoneOffset),
		dimensionSignal(s.ScreenWidth, s.ScreenHeight),
		intSignal(s.ColorDepth),
		floatSignal(s.PixelRatio),
		intSignal(s.HardwareConcurrency),
		s.CanvasHash,
		s.WebGLRenderer,
	)
}

func intSignal(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func floatSignal(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func dimensionSignal(w, h int) string {
	if w == 0 && h == 0 {
		return ""
	}
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}

// GrantTrust trusts fingerprint for DeviceTrust.TTL from now. Granting an
// already trusted device refreshes its expiry instead of adding a row.
func (e *Engine) GrantTrust(ctx context.Context, userID, fingerprint, label string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if !internal.ValidFingerprint(fingerprint) {
		return ErrInvalidFingerprint
	}
	if !e.config.DeviceTrust.Enabled {
		return ErrInvalidState
	}

	now := e.now()
	device := TrustedDevice{
		Fingerprint: fingerprint,
		Label:       label,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(e.config.DeviceTrust.TTL),
	}

	sctx, cancel := e.storeContext(ctx)
	err := e.store.UpsertTrustedDevice(sctx, userID, device)
	cancel()
	if err != nil {
		return e.backendError(ctx, userID, err)
	}

	e.metricInc(MetricDeviceTrustGranted)
	e.emitAudit(ctx, EventDeviceTrustGranted, true, userID, nil, map[string]string{
		"fingerprint": fingerprint,
		"label":       label,
	})
	return nil
}

// IsTrusted reports whether fingerprint holds an unexpired grant. An expired
// row is removed on the way.
func (e *Engine) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}
	trusted, err := e.isTrusted(ctx, userID, fingerprint)
	if err != nil {
		return false, e.backendError(ctx, userID, err)
	}
	return trusted, nil
}

func (e *Engine) isTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	if !e.config.DeviceTrust.Enabled || !internal.ValidFingerprint(fingerprint) {
		return false, nil
	}

	sctx, cancel := e.storeContext(ctx)
	device, found, err := e.store.GetTrustedDevice(sctx, userID, fingerprint)
	cancel()
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if device.ActiveAt(e.now()) {
		return true, nil
	}

	sctx, cancel = e.storeContext(ctx)
	_, err = e.store.DeleteTrustedDevice(sctx, userID, fingerprint)
	cancel()
	if err != nil {
		e.swallowed(ctx, "expired device purge failed", err)
	}
	return false, nil
}

// ListTrustedDevices returns the unexpired grants of the user and purges
// expired ones.
func (e *Engine) ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDevice, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	now := e.now()
	sctx, cancel := e.storeContext(ctx)
	if _, err := e.store.PurgeExpiredDevices(sctx, userID, now); err != nil {
		e.swallowed(ctx, "expired device purge failed", err)
	}
	cancel()

	sctx, cancel = e.storeContext(ctx)
	defer cancel()
	devices, err := e.store.ListTrustedDevices(sctx, userID, now)
	if err != nil {
		return nil, e.backendError(ctx, userID, err)
	}
	return devices, nil
}

// RevokeDevice removes one grant and reports whether it existed.
func (e *Engine) RevokeDevice(ctx context.Context, userID, fingerprint string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}

	sctx, cancel := e.storeContext(ctx)
	removed, err := e.store.DeleteTrustedDevice(sctx, userID, fingerprint)
	cancel()
	if err != nil {
		return false, e.backendError(ctx, userID, err)
	}
	if removed {
		e.metricInc(MetricDeviceTrustRevoked)
		e.emitAudit(ctx, EventDeviceTrustRevoked, true, userID, nil, map[string]string{"fingerprint": fingerprint})
	}
	return removed, nil
}

// RevokeAllDevices removes every grant of the user and returns how many
// rows were deleted.
func (e *Engine) RevokeAllDevices(ctx context.Context, userID string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	sctx, cancel := e.storeContext(ctx)
	n, err := e.store.DeleteTrustedDevices(sctx, userID)
	cancel()
	if err != nil {
		return 0, e.backendError(ctx, userID, err)
	}

	e.metricInc(MetricDeviceTrustRevoked)
	e.emitAudit(ctx, EventDeviceTrustRevokedAll, true, userID, nil, map[string]string{"count": strconv.Itoa(n)})
	return n, nil
}

func (e *Engine) touchDevice(ctx context.Context, userID, fingerprint string) error {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	return e.store.TouchTrustedDevice(sctx, userID, fingerprint, e.now())
}

// grantRemembered trusts the device a challenge was issued for, labelled
// with the request user agent.
func (e *Engine) grantRemembered(ctx context.Context, userID, fingerprint string) error {
	label := userAgentFromContext(ctx)
	if label == "" {
		label = "unknown device"
	}
	return e.GrantTrust(ctx, userID, fingerprint, label)
}
