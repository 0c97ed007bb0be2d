package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/twofactor/internal/stores"
)

type ChallengeMetrics struct {
	Started  int
	Bypassed int
}

type ChallengeEvents struct {
	Bypass string
}

type ChallengeErrors struct {
	EngineNotReady     error
	NotEnabled         error
	FlowNotFound       error
	InvalidMethod      error
	InvalidFingerprint error
	ResendCooldown     error
}

type ChallengeDeps struct {
	ChallengeTTL  time.Duration
	TrustEnabled  bool
	LockThreshold int

	Now   func() time.Time
	NewID func() string

	GetProfile func(context.Context, string) (Profile, error)

	ValidFingerprint func(string) bool
	IsTrusted        func(context.Context, string, string) (bool, error)
	TouchDevice      func(context.Context, string, string) error
	GrantTrust       func(context.Context, string, string) error

	SaveChallenge   func(context.Context, string, *stores.LoginChallenge, time.Time) error
	GetChallenge    func(context.Context, string, time.Time) (*stores.LoginChallenge, error)
	RecordAttempt   func(context.Context, string, time.Time) (int, error)
	DeleteChallenge func(context.Context, string) (bool, error)

	SendEmailCode     func(context.Context, string, string, string) error
	VerifyTOTP        func(context.Context, string, []byte, string) error
	VerifyEmailCode   func(context.Context, string, string, string) error
	ConsumeBackupCode func(context.Context, string, string) error

	CodeGate   GateDeps
	BackupGate GateDeps

	BackendError func(context.Context, string, error) error
	OnSwallowed  func(context.Context, string, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, map[string]string)

	Metrics ChallengeMetrics
	Events  ChallengeEvents
	Errors  ChallengeErrors
}

// ChallengeStart is the outcome of RunBeginChallenge.
type ChallengeStart struct {
	Bypassed    bool
	ChallengeID string
	Challenge   stores.LoginChallenge
	Email       string
	CodeSent    bool
}

// ChallengeOutcome is the outcome of one submitted code.
type ChallengeOutcome struct {
	Succeeded         bool
	Locked            bool
	LockedFor         time.Duration
	Attempts          int
	AttemptsRemaining int
	TrustGranted      bool
}

// RunBeginChallenge decides between a trusted-device bypass and a new
// challenge. For the email method the challenge is returned even when
// delivery fails, together with the delivery error, so the caller can
// offer a resend.
func RunBeginChallenge(ctx context.Context, userID, fingerprint string, deps ChallengeDeps) (*ChallengeStart, error) {
	normalizeChallengeDeps(&deps)

	if deps.GetProfile == nil || deps.SaveChallenge == nil || deps.IsTrusted == nil || userID == "" {
		return nil, deps.Errors.EngineNotReady
	}
	if fingerprint != "" && !deps.ValidFingerprint(fingerprint) {
		return nil, deps.Errors.InvalidFingerprint
	}

	profile, err := deps.GetProfile(ctx, userID)
	if err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	if !profile.Enabled() {
		return nil, deps.Errors.NotEnabled
	}

	if deps.TrustEnabled && fingerprint != "" {
		trusted, err := deps.IsTrusted(ctx, userID, fingerprint)
		if err != nil {
			return nil, deps.BackendError(ctx, userID, err)
		}
		if trusted {
			if err := deps.TouchDevice(ctx, userID, fingerprint); err != nil {
				deps.OnSwallowed(ctx, "trusted device touch failed", err)
			}
			deps.MetricInc(deps.Metrics.Bypassed)
			deps.EmitAudit(ctx, deps.Events.Bypass, true, userID, nil, map[string]string{"fingerprint": fingerprint})
			return &ChallengeStart{Bypassed: true}, nil
		}
	}

	now := deps.Now()
	challengeID := deps.NewID()
	record := &stores.LoginChallenge{
		UserID:      userID,
		Fingerprint: fingerprint,
		Method:      profile.Method,
		CreatedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(deps.ChallengeTTL).UnixMilli(),
	}
	if err := deps.SaveChallenge(ctx, challengeID, record, now); err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	deps.MetricInc(deps.Metrics.Started)

	start := &ChallengeStart{ChallengeID: challengeID, Challenge: *record}
	if profile.Method != MethodEmail {
		return start, nil
	}

	start.Email = profile.Email
	switch err := deps.SendEmailCode(ctx, PurposeLogin, userID, profile.Email); {
	case err == nil:
		start.CodeSent = true
	case errors.Is(err, deps.Errors.ResendCooldown):
		// The code sent inside the cooldown window is still valid.
	default:
		return start, err
	}
	return start, nil
}

// RunResendChallengeCode sends a fresh code for an email challenge.
func RunResendChallengeCode(ctx context.Context, userID, challengeID string, deps ChallengeDeps) error {
	normalizeChallengeDeps(&deps)

	if deps.GetChallenge == nil || deps.GetProfile == nil || deps.SendEmailCode == nil {
		return deps.Errors.EngineNotReady
	}

	_, profile, err := deps.loadChallenge(ctx, userID, challengeID)
	if err != nil {
		return err
	}
	if profile.Method != MethodEmail {
		return deps.Errors.InvalidMethod
	}
	return deps.SendEmailCode(ctx, PurposeLogin, userID, profile.Email)
}

// RunSubmitChallengeCode verifies an authenticator or email code.
func RunSubmitChallengeCode(ctx context.Context, userID, challengeID, code string, remember bool, deps ChallengeDeps) (ChallengeOutcome, error) {
	normalizeChallengeDeps(&deps)

	if deps.GetChallenge == nil || deps.VerifyTOTP == nil || deps.VerifyEmailCode == nil {
		return ChallengeOutcome{}, deps.Errors.EngineNotReady
	}

	challenge, profile, err := deps.loadChallenge(ctx, userID, challengeID)
	if err != nil {
		return ChallengeOutcome{}, err
	}

	verify := func(ctx context.Context) error {
		switch profile.Method {
		case MethodAuthenticator:
			return deps.VerifyTOTP(ctx, userID, profile.Secret, code)
		case MethodEmail:
			return deps.VerifyEmailCode(ctx, PurposeLogin, userID, code)
		default:
			return deps.Errors.NotEnabled
		}
	}
	meta := map[string]string{"method": methodName(profile.Method), "challenge_id": challengeID}
	return deps.settle(ctx, userID, challengeID, challenge, remember, deps.CodeGate, meta, verify)
}

// RunSubmitChallengeBackupCode verifies a backup code under the same ledger.
func RunSubmitChallengeBackupCode(ctx context.Context, userID, challengeID, code string, remember bool, deps ChallengeDeps) (ChallengeOutcome, error) {
	normalizeChallengeDeps(&deps)

	if deps.GetChallenge == nil || deps.ConsumeBackupCode == nil {
		return ChallengeOutcome{}, deps.Errors.EngineNotReady
	}

	challenge, _, err := deps.loadChallenge(ctx, userID, challengeID)
	if err != nil {
		return ChallengeOutcome{}, err
	}

	verify := func(ctx context.Context) error {
		return deps.ConsumeBackupCode(ctx, userID, code)
	}
	meta := map[string]string{"method": "backup_code", "challenge_id": challengeID}
	return deps.settle(ctx, userID, challengeID, challenge, remember, deps.BackupGate, meta, verify)
}

func (deps ChallengeDeps) settle(
	ctx context.Context,
	userID, challengeID string,
	challenge *stores.LoginChallenge,
	remember bool,
	gate GateDeps,
	meta map[string]string,
	verify func(context.Context) error,
) (ChallengeOutcome, error) {
	state, err := RunGated(ctx, userID, meta, gate, verify)
	if err != nil {
		out := ChallengeOutcome{
			Locked:            state.Locked,
			LockedFor:         state.Remaining,
			Attempts:          int(challenge.Attempts),
			AttemptsRemaining: remainingAttempts(deps.LockThreshold, state),
		}
		if gate.IsCodeFailure == nil || !gate.IsCodeFailure(err) {
			return out, err
		}
		attempts, recErr := deps.RecordAttempt(ctx, challengeID, deps.Now())
		if recErr != nil {
			deps.OnSwallowed(ctx, "challenge attempt update failed", recErr)
		} else {
			out.Attempts = attempts
		}
		return out, err
	}

	out := ChallengeOutcome{Succeeded: true}
	if remember && deps.TrustEnabled && challenge.Fingerprint != "" {
		if err := deps.GrantTrust(ctx, userID, challenge.Fingerprint); err != nil {
			deps.OnSwallowed(ctx, "device trust grant failed", err)
		} else {
			out.TrustGranted = true
		}
	}
	if _, err := deps.DeleteChallenge(ctx, challengeID); err != nil {
		deps.OnSwallowed(ctx, "challenge cleanup failed", err)
	}
	return out, nil
}

func (deps ChallengeDeps) loadChallenge(ctx context.Context, userID, challengeID string) (*stores.LoginChallenge, Profile, error) {
	challenge, err := deps.GetChallenge(ctx, challengeID, deps.Now())
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired) {
			return nil, Profile{}, deps.Errors.FlowNotFound
		}
		return nil, Profile{}, deps.BackendError(ctx, userID, err)
	}
	if challenge.UserID != userID {
		return nil, Profile{}, deps.Errors.FlowNotFound
	}

	profile, err := deps.GetProfile(ctx, userID)
	if err != nil {
		return nil, Profile{}, deps.BackendError(ctx, userID, err)
	}
	if !profile.Enabled() {
		return nil, Profile{}, deps.Errors.NotEnabled
	}
	return challenge, profile, nil
}

func remainingAttempts(threshold int, state LockState) int {
	if state.Locked || threshold <= 0 {
		return 0
	}
	left := threshold - state.Failures
	if left < 0 {
		return 0
	}
	return left
}

func normalizeChallengeDeps(deps *ChallengeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ValidFingerprint == nil {
		deps.ValidFingerprint = func(s string) bool { return s != "" }
	}
	if deps.TouchDevice == nil {
		deps.TouchDevice = func(context.Context, string, string) error { return nil }
	}
	if deps.GrantTrust == nil {
		deps.GrantTrust = func(context.Context, string, string) error { return nil }
	}
	if deps.RecordAttempt == nil {
		deps.RecordAttempt = func(context.Context, string, time.Time) (int, error) { return 0, nil }
	}
	if deps.DeleteChallenge == nil {
		deps.DeleteChallenge = func(context.Context, string) (bool, error) { return false, nil }
	}
	if deps.BackendError == nil {
		deps.BackendError = func(_ context.Context, _ string, err error) error { return err }
	}
	if deps.OnSwallowed == nil {
		deps.OnSwallowed = func(context.Context, string, error) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, map[string]string) {}
	}
}
