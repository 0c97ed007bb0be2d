package twofactor

import (
	"context"
	"time"

	"github.com/MrEthical07/twofactor/internal"
	internalflows "github.com/MrEthical07/twofactor/internal/flows"
	"github.com/MrEthical07/twofactor/internal/ticket"
	"github.com/google/uuid"
)

// Challenge is the second-factor step of a login.
type Challenge struct {
	// Bypassed is true when the device is trusted. No ticket is issued and
	// the login may proceed.
	Bypassed bool
	Ticket   string
	Method   Method
	// Destination is the masked address for the email method.
	Destination string
	// CodeSent reports whether this call delivered a new email code. It is
	// false inside the resend cooldown, when the earlier code stays valid.
	CodeSent  bool
	ExpiresAt time.Time
}

// ChallengeResult is the outcome of one submitted code.
type ChallengeResult struct {
	Succeeded    bool
	TrustGranted bool
	// Attempts counts wrong codes submitted against this challenge.
	Attempts int
	// AttemptsRemaining counts failures left before the account locks.
	AttemptsRemaining int
	// LockedFor is the remaining cooldown once the account is locked.
	LockedFor time.Duration
}

// BeginChallenge starts the second-factor step for userID after the primary
// login succeeded. fingerprint may be empty.
//
// For the email method a code is sent. When delivery fails the challenge is
// still returned, together with an error wrapping ErrDeliveryFailed, so the
// caller can offer ResendChallengeCode.
func (e *Engine) BeginChallenge(ctx context.Context, userID, fingerprint string) (*Challenge, error) {
	if e == nil || e.store == nil || e.tickets == nil {
		return nil, ErrEngineNotReady
	}

	start, err := internalflows.RunBeginChallenge(ctx, userID, fingerprint, e.challengeFlowDeps())
	if start == nil {
		return nil, err
	}
	if start.Bypassed {
		return &Challenge{Bypassed: true}, nil
	}

	expiresAt := time.UnixMilli(start.Challenge.ExpiresAt)
	token, tokErr := e.tickets.Issue(ticket.KindChallenge, userID, start.ChallengeID, expiresAt)
	if tokErr != nil {
		return nil, ErrEngineNotReady
	}

	out := &Challenge{
		Ticket:    token,
		Method:    Method(start.Challenge.Method),
		CodeSent:  start.CodeSent,
		ExpiresAt: expiresAt,
	}
	if start.Email != "" {
		out.Destination = maskEmail(start.Email)
	}
	return out, err
}

// ResendChallengeCode sends a fresh email code for the challenge. Inside the
// cooldown it returns a *CooldownError.
func (e *Engine) ResendChallengeCode(ctx context.Context, challengeTicket string) error {
	userID, challengeID, err := e.parseChallengeTicket(challengeTicket)
	if err != nil {
		return err
	}
	return internalflows.RunResendChallengeCode(ctx, userID, challengeID, e.challengeFlowDeps())
}

// SubmitCode verifies an authenticator or email code for the challenge.
// A locked account gets a *LockoutError and the code is not checked. On a
// wrong code the result carries the attempt counters alongside the error.
func (e *Engine) SubmitCode(ctx context.Context, challengeTicket, code string, rememberDevice bool) (*ChallengeResult, error) {
	userID, challengeID, err := e.parseChallengeTicket(challengeTicket)
	if err != nil {
		return nil, err
	}

	out, err := internalflows.RunSubmitChallengeCode(ctx, userID, challengeID, code, rememberDevice, e.challengeFlowDeps())
	return challengeResult(out), err
}

// SubmitBackupCode consumes a backup code for the challenge under the same
// lockout ledger as SubmitCode.
func (e *Engine) SubmitBackupCode(ctx context.Context, challengeTicket, code string, rememberDevice bool) (*ChallengeResult, error) {
	userID, challengeID, err := e.parseChallengeTicket(challengeTicket)
	if err != nil {
		return nil, err
	}

	out, err := internalflows.RunSubmitChallengeBackupCode(ctx, userID, challengeID, code, rememberDevice, e.challengeFlowDeps())
	return challengeResult(out), err
}

func challengeResult(out internalflows.ChallengeOutcome) *ChallengeResult {
	return &ChallengeResult{
		Succeeded:         out.Succeeded,
		TrustGranted:      out.TrustGranted,
		Attempts:          out.Attempts,
		AttemptsRemaining: out.AttemptsRemaining,
		LockedFor:         out.LockedFor,
	}
}

func (e *Engine) parseChallengeTicket(token string) (string, string, error) {
	if e == nil || e.tickets == nil {
		return "", "", ErrEngineNotReady
	}
	claims, err := e.tickets.Parse(ticket.KindChallenge, token)
	if err != nil {
		return "", "", ErrFlowNotFound
	}
	return claims.Subject, claims.ID, nil
}

func (e *Engine) challengeFlowDeps() internalflows.ChallengeDeps {
	return internalflows.ChallengeDeps{
		ChallengeTTL:      e.config.Challenge.TTL,
		TrustEnabled:      e.config.DeviceTrust.Enabled,
		LockThreshold:     e.config.Lockout.Threshold,
		Now:               e.now,
		NewID:             uuid.NewString,
		GetProfile:        e.getFlowProfile,
		ValidFingerprint:  internal.ValidFingerprint,
		IsTrusted:         e.isTrusted,
		TouchDevice:       e.touchDevice,
		GrantTrust:        e.grantRemembered,
		SaveChallenge:     e.challenges.Save,
		GetChallenge:      e.challenges.Get,
		RecordAttempt:     e.challenges.RecordAttempt,
		DeleteChallenge:   e.challenges.Delete,
		SendEmailCode:     e.sendEmailCode,
		VerifyTOTP:        e.verifyTOTP,
		VerifyEmailCode:   e.verifyEmailCode,
		ConsumeBackupCode: e.consumeBackupCode,
		CodeGate:          e.gateDeps(false),
		BackupGate:        e.gateDeps(true),
		BackendError:      e.backendError,
		OnSwallowed:       e.swallowed,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.ChallengeMetrics{
			Started:  int(MetricChallengeStarted),
			Bypassed: int(MetricChallengeBypassed),
		},
		Events: internalflows.ChallengeEvents{
			Bypass: EventDeviceTrustBypass,
		},
		Errors: internalflows.ChallengeErrors{
			EngineNotReady:     ErrEngineNotReady,
			NotEnabled:         ErrNotEnabled,
			FlowNotFound:       ErrFlowNotFound,
			InvalidMethod:      ErrInvalidMethod,
			InvalidFingerprint: ErrInvalidFingerprint,
			ResendCooldown:     ErrResendCooldown,
		},
	}
}
