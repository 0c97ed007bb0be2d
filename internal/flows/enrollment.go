package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/twofactor/internal/stores"
)

// Enrollment states, in order. AwaitingPasswordConfirm is never stored: a
// flow record exists only after re-authentication succeeded.
const (
	EnrollmentAwaitingPasswordConfirm uint8 = iota
	EnrollmentMethodChosen
	EnrollmentAuthenticatorProvisioned
	EnrollmentEmailPending
	EnrollmentAwaitingFirstCode
	EnrollmentBackupCodesIssued
)

type EnrollmentMetrics struct {
	Started          int
	PasswordRejected int
	CodeFailed       int
	Completed        int
}

type EnrollmentEvents struct {
	Started          string
	PasswordRejected string
	MethodChosen     string
	CodeSent         string
	CodeFailed       string
	Completed        string
}

type EnrollmentErrors struct {
	EngineNotReady       error
	InvalidCredential    error
	AlreadyEnabled       error
	FlowNotFound         error
	InvalidState         error
	InvalidMethod        error
	FlowAttemptsExceeded error
}

type EnrollmentDeps struct {
	FlowTTL         time.Duration
	MaxCodeAttempts int

	Now   func() time.Time
	NewID func() string

	Reauthenticate func(context.Context, string, string) (bool, error)
	GetProfile     func(context.Context, string) (Profile, error)
	EnableProfile  func(context.Context, Profile) (bool, error)
	DeleteProfile  func(context.Context, string) error

	SaveFlow       func(context.Context, string, *stores.EnrollmentFlow, time.Time) error
	GetFlow        func(context.Context, string, time.Time) (*stores.EnrollmentFlow, error)
	TransitionFlow func(context.Context, string, time.Time, func(*stores.EnrollmentFlow) (bool, bool, error)) (*stores.EnrollmentFlow, error)
	DeleteFlow     func(context.Context, string) error
	IsFlowMissing  func(error) bool

	NewSecret        func() ([]byte, error)
	VerifyTOTP       func(context.Context, string, []byte, string) error
	SendEmailCode    func(context.Context, string, string, string) error
	VerifyEmailCode  func(context.Context, string, string, string) error
	IssueBackupCodes func(context.Context, string) ([]string, error)
	IsCodeFailure    func(error) bool

	BackendError func(context.Context, string, error) error
	OnSwallowed  func(context.Context, string, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, map[string]string)

	Metrics EnrollmentMetrics
	Events  EnrollmentEvents
	Errors  EnrollmentErrors
}

// EnrollmentResult is a flow snapshot after an operation.
type EnrollmentResult struct {
	FlowID      string
	Flow        stores.EnrollmentFlow
	BackupCodes []string
}

func RunStartEnrollment(ctx context.Context, userID, password string, deps EnrollmentDeps) (*EnrollmentResult, error) {
	normalizeEnrollmentDeps(&deps)

	if deps.Reauthenticate == nil || deps.GetProfile == nil || deps.SaveFlow == nil || userID == "" {
		return nil, deps.Errors.EngineNotReady
	}

	profile, err := deps.GetProfile(ctx, userID)
	if err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	if profile.Enabled() {
		return nil, deps.Errors.AlreadyEnabled
	}

	ok, err := deps.Reauthenticate(ctx, userID, password)
	if err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	if !ok {
		deps.MetricInc(deps.Metrics.PasswordRejected)
		deps.EmitAudit(ctx, deps.Events.PasswordRejected, false, userID, deps.Errors.InvalidCredential, nil)
		return nil, deps.Errors.InvalidCredential
	}

	now := deps.Now()
	flowID := deps.NewID()
	flow := &stores.EnrollmentFlow{
		UserID:    userID,
		State:     EnrollmentMethodChosen,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(deps.FlowTTL).UnixMilli(),
	}
	if err := deps.SaveFlow(ctx, flowID, flow, now); err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}

	deps.MetricInc(deps.Metrics.Started)
	deps.EmitAudit(ctx, deps.Events.Started, true, userID, nil, map[string]string{"flow_id": flowID})
	return &EnrollmentResult{FlowID: flowID, Flow: *flow}, nil
}

// RunChooseMethod selects (or re-selects) the method of a flow that has not
// confirmed a code yet. For the authenticator method the flow receives a new
// secret and moves straight to AwaitingFirstCode.
func RunChooseMethod(ctx context.Context, userID, flowID string, method uint8, deps EnrollmentDeps) (*EnrollmentResult, error) {
	normalizeEnrollmentDeps(&deps)

	if deps.TransitionFlow == nil || deps.NewSecret == nil {
		return nil, deps.Errors.EngineNotReady
	}

	var secret []byte
	switch method {
	case MethodAuthenticator:
		s, err := deps.NewSecret()
		if err != nil {
			return nil, deps.Errors.EngineNotReady
		}
		secret = s
	case MethodEmail:
	default:
		return nil, deps.Errors.InvalidMethod
	}

	flow, err := deps.TransitionFlow(ctx, flowID, deps.Now(), func(f *stores.EnrollmentFlow) (bool, bool, error) {
		if f.UserID != userID {
			return false, false, deps.Errors.FlowNotFound
		}
		if f.State < EnrollmentMethodChosen || f.State == EnrollmentBackupCodesIssued {
			return false, false, deps.Errors.InvalidState
		}
		f.Method = method
		f.Attempts = 0
		f.Email = ""
		f.Secret = secret
		if method == MethodAuthenticator {
			f.State = EnrollmentAwaitingFirstCode
		} else {
			f.State = EnrollmentEmailPending
		}
		return true, false, nil
	})
	if err != nil {
		return nil, deps.flowError(ctx, userID, err)
	}

	deps.EmitAudit(ctx, deps.Events.MethodChosen, true, userID, nil, map[string]string{
		"flow_id": flowID,
		"method":  methodName(method),
	})
	return &EnrollmentResult{FlowID: flowID, Flow: *flow}, nil
}

// RunSubmitEmailAddress records the address and sends the first code. The
// flow stays in EmailPending until delivery succeeds.
func RunSubmitEmailAddress(ctx context.Context, userID, flowID, email string, deps EnrollmentDeps) (*EnrollmentResult, error) {
	normalizeEnrollmentDeps(&deps)

	if deps.TransitionFlow == nil || deps.SendEmailCode == nil {
		return nil, deps.Errors.EngineNotReady
	}

	_, err := deps.TransitionFlow(ctx, flowID, deps.Now(), func(f *stores.EnrollmentFlow) (bool, bool, error) {
		if f.UserID != userID {
			return false, false, deps.Errors.FlowNotFound
		}
		if f.Method != MethodEmail {
			return false, false, deps.Errors.InvalidMethod
		}
		if f.State != EnrollmentEmailPending && f.State != EnrollmentAwaitingFirstCode {
			return false, false, deps.Errors.InvalidState
		}
		if f.Email != email {
			f.Email = email
			f.State = EnrollmentEmailPending
			f.Attempts = 0
		}
		return true, false, nil
	})
	if err != nil {
		return nil, deps.flowError(ctx, userID, err)
	}

	if err := deps.SendEmailCode(ctx, PurposeEnrollment, userID, email); err != nil {
		return nil, err
	}

	flow, err := deps.TransitionFlow(ctx, flowID, deps.Now(), func(f *stores.EnrollmentFlow) (bool, bool, error) {
		if f.UserID != userID || f.Email != email {
			return false, false, deps.Errors.InvalidState
		}
		f.State = EnrollmentAwaitingFirstCode
		return true, false, nil
	})
	if err != nil {
		return nil, deps.flowError(ctx, userID, err)
	}

	deps.EmitAudit(ctx, deps.Events.CodeSent, true, userID, nil, map[string]string{"flow_id": flowID})
	return &EnrollmentResult{FlowID: flowID, Flow: *flow}, nil
}

// RunConfirmFirstCode proves possession of the factor, then commits the
// profile and issues backup codes. Nothing durable is written before the
// code passes.
func RunConfirmFirstCode(ctx context.Context, userID, flowID, code string, deps EnrollmentDeps) (*EnrollmentResult, error) {
	normalizeEnrollmentDeps(&deps)

	if deps.GetFlow == nil || deps.TransitionFlow == nil || deps.EnableProfile == nil ||
		deps.IssueBackupCodes == nil || deps.VerifyTOTP == nil || deps.VerifyEmailCode == nil {
		return nil, deps.Errors.EngineNotReady
	}

	now := deps.Now()
	flow, err := deps.GetFlow(ctx, flowID, now)
	if err != nil {
		return nil, deps.flowError(ctx, userID, err)
	}
	if flow.UserID != userID {
		return nil, deps.Errors.FlowNotFound
	}
	if flow.State != EnrollmentAwaitingFirstCode {
		return nil, deps.Errors.InvalidState
	}

	var verifyErr error
	switch flow.Method {
	case MethodAuthenticator:
		verifyErr = deps.VerifyTOTP(ctx, userID, flow.Secret, code)
	case MethodEmail:
		verifyErr = deps.VerifyEmailCode(ctx, PurposeEnrollment, userID, code)
	default:
		return nil, deps.Errors.InvalidState
	}
	if verifyErr != nil {
		if !deps.IsCodeFailure(verifyErr) {
			return nil, verifyErr
		}
		return nil, deps.recordCodeFailure(ctx, userID, flowID, verifyErr)
	}

	profile := Profile{
		UserID:    userID,
		Method:    flow.Method,
		EnabledAt: deps.Now(),
	}
	if flow.Method == MethodAuthenticator {
		profile.Secret = flow.Secret
	} else {
		profile.Email = flow.Email
	}

	enabled, err := deps.EnableProfile(ctx, profile)
	if err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	if !enabled {
		if err := deps.DeleteFlow(ctx, flowID); err != nil {
			deps.OnSwallowed(ctx, "enrollment flow cleanup failed", err)
		}
		return nil, deps.Errors.AlreadyEnabled
	}

	codes, err := deps.IssueBackupCodes(ctx, userID)
	if err != nil {
		// Roll the profile back so there is no enabled profile without codes.
		if rbErr := deps.DeleteProfile(ctx, userID); rbErr != nil {
			deps.OnSwallowed(ctx, "profile rollback failed", rbErr)
		}
		return nil, err
	}

	committed, err := deps.TransitionFlow(ctx, flowID, deps.Now(), func(f *stores.EnrollmentFlow) (bool, bool, error) {
		f.State = EnrollmentBackupCodesIssued
		f.Secret = nil
		return true, false, nil
	})
	if err != nil {
		// The profile and codes are committed; the flow record is only the
		// acknowledgement step.
		deps.OnSwallowed(ctx, "enrollment flow update failed", err)
		snapshot := *flow
		snapshot.State = EnrollmentBackupCodesIssued
		snapshot.Secret = nil
		committed = &snapshot
	}

	deps.MetricInc(deps.Metrics.Completed)
	deps.EmitAudit(ctx, deps.Events.Completed, true, userID, nil, map[string]string{
		"flow_id": flowID,
		"method":  methodName(profile.Method),
	})
	return &EnrollmentResult{FlowID: flowID, Flow: *committed, BackupCodes: codes}, nil
}

// RunCompleteEnrollment acknowledges that the backup codes were shown and
// removes the flow.
func RunCompleteEnrollment(ctx context.Context, userID, flowID string, deps EnrollmentDeps) (*EnrollmentResult, error) {
	normalizeEnrollmentDeps(&deps)

	if deps.GetFlow == nil || deps.DeleteFlow == nil {
		return nil, deps.Errors.EngineNotReady
	}

	flow, err := deps.GetFlow(ctx, flowID, deps.Now())
	if err != nil {
		return nil, deps.flowError(ctx, userID, err)
	}
	if flow.UserID != userID {
		return nil, deps.Errors.FlowNotFound
	}
	if flow.State != EnrollmentBackupCodesIssued {
		return nil, deps.Errors.InvalidState
	}
	if err := deps.DeleteFlow(ctx, flowID); err != nil {
		return nil, deps.BackendError(ctx, userID, err)
	}
	return &EnrollmentResult{FlowID: flowID, Flow: *flow}, nil
}

func (deps EnrollmentDeps) recordCodeFailure(ctx context.Context, userID, flowID string, verifyErr error) error {
	deps.MetricInc(deps.Metrics.CodeFailed)
	deps.EmitAudit(ctx, deps.Events.CodeFailed, false, userID, verifyErr, map[string]string{"flow_id": flowID})

	_, err := deps.TransitionFlow(ctx, flowID, deps.Now(), func(f *stores.EnrollmentFlow) (bool, bool, error) {
		f.Attempts++
		if deps.MaxCodeAttempts > 0 && int(f.Attempts) >= deps.MaxCodeAttempts {
			return false, true, deps.Errors.FlowAttemptsExceeded
		}
		return true, false, nil
	})
	if err != nil {
		if errors.Is(err, deps.Errors.FlowAttemptsExceeded) {
			return err
		}
		return deps.flowError(ctx, userID, err)
	}
	return verifyErr
}

func (deps EnrollmentDeps) flowError(ctx context.Context, userID string, err error) error {
	switch {
	case deps.IsFlowMissing(err):
		return deps.Errors.FlowNotFound
	case errors.Is(err, deps.Errors.FlowNotFound),
		errors.Is(err, deps.Errors.InvalidState),
		errors.Is(err, deps.Errors.InvalidMethod),
		errors.Is(err, deps.Errors.FlowAttemptsExceeded):
		return err
	default:
		return deps.BackendError(ctx, userID, err)
	}
}

func methodName(method uint8) string {
	switch method {
	case MethodAuthenticator:
		return "authenticator"
	case MethodEmail:
		return "email"
	default:
		return "none"
	}
}

func normalizeEnrollmentDeps(deps *EnrollmentDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsFlowMissing == nil {
		deps.IsFlowMissing = func(err error) bool {
			return errors.Is(err, stores.ErrEnrollmentNotFound) || errors.Is(err, stores.ErrEnrollmentExpired)
		}
	}
	if deps.IsCodeFailure == nil {
		deps.IsCodeFailure = func(error) bool { return true }
	}
	if deps.DeleteProfile == nil {
		deps.DeleteProfile = func(context.Context, string) error { return nil }
	}
	if deps.DeleteFlow == nil {
		deps.DeleteFlow = func(context.Context, string) error { return nil }
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
