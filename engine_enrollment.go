package twofactor

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/twofactor/internal"
	internalflows "github.com/MrEthical07/twofactor/internal/flows"
	"github.com/MrEthical07/twofactor/internal/stores"
	"github.com/MrEthical07/twofactor/internal/ticket"
	"github.com/google/uuid"
)

// EnrollmentState is the step an enrollment flow is in.
type EnrollmentState uint8

const (
	EnrollmentAwaitingPasswordConfirm  = EnrollmentState(internalflows.EnrollmentAwaitingPasswordConfirm)
	EnrollmentMethodChosen             = EnrollmentState(internalflows.EnrollmentMethodChosen)
	EnrollmentAuthenticatorProvisioned = EnrollmentState(internalflows.EnrollmentAuthenticatorProvisioned)
	EnrollmentEmailPending             = EnrollmentState(internalflows.EnrollmentEmailPending)
	EnrollmentAwaitingFirstCode        = EnrollmentState(internalflows.EnrollmentAwaitingFirstCode)
	EnrollmentBackupCodesIssued        = EnrollmentState(internalflows.EnrollmentBackupCodesIssued)
)

func (s EnrollmentState) String() string {
	switch s {
	case EnrollmentAwaitingPasswordConfirm:
		return "awaiting_password_confirm"
	case EnrollmentMethodChosen:
		return "method_chosen"
	case EnrollmentAuthenticatorProvisioned:
		return "authenticator_provisioned"
	case EnrollmentEmailPending:
		return "email_pending"
	case EnrollmentAwaitingFirstCode:
		return "awaiting_first_code"
	case EnrollmentBackupCodesIssued:
		return "backup_codes_issued"
	default:
		return "unknown"
	}
}

// Enrollment is a snapshot of an enrollment flow. Ticket is the signed
// handle the client sends back on the next step.
type Enrollment struct {
	Ticket    string
	State     EnrollmentState
	Method    Method
	ExpiresAt time.Time

	// Setup is set after the authenticator method is chosen.
	Setup *SecretSetup
	// MaskedEmail is set once an address has been submitted.
	MaskedEmail string
	// AttemptsRemaining counts wrong first codes left before the flow is
	// discarded.
	AttemptsRemaining int
	// BackupCodes is set only by ConfirmFirstCode, and shown once.
	BackupCodes []string
}

// StartEnrollment re-authenticates the user and opens an enrollment flow in
// MethodChosen. A wrong password creates nothing.
func (e *Engine) StartEnrollment(ctx context.Context, userID, password string) (*Enrollment, error) {
	if e == nil || e.identity == nil || e.tickets == nil {
		return nil, ErrEngineNotReady
	}

	res, err := internalflows.RunStartEnrollment(ctx, userID, password, e.enrollmentFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.enrollmentView(userID, res)
}

// ChooseMethod selects the method of the flow. It may be called again to
// switch methods until a first code is confirmed.
func (e *Engine) ChooseMethod(ctx context.Context, flowTicket string, method Method) (*Enrollment, error) {
	userID, flowID, err := e.parseEnrollmentTicket(flowTicket)
	if err != nil {
		return nil, err
	}
	if method != MethodAuthenticator && method != MethodEmail {
		return nil, ErrInvalidMethod
	}

	res, err := internalflows.RunChooseMethod(ctx, userID, flowID, uint8(method), e.enrollmentFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.enrollmentView(userID, res)
}

// SubmitEmailAddress records the delivery address and sends the first code.
// When delivery fails the flow stays in EmailPending and ErrDeliveryFailed
// is returned.
func (e *Engine) SubmitEmailAddress(ctx context.Context, flowTicket, email string) (*Enrollment, error) {
	userID, flowID, err := e.parseEnrollmentTicket(flowTicket)
	if err != nil {
		return nil, err
	}
	address, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	res, err := internalflows.RunSubmitEmailAddress(ctx, userID, flowID, address, e.enrollmentFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.enrollmentView(userID, res)
}

// ConfirmFirstCode verifies the first code and, only then, enables the
// profile and issues backup codes.
func (e *Engine) ConfirmFirstCode(ctx context.Context, flowTicket, code string) (*Enrollment, error) {
	userID, flowID, err := e.parseEnrollmentTicket(flowTicket)
	if err != nil {
		return nil, err
	}

	res, err := internalflows.RunConfirmFirstCode(ctx, userID, flowID, code, e.enrollmentFlowDeps())
	if err != nil {
		return nil, err
	}
	return e.enrollmentView(userID, res)
}

// CompleteEnrollment acknowledges that the backup codes were shown and
// closes the flow.
func (e *Engine) CompleteEnrollment(ctx context.Context, flowTicket string) (*Enrollment, error) {
	userID, flowID, err := e.parseEnrollmentTicket(flowTicket)
	if err != nil {
		return nil, err
	}

	res, err := internalflows.RunCompleteEnrollment(ctx, userID, flowID, e.enrollmentFlowDeps())
	if err != nil {
		return nil, err
	}
	view, err := e.enrollmentView(userID, res)
	if err != nil {
		return nil, err
	}
	view.Ticket = ""
	return view, nil
}

func (e *Engine) parseEnrollmentTicket(token string) (string, string, error) {
	if e == nil || e.tickets == nil {
		return "", "", ErrEngineNotReady
	}
	claims, err := e.tickets.Parse(ticket.KindEnrollment, token)
	if err != nil {
		return "", "", ErrFlowNotFound
	}
	return claims.Subject, claims.ID, nil
}

func (e *Engine) enrollmentView(userID string, res *internalflows.EnrollmentResult) (*Enrollment, error) {
	flow := res.Flow
	expiresAt := time.UnixMilli(flow.ExpiresAt)

	token, err := e.tickets.Issue(ticket.KindEnrollment, userID, res.FlowID, expiresAt)
	if err != nil {
		return nil, ErrEngineNotReady
	}

	view := &Enrollment{
		Ticket:      token,
		State:       EnrollmentState(flow.State),
		Method:      Method(flow.Method),
		ExpiresAt:   expiresAt,
		BackupCodes: res.BackupCodes,
	}
	if limit := e.config.Enrollment.MaxCodeAttempts; limit > 0 {
		view.AttemptsRemaining = limit - int(flow.Attempts)
	}
	if flow.Email != "" {
		view.MaskedEmail = maskEmail(flow.Email)
	}
	if len(flow.Secret) > 0 {
		setup, err := e.secretSetup(flow.Secret, userID)
		if err != nil {
			return nil, err
		}
		view.Setup = &setup
	}
	return view, nil
}

func isEnrollmentMissing(err error) bool {
	return errors.Is(err, stores.ErrEnrollmentNotFound) || errors.Is(err, stores.ErrEnrollmentExpired)
}

func (e *Engine) enrollmentFlowDeps() internalflows.EnrollmentDeps {
	return internalflows.EnrollmentDeps{
		FlowTTL:         e.config.Enrollment.FlowTTL,
		MaxCodeAttempts: e.config.Enrollment.MaxCodeAttempts,
		Now:             e.now,
		NewID:           uuid.NewString,
		Reauthenticate: func(ctx context.Context, userID, password string) (bool, error) {
			sctx, cancel := e.storeContext(ctx)
			defer cancel()
			return e.identity.Reauthenticate(sctx, userID, password)
		},
		GetProfile:       e.getFlowProfile,
		EnableProfile:    e.enableFlowProfile,
		DeleteProfile:    e.deleteProfile,
		SaveFlow:         e.enrollments.Save,
		GetFlow:          e.enrollments.Get,
		TransitionFlow:   e.enrollments.Transition,
		DeleteFlow:       e.enrollments.Delete,
		IsFlowMissing:    isEnrollmentMissing,
		NewSecret:        func() ([]byte, error) { return internal.NewSecret(e.config.TOTP.SecretSize) },
		VerifyTOTP:       e.verifyTOTP,
		SendEmailCode:    e.sendEmailCode,
		VerifyEmailCode:  e.verifyEmailCode,
		IssueBackupCodes: e.issueBackupCodes,
		IsCodeFailure:    isCodeFailure,
		BackendError:     e.backendError,
		OnSwallowed:      e.swallowed,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.EnrollmentMetrics{
			Started:          int(MetricEnrollmentStarted),
			PasswordRejected: int(MetricEnrollmentPasswordRejected),
			CodeFailed:       int(MetricEnrollmentCodeFailed),
			Completed:        int(MetricEnrollmentCompleted),
		},
		Events: internalflows.EnrollmentEvents{
			Started:          EventEnrollmentStarted,
			PasswordRejected: EventEnrollmentPasswordRejected,
			MethodChosen:     EventEnrollmentMethodChosen,
			CodeSent:         EventEnrollmentCodeSent,
			CodeFailed:       EventEnrollmentCodeFailed,
			Completed:        EventEnrollmentCompleted,
		},
		Errors: internalflows.EnrollmentErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidCredential:    ErrInvalidCredential,
			AlreadyEnabled:       ErrAlreadyEnabled,
			FlowNotFound:         ErrFlowNotFound,
			InvalidState:         ErrInvalidState,
			InvalidMethod:        ErrInvalidMethod,
			FlowAttemptsExceeded: ErrFlowAttemptsExceeded,
		},
	}
}
