package flows

import (
	"context"
	"time"
)

// LockState is the lockout ledger as seen by flows.
type LockState struct {
	Locked    bool
	Failures  int
	Remaining time.Duration
}

type GateMetrics struct {
	Success          int
	Failure          int
	Locked           int
	LockoutTriggered int
}

type GateEvents struct {
	Success          string
	Failure          string
	Locked           string
	LockoutTriggered string
}

type GateErrors struct {
	EngineNotReady error
}

// Reservation is one attempt admitted by the ledger. A granted attempt is
// already counted as a failure; State is the ledger after counting it.
type Reservation struct {
	Granted bool
	State   LockState
	// Release returns the attempt when it was never judged.
	Release func(context.Context) error
}

// GateDeps wires the shared lockout ledger around a single verification.
type GateDeps struct {
	ReserveAttempt func(context.Context, string) (Reservation, error)
	RecordSuccess  func(context.Context, string) error

	// IsCodeFailure reports whether a verifier error is a rejected code that
	// stays counted against the ledger. Other errors release the attempt.
	IsCodeFailure func(error) bool
	LockedError   func(time.Duration) error
	BackendError  func(context.Context, string, error) error
	OnSwallowed   func(context.Context, string, error)

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, map[string]string)

	Metrics GateMetrics
	Events  GateEvents
	Errors  GateErrors
}

// RunGated reserves an attempt on the lockout ledger, runs verify, then
// settles exactly one outcome. A locked user is refused before verify runs.
// Reserving counts the attempt up front, so concurrent callers cannot get
// more verifications than the threshold allows.
func RunGated(
	ctx context.Context,
	userID string,
	meta map[string]string,
	deps GateDeps,
	verify func(context.Context) error,
) (LockState, error) {
	normalizeGateDeps(&deps)

	if deps.ReserveAttempt == nil || deps.RecordSuccess == nil || verify == nil {
		return LockState{}, deps.Errors.EngineNotReady
	}

	r, err := deps.ReserveAttempt(ctx, userID)
	if err != nil {
		return LockState{}, deps.BackendError(ctx, userID, err)
	}
	if !r.Granted {
		lockedErr := deps.LockedError(r.State.Remaining)
		deps.MetricInc(deps.Metrics.Locked)
		deps.EmitAudit(ctx, deps.Events.Locked, false, userID, lockedErr, meta)
		return r.State, lockedErr
	}

	verifyErr := verify(ctx)
	if verifyErr == nil {
		if err := deps.RecordSuccess(ctx, userID); err != nil {
			deps.OnSwallowed(ctx, "lockout reset failed", err)
		}
		deps.MetricInc(deps.Metrics.Success)
		deps.EmitAudit(ctx, deps.Events.Success, true, userID, nil, meta)
		return LockState{}, nil
	}

	if !deps.IsCodeFailure(verifyErr) {
		if r.Release != nil {
			if err := r.Release(ctx); err != nil {
				deps.OnSwallowed(ctx, "lockout release failed", err)
			}
		}
		state := r.State
		state.Locked, state.Remaining = false, 0
		if state.Failures > 0 {
			state.Failures--
		}
		return state, verifyErr
	}

	deps.MetricInc(deps.Metrics.Failure)
	deps.EmitAudit(ctx, deps.Events.Failure, false, userID, verifyErr, meta)
	if r.State.Locked {
		deps.MetricInc(deps.Metrics.LockoutTriggered)
		deps.EmitAudit(ctx, deps.Events.LockoutTriggered, false, userID, deps.LockedError(r.State.Remaining), meta)
	}

	return r.State, verifyErr
}

func normalizeGateDeps(deps *GateDeps) {
	if deps.IsCodeFailure == nil {
		deps.IsCodeFailure = func(error) bool { return true }
	}
	if deps.LockedError == nil {
		deps.LockedError = func(time.Duration) error { return deps.Errors.EngineNotReady }
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
