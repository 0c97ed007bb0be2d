package twofactor

import (
	"context"
	"time"
)

// LockoutStatus is the read-only view of the lockout ledger.
type LockoutStatus struct {
	Locked    bool
	Failures  int
	Remaining time.Duration
}

// CheckLocked reports whether userID is inside a lockout cooldown. It does
// not record an attempt.
func (e *Engine) CheckLocked(ctx context.Context, userID string) (LockoutStatus, error) {
	if e == nil || e.lockout == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}

	state, err := e.lockState(ctx, userID)
	if err != nil {
		return LockoutStatus{}, e.backendError(ctx, userID, err)
	}
	return LockoutStatus{
		Locked:    state.Locked,
		Failures:  state.Failures,
		Remaining: state.Remaining,
	}, nil
}
