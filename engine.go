package twofactor

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/twofactor/internal/audit"
	"github.com/MrEthical07/twofactor/internal/limiters"
	"github.com/MrEthical07/twofactor/internal/stores"
	"github.com/MrEthical07/twofactor/internal/ticket"
)

// Engine is the two-factor subsystem. It is safe for concurrent use; all
// state lives in Redis and the Store.
type Engine struct {
	config   Config
	store    Store
	identity Identity
	notifier Notifier
	logger   *slog.Logger
	clock    func() time.Time

	tickets *ticket.Manager
	totp    *totpManager

	lockout     *limiters.LockoutLedger
	resend      *limiters.ResendLimiter
	replay      *limiters.ReplayGuard
	enrollments *stores.EnrollmentStore
	challenges  *stores.ChallengeStore
	emailCodes  *stores.EmailCodeStore

	audit   *audit.Dispatcher
	metrics *Metrics
}

// Close drains pending activity events. The Engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many activity events were dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// storeContext bounds one Store call by Timeouts.Persistence.
func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Timeouts.Persistence <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.Timeouts.Persistence)
}

// notifyContext bounds one Notifier call by Timeouts.Notifier.
func (e *Engine) notifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.Timeouts.Notifier <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.config.Timeouts.Notifier)
}
