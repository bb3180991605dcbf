// Package approval correlates tool-approval requests published to devices
// with the decisions they send back.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/common/logger"
)

// Decision is a device's answer to an approval request.
type Decision struct {
	Approved bool
	Reason   string
}

// TimeoutError reports that no decision arrived within the configured budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("approval request timed out after %d ms", e.Budget.Milliseconds())
}

// CanceledError reports that the waiter was rejected before a decision arrived,
// e.g. because a new command preempted it or the bridge shut down.
type CanceledError struct {
	Reason string
}

func (e *CanceledError) Error() string {
	return e.Reason
}

type outcome struct {
	decision Decision
	err      error
}

// Each waiter channel is buffered with capacity one and receives at most a
// single send, performed by whichever goroutine removed the registry entry.
type waiter struct {
	ch chan outcome
}

// Registry is the process-wide correlation table for pending approvals.
// All operations are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	logger  *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		waiters: make(map[string]*waiter),
		logger:  log.WithFields(zap.String("component", "approval-registry")),
	}
}

// NewRequestID returns a fresh UUIDv4 used to correlate one approval round-trip.
func (r *Registry) NewRequestID() string {
	return uuid.New().String()
}

// Await registers id and blocks until the first of: a matching Resolve, a
// Cancel/CancelAll, the timeout budget elapsing, or ctx ending. A resolve
// racing the timeout is settled by compare-and-remove: whichever removes the
// entry first wins and the loser is a no-op.
func (r *Registry) Await(ctx context.Context, id string, timeout time.Duration) (Decision, error) {
	w := &waiter{ch: make(chan outcome, 1)}

	r.mu.Lock()
	if _, exists := r.waiters[id]; exists {
		r.mu.Unlock()
		return Decision{}, fmt.Errorf("approval request id already pending: %s", id)
	}
	r.waiters[id] = w
	r.mu.Unlock()

	r.logger.Debug("awaiting approval",
		zap.String("request_id", id),
		zap.Int64("timeout_ms", timeout.Milliseconds()))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-w.ch:
		return out.decision, out.err
	case <-timer.C:
		if r.take(id) != nil {
			return Decision{}, &TimeoutError{Budget: timeout}
		}
		// Lost the race: the entry was already removed and its outcome
		// is buffered on the channel.
		out := <-w.ch
		return out.decision, out.err
	case <-ctx.Done():
		if r.take(id) != nil {
			return Decision{}, ctx.Err()
		}
		out := <-w.ch
		return out.decision, out.err
	}
}

// take removes and returns the waiter for id, or nil when absent.
func (r *Registry) take(id string) *waiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.waiters[id]
	delete(r.waiters, id)
	return w
}

// Resolve delivers a device decision to the waiter for id. It returns false
// when no waiter matches; such orphaned responses are logged and ignored.
func (r *Registry) Resolve(id string, approved bool, reason string) bool {
	w := r.take(id)
	if w == nil {
		r.logger.Warn("orphaned approval response",
			zap.String("request_id", id),
			zap.Bool("approved", approved))
		return false
	}
	w.ch <- outcome{decision: Decision{Approved: approved, Reason: reason}}
	r.logger.Info("approval resolved",
		zap.String("request_id", id),
		zap.Bool("approved", approved))
	return true
}

// Cancel rejects the waiter for id with an error carrying reason.
// No-op when the id is not pending.
func (r *Registry) Cancel(id, reason string) {
	w := r.take(id)
	if w == nil {
		return
	}
	w.ch <- outcome{err: &CanceledError{Reason: reason}}
	r.logger.Info("approval cancelled",
		zap.String("request_id", id),
		zap.String("reason", reason))
}

// CancelAll rejects every pending waiter with reason.
func (r *Registry) CancelAll(reason string) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*waiter)
	r.mu.Unlock()

	for _, w := range waiters {
		w.ch <- outcome{err: &CanceledError{Reason: reason}}
	}
	if len(waiters) > 0 {
		r.logger.Info("cancelled pending approvals",
			zap.Int("count", len(waiters)),
			zap.String("reason", reason))
	}
}

// Count reports the number of pending waiters.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
