// Package orchestrator gates when a sync cycle may run.
//
// An Orchestrator is either idle or syncing. A request moves it to syncing
// and the cycle always moves it back to idle, whatever happened inside, so a
// failing or panicking cycle can never leave it stuck. Requests are refused,
// never queued: the caller retries later.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loomnotes/loom/internal/reconcile"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

// Default limits.
const (
	DefaultMinInterval = 30 * time.Second
	DefaultTimeout     = 2 * time.Minute
)

// Locker is a cross-process lock held for the duration of a cycle.
type Locker interface {
	// TryLock acquires the lock without blocking and reports whether it
	// did.
	TryLock() (bool, error)
	Unlock() error
}

// SessionFunc returns the current session, or false when nobody is logged
// in.
type SessionFunc func() (reconcile.Session, bool)

// StaticSession returns a SessionFunc for a fixed session.
func StaticSession(sess reconcile.Session) SessionFunc {
	return func() (reconcile.Session, bool) {
		return sess, sess.CreatorID > 0
	}
}

// Config configures an Orchestrator.
type Config struct {
	// Enabled gates every operation. A disabled orchestrator answers every
	// request with a no-op success.
	Enabled bool
	// MinInterval is the least time between two attempts of RequestSync.
	MinInterval time.Duration
	// Timeout bounds one cycle. Zero means no limit.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MinInterval: DefaultMinInterval,
		Timeout:     DefaultTimeout,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink sets the event sink.
func WithSink(sink Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithLocker makes every cycle hold lock.
func WithLocker(lock Locker) Option {
	return func(o *Orchestrator) { o.lock = lock }
}

// WithHistory records every cycle in h. The last recorded cycle counts as
// the last attempt, so the minimum interval holds across processes.
func WithHistory(h *History) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithClock overrides the clock. Tests only.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs sync cycles one at a time.
type Orchestrator struct {
	syncer  loomsync.Syncer
	session SessionFunc
	cfg     Config
	enabled atomic.Bool

	sink    Sink
	lock    Locker
	history *History
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	state       State
	lastAttempt time.Time
	last        *Outcome
}

// New creates an Orchestrator.
func New(syncer loomsync.Syncer, session SessionFunc, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		syncer:  syncer,
		session: session,
		cfg:     cfg,
		sink:    discardSink{},
		logger:  slog.Default(),
		now:     time.Now,
		state:   StateIdle,
	}
	o.enabled.Store(cfg.Enabled)
	for _, opt := range opts {
		opt(o)
	}
	if o.history != nil {
		if last, ok, err := o.history.Last(); err != nil {
			o.logger.Warn("failed to read sync history", "path", o.history.Path(), "error", err)
		} else if ok {
			o.lastAttempt = last.StartedAt
		}
	}
	return o
}

// SetEnabled turns reconciliation on or off.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.enabled.Store(enabled)
}

// Enabled reports whether reconciliation is on.
func (o *Orchestrator) Enabled() bool {
	return o.enabled.Load()
}

// RequestSync runs a cycle unless one is in flight or the last attempt was
// less than MinInterval ago.
func (o *Orchestrator) RequestSync(ctx context.Context, trigger Trigger) Outcome {
	return o.run(ctx, trigger, false)
}

// ForceSync runs a cycle unless one is in flight.
func (o *Orchestrator) ForceSync(ctx context.Context, trigger Trigger) Outcome {
	return o.run(ctx, trigger, true)
}

// Status returns the current state and the last attempt.
func (o *Orchestrator) Status() Info {
	o.mu.Lock()
	defer o.mu.Unlock()

	info := Info{State: o.state, Enabled: o.Enabled(), LastAttempt: o.lastAttempt}
	if o.last != nil {
		last := *o.last
		info.Last = &last
	}
	return info
}

// begin moves the orchestrator to syncing, or returns the refusal.
func (o *Orchestrator) begin(trigger Trigger, force bool) (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateSyncing {
		return Outcome{Status: StatusInFlight, Trigger: trigger}, false
	}
	now := o.now()
	if !force && !o.lastAttempt.IsZero() {
		if elapsed := now.Sub(o.lastAttempt); elapsed < o.cfg.MinInterval {
			return Outcome{Status: StatusTooSoon, Trigger: trigger, RetryIn: o.cfg.MinInterval - elapsed}, false
		}
	}
	o.state = StateSyncing
	o.lastAttempt = now
	return Outcome{}, true
}

func (o *Orchestrator) end(out Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	if out.Status.Ran() {
		o.last = &out
	}
}

func (o *Orchestrator) run(ctx context.Context, trigger Trigger, force bool) (out Outcome) {
	if !o.Enabled() {
		return Outcome{Status: StatusDisabled, Trigger: trigger}
	}

	if refusal, ok := o.begin(trigger, force); !ok {
		o.logger.Debug("sync refused", "trigger", trigger, "status", refusal.Status, "retry_in", refusal.RetryIn)
		return refusal
	}
	defer func() { o.end(out) }()

	sess, ok := o.session()
	if !ok {
		return Outcome{Status: StatusNoSession, Trigger: trigger}
	}

	if o.lock != nil {
		locked, err := o.lock.TryLock()
		if err != nil {
			return Outcome{Status: StatusFailed, Trigger: trigger, Err: fmt.Sprintf("failed to acquire lock: %v", err)}
		}
		if !locked {
			return Outcome{Status: StatusInFlight, Trigger: trigger}
		}
		defer func() {
			if err := o.lock.Unlock(); err != nil {
				o.logger.Warn("failed to release lock", "error", err)
			}
		}()
	}

	started := o.now()
	o.sink.Started(trigger, started)

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	out = o.cycle(ctx, trigger, sess)
	out.StartedAt = started
	out.Duration = o.now().Sub(started)

	o.sink.Finished(out)
	if o.history != nil {
		if err := o.history.Append(entryFor(out)); err != nil {
			o.logger.Warn("failed to record sync history", "error", err)
		}
	}
	return out
}

// cycle runs the sync for trigger. A panic is recovered and reported as a
// failed outcome.
func (o *Orchestrator) cycle(ctx context.Context, trigger Trigger, sess reconcile.Session) (out Outcome) {
	out = Outcome{Trigger: trigger}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("sync cycle panicked", "trigger", trigger, "panic", r)
			out.Status = StatusFailed
			out.Err = fmt.Sprintf("panic: %v", r)
		}
	}()

	var err error
	if trigger == TriggerLogin {
		out.Pull, err = o.syncer.Pull(ctx, sess, loomsync.PullOptions{})
	} else {
		out.Report, err = o.syncer.Push(ctx, sess, loomsync.PushOptions{Progress: o.sink.Progress})
		if out.Report != nil {
			out.RunID = out.Report.RunID
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Status = StatusFailed
		out.Err = fmt.Sprintf("sync timed out after %s, state possibly partial", o.cfg.Timeout)
	case err != nil:
		out.Status = StatusFailed
		out.Err = err.Error()
	case out.Report != nil && !out.Report.OK(), out.Pull != nil && out.Pull.Failed > 0:
		out.Status = StatusPartial
	default:
		out.Status = StatusOK
	}
	return out
}
