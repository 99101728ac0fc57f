package orchestrator

import (
	"time"

	"github.com/loomnotes/loom/internal/reconcile"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

// State is the orchestrator's state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
)

// Trigger says why a sync was requested. Login pulls; every other trigger
// pushes.
type Trigger string

const (
	TriggerLogin    Trigger = "login"
	TriggerLogout   Trigger = "logout"
	TriggerPeriodic Trigger = "periodic"
	TriggerExplicit Trigger = "explicit"
)

// ParseTrigger returns the trigger named s, or TriggerExplicit.
func ParseTrigger(s string) Trigger {
	switch t := Trigger(s); t {
	case TriggerLogin, TriggerLogout, TriggerPeriodic:
		return t
	default:
		return TriggerExplicit
	}
}

// Status is the result class of a request.
type Status string

const (
	// StatusOK means the cycle ran without write failures.
	StatusOK Status = "ok"
	// StatusPartial means the cycle ran to the end but some writes failed.
	StatusPartial Status = "partial"
	// StatusFailed means the cycle stopped early: a lookup failed, the
	// timeout expired or the cycle panicked. State may be partial.
	StatusFailed Status = "failed"

	// Refusals. No cycle ran.
	StatusTooSoon   Status = "too_soon"
	StatusInFlight  Status = "in_flight"
	StatusDisabled  Status = "disabled"
	StatusNoSession Status = "no_session"
)

// Ran reports whether a cycle was attempted.
func (s Status) Ran() bool {
	return s == StatusOK || s == StatusPartial || s == StatusFailed
}

// Outcome is the result of one request.
type Outcome struct {
	Status    Status        `json:"status" yaml:"status"`
	Trigger   Trigger       `json:"trigger" yaml:"trigger"`
	RunID     string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	// RetryIn is set on a too_soon refusal.
	RetryIn time.Duration `json:"retry_in,omitempty" yaml:"retry_in,omitempty"`
	Err     string        `json:"error,omitempty" yaml:"error,omitempty"`

	Report *reconcile.Report    `json:"report,omitempty" yaml:"report,omitempty"`
	Pull   *loomsync.PullResult `json:"pull,omitempty" yaml:"pull,omitempty"`
}

// OK reports whether the request succeeded. Disabled mode counts as
// success; the other refusals do not.
func (o Outcome) OK() bool {
	return o.Status == StatusOK || o.Status == StatusDisabled
}

// Info is the orchestrator status returned by Status.
type Info struct {
	State       State     `json:"state" yaml:"state"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	LastAttempt time.Time `json:"last_attempt,omitempty" yaml:"last_attempt,omitempty"`
	Last        *Outcome  `json:"last,omitempty" yaml:"last,omitempty"`
}
