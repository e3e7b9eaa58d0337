package batch

import (
	"time"

	"busbot/internal/auth"
	"busbot/internal/discovery"
	"busbot/internal/fault"
)

// State tracks how far a pipeline got. It only moves forward; the final
// value of a failed pipeline names the stage that killed it.
type State string

const (
	StatePending       State = "PENDING"
	StateAuthenticated State = "AUTHENTICATED"
	StateDiscovered    State = "DISCOVERED"
	StateAllocated     State = "ALLOCATED"
	StateSucceeded     State = "SUCCEEDED"
	StateFailed        State = "FAILED"
)

// Request is one account's reservation wish for a run.
type Request struct {
	ID              string // filled with a UUID when empty
	Account         auth.Account
	Query           discovery.Query
	SeatPreferences []int
}

// Outcome is the terminal record of one pipeline.
type Outcome struct {
	RequestID string
	AccountID string
	State     State

	// Success side.
	Confirmation string
	SeatNo       int
	Route        string
	Departure    string

	// Failure side.
	FailKind fault.Kind
	Message  string

	// ExecTook is the reservation call alone; Took is the whole pipeline
	// from fire to terminal state.
	ExecTook time.Duration
	Took     time.Duration
}

func (o Outcome) Succeeded() bool { return o.State == StateSucceeded }

// Report summarizes one run for sinks (log, store, notifier).
type Report struct {
	RunID      string
	FireAt     time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	Outcomes []Outcome
}

func (r Report) Total() int { return len(r.Outcomes) }

func (r Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

func (r Report) Failed() int { return r.Total() - r.Succeeded() }

// SuccessRate in [0,1]; an empty run counts as 0.
func (r Report) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Succeeded()) / float64(r.Total())
}

// AvgExecTook averages the reservation-call latency over successes.
func (r Report) AvgExecTook() time.Duration {
	var sum time.Duration
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			sum += o.ExecTook
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}
