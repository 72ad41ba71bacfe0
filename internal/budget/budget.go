// Package budget tracks cost and iteration consumption for a session and
// enforces hard limits. Charges are monotonic; there are no refunds.
package budget

import "sync"

// Status represents the current state of budget consumption.
type Status int

const (
	// StatusOK indicates usage is below the warning threshold.
	StatusOK Status = iota
	// StatusWarning indicates usage crossed the warning threshold.
	StatusWarning
	// StatusExhausted indicates either limit is fully consumed.
	StatusExhausted
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// DefaultWarningThreshold is the usage fraction at which warnings begin.
const DefaultWarningThreshold = 0.80

// Remaining reports what is left of each limit. Zero means that limit is
// spent; a limit configured as zero is unlimited and reports -1.
type Remaining struct {
	Cost       float64
	Iterations int
}

// AgentUsage is one agent's cumulative consumption.
type AgentUsage struct {
	Cost       float64
	Iterations int
}

// Tracker accumulates cost and iteration counters per agent and in total.
// It is mutated only by the execution coordinator; exhaustion is checked
// before a new group or phase starts, never mid-group, so a group always
// runs to a terminal state once started.
type Tracker struct {
	mu sync.RWMutex

	costLimit      float64
	iterationLimit int

	totalCost       float64
	totalIterations int
	perAgent        map[string]AgentUsage

	warningThreshold float64
}

// NewTracker creates a tracker with the given limits. A zero limit means
// that dimension is unbounded.
func NewTracker(costLimit float64, iterationLimit int) *Tracker {
	return &Tracker{
		costLimit:        costLimit,
		iterationLimit:   iterationLimit,
		perAgent:         make(map[string]AgentUsage),
		warningThreshold: DefaultWarningThreshold,
	}
}

// Charge records consumption for an agent. Charges accumulate; the caller
// cannot reduce a counter.
func (t *Tracker) Charge(agentID string, cost float64, iterations int) {
	if cost < 0 {
		cost = 0
	}
	if iterations < 0 {
		iterations = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalCost += cost
	t.totalIterations += iterations

	usage := t.perAgent[agentID]
	usage.Cost += cost
	usage.Iterations += iterations
	t.perAgent[agentID] = usage
}

// Remaining returns what is left of each limit.
func (t *Tracker) Remaining() Remaining {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r := Remaining{Cost: -1, Iterations: -1}
	if t.costLimit > 0 {
		r.Cost = t.costLimit - t.totalCost
		if r.Cost < 0 {
			r.Cost = 0
		}
	}
	if t.iterationLimit > 0 {
		r.Iterations = t.iterationLimit - t.totalIterations
		if r.Iterations < 0 {
			r.Iterations = 0
		}
	}
	return r
}

// IsExhausted returns true when either limit is fully consumed.
func (t *Tracker) IsExhausted() bool {
	return t.Check() == StatusExhausted
}

// Check classifies current usage against the limits.
func (t *Tracker) Check() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status := StatusOK
	if t.costLimit > 0 {
		status = maxStatus(status, classify(t.totalCost/t.costLimit, t.warningThreshold))
	}
	if t.iterationLimit > 0 {
		status = maxStatus(status, classify(float64(t.totalIterations)/float64(t.iterationLimit), t.warningThreshold))
	}
	return status
}

// Totals returns session-wide consumption.
func (t *Tracker) Totals() (cost float64, iterations int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost, t.totalIterations
}

// Usage returns one agent's cumulative consumption.
func (t *Tracker) Usage(agentID string) AgentUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.perAgent[agentID]
}

// SetWarningThreshold sets the warning fraction, clamped to [0, 1].
func (t *Tracker) SetWarningThreshold(threshold float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	t.warningThreshold = threshold
}

func classify(fraction, warning float64) Status {
	switch {
	case fraction >= 1.0:
		return StatusExhausted
	case fraction >= warning:
		return StatusWarning
	default:
		return StatusOK
	}
}

func maxStatus(a, b Status) Status {
	if b > a {
		return b
	}
	return a
}
