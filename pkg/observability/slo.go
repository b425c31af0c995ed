package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// SLOTarget is the objective for one tracked operation.
type SLOTarget struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0-1
	Window      time.Duration `json:"window"`
}

// DefaultSLOTargets covers the lifecycle operations. Typed call errors
// count as successes: a missing field is an answer, not an outage.
var DefaultSLOTargets = []SLOTarget{
	{Operation: "submission.create", LatencyP99: 250 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
	{Operation: "submission.set_fields", LatencyP99: 250 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
	{Operation: "submission.submit", LatencyP99: 500 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
	{Operation: "submission.get", LatencyP99: 100 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
	{Operation: "submission.approve", LatencyP99: 250 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
	{Operation: "submission.finalize", LatencyP99: 250 * time.Millisecond, SuccessRate: 0.99, Window: time.Hour},
}

// SLOObservation is a single data point.
type SLOObservation struct {
	Operation string
	Latency   time.Duration
	Success   bool
	Timestamp time.Time
}

// SLOStatus reports compliance of one operation over its window.
type SLOStatus struct {
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"` // >1 burns the error budget faster than allowed
	ErrorBudgetLeft  float64 `json:"error_budget_left"`
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker keeps windowed observations for operations that have a
// target. Observations of untargeted operations are dropped.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]SLOTarget
	observations map[string][]SLOObservation
	clock        func() time.Time
}

// NewSLOTracker creates a tracker with the given targets.
func NewSLOTracker(targets ...SLOTarget) *SLOTracker {
	t := &SLOTracker{
		targets:      make(map[string]SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
	for _, target := range targets {
		t.SetTarget(target)
	}
	return t
}

// WithClock overrides the clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets or replaces the target for target.Operation.
func (t *SLOTracker) SetTarget(target SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record adds an observation and drops those that fell out of the window.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[obs.Operation]
	if !ok {
		return
	}
	now := t.clock()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = now
	}
	t.observations[obs.Operation] = append(windowed(t.observations[obs.Operation], now.Add(-target.Window)), obs)
}

func windowed(obs []SLOObservation, start time.Time) []SLOObservation {
	i := sort.Search(len(obs), func(i int) bool { return obs[i].Timestamp.After(start) })
	return obs[i:]
}

// Status computes the current status of operation.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status(operation)
}

// Statuses reports every targeted operation, sorted by name.
func (t *SLOTracker) Statuses() []SLOStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops := make([]string, 0, len(t.targets))
	for op := range t.targets {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	out := make([]SLOStatus, 0, len(ops))
	for _, op := range ops {
		st, _ := t.status(op)
		out = append(out, *st)
	}
	return out
}

func (t *SLOTracker) status(operation string) (*SLOStatus, error) {
	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}
	obs := windowed(t.observations[operation], t.clock().Add(-target.Window))
	if len(obs) == 0 {
		return &SLOStatus{Operation: operation, InCompliance: true, ErrorBudgetLeft: 100}, nil
	}

	successes := 0
	latencies := make([]float64, len(obs))
	for i, o := range obs {
		if o.Success {
			successes++
		}
		latencies[i] = float64(o.Latency.Milliseconds())
	}
	sort.Float64s(latencies)
	p99 := latencies[min(int(float64(len(latencies))*0.99), len(latencies)-1)]
	successRate := float64(successes) / float64(len(obs))

	errorBudget := 1 - target.SuccessRate
	errorRate := 1 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = max(100*(1-burnRate), 0)
	}

	return &SLOStatus{
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     p99 <= float64(target.LatencyP99.Milliseconds()) && successRate >= target.SuccessRate,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(obs),
	}, nil
}
