package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Error kinds recorded against the status counters.
const (
	KindRateLimited       = "rate_limited"
	KindNetwork           = "network"
	KindUnavailable       = "unavailable"
	KindNotFound          = "not_found"
	KindInvalidInput      = "invalid_input"
	KindStoreBusy         = "store_busy"
	KindSchemaMismatch    = "schema_mismatch"
	KindEnrichmentMissing = "enrichment_missing"
)

// Status is a JSON-serializable snapshot of a run.
type Status struct {
	Running            bool           `json:"running"`
	State              State          `json:"state"`
	RunID              string         `json:"run_id,omitempty"`
	Discovered         int64          `json:"discovered"`
	Fetched            int64          `json:"fetched"`
	Analyzed           int64          `json:"analyzed"`
	Persisted          int64          `json:"persisted"`
	ErrorsByKind       map[string]int `json:"errors_by_kind"`
	StartedAt          string         `json:"started_at,omitempty"`
	ProgressPercentage float64        `json:"progress_percentage"`
	ETASeconds         float64        `json:"eta_seconds,omitempty"`
}

// counters aggregates run progress. All fields are updated with atomic
// operations; the error map has its own lock.
type counters struct {
	discovered atomic.Int64
	fetched    atomic.Int64
	analyzed   atomic.Int64
	persisted  atomic.Int64

	mu     sync.Mutex
	errors map[string]int
}

func newCounters() *counters {
	return &counters{errors: make(map[string]int)}
}

// recordError increments the counter for an error kind. Cancellation is
// never recorded; the caller filters it out.
func (c *counters) recordError(kind string) {
	c.mu.Lock()
	c.errors[kind]++
	c.mu.Unlock()
}

func (c *counters) errorSnapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

// snapshot assembles a Status from the counters and run metadata.
func (c *counters) snapshot(state State, runID string, startedAt time.Time, pending int) Status {
	st := Status{
		Running:      state == StateRunning || state == StateStarting || state == StateStopping,
		State:        state,
		RunID:        runID,
		Discovered:   c.discovered.Load(),
		Fetched:      c.fetched.Load(),
		Analyzed:     c.analyzed.Load(),
		Persisted:    c.persisted.Load(),
		ErrorsByKind: c.errorSnapshot(),
	}
	if !startedAt.IsZero() {
		st.StartedAt = startedAt.UTC().Format(time.RFC3339)
	}

	if st.Discovered > 0 {
		st.ProgressPercentage = 100 * float64(st.Persisted) / float64(st.Discovered)
		if st.ProgressPercentage > 100 {
			st.ProgressPercentage = 100
		}
	}
	if state.Terminal() {
		if state == StateCompleted {
			st.ProgressPercentage = 100
		}
		return st
	}

	// ETA from persistence throughput over the run so far.
	elapsed := time.Since(startedAt).Seconds()
	if st.Persisted > 0 && elapsed > 0 && pending > 0 {
		rate := float64(st.Persisted) / elapsed
		st.ETASeconds = float64(pending) / rate
	}
	return st
}
