package harness

import (
	"github.com/roach88/watergrant/internal/store"
)

// TraceEvent records how one delivered block was resolved.
type TraceEvent struct {
	Seq         int64  `json:"seq"`
	BlockNum    int64  `json:"block_num"`
	BlockID     string `json:"block_id"`
	Disposition string `json:"disposition"`
	Records     int    `json:"records"`
	Skipped     int    `json:"skipped"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every block expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the applied blocks in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the projection after the last block.
	State store.Snapshot `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
