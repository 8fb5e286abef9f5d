package pipeline

import (
	"time"

	"github.com/edgewatch/edgewatch/internal/router"
)

// State names where the engine currently is. A scan walks Planning
// through Routing and lands on Done; a blown deadline or cancellation
// lands on Aborted instead.
type State string

const (
	StateIdle      State = "idle"
	StatePlanning  State = "planning"
	StateFetching  State = "fetching"
	StateDetecting State = "detecting"
	StateGating    State = "gating"
	StateRouting   State = "routing"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// Report summarizes one scan for logs, the status channel and the HTTP
// status endpoint.
type Report struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	State       State         `json:"state"`
	AbortReason string        `json:"abort_reason,omitempty"`

	// Sources is the fetch plan: every source name requested this scan.
	Sources []string `json:"sources,omitempty"`
	// Markets counts the merged market snapshot handed to detectors.
	Markets int `json:"markets"`
	// Processed lists derived datasets produced by processors.
	Processed []string `json:"processor_outputs,omitempty"`

	Detected      int `json:"detected"`
	Calibrated    int `json:"calibrated"`
	CalibratedOut int `json:"calibrated_out,omitempty"`

	// GateDrops counts rejections by gate reason tag.
	GateDrops map[string]int `json:"gate_drops,omitempty"`
	Emitted   int            `json:"emitted"`
	Recorded  int            `json:"recorded"`

	Dispatch router.DispatchStats `json:"dispatch"`
}

// Dropped totals every opportunity lost between detection and
// delivery.
func (r Report) Dropped() int {
	n := r.CalibratedOut + r.Dispatch.Dropped + r.Dispatch.Suppressed
	for _, c := range r.GateDrops {
		n += c
	}
	return n
}
