// Package status aggregates scan-level health for the watch loop, the
// HTTP status endpoint and the operational status channel.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/edgewatch/edgewatch/internal/pipeline"
)

// maxErrors bounds the recent-error ring.
const maxErrors = 32

// ErrorEntry is one remembered failure.
type ErrorEntry struct {
	At      time.Time `json:"at"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// Update is a point-in-time health summary. Markets counts the
// snapshots surveyed by the most recent scan.
type Update struct {
	At     time.Time     `json:"at"`
	Uptime time.Duration `json:"uptime"`

	Scans     int `json:"scans"`
	Aborted   int `json:"aborted"`
	Markets   int `json:"markets"`
	Detected  int `json:"detected"`
	Emitted   int `json:"emitted"`
	Delivered int `json:"delivered"`

	LastScan *pipeline.Report `json:"last_scan,omitempty"`
	Errors   []ErrorEntry     `json:"recent_errors,omitempty"`
}

// Healthy reports whether the process looks operational: at least one
// scan finished and the most recent one was not aborted.
func (u Update) Healthy() bool {
	return u.Scans > 0 && u.LastScan != nil && u.LastScan.State == pipeline.StateDone
}

// Summary renders a one-line digest for logs and the status channel.
func (u Update) Summary() string {
	return fmt.Sprintf("up %s, %d scans (%d aborted), %d markets, %d detected, %d emitted, %d delivered, %d recent errors",
		u.Uptime.Round(time.Second), u.Scans, u.Aborted, u.Markets, u.Detected, u.Emitted, u.Delivered, len(u.Errors))
}

// Tracker accumulates scan reports and recent errors. All methods are
// safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	startedAt time.Time

	scans     int
	aborted   int
	detected  int
	emitted   int
	delivered int
	last      *pipeline.Report

	errors [maxErrors]ErrorEntry
	next   int
	filled int
}

// NewTracker starts tracking from now.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now()}
}

// Record folds one scan report into the running totals. Aborted scans
// also land in the error ring.
func (t *Tracker) Record(report pipeline.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scans++
	t.detected += report.Detected
	t.emitted += report.Emitted
	t.delivered += report.Dispatch.Delivered
	r := report
	t.last = &r

	if report.State == pipeline.StateAborted {
		t.aborted++
		t.pushLocked(ErrorEntry{
			At:      time.Now(),
			Source:  "scan",
			Message: report.AbortReason,
		})
	}
}

// RecordError remembers a failure outside the scan path, such as a
// sink or maintenance job error.
func (t *Tracker) RecordError(source string, err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushLocked(ErrorEntry{At: time.Now(), Source: source, Message: err.Error()})
}

func (t *Tracker) pushLocked(e ErrorEntry) {
	t.errors[t.next] = e
	t.next = (t.next + 1) % maxErrors
	if t.filled < maxErrors {
		t.filled++
	}
}

// Recent returns remembered errors, newest first.
func (t *Tracker) Recent() []ErrorEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recentLocked()
}

func (t *Tracker) recentLocked() []ErrorEntry {
	out := make([]ErrorEntry, 0, t.filled)
	for i := 1; i <= t.filled; i++ {
		out = append(out, t.errors[(t.next-i+maxErrors)%maxErrors])
	}
	return out
}

// Snapshot returns the current health summary.
func (t *Tracker) Snapshot() Update {
	t.mu.RLock()
	defer t.mu.RUnlock()

	u := Update{
		At:        time.Now(),
		Uptime:    time.Since(t.startedAt),
		Scans:     t.scans,
		Aborted:   t.aborted,
		Detected:  t.detected,
		Emitted:   t.emitted,
		Delivered: t.delivered,
		LastScan:  t.last,
		Errors:    t.recentLocked(),
	}
	if t.last != nil {
		u.Markets = t.last.Markets
	}
	return u
}
