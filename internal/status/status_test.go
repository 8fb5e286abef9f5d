package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/router"
)

func TestRecord_AccumulatesScanTotals(t *testing.T) {
	tr := NewTracker()
	tr.Record(pipeline.Report{
		State:    pipeline.StateDone,
		Markets:  120,
		Detected: 5,
		Emitted:  2,
		Dispatch: router.DispatchStats{Delivered: 2},
	})
	tr.Record(pipeline.Report{
		State:    pipeline.StateDone,
		Markets:  95,
		Detected: 3,
		Emitted:  1,
		Dispatch: router.DispatchStats{Delivered: 0},
	})

	u := tr.Snapshot()
	assert.Equal(t, 2, u.Scans)
	assert.Zero(t, u.Aborted)
	assert.Equal(t, 95, u.Markets, "markets follow the most recent scan")
	assert.Equal(t, 8, u.Detected)
	assert.Equal(t, 3, u.Emitted)
	assert.Equal(t, 2, u.Delivered)
	require.NotNil(t, u.LastScan)
	assert.Equal(t, 3, u.LastScan.Detected)
	assert.True(t, u.Healthy())
}

func TestRecord_AbortedScanLandsInErrorRing(t *testing.T) {
	tr := NewTracker()
	tr.Record(pipeline.Report{State: pipeline.StateAborted, AbortReason: "context deadline exceeded"})

	u := tr.Snapshot()
	assert.Equal(t, 1, u.Aborted)
	assert.False(t, u.Healthy())
	require.Len(t, u.Errors, 1)
	assert.Equal(t, "scan", u.Errors[0].Source)
	assert.Equal(t, "context deadline exceeded", u.Errors[0].Message)
}

func TestRecent_RingKeepsNewestFirst(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxErrors+5; i++ {
		tr.RecordError("sink", fmt.Errorf("failure %d", i))
	}

	recent := tr.Recent()
	require.Len(t, recent, maxErrors)
	assert.Equal(t, fmt.Sprintf("failure %d", maxErrors+4), recent[0].Message)
	assert.Equal(t, "failure 5", recent[len(recent)-1].Message)
}

func TestRecordError_IgnoresNil(t *testing.T) {
	tr := NewTracker()
	tr.RecordError("sink", nil)
	tr.RecordError("sweep", errors.New("lookup failed"))

	recent := tr.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "sweep", recent[0].Source)
}

func TestUpdate_SummaryMentionsCounts(t *testing.T) {
	tr := NewTracker()
	tr.Record(pipeline.Report{
		State:    pipeline.StateDone,
		Markets:  64,
		Detected: 4,
		Emitted:  2,
		Dispatch: router.DispatchStats{Delivered: 2},
	})

	s := tr.Snapshot().Summary()
	assert.Contains(t, s, "1 scans")
	assert.Contains(t, s, "64 markets")
	assert.Contains(t, s, "4 detected")
	assert.Contains(t, s, "2 delivered")
}
