package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The default registerer only accepts each collector once per process,
// so the whole lifecycle runs under one test in declaration order.
func TestGlobalRegistry(t *testing.T) {
	t.Run("helpers no-op before Initialize", func(t *testing.T) {
		require.Nil(t, Default)

		RecordSourceFetch("kalshi-markets", OutcomeFresh)
		RecordDetector("sports-consensus", time.Millisecond, "ok")
		RecordGateDrop("edge_ceiling")
		RecordOpportunity("economics", "urgent")
		RecordSinkDelivery("digest", "ok")
		RecordPrediction("recorded")
		ScanStarted()
		ScanFinished()

		timer := StartPhase("fetching")
		require.Nil(t, timer)
		timer.Stop("ok")

		assert.Nil(t, findFamily(t, "edgewatch_source_fetches_total"))
	})

	t.Run("counters land in the default gatherer", func(t *testing.T) {
		Initialize()
		require.NotNil(t, Default)

		RecordSourceFetch("kalshi-markets", OutcomeCached)
		RecordSourceFetch("kalshi-markets", OutcomeFresh)
		RecordSourceFetch("news-headlines", OutcomeCached)
		RecordGateDrop("price_band")
		RecordOpportunity("economics", "urgent")
		RecordSinkDelivery("digest", "ok")
		RecordPrediction("recorded")
		RecordDetector("sports-consensus", 25*time.Millisecond, "ok")

		fetched := metricWithLabels(t, "edgewatch_source_fetches_total",
			map[string]string{"source": "kalshi-markets", "outcome": OutcomeCached})
		require.NotNil(t, fetched)
		assert.Equal(t, 1.0, fetched.GetCounter().GetValue())

		dropped := metricWithLabels(t, "edgewatch_gate_drops_total",
			map[string]string{"reason": "price_band"})
		require.NotNil(t, dropped)
		assert.Equal(t, 1.0, dropped.GetCounter().GetValue())

		routed := metricWithLabels(t, "edgewatch_opportunities_total",
			map[string]string{"channel": "economics", "urgency": "urgent"})
		require.NotNil(t, routed)
		assert.Equal(t, 1.0, routed.GetCounter().GetValue())

		evaluated := metricWithLabels(t, "edgewatch_detector_seconds",
			map[string]string{"detector": "sports-consensus", "result": "ok"})
		require.NotNil(t, evaluated)
		assert.Equal(t, uint64(1), evaluated.GetHistogram().GetSampleCount())
	})

	t.Run("hit ratio follows the fetch outcomes", func(t *testing.T) {
		// Two cached out of three lookups so far.
		assert.InDelta(t, 2.0/3.0, gaugeValue(t, "edgewatch_cache_hit_ratio"), 1e-9)

		RecordSourceFetch("news-headlines", OutcomeMiss)
		assert.InDelta(t, 0.5, gaugeValue(t, "edgewatch_cache_hit_ratio"), 1e-9)
	})

	t.Run("scan gauges track start and finish", func(t *testing.T) {
		ScanStarted()
		assert.Equal(t, 1.0, gaugeValue(t, "edgewatch_active_scans"))

		ScanFinished()
		assert.Equal(t, 0.0, gaugeValue(t, "edgewatch_active_scans"))

		total := findFamily(t, "edgewatch_scans_total")
		require.NotNil(t, total)
		assert.Equal(t, 1.0, total.GetMetric()[0].GetCounter().GetValue())
	})

	t.Run("phase timer observes under phase and result", func(t *testing.T) {
		timer := StartPhase("detecting")
		require.NotNil(t, timer)
		timer.Stop("ok")

		observed := metricWithLabels(t, "edgewatch_scan_phase_seconds",
			map[string]string{"phase": "detecting", "result": "ok"})
		require.NotNil(t, observed)
		assert.Equal(t, uint64(1), observed.GetHistogram().GetSampleCount())
	})
}

func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func metricWithLabels(t *testing.T, name string, want map[string]string) *dto.Metric {
	t.Helper()
	family := findFamily(t, name)
	if family == nil {
		return nil
	}
	for _, m := range family.GetMetric() {
		got := make(map[string]string, len(m.GetLabel()))
		for _, l := range m.GetLabel() {
			got[l.GetName()] = l.GetValue()
		}
		match := true
		for k, v := range want {
			if got[k] != v {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	return nil
}

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	family := findFamily(t, name)
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)
	return family.GetMetric()[0].GetGauge().GetValue()
}
