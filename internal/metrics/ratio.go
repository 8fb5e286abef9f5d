package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// updateCacheHitRatio recomputes the hit-ratio gauge from the fetch
// counter family. Gathering the default registry gives the summed
// per-source counters without tracking label values separately.
func (m *Registry) updateCacheHitRatio() {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return
	}

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "edgewatch_source_fetches_total" {
			family = f
			break
		}
	}
	if family == nil {
		return
	}

	var hits, total float64
	for _, metric := range family.GetMetric() {
		value := metric.GetCounter().GetValue()
		total += value
		for _, label := range metric.GetLabel() {
			if label.GetName() == "outcome" && label.GetValue() == OutcomeCached {
				hits += value
			}
		}
	}

	if total > 0 {
		m.CacheHitRatio.Set(hits / total)
	}
}
