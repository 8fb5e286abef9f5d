package ledger

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	ewio "github.com/edgewatch/edgewatch/internal/io"
)

const (
	// biasMinSamples gates category bias correction.
	biasMinSamples = 10
	// groupMinSamples gates per-category and per-signal report rows.
	groupMinSamples = 5
)

// Bucket is one cell of the ten-bucket reliability curve.
type Bucket struct {
	Low              float64 `json:"low"`
	High             float64 `json:"high"`
	Count            int     `json:"count"`
	EmpiricalYes     float64 `json:"empirical_yes"`
	CalibrationError float64 `json:"calibration_error"`
}

// GroupMetrics summarizes resolved records sharing a category or
// signal source.
type GroupMetrics struct {
	Count    int     `json:"count"`
	Brier    float64 `json:"brier"`
	Accuracy float64 `json:"accuracy"`
}

// WindowMetrics summarizes resolved records inside a trailing window.
type WindowMetrics struct {
	Days     int     `json:"days"`
	Count    int     `json:"count"`
	Brier    float64 `json:"brier"`
	Accuracy float64 `json:"accuracy"`
}

// Report is the calibration summary over all resolved records.
type Report struct {
	GeneratedAt         time.Time               `json:"generated_at"`
	TotalPredictions    int                     `json:"total_predictions"`
	ResolvedCount       int                     `json:"resolved_count"`
	BrierScore          float64                 `json:"brier_score"`
	DirectionalAccuracy float64                 `json:"directional_accuracy"`
	MeanConfidence      float64                 `json:"mean_confidence"`
	Buckets             [10]Bucket              `json:"buckets"`
	CalibrationError    float64                 `json:"calibration_error"`
	Overconfident       bool                    `json:"overconfident"`
	ByCategory          map[string]GroupMetrics `json:"by_category,omitempty"`
	BySignal            map[string]GroupMetrics `json:"by_signal,omitempty"`
	Rolling7d           *WindowMetrics          `json:"rolling_7d,omitempty"`
	Rolling30d          *WindowMetrics          `json:"rolling_30d,omitempty"`
}

// bucketIndex places an estimate into its reliability bucket. The last
// bucket is closed above so 1.0 lands in [0.9, 1.0].
func bucketIndex(estimate float64) int {
	idx := int(estimate * 10)
	if idx < 0 {
		return 0
	}
	if idx > 9 {
		return 9
	}
	return idx
}

// CalculateCalibration computes the report over all resolved records
// and persists it alongside the predictions file.
func (l *Ledger) CalculateCalibration() Report {
	report := l.Calibration()
	l.persistReport(report)
	return report
}

// Calibration computes the report without touching disk. Status
// endpoints use this so polling never causes writes.
func (l *Ledger) Calibration() Report {
	l.mu.RLock()
	records := make([]Record, len(l.records))
	copy(records, l.records)
	l.mu.RUnlock()

	report := Report{
		GeneratedAt:      time.Now().UTC(),
		TotalPredictions: len(records),
		ByCategory:       make(map[string]GroupMetrics),
		BySignal:         make(map[string]GroupMetrics),
	}
	for i := range report.Buckets {
		report.Buckets[i].Low = float64(i) / 10
		report.Buckets[i].High = float64(i+1) / 10
	}

	var resolved []Record
	for _, rec := range records {
		if rec.Resolved() {
			resolved = append(resolved, rec)
		}
	}
	report.ResolvedCount = len(resolved)
	if len(resolved) == 0 {
		return report
	}

	var brierSum, confidenceSum float64
	correct := 0
	bucketYes := [10]int{}
	for _, rec := range resolved {
		brierSum += *rec.BrierContribution
		confidenceSum += rec.Confidence
		if *rec.WasCorrectDirection {
			correct++
		}

		idx := bucketIndex(rec.Estimate)
		report.Buckets[idx].Count++
		if *rec.Outcome {
			bucketYes[idx]++
		}
	}

	n := float64(len(resolved))
	report.BrierScore = brierSum / n
	report.DirectionalAccuracy = float64(correct) / n
	report.MeanConfidence = confidenceSum / n
	report.Overconfident = report.MeanConfidence > report.DirectionalAccuracy+0.1

	var weightedError float64
	counted := 0
	for i := range report.Buckets {
		b := &report.Buckets[i]
		if b.Count == 0 {
			continue
		}
		b.EmpiricalYes = float64(bucketYes[i]) / float64(b.Count)
		midpoint := b.Low + 0.05
		b.CalibrationError = abs(midpoint - b.EmpiricalYes)
		weightedError += float64(b.Count) * b.CalibrationError
		counted += b.Count
	}
	if counted > 0 {
		report.CalibrationError = weightedError / float64(counted)
	}

	report.ByCategory = groupMetrics(resolved, func(rec Record) []string {
		return []string{string(rec.Category)}
	})
	report.BySignal = groupMetrics(resolved, func(rec Record) []string {
		return rec.SignalSources
	})

	report.Rolling7d = windowMetrics(resolved, 7, 3)
	report.Rolling30d = windowMetrics(resolved, 30, 10)

	return report
}

// groupMetrics aggregates resolved records per key, keeping groups
// with at least groupMinSamples members.
func groupMetrics(resolved []Record, keys func(Record) []string) map[string]GroupMetrics {
	type agg struct {
		count   int
		brier   float64
		correct int
	}
	groups := make(map[string]*agg)
	for _, rec := range resolved {
		for _, key := range keys(rec) {
			if key == "" {
				continue
			}
			g, ok := groups[key]
			if !ok {
				g = &agg{}
				groups[key] = g
			}
			g.count++
			g.brier += *rec.BrierContribution
			if *rec.WasCorrectDirection {
				g.correct++
			}
		}
	}

	out := make(map[string]GroupMetrics)
	for key, g := range groups {
		if g.count < groupMinSamples {
			continue
		}
		out[key] = GroupMetrics{
			Count:    g.count,
			Brier:    g.brier / float64(g.count),
			Accuracy: float64(g.correct) / float64(g.count),
		}
	}
	return out
}

// windowMetrics aggregates records resolved inside the trailing window,
// requiring minSamples to report at all.
func windowMetrics(resolved []Record, days, minSamples int) *WindowMetrics {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var count, correct int
	var brier float64
	for _, rec := range resolved {
		if rec.ResolvedAt.Before(cutoff) {
			continue
		}
		count++
		brier += *rec.BrierContribution
		if *rec.WasCorrectDirection {
			correct++
		}
	}
	if count < minSamples {
		return nil
	}
	return &WindowMetrics{
		Days:     days,
		Count:    count,
		Brier:    brier / float64(count),
		Accuracy: float64(correct) / float64(count),
	}
}

// CategoryBias returns mean(estimate) minus the empirical YES rate for
// the category, in [-1, 1]. Categories with fewer than 10 resolved
// records report zero so thin data never skews live estimates.
func (l *Ledger) CategoryBias(category domain.Category) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var estimates float64
	var yes, count int
	for _, rec := range l.records {
		if rec.Category != category || !rec.Resolved() {
			continue
		}
		count++
		estimates += rec.Estimate
		if *rec.Outcome {
			yes++
		}
	}
	if count < biasMinSamples {
		return 0
	}
	return estimates/float64(count) - float64(yes)/float64(count)
}

// signalAccuracy returns directional accuracy and sample count for one
// signal source over resolved records. Caller holds at least the read
// lock.
func (l *Ledger) signalAccuracyLocked(signal string) (float64, int) {
	var correct, count int
	for _, rec := range l.records {
		if !rec.Resolved() {
			continue
		}
		for _, s := range rec.SignalSources {
			if s != signal {
				continue
			}
			count++
			if *rec.WasCorrectDirection {
				correct++
			}
			break
		}
	}
	if count == 0 {
		return 0, 0
	}
	return float64(correct) / float64(count), count
}

// ReasonNoHistory is the Adjustment reasoning when the ledger holds no
// resolved history bearing on an estimate. Callers can treat such an
// adjustment as a no-op.
const ReasonNoHistory = "no calibration history applied"

// Adjustment is the result of applying historical calibration to one
// raw estimate.
type Adjustment struct {
	AdjustedEstimate float64 `json:"adjusted_estimate"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
}

// AdjustForCalibration corrects an estimate for category bias and
// scales confidence by per-signal track records. Pure over the ledger
// state: same inputs, same outputs.
func (l *Ledger) AdjustForCalibration(estimate float64, category domain.Category, signalSources []string) Adjustment {
	bias := l.CategoryBias(category)

	var reasons []string
	adjusted := clamp(estimate-bias, 0.01, 0.99)
	if bias != 0 {
		reasons = append(reasons, fmt.Sprintf("%s bias %+.2f corrected", category, -bias))
	}

	multiplier := 1.0
	l.mu.RLock()
	for _, signal := range signalSources {
		accuracy, count := l.signalAccuracyLocked(signal)
		if count < biasMinSamples {
			continue
		}
		switch {
		case accuracy > 0.6:
			multiplier *= 1.1
			reasons = append(reasons, fmt.Sprintf("signal %s historically strong (%.0f%% over %d)", signal, accuracy*100, count))
		case accuracy < 0.4:
			multiplier *= 0.8
			reasons = append(reasons, fmt.Sprintf("signal %s historically weak (%.0f%% over %d)", signal, accuracy*100, count))
		}
	}
	l.mu.RUnlock()

	confidence := clamp(0.7*multiplier, 0.3, 0.95)
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonNoHistory)
	}

	return Adjustment{
		AdjustedEstimate: adjusted,
		Confidence:       confidence,
		Reasoning:        strings.Join(reasons, "; "),
	}
}

// persistReport writes the latest calibration report next to the
// predictions file. Failure logs and moves on.
func (l *Ledger) persistReport(report Report) {
	path := filepath.Join(l.dir, calibrationFile)
	if err := ewio.WriteJSONAtomic(path, report); err != nil {
		log.Error().Str("path", path).Err(err).Msg("failed to persist calibration report")
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
