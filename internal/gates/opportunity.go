package gates

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/metrics"
)

// Drop reason tags attached to gate rejections.
const (
	ReasonExtreme       = "extreme"
	ReasonSuspicious    = "suspicious"
	ReasonLowConfidence = "low_confidence"
	ReasonDuplicate     = "duplicate"
)

// highEdgeSignals are the signal families trusted with a wider edge
// ceiling: their detectors work from ground truth (book consensus,
// scheduled events) rather than inference.
var highEdgeSignals = []domain.SignalTag{
	domain.SignalPlayerProp,
	domain.SignalSportsConsensus,
	domain.SignalEnhancedSports,
	domain.SignalEarnings,
	domain.SignalFedSpeech,
}

// Config contains hard thresholds for the opportunity gate.
type Config struct {
	MinPrice       float64 `yaml:"min_price"`        // ≥0.02
	MaxPrice       float64 `yaml:"max_price"`        // ≤0.98
	BaseMaxEdge    float64 `yaml:"base_max_edge"`    // ≤0.50 for ordinary signals
	TrustedMaxEdge float64 `yaml:"trusted_max_edge"` // ≤0.90 for trusted signal families
	MinConfidence  float64 `yaml:"min_confidence"`   // ≥0.35
}

// DefaultConfig returns production gate thresholds.
func DefaultConfig() *Config {
	return &Config{
		MinPrice:       0.02,
		MaxPrice:       0.98,
		BaseMaxEdge:    0.50,
		TrustedMaxEdge: 0.90,
		MinConfidence:  0.35,
	}
}

// Check records one gate criterion.
type Check struct {
	Name        string `json:"name"`
	Passed      bool   `json:"passed"`
	Value       any    `json:"value"`
	Threshold   any    `json:"threshold"`
	Description string `json:"description"`
}

// Result is the full gate outcome for one opportunity.
type Result struct {
	Passed  bool    `json:"passed"`
	Reason  string  `json:"reason,omitempty"` // first failing reason tag
	MaxEdge float64 `json:"max_edge"`
	Checks  []Check `json:"checks"`
}

// Evaluator applies the gate to one scan's opportunities. It tracks
// emitted market keys so the first opportunity past the gate wins and
// later ones drop as duplicates. Create a fresh evaluator per scan.
type Evaluator struct {
	cfg *Config

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewEvaluator creates a per-scan gate evaluator.
func NewEvaluator(cfg *Config) *Evaluator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Evaluator{
		cfg:  cfg,
		seen: make(map[string]struct{}),
	}
}

// MaxEdgeFor returns the edge ceiling for an opportunity's signal set.
func (e *Evaluator) MaxEdgeFor(o domain.Opportunity) float64 {
	if o.Signals.Has(highEdgeSignals...) {
		return e.cfg.TrustedMaxEdge
	}
	return e.cfg.BaseMaxEdge
}

// Evaluate runs the gate criteria in order: price band, edge ceiling,
// confidence floor, per-scan duplicate. A passing opportunity is
// marked emitted atomically with its check.
func (e *Evaluator) Evaluate(o domain.Opportunity) Result {
	maxEdge := e.MaxEdgeFor(o)
	result := Result{MaxEdge: maxEdge}

	price := o.Market.Price
	priceOK := price >= e.cfg.MinPrice && price <= e.cfg.MaxPrice
	result.Checks = append(result.Checks, Check{
		Name:        "price_band",
		Passed:      priceOK,
		Value:       price,
		Threshold:   fmt.Sprintf("[%.2f, %.2f]", e.cfg.MinPrice, e.cfg.MaxPrice),
		Description: fmt.Sprintf("price %.3f within tradable band", price),
	})
	if !priceOK {
		return e.reject(o, result, ReasonExtreme)
	}

	edgeOK := o.Edge <= maxEdge
	result.Checks = append(result.Checks, Check{
		Name:        "edge_ceiling",
		Passed:      edgeOK,
		Value:       o.Edge,
		Threshold:   maxEdge,
		Description: fmt.Sprintf("edge %.3f within ceiling %.2f", o.Edge, maxEdge),
	})
	if !edgeOK {
		return e.reject(o, result, ReasonSuspicious)
	}

	confidenceOK := o.Confidence >= e.cfg.MinConfidence
	result.Checks = append(result.Checks, Check{
		Name:        "confidence_floor",
		Passed:      confidenceOK,
		Value:       o.Confidence,
		Threshold:   e.cfg.MinConfidence,
		Description: fmt.Sprintf("confidence %.3f above floor", o.Confidence),
	})
	if !confidenceOK {
		return e.reject(o, result, ReasonLowConfidence)
	}

	key := o.Market.Key()
	e.mu.Lock()
	_, dup := e.seen[key]
	if !dup {
		e.seen[key] = struct{}{}
	}
	e.mu.Unlock()
	result.Checks = append(result.Checks, Check{
		Name:        "scan_duplicate",
		Passed:      !dup,
		Value:       key,
		Threshold:   "first emission per market",
		Description: fmt.Sprintf("market %s not yet emitted this scan", key),
	})
	if dup {
		return e.reject(o, result, ReasonDuplicate)
	}

	result.Passed = true
	return result
}

// reject finalizes a failed result and logs the drop.
func (e *Evaluator) reject(o domain.Opportunity, result Result, reason string) Result {
	result.Passed = false
	result.Reason = reason

	log.Debug().
		Str("market", o.Market.Key()).
		Str("source", o.Source).
		Str("reason", reason).
		Float64("edge", o.Edge).
		Float64("price", o.Market.Price).
		Float64("confidence", o.Confidence).
		Msg("opportunity dropped at gate")
	metrics.RecordGateDrop(reason)

	return result
}

// Emitted returns how many opportunities passed the gate so far.
func (e *Evaluator) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}
