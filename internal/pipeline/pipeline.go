// Package pipeline orchestrates a scan end to end: plan which sources
// the enabled detectors need, fetch them through the cache, run
// processors, fan out detectors, then calibrate, gate, record and
// route what survives. One Engine runs one scan at a time.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edgewatch/edgewatch/internal/cache"
	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/gates"
	"github.com/edgewatch/edgewatch/internal/ledger"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/processors"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/router"
)

// DefaultScanDeadline bounds one full scan end to end.
const DefaultScanDeadline = 120 * time.Second

// defaultDetectorLimit caps detectors running concurrently.
const defaultDetectorLimit = 4

// Config tunes scan execution.
type Config struct {
	// ScanDeadline bounds one scan; zero or negative means
	// DefaultScanDeadline.
	ScanDeadline time.Duration
	// MarketSources names sources fetched on every scan regardless of
	// detector declarations, so their market payloads always seed the
	// shared snapshot.
	MarketSources []string
	// DetectorLimit caps detectors running at once; zero means 4.
	DetectorLimit int
}

// Engine owns scan execution. Collaborators are fixed at construction;
// the optional ledger and gate thresholds attach through setters
// before the first scan.
type Engine struct {
	cfg   Config
	reg   *registry.Registry
	cache *cache.SourceCache
	rt    *router.Router

	ledger  *ledger.Ledger
	gateCfg *gates.Config

	scanMu sync.Mutex

	mu    sync.RWMutex
	state State
	last  Report
}

// New creates an engine over a registry, cache and router.
func New(reg *registry.Registry, sc *cache.SourceCache, rt *router.Router, cfg Config) *Engine {
	if cfg.ScanDeadline <= 0 {
		cfg.ScanDeadline = DefaultScanDeadline
	}
	if cfg.DetectorLimit <= 0 {
		cfg.DetectorLimit = defaultDetectorLimit
	}
	return &Engine{
		cfg:   cfg,
		reg:   reg,
		cache: sc,
		rt:    rt,
		state: StateIdle,
	}
}

// SetLedger attaches the prediction ledger used for calibration and
// outcome tracking. Without one, scans route opportunities but record
// nothing.
func (e *Engine) SetLedger(l *ledger.Ledger) {
	e.ledger = l
}

// SetGateConfig overrides the default gate thresholds.
func (e *Engine) SetGateConfig(cfg *gates.Config) {
	e.gateCfg = cfg
}

// State reports the engine's current phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// LastReport returns the most recent finished scan, if any.
func (e *Engine) LastReport() (Report, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last, e.last.State != ""
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) remember(r Report) {
	e.mu.Lock()
	e.last = r
	e.mu.Unlock()
}

// Scan runs one full pass under the configured deadline. Concurrent
// calls serialize; the second waits for the first to finish.
func (e *Engine) Scan(ctx context.Context) (Report, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScanDeadline)
	defer cancel()

	metrics.ScanStarted()
	defer metrics.ScanFinished()

	report := &Report{StartedAt: time.Now(), GateDrops: make(map[string]int)}

	if err := e.enter(ctx, StatePlanning); err != nil {
		return e.abort(report, err)
	}
	plan := e.plan()
	report.Sources = plan.sources
	log.Info().
		Int("detectors", len(plan.detectors)).
		Strs("sources", plan.sources).
		Msg("scan planned")

	if err := e.enter(ctx, StateFetching); err != nil {
		return e.abort(report, err)
	}
	timer := metrics.StartPhase("fetch")
	data := e.cache.FetchSources(ctx, plan.sources)
	timer.Stop(resultLabel(ctx))

	markets := marketSnapshot(data)
	report.Markets = len(markets)

	// Processors run at the tail of the fetch phase: they enrich the
	// fetched data before any detector sees it.
	timer = metrics.StartPhase("process")
	report.Processed = processors.Run(ctx, e.reg, data)
	timer.Stop(resultLabel(ctx))

	if err := e.enter(ctx, StateDetecting); err != nil {
		return e.abort(report, err)
	}
	timer = metrics.StartPhase("detect")
	ops := e.detect(ctx, plan.detectors, markets, data)
	timer.Stop(resultLabel(ctx))
	report.Detected = len(ops)

	if err := e.enter(ctx, StateGating); err != nil {
		return e.abort(report, err)
	}
	timer = metrics.StartPhase("gate")
	passed := gate(gates.NewEvaluator(e.gateCfg), e.calibrate(ops, report), report)
	timer.Stop(resultLabel(ctx))
	report.Emitted = len(passed)

	if err := e.enter(ctx, StateRouting); err != nil {
		return e.abort(report, err)
	}
	timer = metrics.StartPhase("route")
	e.record(passed, report)
	emit := make([]domain.Opportunity, len(passed))
	for i, s := range passed {
		emit[i] = s.op
	}
	report.Dispatch = e.rt.Dispatch(ctx, emit)
	timer.Stop(resultLabel(ctx))

	e.setState(StateDone)
	report.State = StateDone
	report.Duration = time.Since(report.StartedAt)
	e.remember(*report)

	log.Info().
		Int("markets", report.Markets).
		Int("detected", report.Detected).
		Int("emitted", report.Emitted).
		Int("delivered", report.Dispatch.Delivered).
		Dur("duration", report.Duration).
		Msg("scan complete")
	return *report, nil
}

// enter moves the scan into the next phase unless the deadline already
// fell. The check sits on the phase boundary so a phase that ran long
// stops the scan before the next one starts work.
func (e *Engine) enter(ctx context.Context, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.setState(next)
	return nil
}

// abort finalizes a scan cut short. Nothing is emitted past the phase
// that hit the deadline.
func (e *Engine) abort(report *Report, err error) (Report, error) {
	during := e.State()
	e.setState(StateAborted)
	report.State = StateAborted
	report.AbortReason = err.Error()
	report.Duration = time.Since(report.StartedAt)
	e.remember(*report)

	log.Warn().Str("phase", string(during)).Err(err).Msg("scan aborted")
	return *report, fmt.Errorf("scan aborted during %s: %w", during, err)
}

// scanPlan pairs the detectors that will run with the sources they
// collectively need fetched.
type scanPlan struct {
	detectors []registry.Detector
	sources   []string
}

// plan resolves the fetch set for this scan: the configured market
// sources plus every enabled detector's declared dependencies, with
// processor outputs traced back to the raw sources that feed them.
func (e *Engine) plan() scanPlan {
	detectors := e.reg.EnabledDetectors()

	need := make(map[string]struct{})
	for _, name := range e.cfg.MarketSources {
		need[name] = struct{}{}
	}
	for _, det := range detectors {
		for _, dep := range det.Sources {
			for _, src := range e.resolveDep(dep, 0) {
				need[src] = struct{}{}
			}
		}
	}

	sources := make([]string, 0, len(need))
	for name := range need {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return scanPlan{detectors: detectors, sources: sources}
}

// resolveDep maps one declared dependency to the raw sources that
// satisfy it, walking processor chains. Unknown names pass through so
// the cache reports the miss.
func (e *Engine) resolveDep(dep string, depth int) []string {
	if depth > 4 {
		log.Warn().Str("dependency", dep).Msg("processor chain too deep, truncating plan")
		return nil
	}
	if _, ok := e.reg.Source(dep); ok {
		return []string{dep}
	}
	for _, proc := range e.reg.Processors() {
		if proc.OutputName() != dep {
			continue
		}
		var resolved []string
		for _, input := range proc.Inputs {
			resolved = append(resolved, e.resolveDep(input, depth+1)...)
		}
		return resolved
	}
	return []string{dep}
}

// marketSnapshot merges every fetched market list into one slice,
// ordered by market key so downstream iteration is deterministic.
func marketSnapshot(data domain.SourceData) []domain.Market {
	var all []domain.Market
	for _, payload := range data {
		if markets, ok := payload.([]domain.Market); ok {
			all = append(all, markets...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Key() < all[j].Key() })
	return all
}

// detect fans enabled detectors out over the snapshot and collects
// their opportunities, strongest edge first so per-market dedup later
// keeps the best claim.
func (e *Engine) detect(ctx context.Context, detectors []registry.Detector, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
	var (
		mu  sync.Mutex
		out []domain.Opportunity
	)

	var g errgroup.Group
	g.SetLimit(e.cfg.DetectorLimit)
	for _, det := range detectors {
		if !runnable(det, data) {
			log.Debug().
				Str("detector", det.Name).
				Strs("needs", det.Sources).
				Msg("detector inputs unavailable, skipping")
			continue
		}
		det := det
		g.Go(func() error {
			ops := runDetector(ctx, det, markets, data)
			mu.Lock()
			out = append(out, ops...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Edge != out[j].Edge {
			return out[i].Edge > out[j].Edge
		}
		return out[i].Market.Key() < out[j].Market.Key()
	})
	return out
}

// runnable reports whether a detector's declared inputs are satisfied.
// Partial-tolerant detectors run with any one declared source present.
func runnable(det registry.Detector, data domain.SourceData) bool {
	if data.Has(det.Sources...) {
		return true
	}
	if !det.AllowPartial {
		return false
	}
	for _, name := range det.Sources {
		if data.Has(name) {
			return true
		}
	}
	return false
}

// runDetector executes one detector with panic isolation and applies
// its declared edge and confidence floors to what it returns.
func runDetector(ctx context.Context, det registry.Detector, markets []domain.Market, data domain.SourceData) (ops []domain.Opportunity) {
	start := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			ops = nil
			log.Error().
				Str("detector", det.Name).
				Interface("panic", r).
				Msg("detector panicked")
		}
		metrics.RecordDetector(det.Name, time.Since(start), result)
	}()

	raw := det.Detect(ctx, markets, data)

	kept := raw[:0:0]
	for _, op := range raw {
		if err := op.Validate(); err != nil {
			log.Warn().Str("detector", det.Name).Err(err).Msg("detector produced invalid opportunity")
			continue
		}
		if op.Edge < det.MinEdge {
			log.Debug().
				Str("detector", det.Name).
				Str("market", op.Market.Key()).
				Float64("edge", op.Edge).
				Msg("below detector edge floor")
			continue
		}
		if op.Confidence < det.MinConfidence {
			log.Debug().
				Str("detector", det.Name).
				Str("market", op.Market.Key()).
				Float64("confidence", op.Confidence).
				Msg("below detector confidence floor")
			continue
		}
		kept = append(kept, op)
	}
	return kept
}

// scored pairs an opportunity with the raw detector estimate, so the
// ledger records what the detector believed before calibration.
type scored struct {
	op  domain.Opportunity
	raw float64
}

// calibrate applies ledger history to each opportunity. Bias shifts
// the estimate, never the direction: an adjustment that erases the
// edge drops the opportunity instead of flipping sides. Without
// history the opportunity passes through untouched.
func (e *Engine) calibrate(ops []domain.Opportunity, report *Report) []scored {
	out := make([]scored, 0, len(ops))
	for _, op := range ops {
		raw := op.Estimate()
		if e.ledger == nil {
			out = append(out, scored{op: op, raw: raw})
			continue
		}

		adj := e.ledger.AdjustForCalibration(raw, op.Market.Category, op.Signals.Tags())
		if adj.Reasoning == ledger.ReasonNoHistory {
			out = append(out, scored{op: op, raw: raw})
			continue
		}

		edge := adj.AdjustedEstimate - op.Market.Price
		if op.Direction == domain.BuyNo {
			edge = op.Market.Price - adj.AdjustedEstimate
		}
		if edge <= 0 {
			log.Debug().
				Str("market", op.Market.Key()).
				Str("source", op.Source).
				Float64("raw_estimate", raw).
				Float64("adjusted", adj.AdjustedEstimate).
				Msg("calibration erased edge, dropping")
			report.CalibratedOut++
			continue
		}

		op.Edge = edge
		op.Confidence = adj.Confidence
		if op.Reasoning != "" {
			op.Reasoning += "; "
		}
		op.Reasoning += adj.Reasoning
		report.Calibrated++
		out = append(out, scored{op: op, raw: raw})
	}
	return out
}

// gate runs the hard gate over calibrated opportunities in order.
func gate(ev *gates.Evaluator, ops []scored, report *Report) []scored {
	passed := ops[:0:0]
	for _, s := range ops {
		result := ev.Evaluate(s.op)
		if !result.Passed {
			report.GateDrops[result.Reason]++
			continue
		}
		passed = append(passed, s)
	}
	return passed
}

// record books every emitted opportunity with the detector's
// unadjusted estimate, so calibration reports measure the detectors
// rather than the corrections layered on top of them.
func (e *Engine) record(passed []scored, report *Report) {
	if e.ledger == nil {
		return
	}
	for _, s := range passed {
		e.ledger.RecordPrediction(ledger.Prediction{
			Platform:      s.op.Market.Platform,
			MarketID:      s.op.Market.ID,
			Title:         s.op.Market.Title,
			Category:      s.op.Market.Category,
			Estimate:      s.raw,
			MarketPrice:   s.op.Market.Price,
			SignalSources: s.op.Signals.Tags(),
			Confidence:    s.op.Confidence,
		})
		report.Recorded++
	}
}

func resultLabel(ctx context.Context) string {
	if ctx.Err() != nil {
		return "aborted"
	}
	return "ok"
}
