package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	ewio "github.com/edgewatch/edgewatch/internal/io"
	"github.com/edgewatch/edgewatch/internal/metrics"
)

const (
	predictionsFile = "predictions.json"
	calibrationFile = "calibration.json"

	// Notional is the simulated stake per prediction: 100 contracts
	// paying $1 each.
	Notional = 100.0
)

// Record is one ledger entry. Created on emission, resolved at most
// once, never deleted.
type Record struct {
	ID            string          `json:"id"`
	Platform      string          `json:"platform"`
	MarketID      string          `json:"market_id"`
	Title         string          `json:"title,omitempty"`
	Category      domain.Category `json:"category"`
	PredictedAt   time.Time       `json:"predicted_at"`
	Estimate      float64         `json:"estimate"`
	MarketPrice   float64         `json:"market_price"`
	SignalSources []string        `json:"signal_sources,omitempty"`
	Confidence    float64         `json:"confidence"`

	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	Outcome             *bool      `json:"outcome,omitempty"`
	FinalPrice          *float64   `json:"final_price,omitempty"`
	BrierContribution   *float64   `json:"brier_contribution,omitempty"`
	WasCorrectDirection *bool      `json:"was_correct_direction,omitempty"`
	ProfitLoss          *float64   `json:"profit_loss,omitempty"`
}

// Resolved reports whether the record's outcome is known.
func (r Record) Resolved() bool {
	return r.ResolvedAt != nil
}

// Prediction carries the fields of a new record; id and predictedAt
// are generated on append.
type Prediction struct {
	Platform      string
	MarketID      string
	Title         string
	Category      domain.Category
	Estimate      float64
	MarketPrice   float64
	SignalSources []string
	Confidence    float64
}

// Archiver receives resolved records for long-term storage outside the
// JSON files. Failures must be handled by the implementation; the
// ledger does not retry.
type Archiver interface {
	ArchiveResolved(ctx context.Context, rec Record) error
}

// Ledger is the durable prediction log. One writer at a time mutates
// the in-memory list and rewrites the JSON file; readers work from a
// consistent snapshot under the read lock.
type Ledger struct {
	mu      sync.RWMutex
	records []Record
	dir     string

	archiver Archiver
}

// New loads the ledger from dir. A missing file starts empty; a
// malformed one is reset to empty with an error log, never a crash.
func New(dir string) *Ledger {
	l := &Ledger{dir: dir}

	path := filepath.Join(dir, predictionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Str("path", path).Err(err).Msg("failed to read prediction ledger, starting empty")
		}
		return l
	}

	if err := json.Unmarshal(data, &l.records); err != nil {
		log.Error().Str("path", path).Err(err).Msg("prediction ledger malformed, starting empty")
		l.records = nil
	}
	return l
}

// SetArchiver attaches an optional resolved-record archive.
func (l *Ledger) SetArchiver(a Archiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archiver = a
}

// RecordPrediction appends a new record and persists the ledger.
func (l *Ledger) RecordPrediction(p Prediction) Record {
	rec := Record{
		ID:            uuid.NewString(),
		Platform:      p.Platform,
		MarketID:      p.MarketID,
		Title:         p.Title,
		Category:      p.Category,
		PredictedAt:   time.Now().UTC(),
		Estimate:      p.Estimate,
		MarketPrice:   p.MarketPrice,
		SignalSources: p.SignalSources,
		Confidence:    p.Confidence,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.persistLocked()
	l.mu.Unlock()

	metrics.RecordPrediction("recorded")
	log.Debug().
		Str("id", rec.ID).
		Str("market", rec.Platform+":"+rec.MarketID).
		Float64("estimate", rec.Estimate).
		Msg("prediction recorded")
	return rec
}

// ResolvePrediction settles the first unresolved record for marketID.
// The second return is false when no record is pending.
func (l *Ledger) ResolvePrediction(marketID string, outcome bool, finalPrice *float64) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.records {
		rec := &l.records[i]
		if rec.MarketID != marketID || rec.Resolved() {
			continue
		}

		now := time.Now().UTC()
		rec.ResolvedAt = &now
		rec.Outcome = &outcome
		rec.FinalPrice = finalPrice

		outcomeValue := 0.0
		if outcome {
			outcomeValue = 1.0
		}
		brier := (rec.Estimate - outcomeValue) * (rec.Estimate - outcomeValue)
		rec.BrierContribution = &brier

		predictedYes := rec.Estimate > rec.MarketPrice
		correct := predictedYes == outcome
		rec.WasCorrectDirection = &correct

		// Stake Notional contracts on the predicted side at the
		// recorded market price.
		var pnl float64
		if predictedYes {
			pnl = Notional * (outcomeValue - rec.MarketPrice)
		} else {
			pnl = Notional * (rec.MarketPrice - outcomeValue)
		}
		rec.ProfitLoss = &pnl

		l.persistLocked()

		resolved := *rec
		metrics.RecordPrediction("resolved")
		log.Info().
			Str("id", resolved.ID).
			Str("market", resolved.Platform+":"+resolved.MarketID).
			Bool("outcome", outcome).
			Bool("correct", correct).
			Float64("brier", brier).
			Msg("prediction resolved")

		if l.archiver != nil {
			go func(rec Record) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := l.archiver.ArchiveResolved(ctx, rec); err != nil {
					log.Warn().Str("id", rec.ID).Err(err).Msg("failed to archive resolved prediction")
				}
			}(resolved)
		}
		return resolved, true
	}

	return Record{}, false
}

// OutcomeLookup answers whether a market has settled and how. Used by
// CheckAndResolvePredictions; errors skip the record for this pass.
type OutcomeLookup func(ctx context.Context, platform, marketID string) (settled bool, outcome bool, err error)

// CheckAndResolvePredictions sweeps pending records through lookup and
// resolves those that have settled. Returns the number resolved.
func (l *Ledger) CheckAndResolvePredictions(ctx context.Context, lookup OutcomeLookup) int {
	pending := l.Pending()

	resolved := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		settled, outcome, err := lookup(ctx, rec.Platform, rec.MarketID)
		if err != nil {
			log.Debug().Str("market", rec.Platform+":"+rec.MarketID).Err(err).Msg("outcome lookup failed")
			continue
		}
		if !settled {
			continue
		}
		if _, ok := l.ResolvePrediction(rec.MarketID, outcome, nil); ok {
			resolved++
		}
	}

	if resolved > 0 {
		log.Info().Int("resolved", resolved).Msg("settled pending predictions")
	}
	return resolved
}

// Pending returns unresolved records in append order.
func (l *Ledger) Pending() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Record
	for _, rec := range l.records {
		if !rec.Resolved() {
			out = append(out, rec)
		}
	}
	return out
}

// Records returns a snapshot of every record in append order.
func (l *Ledger) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the record count.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// persistLocked rewrites the predictions file. Callers hold the write
// lock. A disk failure keeps the in-memory mutation and logs; the next
// mutation retries the write.
func (l *Ledger) persistLocked() {
	path := filepath.Join(l.dir, predictionsFile)
	records := l.records
	if records == nil {
		records = []Record{}
	}
	if err := ewio.WriteJSONAtomic(path, records); err != nil {
		log.Error().Str("path", path).Err(err).Msg("failed to persist prediction ledger")
	}
}
