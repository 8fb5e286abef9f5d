package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
	id                TEXT PRIMARY KEY,
	platform          TEXT NOT NULL,
	market_id         TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	predicted_at      TIMESTAMPTZ NOT NULL,
	estimate          DOUBLE PRECISION NOT NULL,
	market_price      DOUBLE PRECISION NOT NULL,
	signal_sources    TEXT[] NOT NULL DEFAULT '{}',
	confidence        DOUBLE PRECISION NOT NULL,
	resolved_at       TIMESTAMPTZ NOT NULL,
	outcome           BOOLEAN NOT NULL,
	final_price       DOUBLE PRECISION,
	brier             DOUBLE PRECISION NOT NULL,
	correct_direction BOOLEAN NOT NULL,
	profit_loss       DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS predictions_resolved_at_idx ON predictions (resolved_at DESC);
CREATE INDEX IF NOT EXISTS predictions_category_idx ON predictions (category);`

// Postgres archives resolved prediction records for long-term
// analysis. The JSON ledger stays authoritative; the archive is a
// write-behind copy.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and ensures the predictions table exists.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}

	a := &Postgres{db: db, timeout: 10 * time.Second}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure archive schema: %w", err)
	}
	return a, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, timeout: 10 * time.Second}
}

// Close releases the connection pool.
func (a *Postgres) Close() error {
	return a.db.Close()
}

// ArchiveResolved inserts one resolved record. Replays of the same id
// are ignored so the ledger can retry freely.
func (a *Postgres) ArchiveResolved(ctx context.Context, rec ledger.Record) error {
	if !rec.Resolved() {
		return fmt.Errorf("record %s is not resolved", rec.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	query := `
		INSERT INTO predictions (
			id, platform, market_id, title, category, predicted_at,
			estimate, market_price, signal_sources, confidence,
			resolved_at, outcome, final_price, brier, correct_direction, profit_loss
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING`

	_, err := a.db.ExecContext(ctx, query,
		rec.ID, rec.Platform, rec.MarketID, rec.Title, string(rec.Category), rec.PredictedAt,
		rec.Estimate, rec.MarketPrice, pq.Array(rec.SignalSources), rec.Confidence,
		rec.ResolvedAt, rec.Outcome, rec.FinalPrice, rec.BrierContribution,
		rec.WasCorrectDirection, rec.ProfitLoss)
	if err != nil {
		return fmt.Errorf("failed to archive prediction %s: %w", rec.ID, err)
	}
	return nil
}

// predictionRow maps the predictions table for sqlx scanning.
type predictionRow struct {
	ID               string         `db:"id"`
	Platform         string         `db:"platform"`
	MarketID         string         `db:"market_id"`
	Title            string         `db:"title"`
	Category         string         `db:"category"`
	PredictedAt      time.Time      `db:"predicted_at"`
	Estimate         float64        `db:"estimate"`
	MarketPrice      float64        `db:"market_price"`
	SignalSources    pq.StringArray `db:"signal_sources"`
	Confidence       float64        `db:"confidence"`
	ResolvedAt       time.Time      `db:"resolved_at"`
	Outcome          bool           `db:"outcome"`
	FinalPrice       *float64       `db:"final_price"`
	Brier            float64        `db:"brier"`
	CorrectDirection bool           `db:"correct_direction"`
	ProfitLoss       float64        `db:"profit_loss"`
}

func (r predictionRow) toRecord() ledger.Record {
	rec := ledger.Record{
		ID:                  r.ID,
		Platform:            r.Platform,
		MarketID:            r.MarketID,
		Title:               r.Title,
		Category:            domain.Category(r.Category),
		PredictedAt:         r.PredictedAt,
		Estimate:            r.Estimate,
		MarketPrice:         r.MarketPrice,
		SignalSources:       r.SignalSources,
		Confidence:          r.Confidence,
		ResolvedAt:          &r.ResolvedAt,
		Outcome:             &r.Outcome,
		FinalPrice:          r.FinalPrice,
		BrierContribution:   &r.Brier,
		WasCorrectDirection: &r.CorrectDirection,
		ProfitLoss:          &r.ProfitLoss,
	}
	return rec
}

// Recent returns the most recently resolved records, newest first.
func (a *Postgres) Recent(ctx context.Context, limit int) ([]ledger.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	query := `
		SELECT id, platform, market_id, title, category, predicted_at,
		       estimate, market_price, signal_sources, confidence,
		       resolved_at, outcome, final_price, brier, correct_direction, profit_loss
		FROM predictions
		ORDER BY resolved_at DESC
		LIMIT $1`

	var rows []predictionRow
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to read archived predictions: %w", err)
	}

	out := make([]ledger.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// CategoryProfit sums simulated profit and loss per category.
func (a *Postgres) CategoryProfit(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	query := `SELECT category, COALESCE(SUM(profit_loss), 0) AS pnl FROM predictions GROUP BY category`

	rows, err := a.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate archive profit: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var category string
		var pnl float64
		if err := rows.Scan(&category, &pnl); err != nil {
			return nil, fmt.Errorf("failed to scan archive profit row: %w", err)
		}
		out[category] = pnl
	}
	return out, rows.Err()
}
