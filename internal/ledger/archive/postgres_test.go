package archive

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/ledger"
)

func newMockArchive(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewWithDB(sqlx.NewDb(mockDB, "sqlmock")), mock
}

func resolvedRecord() ledger.Record {
	resolvedAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	outcome := true
	brier := 0.04
	correct := true
	pnl := 50.0
	return ledger.Record{
		ID:                  "rec-1",
		Platform:            "kalshi",
		MarketID:            "KXBTC-Y",
		Title:               "BTC above 100k",
		Category:            domain.CategoryCrypto,
		PredictedAt:         resolvedAt.Add(-24 * time.Hour),
		Estimate:            0.80,
		MarketPrice:         0.50,
		SignalSources:       []string{"whale"},
		Confidence:          0.7,
		ResolvedAt:          &resolvedAt,
		Outcome:             &outcome,
		BrierContribution:   &brier,
		WasCorrectDirection: &correct,
		ProfitLoss:          &pnl,
	}
}

func TestArchiveResolved_InsertsOnce(t *testing.T) {
	a, mock := newMockArchive(t)
	rec := resolvedRecord()

	mock.ExpectExec("INSERT INTO predictions").
		WithArgs(
			rec.ID, rec.Platform, rec.MarketID, rec.Title, "crypto", rec.PredictedAt,
			rec.Estimate, rec.MarketPrice, sqlmock.AnyArg(), rec.Confidence,
			rec.ResolvedAt, rec.Outcome, nil, rec.BrierContribution,
			rec.WasCorrectDirection, rec.ProfitLoss,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, a.ArchiveResolved(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveResolved_RejectsPendingRecords(t *testing.T) {
	a, _ := newMockArchive(t)

	err := a.ArchiveResolved(context.Background(), ledger.Record{ID: "pending"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not resolved")
}

func TestRecent_ScansRows(t *testing.T) {
	a, mock := newMockArchive(t)
	rec := resolvedRecord()

	columns := []string{
		"id", "platform", "market_id", "title", "category", "predicted_at",
		"estimate", "market_price", "signal_sources", "confidence",
		"resolved_at", "outcome", "final_price", "brier", "correct_direction", "profit_loss",
	}
	mock.ExpectQuery("SELECT (.+) FROM predictions").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			rec.ID, rec.Platform, rec.MarketID, rec.Title, "crypto", rec.PredictedAt,
			rec.Estimate, rec.MarketPrice, "{whale}", rec.Confidence,
			*rec.ResolvedAt, *rec.Outcome, nil, *rec.BrierContribution,
			*rec.WasCorrectDirection, *rec.ProfitLoss,
		))

	records, err := a.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Category, got.Category)
	assert.Equal(t, []string{"whale"}, got.SignalSources)
	assert.True(t, got.Resolved())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryProfit_Aggregates(t *testing.T) {
	a, mock := newMockArchive(t)

	mock.ExpectQuery("SELECT category, COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"category", "pnl"}).
			AddRow("crypto", 125.0).
			AddRow("sports", -40.0))

	profit, err := a.CategoryProfit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"crypto": 125.0, "sports": -40.0}, profit)
	assert.NoError(t, mock.ExpectationsWereMet())
}
