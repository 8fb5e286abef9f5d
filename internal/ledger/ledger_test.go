package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/domain"
)

func testPrediction(marketID string, estimate float64) Prediction {
	return Prediction{
		Platform:    "kalshi",
		MarketID:    marketID,
		Title:       "Test market " + marketID,
		Category:    domain.CategoryCrypto,
		Estimate:    estimate,
		MarketPrice: 0.50,
		Confidence:  0.6,
	}
}

func TestRecordPrediction_GeneratesIdentityAndPersists(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	rec := l.RecordPrediction(testPrediction("KXBTC-Y", 0.70))

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.PredictedAt.IsZero())
	assert.False(t, rec.Resolved())

	data, err := os.ReadFile(filepath.Join(dir, "predictions.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "KXBTC-Y")
}

func TestResolvePrediction_DerivesOutcomeFields(t *testing.T) {
	l := New(t.TempDir())
	l.RecordPrediction(testPrediction("KXBTC-Y", 0.70))

	final := 0.97
	rec, ok := l.ResolvePrediction("KXBTC-Y", true, &final)
	require.True(t, ok)

	require.NotNil(t, rec.ResolvedAt)
	require.NotNil(t, rec.Outcome)
	assert.True(t, *rec.Outcome)
	assert.InDelta(t, 0.09, *rec.BrierContribution, 1e-9) // (0.70-1)^2

	// Estimate above market price means the YES side was predicted.
	assert.True(t, *rec.WasCorrectDirection)
	assert.InDelta(t, 50.0, *rec.ProfitLoss, 1e-9) // 100*(1-0.50)
	assert.Equal(t, &final, rec.FinalPrice)
}

func TestResolvePrediction_WrongDirectionLosesStake(t *testing.T) {
	l := New(t.TempDir())
	p := testPrediction("KXETH-N", 0.30) // below market price: NO side
	l.RecordPrediction(p)

	rec, ok := l.ResolvePrediction("KXETH-N", true, nil)
	require.True(t, ok)
	assert.False(t, *rec.WasCorrectDirection)
	assert.InDelta(t, -50.0, *rec.ProfitLoss, 1e-9) // 100*(0.50-1)
}

func TestResolvePrediction_FirstUnresolvedWins(t *testing.T) {
	l := New(t.TempDir())
	first := l.RecordPrediction(testPrediction("KXBTC-Y", 0.60))
	second := l.RecordPrediction(testPrediction("KXBTC-Y", 0.80))

	rec, ok := l.ResolvePrediction("KXBTC-Y", true, nil)
	require.True(t, ok)
	assert.Equal(t, first.ID, rec.ID)

	rec, ok = l.ResolvePrediction("KXBTC-Y", false, nil)
	require.True(t, ok)
	assert.Equal(t, second.ID, rec.ID)

	_, ok = l.ResolvePrediction("KXBTC-Y", true, nil)
	assert.False(t, ok, "no pending record may remain")
}

func TestResolvePrediction_NeverRewritesSettledRecords(t *testing.T) {
	l := New(t.TempDir())
	l.RecordPrediction(testPrediction("KXBTC-Y", 0.60))

	first, ok := l.ResolvePrediction("KXBTC-Y", true, nil)
	require.True(t, ok)

	_, ok = l.ResolvePrediction("KXBTC-Y", false, nil)
	assert.False(t, ok)

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, first.ResolvedAt, records[0].ResolvedAt)
	assert.True(t, *records[0].Outcome)
}

func TestLedger_RoundTripThroughDisk(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.RecordPrediction(testPrediction("A", 0.55))
	l.RecordPrediction(testPrediction("B", 0.65))
	l.ResolvePrediction("A", true, nil)

	reloaded := New(dir)
	assert.Equal(t, l.Records(), reloaded.Records())
}

func TestLedger_MalformedFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "predictions.json"), []byte("{not json"), 0644))

	l := New(dir)
	assert.Equal(t, 0, l.Len())

	// The ledger stays usable and the next mutation rewrites the file.
	l.RecordPrediction(testPrediction("C", 0.5))
	assert.Equal(t, 1, New(dir).Len())
}

func TestCheckAndResolvePredictions_SweepsSettledMarkets(t *testing.T) {
	l := New(t.TempDir())
	l.RecordPrediction(testPrediction("SETTLED-YES", 0.70))
	l.RecordPrediction(testPrediction("SETTLED-NO", 0.70))
	l.RecordPrediction(testPrediction("OPEN", 0.70))
	l.RecordPrediction(testPrediction("ERRORED", 0.70))

	lookup := func(ctx context.Context, platform, marketID string) (bool, bool, error) {
		switch marketID {
		case "SETTLED-YES":
			return true, true, nil
		case "SETTLED-NO":
			return true, false, nil
		case "ERRORED":
			return false, false, errors.New("venue timeout")
		default:
			return false, false, nil
		}
	}

	resolved := l.CheckAndResolvePredictions(context.Background(), lookup)
	assert.Equal(t, 2, resolved)
	assert.Len(t, l.Pending(), 2)
}

type captureArchiver struct {
	ch chan Record
}

func (a *captureArchiver) ArchiveResolved(ctx context.Context, rec Record) error {
	a.ch <- rec
	return nil
}

func TestLedger_ArchiverReceivesResolvedRecords(t *testing.T) {
	l := New(t.TempDir())
	arch := &captureArchiver{ch: make(chan Record, 1)}
	l.SetArchiver(arch)

	l.RecordPrediction(testPrediction("KXBTC-Y", 0.70))
	rec, ok := l.ResolvePrediction("KXBTC-Y", true, nil)
	require.True(t, ok)

	archived := <-arch.ch
	assert.Equal(t, rec.ID, archived.ID)
	assert.True(t, archived.Resolved())
}
