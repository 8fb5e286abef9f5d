package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/cache"
	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/gates"
	"github.com/edgewatch/edgewatch/internal/ledger"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/router"
)

type delivered struct {
	channel domain.Channel
	op      domain.Opportunity
}

type captureSink struct {
	mu  sync.Mutex
	got []delivered
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, channel domain.Channel, op domain.Opportunity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, delivered{channel: channel, op: op})
	return true
}

func (s *captureSink) deliveries() []delivered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivered(nil), s.got...)
}

func scanMarket(id string, category domain.Category, price float64) domain.Market {
	return domain.Market{
		Platform: "kalshi",
		ID:       id,
		Title:    "Test market " + id,
		Category: category,
		Price:    price,
		Volume:   5000,
	}
}

func marketSource(name string, hits *atomic.Int32, markets ...domain.Market) registry.Source {
	return registry.Source{
		Name: name,
		Fetch: func(ctx context.Context) (any, error) {
			if hits != nil {
				hits.Add(1)
			}
			return markets, nil
		},
	}
}

func opFor(m domain.Market, source string, edge, confidence float64) domain.Opportunity {
	return domain.Opportunity{
		Market:     m,
		Source:     source,
		Edge:       edge,
		Confidence: confidence,
		Direction:  domain.BuyYes,
		Urgency:    domain.UrgencyStandard,
	}
}

func TestScan_FullPassDeliversAndRecords(t *testing.T) {
	reg := registry.New()
	var fetches atomic.Int32
	btc := scanMarket("BTC-100K", domain.CategoryCrypto, 0.50)
	eth := scanMarket("ETH-10K", domain.CategoryCrypto, 0.30)
	reg.RegisterSource(marketSource("test-markets", &fetches, btc, eth))
	reg.RegisterDetector(registry.Detector{
		Name:    "test-edge",
		Sources: []string{"test-markets"},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			var ops []domain.Opportunity
			for _, m := range markets {
				if m.ID == "BTC-100K" {
					op := opFor(m, "test-edge", 0.10, 0.60)
					op.Signals = domain.Signals{domain.SignalSentiment: 3}
					ops = append(ops, op)
				}
			}
			return ops
		},
	})

	rt := router.New()
	sink := &captureSink{}
	rt.AttachAll(sink)

	led := ledger.New(t.TempDir())
	engine := New(reg, cache.New(reg, cache.DefaultConfig()), rt, Config{})
	engine.SetLedger(led)

	report, err := engine.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, StateDone, engine.State())
	assert.Equal(t, []string{"test-markets"}, report.Sources)
	assert.Equal(t, 2, report.Markets)
	assert.Equal(t, 1, report.Detected)
	assert.Equal(t, 1, report.Emitted)
	assert.Equal(t, 1, report.Recorded)
	assert.Equal(t, 1, report.Dispatch.Delivered)
	assert.Equal(t, int32(1), fetches.Load())

	got := sink.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, domain.ChannelCrypto, got[0].channel)
	assert.Equal(t, "BTC-100K", got[0].op.Market.ID)

	pending := led.Pending()
	require.Len(t, pending, 1)
	assert.InDelta(t, 0.60, pending[0].Estimate, 1e-9)
	assert.Contains(t, pending[0].SignalSources, string(domain.SignalSentiment))

	last, ok := engine.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.Emitted, last.Emitted)
}

func TestScan_AbortsBeforeWorkWhenContextDead(t *testing.T) {
	t.Run("canceled_parent_context", func(t *testing.T) {
		reg := registry.New()
		var fetches atomic.Int32
		var detections atomic.Int32
		reg.RegisterSource(marketSource("test-markets", &fetches, scanMarket("M-1", domain.CategoryOther, 0.50)))
		reg.RegisterDetector(registry.Detector{
			Name:    "test-edge",
			Sources: []string{"test-markets"},
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				detections.Add(1)
				return nil
			},
		})
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := engine.Scan(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateAborted, report.State)
		assert.Equal(t, StateAborted, engine.State())
		assert.NotEmpty(t, report.AbortReason)
		assert.Zero(t, report.Emitted)
		assert.Zero(t, report.Dispatch.Delivered)
		assert.Zero(t, fetches.Load())
		assert.Zero(t, detections.Load())
	})

	t.Run("degenerate_deadline", func(t *testing.T) {
		reg := registry.New()
		var detections atomic.Int32
		reg.RegisterSource(marketSource("test-markets", nil, scanMarket("M-1", domain.CategoryOther, 0.50)))
		reg.RegisterDetector(registry.Detector{
			Name:    "test-edge",
			Sources: []string{"test-markets"},
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				detections.Add(1)
				return nil
			},
		})
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{
			ScanDeadline: time.Nanosecond,
		})

		report, err := engine.Scan(context.Background())
		require.Error(t, err)
		assert.Equal(t, StateAborted, report.State)
		assert.Zero(t, report.Emitted)
		assert.Zero(t, detections.Load())
	})
}

func TestScan_DeadlineMidFetchAborts(t *testing.T) {
	reg := registry.New()
	var detections atomic.Int32
	reg.RegisterSource(registry.Source{
		Name:     "slow-feed",
		CacheTTL: 50 * time.Millisecond,
		Fetch: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	reg.RegisterDetector(registry.Detector{
		Name:    "test-edge",
		Sources: []string{"slow-feed"},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			detections.Add(1)
			return nil
		},
	})
	engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{
		ScanDeadline: 40 * time.Millisecond,
	})

	report, err := engine.Scan(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateAborted, report.State)
	assert.NotEmpty(t, report.AbortReason)
	assert.Zero(t, report.Markets)
	assert.Zero(t, report.Detected)
	assert.Zero(t, detections.Load())
	assert.GreaterOrEqual(t, report.Duration, 40*time.Millisecond)
}

func TestScan_GateDropsCounted(t *testing.T) {
	reg := registry.New()
	reg.RegisterSource(marketSource("test-markets", nil, scanMarket("GOOD-1", domain.CategoryOther, 0.50)))
	reg.RegisterDetector(registry.Detector{
		Name:    "test-edge",
		Sources: []string{"test-markets"},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			return []domain.Opportunity{
				opFor(scanMarket("EXTREME-1", domain.CategoryOther, 0.99), "test-edge", 0.005, 0.60),
				opFor(scanMarket("WILD-1", domain.CategoryOther, 0.50), "test-edge", 0.60, 0.60),
				opFor(scanMarket("TIMID-1", domain.CategoryOther, 0.50), "test-edge", 0.10, 0.20),
				opFor(scanMarket("GOOD-1", domain.CategoryOther, 0.50), "test-edge", 0.10, 0.60),
			}
		},
	})

	rt := router.New()
	sink := &captureSink{}
	rt.AttachAll(sink)
	engine := New(reg, cache.New(reg, cache.DefaultConfig()), rt, Config{})

	report, err := engine.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Detected)
	assert.Equal(t, 1, report.Emitted)
	assert.Equal(t, map[string]int{
		gates.ReasonExtreme:       1,
		gates.ReasonSuspicious:    1,
		gates.ReasonLowConfidence: 1,
	}, report.GateDrops)
	assert.Equal(t, 3, report.Dropped())

	got := sink.deliveries()
	require.Len(t, got, 1)
	assert.Equal(t, "GOOD-1", got[0].op.Market.ID)
}

// seededLedger builds a ledger whose resolved crypto history implies a
// +0.40 overconfidence bias: ten predictions at 0.80 of which four
// resolved YES.
func seededLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	led := ledger.New(t.TempDir())
	for i := 0; i < 10; i++ {
		rec := led.RecordPrediction(ledger.Prediction{
			Platform:    "kalshi",
			MarketID:    fmt.Sprintf("SEED-%d", i),
			Title:       "seed market",
			Category:    domain.CategoryCrypto,
			Estimate:    0.80,
			MarketPrice: 0.50,
			Confidence:  0.60,
		})
		_, ok := led.ResolvePrediction(rec.MarketID, i < 4, nil)
		require.True(t, ok)
	}
	return led
}

func TestScan_CalibrationShiftsEstimates(t *testing.T) {
	run := func(t *testing.T, led *ledger.Ledger, op domain.Opportunity) (Report, *captureSink) {
		t.Helper()
		reg := registry.New()
		reg.RegisterSource(marketSource("test-markets", nil, op.Market))
		reg.RegisterDetector(registry.Detector{
			Name:    "test-edge",
			Sources: []string{"test-markets"},
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				return []domain.Opportunity{op}
			},
		})
		rt := router.New()
		sink := &captureSink{}
		rt.AttachAll(sink)
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), rt, Config{})
		engine.SetLedger(led)

		report, err := engine.Scan(context.Background())
		require.NoError(t, err)
		return report, sink
	}

	t.Run("bias_shifts_estimate_and_raw_is_recorded", func(t *testing.T) {
		led := seededLedger(t)
		// Raw estimate 0.80; the +0.40 bias pulls it to 0.40, leaving
		// 0.10 of edge over the 0.30 price.
		op := opFor(scanMarket("CRYPTO-UP", domain.CategoryCrypto, 0.30), "test-edge", 0.50, 0.60)

		report, sink := run(t, led, op)
		assert.Equal(t, 1, report.Calibrated)
		assert.Equal(t, 1, report.Emitted)

		got := sink.deliveries()
		require.Len(t, got, 1)
		assert.InDelta(t, 0.10, got[0].op.Edge, 1e-9)
		assert.InDelta(t, 0.70, got[0].op.Confidence, 1e-9)
		assert.Contains(t, got[0].op.Reasoning, "bias")

		pending := led.Pending()
		require.Len(t, pending, 1)
		assert.InDelta(t, 0.80, pending[0].Estimate, 1e-9)
	})

	t.Run("adjustment_never_flips_direction", func(t *testing.T) {
		led := seededLedger(t)
		// Raw estimate 0.80 adjusts to 0.40, under the 0.50 price: the
		// opportunity drops rather than turning into a BUY_NO.
		op := opFor(scanMarket("CRYPTO-FLAT", domain.CategoryCrypto, 0.50), "test-edge", 0.30, 0.60)

		report, sink := run(t, led, op)
		assert.Equal(t, 1, report.CalibratedOut)
		assert.Zero(t, report.Emitted)
		assert.Empty(t, sink.deliveries())
		assert.Empty(t, led.Pending())
	})

	t.Run("no_history_passes_through", func(t *testing.T) {
		led := seededLedger(t)
		op := opFor(scanMarket("GAME-1", domain.CategorySports, 0.50), "test-edge", 0.10, 0.55)

		report, sink := run(t, led, op)
		assert.Zero(t, report.Calibrated)
		assert.Equal(t, 1, report.Emitted)

		got := sink.deliveries()
		require.Len(t, got, 1)
		assert.InDelta(t, 0.10, got[0].op.Edge, 1e-9)
		assert.InDelta(t, 0.55, got[0].op.Confidence, 1e-9)
	})
}

func TestScan_DetectorIsolation(t *testing.T) {
	market := scanMarket("M-1", domain.CategoryOther, 0.50)

	t.Run("panic_is_contained", func(t *testing.T) {
		reg := registry.New()
		reg.RegisterSource(marketSource("test-markets", nil, market))
		reg.RegisterDetector(registry.Detector{
			Name:    "fragile",
			Sources: []string{"test-markets"},
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				panic("nil map write")
			},
		})
		reg.RegisterDetector(registry.Detector{
			Name:    "steady",
			Sources: []string{"test-markets"},
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				return []domain.Opportunity{opFor(market, "steady", 0.10, 0.60)}
			},
		})
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{})

		report, err := engine.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateDone, report.State)
		assert.Equal(t, 1, report.Detected)
		assert.Equal(t, 1, report.Emitted)
	})

	t.Run("missing_source_skips_detector", func(t *testing.T) {
		reg := registry.New()
		var detections atomic.Int32
		reg.RegisterSource(marketSource("test-markets", nil, market))
		reg.RegisterDetector(registry.Detector{
			Name:    "needs-absent-feed",
			Sources: []string{"absent-feed"},
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				detections.Add(1)
				return nil
			},
		})
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{
			MarketSources: []string{"test-markets"},
		})

		report, err := engine.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StateDone, report.State)
		assert.Zero(t, detections.Load())
		assert.Zero(t, report.Detected)
	})

	t.Run("partial_tolerant_detector_runs", func(t *testing.T) {
		reg := registry.New()
		var detections atomic.Int32
		reg.RegisterSource(marketSource("test-markets", nil, market))
		reg.RegisterDetector(registry.Detector{
			Name:         "tolerant",
			Sources:      []string{"test-markets", "absent-feed"},
			AllowPartial: true,
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				detections.Add(1)
				return nil
			},
		})
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{})

		_, err := engine.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(1), detections.Load())
	})

	t.Run("detector_floors_filter_weak_output", func(t *testing.T) {
		reg := registry.New()
		reg.RegisterSource(marketSource("test-markets", nil, market))
		reg.RegisterDetector(registry.Detector{
			Name:          "floored",
			Sources:       []string{"test-markets"},
			MinEdge:       0.05,
			MinConfidence: 0.50,
			Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
				return []domain.Opportunity{
					opFor(market, "floored", 0.02, 0.60),
					opFor(market, "floored", 0.10, 0.40),
				}
			},
		})
		engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{})

		report, err := engine.Scan(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.Detected)
	})
}

func TestScan_PlanResolvesProcessorChains(t *testing.T) {
	reg := registry.New()
	var fetchA, fetchB atomic.Int32
	market := scanMarket("M-1", domain.CategoryOther, 0.50)
	reg.RegisterSource(marketSource("feed-a", &fetchA, market))
	reg.RegisterSource(registry.Source{
		Name: "feed-b",
		Fetch: func(ctx context.Context) (any, error) {
			fetchB.Add(1)
			return map[string]float64{"signal": 0.7}, nil
		},
	})
	reg.RegisterProcessor(registry.Processor{
		Name:   "combiner",
		Inputs: []string{"feed-a", "feed-b"},
		Output: "combined",
		Process: func(ctx context.Context, inputs domain.SourceData) (any, error) {
			return "combined-payload", nil
		},
	})

	var sawCombined atomic.Bool
	reg.RegisterDetector(registry.Detector{
		Name:    "derived-edge",
		Sources: []string{"combined"},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			if _, ok := data["combined"]; ok {
				sawCombined.Store(true)
			}
			return []domain.Opportunity{opFor(market, "derived-edge", 0.10, 0.60)}
		},
	})
	engine := New(reg, cache.New(reg, cache.DefaultConfig()), router.New(), Config{})

	report, err := engine.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"feed-a", "feed-b"}, report.Sources)
	assert.Equal(t, []string{"combined"}, report.Processed)
	assert.Equal(t, int32(1), fetchA.Load())
	assert.Equal(t, int32(1), fetchB.Load())
	assert.True(t, sawCombined.Load())
	assert.Equal(t, 1, report.Detected)
	assert.Equal(t, 1, report.Markets)
}
