package detectors

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// NewMarketConfig tunes the listing watcher.
type NewMarketConfig struct {
	Disabled  bool    `yaml:"disabled"`
	MinVolume float64 `yaml:"min_volume"`
}

// NewMarket surfaces freshly listed markets. The first scan primes
// the known set silently; afterwards, unseen markets with enough
// volume come out as zero-edge digest items. The known set lives in
// process memory, so a restart re-primes rather than replaying old
// listings.
func NewMarket(cfg NewMarketConfig) registry.Detector {
	var (
		mu     sync.Mutex
		known  = make(map[string]struct{})
		primed bool
	)
	return registry.Detector{
		Name:         "new-market",
		Disabled:     cfg.Disabled,
		Sources:      []string{sources.NameKalshi, sources.NamePolymarket},
		AllowPartial: true,
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			if len(markets) == 0 {
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if !primed {
				for _, market := range markets {
					known[market.Key()] = struct{}{}
				}
				primed = true
				log.Debug().Int("markets", len(known)).Msg("new-market watcher primed")
				return nil
			}

			now := time.Now().UTC()
			var out []domain.Opportunity
			for _, market := range markets {
				key := market.Key()
				if _, seen := known[key]; seen {
					continue
				}
				known[key] = struct{}{}
				if market.Volume < cfg.MinVolume {
					continue
				}
				op, _ := build(FamilyNewMarket, market, market.Price, 0.40, domain.Signals{
					domain.SignalNewMarket: now,
				}, "newly listed market")
				op.Urgency = domain.UrgencyFYI
				out = append(out, op)
			}
			return out
		},
	}
}
