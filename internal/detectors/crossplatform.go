package detectors

import (
	"context"
	"fmt"
	"math"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/processors"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// CrossPlatformConfig tunes the divergence detector.
type CrossPlatformConfig struct {
	Disabled  bool    `yaml:"disabled"`
	MinSpread float64 `yaml:"min_spread"`
}

// CrossPlatform looks for the same event priced apart on different
// platforms. The volume-weighted mean across listings acts as the
// estimate, and the listing furthest from it carries the emission.
func CrossPlatform(cfg CrossPlatformConfig) registry.Detector {
	minSpread := cfg.MinSpread
	if minSpread <= 0 {
		minSpread = 0.05
	}
	return registry.Detector{
		Name:     "cross-platform",
		Disabled: cfg.Disabled,
		Sources:  []string{processors.IndexOutput},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			index, ok := domain.Payload[processors.MarketIndex](data, processors.IndexOutput)
			if !ok {
				return nil
			}

			var out []domain.Opportunity
			for _, listing := range index.CrossListed() {
				lo, hi := priceRange(listing.Markets)
				spread := hi - lo
				if spread < minSpread {
					continue
				}

				mean := weightedMean(listing.Markets)
				outlier := listing.Markets[0]
				for _, m := range listing.Markets[1:] {
					if math.Abs(m.Price-mean) > math.Abs(outlier.Price-mean) {
						outlier = m
					}
				}

				signals := domain.Signals{domain.SignalCrossPlatform: spread}
				confidence := clamp(0.50+spread, 0.50, 0.70)
				reasoning := fmt.Sprintf("priced %s to %s across %d platforms; %s is furthest from the %s mean",
					pct(lo), pct(hi), len(listing.Markets), outlier.Platform, pct(mean))
				if op, ok := build(FamilyCrossPlatform, outlier, mean, confidence, signals, reasoning); ok {
					out = append(out, op)
				}
			}
			return out
		},
	}
}

func priceRange(markets []domain.Market) (lo, hi float64) {
	lo, hi = markets[0].Price, markets[0].Price
	for _, m := range markets[1:] {
		if m.Price < lo {
			lo = m.Price
		}
		if m.Price > hi {
			hi = m.Price
		}
	}
	return lo, hi
}

func weightedMean(markets []domain.Market) float64 {
	var sum, weight float64
	for _, m := range markets {
		w := m.Volume
		if w <= 0 {
			w = 1
		}
		sum += m.Price * w
		weight += w
	}
	return sum / weight
}
