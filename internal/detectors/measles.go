package detectors

import (
	"context"
	"fmt"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// MeaslesConfig tunes the outbreak detector.
type MeaslesConfig struct {
	Disabled     bool     `yaml:"disabled"`
	MinHeadlines int      `yaml:"min_headlines"`
	Terms        []string `yaml:"terms"`
}

var defaultOutbreakTerms = []string{"measles", "outbreak"}

var caseMarketTerms = []string{"measles", "case", "outbreak", "cdc"}

// MeaslesOutbreak leans yes on case-count markets while outbreak
// coverage is running hot. Edge and confidence scale with how many
// distinct headlines are in the cycle.
func MeaslesOutbreak(cfg MeaslesConfig) registry.Detector {
	terms := cfg.Terms
	if len(terms) == 0 {
		terms = defaultOutbreakTerms
	}
	minHeadlines := cfg.MinHeadlines
	if minHeadlines <= 0 {
		minHeadlines = 2
	}
	return registry.Detector{
		Name:     "measles-outbreak",
		Disabled: cfg.Disabled,
		Sources:  []string{sources.NameHeadlines},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			headlines, ok := domain.Payload[sources.HeadlineSet](data, sources.NameHeadlines)
			if !ok {
				return nil
			}
			matches := headlines.Matching(terms...)
			if len(matches) < minHeadlines {
				return nil
			}

			edge := clamp(0.04*float64(len(matches)), 0.04, 0.15)
			confidence := clamp(0.50+0.05*float64(len(matches)), 0.50, 0.70)

			var out []domain.Opportunity
			for _, market := range markets {
				if market.Category != domain.CategoryHealth || !mentionsAny(market.Title, caseMarketTerms) {
					continue
				}
				estimate := clamp(market.Price+edge, 0, 1)
				signals := domain.Signals{domain.SignalMeasles: len(matches)}
				reasoning := fmt.Sprintf("%d outbreak headlines in cycle, e.g. %q",
					len(matches), matches[0].Title)
				if op, ok := build(FamilyMeasles, market, estimate, confidence, signals, reasoning); ok {
					out = append(out, op)
				}
			}
			return out
		},
	}
}
