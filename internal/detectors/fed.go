package detectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// FedConfig tunes the Fed commentary heads-up detector.
type FedConfig struct {
	Disabled    bool    `yaml:"disabled"`
	WindowHours int     `yaml:"window_hours"`
	BaseEdge    float64 `yaml:"base_edge"`
}

var rateMarketTerms = []string{"fed", "fomc", "rate", "powell", "interest"}

// FedSpeech flags rate-sensitive markets ahead of scheduled Fed
// commentary. The estimate drifts toward even odds: confidently
// priced extremes tend to reprice when a speech lands. Every emission
// shares the fedSpeech tag, so sinks can batch the whole event.
func FedSpeech(cfg FedConfig) registry.Detector {
	window := time.Duration(cfg.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	baseEdge := cfg.BaseEdge
	if baseEdge <= 0 {
		baseEdge = 0.06
	}
	return registry.Detector{
		Name:     "fed-speech",
		Disabled: cfg.Disabled,
		Sources:  []string{sources.NameMacro},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			calendar, ok := domain.Payload[sources.MacroCalendar](data, sources.NameMacro)
			if !ok {
				return nil
			}

			var speech *sources.MacroEvent
			for _, event := range calendar.Upcoming(window) {
				if event.FedSpeech() {
					e := event
					speech = &e
					break
				}
			}
			if speech == nil {
				return nil
			}

			var out []domain.Opportunity
			for _, market := range markets {
				if market.Category != domain.CategoryMacro || !mentionsAny(market.Title, rateMarketTerms) {
					continue
				}
				estimate := towardHalf(market.Price, baseEdge)
				signals := domain.Signals{
					domain.SignalFedSpeech: speech.Title,
					domain.SignalMacro:     true,
					domain.SignalMacroEdge: estimate - market.Price,
				}
				reasoning := fmt.Sprintf("%s at %s; rate markets tend to reprice",
					speech.Title, speech.ScheduledAt.Format("Jan 2 15:04 MST"))
				if op, ok := build(FamilyMacro, market, estimate, 0.45, signals, reasoning); ok {
					out = append(out, op)
				}
			}
			return out
		},
	}
}

func mentionsAny(title string, terms []string) bool {
	lower := strings.ToLower(title)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
