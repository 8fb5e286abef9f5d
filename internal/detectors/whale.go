package detectors

import (
	"context"
	"fmt"
	"math"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// WhaleConfig tunes the conviction detector.
type WhaleConfig struct {
	Disabled           bool    `yaml:"disabled"`
	ConvictionNotional float64 `yaml:"conviction_notional"`
}

// WhaleConviction follows concentrated large-trade flow. When the net
// notional on one side of a market clears the conviction floor, the
// detector leans the same way, scaling edge and confidence with the
// size of the imbalance.
func WhaleConviction(cfg WhaleConfig) registry.Detector {
	conviction := cfg.ConvictionNotional
	if conviction <= 0 {
		conviction = 25000
	}
	return registry.Detector{
		Name:     "whale-conviction",
		Disabled: cfg.Disabled,
		Sources:  []string{sources.NameWhales},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			tape, ok := domain.Payload[sources.WhaleTape](data, sources.NameWhales)
			if !ok {
				return nil
			}

			// Net yes-minus-no notional per market.
			net := make(map[string]float64)
			for _, trade := range tape.Trades {
				if trade.Side == "no" {
					net[trade.MarketID] -= trade.Notional
				} else {
					net[trade.MarketID] += trade.Notional
				}
			}

			var out []domain.Opportunity
			for _, market := range markets {
				flow := net[market.ID]
				if math.Abs(flow) < conviction {
					continue
				}

				edge := clamp(0.05+math.Abs(flow)/500000*0.10, 0.05, 0.20)
				estimate := market.Price + edge
				side := "yes"
				if flow < 0 {
					estimate = market.Price - edge
					side = "no"
				}

				signals := domain.Signals{
					domain.SignalWhale:           flow,
					domain.SignalWhaleConviction: true,
				}
				confidence := clamp(0.50+math.Abs(flow)/1000000*0.20, 0.50, 0.70)
				reasoning := fmt.Sprintf("net $%.0f of whale flow on the %s side", math.Abs(flow), side)
				if op, ok := build(FamilyWhale, market, estimate, confidence, signals, reasoning); ok {
					out = append(out, op)
				}
			}
			return out
		},
	}
}
