package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// EarningsConfig maps tracked tickers to name aliases.
type EarningsConfig struct {
	Disabled     bool                `yaml:"disabled"`
	MinHeadlines int                 `yaml:"min_headlines"`
	BaseEdge     float64             `yaml:"base_edge"`
	Companies    map[string][]string `yaml:"companies"`
}

func defaultCompanies() map[string][]string {
	return map[string][]string{
		"NVDA": {"nvidia"},
		"AAPL": {"apple"},
		"TSLA": {"tesla"},
		"MSFT": {"microsoft"},
		"AMZN": {"amazon"},
	}
}

// EarningsMention flags markets tied to a company showing up in the
// news cycle. Emissions tag the company ticker so related outcome
// ladders batch into one earnings group downstream.
func EarningsMention(cfg EarningsConfig) registry.Detector {
	companies := cfg.Companies
	if len(companies) == 0 {
		companies = defaultCompanies()
	}
	minHeadlines := cfg.MinHeadlines
	if minHeadlines <= 0 {
		minHeadlines = 2
	}
	baseEdge := cfg.BaseEdge
	if baseEdge <= 0 {
		baseEdge = 0.05
	}
	return registry.Detector{
		Name:     "earnings-mention",
		Disabled: cfg.Disabled,
		Sources:  []string{sources.NameHeadlines},
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			headlines, ok := domain.Payload[sources.HeadlineSet](data, sources.NameHeadlines)
			if !ok {
				return nil
			}

			var out []domain.Opportunity
			for ticker, aliases := range companies {
				terms := append([]string{strings.ToLower(ticker)}, aliases...)
				mentions := headlines.Matching(terms...)
				if len(mentions) < minHeadlines {
					continue
				}

				for _, market := range markets {
					if !mentionsAny(market.Title, terms) {
						continue
					}
					estimate := towardHalf(market.Price, baseEdge)
					signals := domain.Signals{
						domain.SignalEarnings:  ticker,
						domain.SignalSentiment: len(mentions),
					}
					urgency := domain.UrgencyFYI
					if len(mentions) >= minHeadlines*2 {
						urgency = domain.UrgencyStandard
					}
					reasoning := fmt.Sprintf("%s in %d recent headlines, e.g. %q",
						ticker, len(mentions), mentions[0].Title)
					if op, ok := build(FamilyEarnings, market, estimate, 0.50, signals, reasoning); ok {
						op.Urgency = urgency
						out = append(out, op)
					}
				}
			}
			return out
		},
	}
}
