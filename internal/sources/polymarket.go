package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// PolymarketConfig points at the gamma markets API.
type PolymarketConfig struct {
	Enabled *bool  `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Limit   int    `yaml:"limit"`
	TTLSecs int    `yaml:"ttl_secs"`
}

// Polymarket stringifies numbers and nested arrays, so the response
// shape needs post-processing before it becomes markets.
type polymarketMarket struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Slug          string `json:"slug"`
	Category      string `json:"category"`
	OutcomePrices string `json:"outcomePrices"`
	Outcomes      string `json:"outcomes"`
	Volume        string `json:"volume"`
	Liquidity     string `json:"liquidity"`
	EndDate       string `json:"endDate"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
}

// PolymarketSource fetches active markets from Polymarket.
func PolymarketSource(client *fetch.Client, cfg PolymarketConfig) registry.Source {
	return registry.Source{
		Name:     NamePolymarket,
		Category: domain.CategoryOther,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			url := fmt.Sprintf("%s/markets?closed=false&limit=%d&order=volume&ascending=false", cfg.BaseURL, cfg.Limit)
			var resp []polymarketMarket
			if err := client.GetJSON(ctx, NamePolymarket, url, &resp); err != nil {
				return nil, err
			}
			return polymarketToMarkets(resp), nil
		},
		Decode: decodeMarkets,
	}
}

func polymarketToMarkets(raw []polymarketMarket) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	skipped := 0
	for _, m := range raw {
		if m.Closed || !m.Active {
			continue
		}
		price, ok := firstOutcomePrice(m.OutcomePrices)
		if !ok || price <= 0 || price >= 1 {
			skipped++
			continue
		}
		market := domain.Market{
			Platform:  "polymarket",
			ID:        m.ID,
			Ticker:    m.Slug,
			Title:     m.Question,
			Subtitle:  secondOutcomeLabel(m.Outcomes),
			Category:  mapCategory(m.Category),
			Price:     price,
			Volume:    parseFloat(m.Volume),
			Liquidity: parseFloat(m.Liquidity),
			URL:       "https://polymarket.com/event/" + m.Slug,
		}
		if ts, ok := parseTime(m.EndDate); ok {
			market.CloseTime = &ts
		}
		markets = append(markets, market)
	}
	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("polymarket markets without a usable price")
	}
	return markets
}

// firstOutcomePrice unpacks the stringified price array, e.g.
// "[\"0.45\", \"0.55\"]", and returns the YES leg.
func firstOutcomePrice(encoded string) (float64, bool) {
	var prices []string
	if err := json.Unmarshal([]byte(encoded), &prices); err != nil || len(prices) == 0 {
		return 0, false
	}
	price, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// secondOutcomeLabel surfaces the non-binary outcome name when the
// market has more than a plain yes/no pair.
func secondOutcomeLabel(encoded string) string {
	var outcomes []string
	if err := json.Unmarshal([]byte(encoded), &outcomes); err != nil {
		return ""
	}
	if len(outcomes) != 2 {
		return ""
	}
	if outcomes[0] == "Yes" || outcomes[0] == "yes" {
		return ""
	}
	return outcomes[0]
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
