package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// KalshiConfig points at the public trade API.
type KalshiConfig struct {
	Enabled *bool  `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Limit   int    `yaml:"limit"`
	TTLSecs int    `yaml:"ttl_secs"`
}

type kalshiMarket struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Category    string `json:"category"`
	YesBid      int    `json:"yes_bid"`
	YesAsk      int    `json:"yes_ask"`
	LastPrice   int    `json:"last_price"`
	Volume      int    `json:"volume"`
	Liquidity   int    `json:"liquidity"`
	CloseTime   string `json:"close_time"`
	Status      string `json:"status"`
}

type kalshiMarketsResponse struct {
	Markets []kalshiMarket `json:"markets"`
	Cursor  string         `json:"cursor"`
}

// KalshiSource fetches open markets from Kalshi. Prices arrive in
// cents; the mid of the yes book becomes the market price.
func KalshiSource(client *fetch.Client, cfg KalshiConfig) registry.Source {
	return registry.Source{
		Name:     NameKalshi,
		Category: domain.CategoryOther,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			url := fmt.Sprintf("%s/markets?status=open&limit=%d", cfg.BaseURL, cfg.Limit)
			var resp kalshiMarketsResponse
			if err := client.GetJSON(ctx, NameKalshi, url, &resp); err != nil {
				return nil, err
			}
			return kalshiToMarkets(resp.Markets), nil
		},
		Decode: decodeMarkets,
	}
}

func kalshiToMarkets(raw []kalshiMarket) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	skipped := 0
	for _, m := range raw {
		price := kalshiPrice(m)
		if price <= 0 || price >= 1 {
			skipped++
			continue
		}
		market := domain.Market{
			Platform:  "kalshi",
			ID:        m.Ticker,
			Ticker:    m.Ticker,
			Title:     m.Title,
			Subtitle:  m.Subtitle,
			Category:  mapCategory(m.Category),
			Price:     price,
			Volume:    float64(m.Volume),
			Liquidity: float64(m.Liquidity) / 100,
			URL:       "https://kalshi.com/markets/" + m.EventTicker,
		}
		if ts, ok := parseTime(m.CloseTime); ok {
			market.CloseTime = &ts
		}
		markets = append(markets, market)
	}
	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("kalshi markets without a usable price")
	}
	return markets
}

// kalshiPrice prefers the book mid and falls back to last trade.
func kalshiPrice(m kalshiMarket) float64 {
	if m.YesBid > 0 && m.YesAsk > 0 {
		return float64(m.YesBid+m.YesAsk) / 2 / 100
	}
	return float64(m.LastPrice) / 100
}

// decodeMarkets rehydrates a cached market list.
func decodeMarkets(data []byte) (any, error) {
	var markets []domain.Market
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("failed to decode cached markets: %w", err)
	}
	return markets, nil
}
