package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// WhaleConfig tunes the large-trade tape.
type WhaleConfig struct {
	Enabled      *bool   `yaml:"enabled"`
	BaseURL      string  `yaml:"base_url"`
	MinNotional  float64 `yaml:"min_notional"`
	LookbackMins int     `yaml:"lookback_mins"`
	TTLSecs      int     `yaml:"ttl_secs"`
}

// WhaleTrade is one large fill.
type WhaleTrade struct {
	Platform string    `json:"platform"`
	MarketID string    `json:"market_id"`
	Ticker   string    `json:"ticker"`
	Side     string    `json:"side"`
	Count    int       `json:"count"`
	Price    float64   `json:"price"`
	Notional float64   `json:"notional"`
	TradedAt time.Time `json:"traded_at"`
}

// WhaleTape is the whale source payload.
type WhaleTape struct {
	FetchedAt   time.Time    `json:"fetched_at"`
	MinNotional float64      `json:"min_notional"`
	Trades      []WhaleTrade `json:"trades"`
}

// ForMarket returns the large fills touching one market.
func (t WhaleTape) ForMarket(marketID string) []WhaleTrade {
	var out []WhaleTrade
	for _, trade := range t.Trades {
		if trade.MarketID == marketID {
			out = append(out, trade)
		}
	}
	return out
}

type kalshiTradesResponse struct {
	Trades []struct {
		TradeID     string `json:"trade_id"`
		Ticker      string `json:"ticker"`
		Count       int    `json:"count"`
		YesPrice    int    `json:"yes_price"`
		TakerSide   string `json:"taker_side"`
		CreatedTime string `json:"created_time"`
	} `json:"trades"`
}

// WhaleSource polls the public trade tape and keeps fills whose
// notional clears the configured floor.
func WhaleSource(client *fetch.Client, cfg WhaleConfig) registry.Source {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	minNotional := cfg.MinNotional
	if minNotional <= 0 {
		minNotional = 10000
	}
	lookback := time.Duration(cfg.LookbackMins) * time.Minute
	if lookback <= 0 {
		lookback = time.Hour
	}
	return registry.Source{
		Name:     NameWhales,
		Category: domain.CategoryOther,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			minTS := time.Now().Add(-lookback).Unix()
			url := fmt.Sprintf("%s/markets/trades?limit=1000&min_ts=%d", baseURL, minTS)
			var resp kalshiTradesResponse
			if err := client.GetJSON(ctx, NameWhales, url, &resp); err != nil {
				return nil, err
			}

			tape := WhaleTape{FetchedAt: time.Now().UTC(), MinNotional: minNotional}
			for _, t := range resp.Trades {
				price := float64(t.YesPrice) / 100
				notional := price * float64(t.Count)
				if t.TakerSide == "no" {
					notional = (1 - price) * float64(t.Count)
				}
				if notional < minNotional {
					continue
				}
				trade := WhaleTrade{
					Platform: "kalshi",
					MarketID: t.Ticker,
					Ticker:   t.Ticker,
					Side:     t.TakerSide,
					Count:    t.Count,
					Price:    price,
					Notional: notional,
				}
				if ts, ok := parseTime(t.CreatedTime); ok {
					trade.TradedAt = ts
				}
				tape.Trades = append(tape.Trades, trade)
			}
			return tape, nil
		},
		Decode: func(data []byte) (any, error) {
			var tape WhaleTape
			if err := json.Unmarshal(data, &tape); err != nil {
				return nil, fmt.Errorf("failed to decode cached whale tape: %w", err)
			}
			return tape, nil
		},
	}
}
