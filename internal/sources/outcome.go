package sources

import (
	"context"
	"fmt"

	"github.com/edgewatch/edgewatch/internal/fetch"
)

// SettlementLookup builds the outcome probe the settle sweep runs over
// pending predictions. Each probe asks the platform's single-market
// endpoint whether the market has resolved and which way. Probes share
// the feed's rate limits and circuit breakers.
func SettlementLookup(client *fetch.Client, catalog Catalog) func(ctx context.Context, platform, marketID string) (bool, bool, error) {
	return func(ctx context.Context, platform, marketID string) (bool, bool, error) {
		switch platform {
		case "kalshi":
			return kalshiSettled(ctx, client, catalog.Kalshi, marketID)
		case "polymarket":
			return polymarketSettled(ctx, client, catalog.Polymarket, marketID)
		default:
			return false, false, fmt.Errorf("no settlement probe for platform %q", platform)
		}
	}
}

type kalshiMarketResponse struct {
	Market struct {
		Status string `json:"status"`
		Result string `json:"result"`
	} `json:"market"`
}

func kalshiSettled(ctx context.Context, client *fetch.Client, cfg KalshiConfig, ticker string) (bool, bool, error) {
	url := fmt.Sprintf("%s/markets/%s", cfg.BaseURL, ticker)
	var resp kalshiMarketResponse
	if err := client.GetJSON(ctx, NameKalshi, url, &resp); err != nil {
		return false, false, err
	}

	switch resp.Market.Status {
	case "settled", "determined", "finalized":
	default:
		return false, false, nil
	}
	// Status can flip before the result posts; wait for the result.
	switch resp.Market.Result {
	case "yes":
		return true, true, nil
	case "no":
		return true, false, nil
	}
	return false, false, nil
}

func polymarketSettled(ctx context.Context, client *fetch.Client, cfg PolymarketConfig, id string) (bool, bool, error) {
	url := fmt.Sprintf("%s/markets/%s", cfg.BaseURL, id)
	var resp polymarketMarket
	if err := client.GetJSON(ctx, NamePolymarket, url, &resp); err != nil {
		return false, false, err
	}

	if !resp.Closed {
		return false, false, nil
	}
	price, ok := firstOutcomePrice(resp.OutcomePrices)
	if !ok {
		return false, false, fmt.Errorf("closed market %s has no readable outcome price", id)
	}
	// A resolved market pins the YES leg at 1 or 0.
	return true, price >= 0.5, nil
}
