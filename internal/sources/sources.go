// Package sources wires the external data feeds the engine scans:
// prediction-market exchanges, sportsbook odds, news headlines, the
// macro calendar, weather forecasts, and the whale tape. Each feed is
// registered as a cacheable source descriptor.
package sources

import (
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// Source names as declared by detectors.
const (
	NameKalshi     = "kalshi-markets"
	NamePolymarket = "polymarket-markets"
	NameOdds       = "sports-odds"
	NameHeadlines  = "news-headlines"
	NameMacro      = "macro-calendar"
	NameWeather    = "weather-forecast"
	NameWhales     = "whale-trades"
)

// Catalog is the source half of the configuration file. A feed with
// no enabled flag is enabled.
type Catalog struct {
	Kalshi     KalshiConfig     `yaml:"kalshi"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
	Sportsbook SportsbookConfig `yaml:"sportsbook"`
	Headlines  HeadlinesConfig  `yaml:"headlines"`
	Macro      MacroConfig      `yaml:"macro"`
	Weather    WeatherConfig    `yaml:"weather"`
	Whales     WhaleConfig      `yaml:"whales"`
}

// DefaultCatalog returns the feeds a fresh install scans.
func DefaultCatalog() Catalog {
	return Catalog{
		Kalshi:     KalshiConfig{BaseURL: "https://api.elections.kalshi.com/trade-api/v2", Limit: 200},
		Polymarket: PolymarketConfig{BaseURL: "https://gamma-api.polymarket.com", Limit: 200},
		Sportsbook: SportsbookConfig{BaseURL: "https://api.the-odds-api.com/v4", Sports: []string{"basketball_nba", "americanfootball_nfl"}},
		Headlines:  HeadlinesConfig{Feeds: map[string]string{"reuters-health": "https://www.reutersagency.com/feed/?best-topics=health"}},
		Macro:      MacroConfig{URL: "https://api.edgewatch.dev/macro/calendar"},
		Weather:    WeatherConfig{Stations: map[string]string{"nyc": "https://api.weather.gov/gridpoints/OKX/33,35/forecast"}},
		Whales:     WhaleConfig{MinNotional: 10000},
	}
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// Register installs every enabled feed from the catalog. The shared
// client supplies rate limiting and circuit breaking for all of them.
func Register(reg *registry.Registry, client *fetch.Client, catalog Catalog) {
	if enabled(catalog.Kalshi.Enabled) {
		reg.RegisterSource(KalshiSource(client, catalog.Kalshi))
	}
	if enabled(catalog.Polymarket.Enabled) {
		reg.RegisterSource(PolymarketSource(client, catalog.Polymarket))
	}
	if enabled(catalog.Sportsbook.Enabled) {
		reg.RegisterSource(OddsSource(client, catalog.Sportsbook))
	}
	if enabled(catalog.Headlines.Enabled) {
		reg.RegisterSource(HeadlinesSource(client, catalog.Headlines))
	}
	if enabled(catalog.Macro.Enabled) {
		reg.RegisterSource(MacroSource(client, catalog.Macro))
	}
	if enabled(catalog.Weather.Enabled) {
		reg.RegisterSource(WeatherSource(client, catalog.Weather))
	}
	if enabled(catalog.Whales.Enabled) {
		reg.RegisterSource(WhaleSource(client, catalog.Whales))
	}
}

// MarketSourceNames lists the exchange feeds that produce markets.
func MarketSourceNames() []string {
	return []string{NameKalshi, NamePolymarket}
}

// mapCategory normalizes an exchange's category label.
func mapCategory(label string) domain.Category {
	switch s := strings.ToLower(strings.TrimSpace(label)); {
	case s == "":
		return domain.CategoryOther
	case strings.Contains(s, "sport"), strings.Contains(s, "nba"), strings.Contains(s, "nfl"), strings.Contains(s, "mlb"):
		return domain.CategorySports
	case strings.Contains(s, "weather"), strings.Contains(s, "climate"):
		return domain.CategoryWeather
	case strings.Contains(s, "econom"), strings.Contains(s, "financ"), strings.Contains(s, "inflation"), strings.Contains(s, "fed"), strings.Contains(s, "rates"):
		return domain.CategoryMacro
	case strings.Contains(s, "geopolit"), strings.Contains(s, "world"), strings.Contains(s, "war"):
		return domain.CategoryGeopolitics
	case strings.Contains(s, "politic"), strings.Contains(s, "election"):
		return domain.CategoryPolitics
	case strings.Contains(s, "crypto"), strings.Contains(s, "bitcoin"), strings.Contains(s, "ethereum"):
		return domain.CategoryCrypto
	case strings.Contains(s, "entertain"), strings.Contains(s, "movie"), strings.Contains(s, "music"), strings.Contains(s, "award"):
		return domain.CategoryEntertainment
	case strings.Contains(s, "tech"), strings.Contains(s, "science"):
		return domain.CategoryTech
	case strings.Contains(s, "health"), strings.Contains(s, "disease"), strings.Contains(s, "epidemic"):
		return domain.CategoryHealth
	default:
		return domain.CategoryOther
	}
}

// parseTime tries the formats the upstream APIs actually emit.
func parseTime(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
