package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// WeatherConfig maps stations to the city names markets use.
type WeatherConfig struct {
	Disabled bool                `yaml:"disabled"`
	MinEdge  float64             `yaml:"min_edge"`
	Stations map[string][]string `yaml:"stations"`
}

func defaultStationAliases() map[string][]string {
	return map[string][]string{
		"nyc": {"nyc", "new york"},
	}
}

var precipMarketTerms = []string{"rain", "precip", "snow", "shower"}

var forecastPeriods = []string{
	"today", "tonight", "tomorrow",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// WeatherEdge prices precipitation markets off the NWS forecast. A
// market has to name a known city and a forecast period for the
// published probability to apply.
func WeatherEdge(cfg WeatherConfig) registry.Detector {
	stations := cfg.Stations
	if len(stations) == 0 {
		stations = defaultStationAliases()
	}
	minEdge := cfg.MinEdge
	if minEdge <= 0 {
		minEdge = 0.08
	}
	return registry.Detector{
		Name:     "weather-edge",
		Disabled: cfg.Disabled,
		Sources:  []string{sources.NameWeather},
		MinEdge:  minEdge,
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			forecasts, ok := domain.Payload[sources.ForecastSet](data, sources.NameWeather)
			if !ok {
				return nil
			}

			var out []domain.Opportunity
			for _, market := range markets {
				if market.Category != domain.CategoryWeather || !mentionsAny(market.Title, precipMarketTerms) {
					continue
				}
				station, ok := stationFor(stations, market.Title)
				if !ok {
					continue
				}
				period, ok := periodIn(market.Title)
				if !ok {
					continue
				}
				chance, ok := forecasts.PrecipChance(station, period)
				if !ok {
					continue
				}

				signals := domain.Signals{domain.SignalWeatherBias: chance}
				reasoning := fmt.Sprintf("NWS has %s precipitation for %s %s vs market %s",
					pct(chance), station, period, pct(market.Price))
				if op, ok := build(FamilyWeather, market, chance, 0.55, signals, reasoning); ok && op.Edge >= minEdge {
					out = append(out, op)
				}
			}
			return out
		},
	}
}

func stationFor(stations map[string][]string, title string) (string, bool) {
	lower := strings.ToLower(title)
	for station, aliases := range stations {
		for _, alias := range aliases {
			if strings.Contains(lower, strings.ToLower(alias)) {
				return station, true
			}
		}
	}
	return "", false
}

func periodIn(title string) (string, bool) {
	lower := strings.ToLower(title)
	for _, period := range forecastPeriods {
		if strings.Contains(lower, period) {
			return period, true
		}
	}
	return "", false
}
