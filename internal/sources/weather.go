package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// WeatherConfig lists NWS gridpoint forecast URLs keyed by station.
type WeatherConfig struct {
	Enabled  *bool             `yaml:"enabled"`
	Stations map[string]string `yaml:"stations"`
	TTLSecs  int               `yaml:"ttl_secs"`
}

// ForecastPeriod is one NWS forecast window.
type ForecastPeriod struct {
	Name         string    `json:"name"`
	StartTime    time.Time `json:"start_time"`
	TempF        int       `json:"temp_f"`
	PrecipChance float64   `json:"precip_chance"`
	Summary      string    `json:"summary"`
}

// StationForecast holds the published periods for one station.
type StationForecast struct {
	Station string           `json:"station"`
	Periods []ForecastPeriod `json:"periods"`
}

// ForecastSet is the weather source payload.
type ForecastSet struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Stations  []StationForecast `json:"stations"`
}

// PrecipChance returns the precipitation probability for a station's
// named period.
func (f ForecastSet) PrecipChance(station, period string) (float64, bool) {
	for _, sf := range f.Stations {
		if sf.Station != station {
			continue
		}
		for _, p := range sf.Periods {
			if strings.EqualFold(p.Name, period) {
				return p.PrecipChance, true
			}
		}
	}
	return 0, false
}

type nwsForecastResponse struct {
	Properties struct {
		Periods []struct {
			Name          string `json:"name"`
			StartTime     string `json:"startTime"`
			Temperature   int    `json:"temperature"`
			ShortForecast string `json:"shortForecast"`
			Precip        struct {
				Value *float64 `json:"value"`
			} `json:"probabilityOfPrecipitation"`
		} `json:"periods"`
	} `json:"properties"`
}

// WeatherSource polls the National Weather Service forecast for each
// configured station. One bad station does not fail the rest.
func WeatherSource(client *fetch.Client, cfg WeatherConfig) registry.Source {
	return registry.Source{
		Name:     NameWeather,
		Category: domain.CategoryWeather,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			set := ForecastSet{FetchedAt: time.Now().UTC()}
			for station, url := range cfg.Stations {
				var resp nwsForecastResponse
				if err := client.GetJSON(ctx, NameWeather, url, &resp); err != nil {
					log.Warn().Err(err).Str("station", station).Msg("forecast fetch failed, skipping station")
					continue
				}
				sf := StationForecast{Station: station}
				for _, p := range resp.Properties.Periods {
					period := ForecastPeriod{
						Name:    p.Name,
						TempF:   p.Temperature,
						Summary: p.ShortForecast,
					}
					if p.Precip.Value != nil {
						period.PrecipChance = *p.Precip.Value / 100
					}
					if ts, ok := parseTime(p.StartTime); ok {
						period.StartTime = ts
					}
					sf.Periods = append(sf.Periods, period)
				}
				set.Stations = append(set.Stations, sf)
			}
			if len(set.Stations) == 0 && len(cfg.Stations) > 0 {
				return nil, fmt.Errorf("all %d weather stations failed", len(cfg.Stations))
			}
			return set, nil
		},
		Decode: func(data []byte) (any, error) {
			var set ForecastSet
			if err := json.Unmarshal(data, &set); err != nil {
				return nil, fmt.Errorf("failed to decode cached forecasts: %w", err)
			}
			return set, nil
		},
	}
}
