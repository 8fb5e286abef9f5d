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

// SportsbookConfig points at an odds aggregator.
type SportsbookConfig struct {
	Enabled *bool    `yaml:"enabled"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Sports  []string `yaml:"sports"`
	TTLSecs int      `yaml:"ttl_secs"`
}

// OddsEvent is one game with a de-vigged consensus across books.
type OddsEvent struct {
	ID        string             `json:"id"`
	Sport     string             `json:"sport"`
	HomeTeam  string             `json:"home_team"`
	AwayTeam  string             `json:"away_team"`
	Commence  time.Time          `json:"commence"`
	Books     int                `json:"books"`
	Consensus map[string]float64 `json:"consensus"`
}

// OddsBoard is the sportsbook source payload.
type OddsBoard struct {
	FetchedAt time.Time   `json:"fetched_at"`
	Events    []OddsEvent `json:"events"`
}

// Probability returns the consensus win probability for a team.
func (b OddsBoard) Probability(team string) (float64, bool) {
	for _, event := range b.Events {
		if p, ok := event.Consensus[team]; ok {
			return p, true
		}
	}
	return 0, false
}

type oddsAPIEvent struct {
	ID           string `json:"id"`
	SportKey     string `json:"sport_key"`
	CommenceTime string `json:"commence_time"`
	HomeTeam     string `json:"home_team"`
	AwayTeam     string `json:"away_team"`
	Bookmakers   []struct {
		Key     string `json:"key"`
		Markets []struct {
			Key      string `json:"key"`
			Outcomes []struct {
				Name  string  `json:"name"`
				Price float64 `json:"price"`
			} `json:"outcomes"`
		} `json:"markets"`
	} `json:"bookmakers"`
}

// OddsSource fetches moneyline odds for the configured sports and
// collapses every book into one de-vigged consensus per game.
func OddsSource(client *fetch.Client, cfg SportsbookConfig) registry.Source {
	return registry.Source{
		Name:     NameOdds,
		Category: domain.CategorySports,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			board := OddsBoard{FetchedAt: time.Now().UTC()}
			for _, sport := range cfg.Sports {
				url := fmt.Sprintf("%s/sports/%s/odds?regions=us&markets=h2h&oddsFormat=decimal&apiKey=%s", cfg.BaseURL, sport, cfg.APIKey)
				var events []oddsAPIEvent
				if err := client.GetJSON(ctx, NameOdds, url, &events); err != nil {
					return nil, fmt.Errorf("odds for %s: %w", sport, err)
				}
				for _, event := range events {
					board.Events = append(board.Events, consensusFor(event))
				}
			}
			return board, nil
		},
		Decode: func(data []byte) (any, error) {
			var board OddsBoard
			if err := json.Unmarshal(data, &board); err != nil {
				return nil, fmt.Errorf("failed to decode cached odds: %w", err)
			}
			return board, nil
		},
	}
}

// consensusFor averages implied probabilities across books and strips
// the vig so each game's outcomes sum to one.
func consensusFor(event oddsAPIEvent) OddsEvent {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	books := 0

	for _, book := range event.Bookmakers {
		for _, market := range book.Markets {
			if market.Key != "h2h" {
				continue
			}
			books++
			for _, outcome := range market.Outcomes {
				if outcome.Price <= 1 {
					continue
				}
				sums[outcome.Name] += 1 / outcome.Price
				counts[outcome.Name]++
			}
		}
	}

	implied := make(map[string]float64, len(sums))
	total := 0.0
	for name, sum := range sums {
		mean := sum / float64(counts[name])
		implied[name] = mean
		total += mean
	}
	if total > 0 {
		for name := range implied {
			implied[name] /= total
		}
	}

	out := OddsEvent{
		ID:        event.ID,
		Sport:     event.SportKey,
		HomeTeam:  event.HomeTeam,
		AwayTeam:  event.AwayTeam,
		Books:     books,
		Consensus: implied,
	}
	if ts, ok := parseTime(event.CommenceTime); ok {
		out.Commence = ts
	}
	return out
}
