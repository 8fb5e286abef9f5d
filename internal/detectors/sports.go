package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// SportsConfig tunes the consensus detector.
type SportsConfig struct {
	Disabled      bool    `yaml:"disabled"`
	MinEdge       float64 `yaml:"min_edge"`
	EnhancedBooks int     `yaml:"enhanced_books"`
}

// SportsConsensus compares sports markets against the de-vigged
// sportsbook consensus. A market whose title names exactly one team
// from a game inherits that team's consensus win probability as the
// estimate; titles naming both teams are ambiguous and skipped.
func SportsConsensus(cfg SportsConfig) registry.Detector {
	minEdge := cfg.MinEdge
	if minEdge <= 0 {
		minEdge = 0.05
	}
	enhancedBooks := cfg.EnhancedBooks
	if enhancedBooks <= 0 {
		enhancedBooks = 3
	}
	return registry.Detector{
		Name:     "sports-consensus",
		Disabled: cfg.Disabled,
		Sources:  []string{sources.NameOdds},
		MinEdge:  minEdge,
		Detect: func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity {
			board, ok := domain.Payload[sources.OddsBoard](data, sources.NameOdds)
			if !ok {
				return nil
			}

			var out []domain.Opportunity
			for _, market := range markets {
				if market.Category != domain.CategorySports {
					continue
				}
				event, team, ok := matchGame(board, market.Title)
				if !ok {
					continue
				}
				consensus := event.Consensus[team]

				signals := domain.Signals{
					domain.SignalSports:          true,
					domain.SignalSportsConsensus: consensus,
				}
				confidence := clamp(0.55+0.04*float64(event.Books), 0.55, 0.80)
				if event.Books >= enhancedBooks {
					signals[domain.SignalEnhancedSports] = event.Books
				}

				reasoning := fmt.Sprintf("%d-book consensus has %s at %s vs market %s",
					event.Books, team, pct(consensus), pct(market.Price))
				if op, ok := build(FamilySports, market, consensus, confidence, signals, reasoning); ok && op.Edge >= minEdge {
					out = append(out, op)
				}
			}
			return out
		},
	}
}

// matchGame finds the game whose teams appear in the market title and
// returns the single unambiguous team the market is priced on.
func matchGame(board sources.OddsBoard, title string) (sources.OddsEvent, string, bool) {
	lower := strings.ToLower(title)
	for _, event := range board.Events {
		var matched []string
		for team := range event.Consensus {
			if teamInTitle(lower, team) {
				matched = append(matched, team)
			}
		}
		if len(matched) == 1 {
			return event, matched[0], true
		}
	}
	return sources.OddsEvent{}, "", false
}

// teamInTitle matches on the team nickname, the last word of the full
// name, so "Boston Celtics" hits "Will the Celtics win the title?".
func teamInTitle(lowerTitle, team string) bool {
	words := strings.Fields(strings.ToLower(team))
	if len(words) == 0 {
		return false
	}
	nickname := words[len(words)-1]
	return strings.Contains(lowerTitle, nickname)
}
