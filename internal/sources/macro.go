package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// MacroConfig points at an economic calendar endpoint.
type MacroConfig struct {
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url"`
	TTLSecs int    `yaml:"ttl_secs"`
}

// MacroEvent is one scheduled release or speech.
type MacroEvent struct {
	Title       string    `json:"title"`
	Kind        string    `json:"kind"`
	Speaker     string    `json:"speaker,omitempty"`
	Importance  string    `json:"importance"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// FedSpeech reports whether the event is Fed commentary.
func (e MacroEvent) FedSpeech() bool {
	if e.Kind == "fed_speech" {
		return true
	}
	title := strings.ToLower(e.Title)
	return strings.Contains(title, "fomc") ||
		(strings.Contains(title, "fed") && strings.Contains(title, "speak")) ||
		strings.Contains(title, "powell")
}

// MacroCalendar is the macro source payload.
type MacroCalendar struct {
	FetchedAt time.Time    `json:"fetched_at"`
	Events    []MacroEvent `json:"events"`
}

// Upcoming returns events scheduled within the window from now.
func (c MacroCalendar) Upcoming(window time.Duration) []MacroEvent {
	now := time.Now()
	horizon := now.Add(window)
	var out []MacroEvent
	for _, event := range c.Events {
		if event.ScheduledAt.After(now) && event.ScheduledAt.Before(horizon) {
			out = append(out, event)
		}
	}
	return out
}

type macroAPIResponse struct {
	Events []struct {
		Title      string `json:"title"`
		Kind       string `json:"kind"`
		Speaker    string `json:"speaker"`
		Importance string `json:"importance"`
		Scheduled  string `json:"scheduled_at"`
	} `json:"events"`
}

// MacroSource fetches the economic calendar.
func MacroSource(client *fetch.Client, cfg MacroConfig) registry.Source {
	return registry.Source{
		Name:     NameMacro,
		Category: domain.CategoryMacro,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			var resp macroAPIResponse
			if err := client.GetJSON(ctx, NameMacro, cfg.URL, &resp); err != nil {
				return nil, err
			}
			calendar := MacroCalendar{FetchedAt: time.Now().UTC()}
			for _, event := range resp.Events {
				me := MacroEvent{
					Title:      event.Title,
					Kind:       event.Kind,
					Speaker:    event.Speaker,
					Importance: event.Importance,
				}
				if ts, ok := parseTime(event.Scheduled); ok {
					me.ScheduledAt = ts
				}
				calendar.Events = append(calendar.Events, me)
			}
			return calendar, nil
		},
		Decode: func(data []byte) (any, error) {
			var calendar MacroCalendar
			if err := json.Unmarshal(data, &calendar); err != nil {
				return nil, fmt.Errorf("failed to decode cached calendar: %w", err)
			}
			return calendar, nil
		},
	}
}
