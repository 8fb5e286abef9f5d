package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/fetch"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// HeadlinesConfig lists RSS feeds keyed by a short feed name.
type HeadlinesConfig struct {
	Enabled    *bool             `yaml:"enabled"`
	Feeds      map[string]string `yaml:"feeds"`
	MaxAgeMins int               `yaml:"max_age_mins"`
	TTLSecs    int               `yaml:"ttl_secs"`
}

// Headline is one news item.
type Headline struct {
	Feed      string    `json:"feed"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published"`
}

// HeadlineSet is the headlines source payload.
type HeadlineSet struct {
	FetchedAt time.Time  `json:"fetched_at"`
	Items     []Headline `json:"items"`
}

// Matching returns headlines containing any of the terms,
// case-insensitive.
func (h HeadlineSet) Matching(terms ...string) []Headline {
	var out []Headline
	for _, item := range h.Items {
		title := strings.ToLower(item.Title)
		for _, term := range terms {
			if strings.Contains(title, strings.ToLower(term)) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// HeadlinesSource polls every configured feed and merges the items,
// newest first. A feed that fails to parse is skipped rather than
// failing the whole fetch.
func HeadlinesSource(client *fetch.Client, cfg HeadlinesConfig) registry.Source {
	maxAge := time.Duration(cfg.MaxAgeMins) * time.Minute
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	return registry.Source{
		Name:     NameHeadlines,
		Category: domain.CategoryHealth,
		CacheTTL: time.Duration(cfg.TTLSecs) * time.Second,
		Fetch: func(ctx context.Context) (any, error) {
			set := HeadlineSet{FetchedAt: time.Now().UTC()}
			cutoff := time.Now().Add(-maxAge)
			fetched := 0
			for feed, url := range cfg.Feeds {
				body, err := client.Get(ctx, NameHeadlines, url)
				if err != nil {
					log.Warn().Err(err).Str("feed", feed).Msg("headline feed fetch failed, skipping")
					continue
				}
				items, err := parseRSS(feed, body)
				if err != nil {
					log.Warn().Err(err).Str("feed", feed).Msg("headline feed parse failed, skipping")
					continue
				}
				fetched++
				for _, item := range items {
					if !item.Published.IsZero() && item.Published.Before(cutoff) {
						continue
					}
					set.Items = append(set.Items, item)
				}
			}
			if fetched == 0 && len(cfg.Feeds) > 0 {
				return nil, fmt.Errorf("all %d headline feeds failed", len(cfg.Feeds))
			}
			sort.Slice(set.Items, func(i, j int) bool {
				return set.Items[i].Published.After(set.Items[j].Published)
			})
			return set, nil
		},
		Decode: func(data []byte) (any, error) {
			var set HeadlineSet
			if err := json.Unmarshal(data, &set); err != nil {
				return nil, fmt.Errorf("failed to decode cached headlines: %w", err)
			}
			return set, nil
		},
	}
}

func parseRSS(feed string, body []byte) ([]Headline, error) {
	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("not an RSS document: %w", err)
	}
	items := make([]Headline, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		h := Headline{
			Feed:  feed,
			Title: strings.TrimSpace(item.Title),
			Link:  strings.TrimSpace(item.Link),
		}
		if ts, ok := parseTime(item.PubDate); ok {
			h.Published = ts
		}
		items = append(items, h)
	}
	return items, nil
}
