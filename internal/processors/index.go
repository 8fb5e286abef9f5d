package processors

import (
	"context"
	"regexp"
	"strings"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// IndexOutput is the name detectors declare to consume the index.
const IndexOutput = "market-index"

// Listing pairs a market with the platforms quoting the same event.
type Listing struct {
	Title   string          `json:"title"`
	Markets []domain.Market `json:"markets"`
}

// CrossPlatform reports whether more than one platform quotes the
// event.
func (l Listing) CrossPlatform() bool {
	seen := make(map[string]struct{}, len(l.Markets))
	for _, m := range l.Markets {
		seen[m.Platform] = struct{}{}
	}
	return len(seen) > 1
}

// MarketIndex groups markets across platforms by normalized title.
type MarketIndex struct {
	ByKey map[string]Listing `json:"by_key"`
}

// CrossListed returns every listing quoted on more than one platform.
func (idx MarketIndex) CrossListed() []Listing {
	var out []Listing
	for _, listing := range idx.ByKey {
		if listing.CrossPlatform() {
			out = append(out, listing)
		}
	}
	return out
}

var nonWord = regexp.MustCompile(`[^a-z0-9 ]+`)

// normalizeTitle reduces a market title to a comparison key: lowered,
// stripped of punctuation, whitespace collapsed.
func normalizeTitle(title string) string {
	s := strings.ToLower(title)
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// CrossPlatformIndex builds the market index from both exchange
// feeds.
func CrossPlatformIndex() registry.Processor {
	return registry.Processor{
		Name:   "cross-platform-index",
		Inputs: []string{sources.NameKalshi, sources.NamePolymarket},
		Output: IndexOutput,
		Process: func(ctx context.Context, data domain.SourceData) (any, error) {
			index := MarketIndex{ByKey: make(map[string]Listing)}
			for _, name := range []string{sources.NameKalshi, sources.NamePolymarket} {
				for _, market := range domain.Markets(data, name) {
					key := normalizeTitle(market.Title)
					if key == "" {
						continue
					}
					listing := index.ByKey[key]
					if listing.Title == "" {
						listing.Title = market.Title
					}
					listing.Markets = append(listing.Markets, market)
					index.ByKey[key] = listing
				}
			}
			return index, nil
		},
	}
}

// Register installs the built-in processors.
func Register(reg *registry.Registry) {
	reg.RegisterProcessor(CrossPlatformIndex())
}
