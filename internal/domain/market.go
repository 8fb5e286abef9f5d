package domain

import (
	"fmt"
	"time"
)

// Category classifies a market into one of the closed topical groups.
type Category string

const (
	CategorySports        Category = "sports"
	CategoryWeather       Category = "weather"
	CategoryMacro         Category = "macro"
	CategoryPolitics      Category = "politics"
	CategoryGeopolitics   Category = "geopolitics"
	CategoryCrypto        Category = "crypto"
	CategoryEntertainment Category = "entertainment"
	CategoryTech          Category = "tech"
	CategoryHealth        Category = "health"
	CategoryOther         Category = "other"
)

// Categories lists every valid category.
var Categories = []Category{
	CategorySports, CategoryWeather, CategoryMacro, CategoryPolitics,
	CategoryGeopolitics, CategoryCrypto, CategoryEntertainment,
	CategoryTech, CategoryHealth, CategoryOther,
}

// Valid reports whether c is one of the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Market is an immutable per-scan snapshot of one binary contract.
type Market struct {
	Platform  string     `json:"platform"`
	ID        string     `json:"id"`
	Ticker    string     `json:"ticker"`
	Title     string     `json:"title"`
	Subtitle  string     `json:"subtitle,omitempty"`
	Category  Category   `json:"category"`
	Price     float64    `json:"price"` // mid or YES-bid, exclusive (0,1)
	Volume    float64    `json:"volume,omitempty"`
	Liquidity float64    `json:"liquidity,omitempty"`
	URL       string     `json:"url,omitempty"`
	CloseTime *time.Time `json:"close_time,omitempty"`
}

// Key returns the platform-scoped identity used for dedup sets.
func (m Market) Key() string {
	return m.Platform + ":" + m.ID
}

// Validate checks the structural invariants of a market snapshot.
func (m Market) Validate() error {
	if m.Platform == "" {
		return fmt.Errorf("market missing platform")
	}
	if m.ID == "" {
		return fmt.Errorf("market %s missing id", m.Platform)
	}
	if m.Price <= 0 || m.Price >= 1 {
		return fmt.Errorf("market %s price %.4f outside (0,1)", m.Key(), m.Price)
	}
	if !m.Category.Valid() {
		return fmt.Errorf("market %s has unknown category %q", m.Key(), m.Category)
	}
	return nil
}
