package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/edgewatch/edgewatch/internal/detectors"
	"github.com/edgewatch/edgewatch/internal/sources"
)

// Feeds is the data half of the configuration: which sources the scan
// polls and how each detector is tuned.
type Feeds struct {
	Sources   sources.Catalog  `yaml:"sources"`
	Detectors detectors.Config `yaml:"detectors"`
}

// DefaultFeeds returns the stock source catalog with every detector
// enabled at its built-in thresholds.
func DefaultFeeds() Feeds {
	feeds := Feeds{Sources: sources.DefaultCatalog()}
	feeds.applyEnv()
	return feeds
}

// LoadFeeds reads the feeds file, layering it over the defaults. Feeds
// absent from the file keep their stock endpoints.
func LoadFeeds(path string) (Feeds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Feeds{}, fmt.Errorf("failed to read feeds config: %w", err)
	}

	feeds := DefaultFeeds()
	if err := yaml.Unmarshal(data, &feeds); err != nil {
		return Feeds{}, fmt.Errorf("failed to parse feeds config: %w", err)
	}
	feeds.applyEnv()
	return feeds, nil
}

// applyEnv keeps credentials out of the feeds file.
func (f *Feeds) applyEnv() {
	if key := os.Getenv("EDGEWATCH_ODDS_API_KEY"); key != "" {
		f.Sources.Sportsbook.APIKey = key
	}
}

// DefaultFeedsPath returns the conventional location of the feeds file.
func DefaultFeedsPath() string {
	return filepath.Join("config", "feeds.yaml")
}
