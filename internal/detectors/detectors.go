// Package detectors holds the built-in edge detectors. Each one reads
// fetched source payloads, compares an external probability estimate
// against market prices, and emits opportunities for the gate stage.
// Detectors are pure over their inputs: calibration adjustment and
// policy gating happen downstream.
package detectors

import (
	"fmt"
	"math"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// Detector families, used for routing and ledger attribution.
const (
	FamilySports        = "sports"
	FamilyMacro         = "macro"
	FamilyWhale         = "whale"
	FamilyNewMarket     = "new-market"
	FamilyEarnings      = "earnings"
	FamilyMeasles       = "measles"
	FamilyWeather       = "weather"
	FamilyCrossPlatform = "cross-platform"
)

// Config is the detector half of the configuration file.
type Config struct {
	Sports        SportsConfig        `yaml:"sports"`
	Fed           FedConfig           `yaml:"fed"`
	Whale         WhaleConfig         `yaml:"whale"`
	NewMarket     NewMarketConfig     `yaml:"new_market"`
	Earnings      EarningsConfig      `yaml:"earnings"`
	Measles       MeaslesConfig       `yaml:"measles"`
	Weather       WeatherConfig       `yaml:"weather"`
	CrossPlatform CrossPlatformConfig `yaml:"cross_platform"`
}

// Register installs every built-in detector. Individual detectors can
// be switched off in config without touching the roster.
func Register(reg *registry.Registry, cfg Config) {
	reg.RegisterDetector(SportsConsensus(cfg.Sports))
	reg.RegisterDetector(FedSpeech(cfg.Fed))
	reg.RegisterDetector(WhaleConviction(cfg.Whale))
	reg.RegisterDetector(NewMarket(cfg.NewMarket))
	reg.RegisterDetector(EarningsMention(cfg.Earnings))
	reg.RegisterDetector(MeaslesOutbreak(cfg.Measles))
	reg.RegisterDetector(WeatherEdge(cfg.Weather))
	reg.RegisterDetector(CrossPlatform(cfg.CrossPlatform))
}

// closeSoon is the horizon at which a market's expiry alone bumps
// urgency.
const closeSoon = 6 * time.Hour

func urgencyFor(edge float64, closeTime *time.Time) domain.Urgency {
	if edge >= 0.25 {
		return domain.UrgencyCritical
	}
	if closeTime != nil && time.Until(*closeTime) > 0 && time.Until(*closeTime) < closeSoon {
		return domain.UrgencyCritical
	}
	if edge >= 0.08 {
		return domain.UrgencyStandard
	}
	return domain.UrgencyFYI
}

// build turns an external probability estimate into an opportunity.
// Returns false when the estimate agrees with the market.
func build(family string, m domain.Market, estimate, confidence float64, signals domain.Signals, reasoning string) (domain.Opportunity, bool) {
	diff := estimate - m.Price
	dir := domain.BuyYes
	if diff < 0 {
		dir = domain.BuyNo
		diff = -diff
	}
	if diff == 0 && family != FamilyNewMarket {
		return domain.Opportunity{}, false
	}
	return domain.Opportunity{
		Market:     m,
		Source:     family,
		Edge:       diff,
		Confidence: confidence,
		Direction:  dir,
		Urgency:    urgencyFor(diff, m.CloseTime),
		Signals:    signals,
		Sizing:     domain.SizingFor(m.Price, diff, dir),
		Reasoning:  reasoning,
	}, true
}

// towardHalf nudges the estimate from price toward 0.5 by at most
// step. Heads-up detectors use it ahead of repricing events.
func towardHalf(price, step float64) float64 {
	if price > 0.5 {
		return price - math.Min(step, price-0.5)
	}
	return price + math.Min(step, 0.5-price)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pct(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}
