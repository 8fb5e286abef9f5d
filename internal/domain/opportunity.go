package domain

import (
	"fmt"
	"math"
)

// Direction is the side an opportunity recommends.
type Direction string

const (
	BuyYes Direction = "BUY_YES"
	BuyNo  Direction = "BUY_NO"
)

// DefaultNotional is the flat paper stake every tracked opportunity
// assumes, in dollars.
const DefaultNotional = 100.0

// Urgency grades how quickly an opportunity decays.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyStandard Urgency = "standard"
	UrgencyFYI      Urgency = "fyi"
)

// Sizing is an optional position-size suggestion attached by detectors
// that model liquidity. The engine passes it through untouched.
type Sizing struct {
	Notional      float64 `json:"notional"`
	Contracts     int     `json:"contracts,omitempty"`
	KellyFraction float64 `json:"kelly_fraction,omitempty"`
}

// SizingFor suggests a flat-notional position: how many contracts the
// default stake buys at the entry cost, with a quarter-Kelly cap on
// the fraction.
func SizingFor(price, edge float64, dir Direction) *Sizing {
	cost := price
	if dir == BuyNo {
		cost = 1 - price
	}
	s := &Sizing{Notional: DefaultNotional}
	if cost > 0 {
		s.Contracts = int(math.Round(DefaultNotional / cost))
		s.KellyFraction = math.Min(edge/cost/4, 0.25)
	}
	return s
}

// Opportunity is the pipeline's output unit: one detector's claim that
// a market is mispriced, with enough provenance to route and audit it.
type Opportunity struct {
	Market     Market    `json:"market"`
	Source     string    `json:"source"` // detector family that produced it
	Edge       float64   `json:"edge"`
	Confidence float64   `json:"confidence"`
	Direction  Direction `json:"direction"`
	Urgency    Urgency   `json:"urgency"`
	Signals    Signals   `json:"signals,omitempty"`
	Sizing     *Sizing   `json:"sizing,omitempty"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// Estimate returns the probability estimate implied by edge and
// direction: price+edge for BUY_YES, price-edge for BUY_NO.
func (o Opportunity) Estimate() float64 {
	if o.Direction == BuyNo {
		return o.Market.Price - o.Edge
	}
	return o.Market.Price + o.Edge
}

// MultiOutcome reports whether the opportunity belongs to a family of
// related contracts (earnings ladders, Fed speech buckets, markets
// with subtitled outcomes) that sinks may batch together.
func (o Opportunity) MultiOutcome() bool {
	return o.Signals.Has(SignalEarnings, SignalFedSpeech) || o.Market.Subtitle != ""
}

// Validate checks structural bounds. Gate policy (price band, edge
// ceilings, confidence floor) lives in the gate package; this only
// rejects values outside their defined ranges.
func (o Opportunity) Validate() error {
	if err := o.Market.Validate(); err != nil {
		return err
	}
	if o.Source == "" {
		return fmt.Errorf("opportunity for %s missing source", o.Market.Key())
	}
	if o.Edge < 0 || o.Edge > 1 {
		return fmt.Errorf("opportunity for %s edge %.4f outside [0,1]", o.Market.Key(), o.Edge)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("opportunity for %s confidence %.4f outside [0,1]", o.Market.Key(), o.Confidence)
	}
	if o.Direction != BuyYes && o.Direction != BuyNo {
		return fmt.Errorf("opportunity for %s has unknown direction %q", o.Market.Key(), o.Direction)
	}
	switch o.Urgency {
	case UrgencyCritical, UrgencyStandard, UrgencyFYI:
	default:
		return fmt.Errorf("opportunity for %s has unknown urgency %q", o.Market.Key(), o.Urgency)
	}
	return nil
}
