package domain

import "sort"

// SignalTag names one provenance signal a detector can attach to an
// opportunity. The set is closed: routing and gating inspect tags by
// identity, so free-form keys would silently fall through the cascade.
type SignalTag string

const (
	SignalSports          SignalTag = "sports"
	SignalEarnings        SignalTag = "earnings"
	SignalMeasles         SignalTag = "measles"
	SignalFedSpeech       SignalTag = "fedSpeech"
	SignalWhale           SignalTag = "whale"
	SignalNewMarket       SignalTag = "newMarket"
	SignalCrossPlatform   SignalTag = "crossPlatform"
	SignalSentiment       SignalTag = "sentiment"
	SignalEntertainment   SignalTag = "entertainment"
	SignalMacro           SignalTag = "macro"
	SignalOptions         SignalTag = "options"
	SignalLineMove        SignalTag = "lineMove"
	SignalPlayerProp      SignalTag = "playerProp"
	SignalRecencyBias     SignalTag = "recencyBias"
	SignalWeatherBias     SignalTag = "weatherBias"
	SignalTimeDecay       SignalTag = "timeDecay"
	SignalSportsConsensus SignalTag = "sportsConsensus"
	SignalEnhancedSports  SignalTag = "enhancedSports"
	SignalWhaleConviction SignalTag = "whaleConviction"
	SignalMacroEdge       SignalTag = "macroEdge"
	SignalOptionsImplied  SignalTag = "optionsImplied"
)

var knownSignals = map[SignalTag]struct{}{
	SignalSports: {}, SignalEarnings: {}, SignalMeasles: {},
	SignalFedSpeech: {}, SignalWhale: {}, SignalNewMarket: {},
	SignalCrossPlatform: {}, SignalSentiment: {}, SignalEntertainment: {},
	SignalMacro: {}, SignalOptions: {}, SignalLineMove: {},
	SignalPlayerProp: {}, SignalRecencyBias: {}, SignalWeatherBias: {},
	SignalTimeDecay: {}, SignalSportsConsensus: {}, SignalEnhancedSports: {},
	SignalWhaleConviction: {}, SignalMacroEdge: {}, SignalOptionsImplied: {},
}

// KnownSignal reports whether tag belongs to the closed signal set.
func KnownSignal(tag SignalTag) bool {
	_, ok := knownSignals[tag]
	return ok
}

// Signals is the provenance envelope on an opportunity. Keys are signal
// tags; values carry detector-specific detail (a consensus probability,
// a flow magnitude) and are opaque to the engine.
type Signals map[SignalTag]any

// Has reports whether any of the given tags is present.
func (s Signals) Has(tags ...SignalTag) bool {
	for _, tag := range tags {
		if _, ok := s[tag]; ok {
			return true
		}
	}
	return false
}

// Tags returns the present tags in stable sorted order, used when the
// envelope is persisted to the prediction ledger.
func (s Signals) Tags() []string {
	out := make([]string, 0, len(s))
	for tag := range s {
		out = append(out, string(tag))
	}
	sort.Strings(out)
	return out
}
