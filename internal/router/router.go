package router

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/metrics"
)

// SinkTimeout bounds one delivery call.
const SinkTimeout = 5 * time.Second

// Sink consumes routed opportunities. Implementations return false on
// failure and never panic; delivery is best-effort, at-most-once.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool
}

// BatchSink is implemented by sinks that can render one combined
// payload for a multi-outcome group instead of one per opportunity.
type BatchSink interface {
	Sink
	DeliverGroup(ctx context.Context, channel domain.Channel, group Group) bool
}

// sourceChannels routes by the detector family that produced the
// opportunity. First stage of the cascade.
var sourceChannels = map[string]domain.Channel{
	"measles":    domain.ChannelHealth,
	"earnings":   domain.ChannelMentions,
	"sports":     domain.ChannelSports,
	"macro":      domain.ChannelEconomics,
	"options":    domain.ChannelEconomics,
	"whale":      domain.ChannelEconomics,
	"new-market": domain.ChannelDigest,
}

// signalRoutes is the second cascade stage, checked in priority order.
var signalRoutes = []struct {
	tag     domain.SignalTag
	channel domain.Channel
}{
	{domain.SignalWhaleConviction, domain.ChannelEconomics},
	{domain.SignalNewMarket, domain.ChannelDigest},
	{domain.SignalFedSpeech, domain.ChannelMentions},
	{domain.SignalMeasles, domain.ChannelHealth},
	{domain.SignalEnhancedSports, domain.ChannelSports},
	{domain.SignalSportsConsensus, domain.ChannelSports},
	{domain.SignalMacroEdge, domain.ChannelEconomics},
	{domain.SignalOptionsImplied, domain.ChannelEconomics},
	{domain.SignalEntertainment, domain.ChannelEntertainment},
}

// categoryChannels is the final fallback stage; anything unlisted
// lands in digest.
var categoryChannels = map[domain.Category]domain.Channel{
	domain.CategorySports:        domain.ChannelSports,
	domain.CategoryWeather:       domain.ChannelWeather,
	domain.CategoryMacro:         domain.ChannelEconomics,
	domain.CategoryPolitics:      domain.ChannelPolitics,
	domain.CategoryGeopolitics:   domain.ChannelPolitics,
	domain.CategoryCrypto:        domain.ChannelCrypto,
	domain.CategoryEntertainment: domain.ChannelEntertainment,
	domain.CategoryTech:          domain.ChannelEconomics,
}

// ChannelFor resolves the delivery channel for an opportunity through
// the priority cascade: detector family, then signal tags, then market
// category. Total: every opportunity maps to exactly one channel.
func ChannelFor(op domain.Opportunity) domain.Channel {
	if channel, ok := sourceChannels[op.Source]; ok {
		return channel
	}
	for _, route := range signalRoutes {
		if op.Signals.Has(route.tag) {
			return route.channel
		}
	}
	if channel, ok := categoryChannels[op.Market.Category]; ok {
		return channel
	}
	return domain.ChannelDigest
}

// Router dispatches gated opportunities to per-channel sinks and
// suppresses repeat deliveries for markets already sent. The
// seen-markets window persists across scans until the owning caller
// clears it.
type Router struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	sinks map[domain.Channel][]Sink

	sinkTimeout time.Duration
}

// New creates a router with no sinks attached.
func New() *Router {
	return &Router{
		seen:        make(map[string]struct{}),
		sinks:       make(map[domain.Channel][]Sink),
		sinkTimeout: SinkTimeout,
	}
}

// Attach binds a sink to one channel.
func (r *Router) Attach(channel domain.Channel, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[channel] = append(r.sinks[channel], sink)
}

// AttachAll binds a sink to every channel.
func (r *Router) AttachAll(sink Sink) {
	for _, channel := range domain.Channels {
		r.Attach(channel, sink)
	}
}

// ClearSentMarketsCache resets the cross-delivery duplicate window.
// Callers that want per-scan dedup only invoke this between scans.
func (r *Router) ClearSentMarketsCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[string]struct{})
}

// markSent records the market key; reports false when already sent.
func (r *Router) markSent(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

func (r *Router) sinksFor(channel domain.Channel) []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[channel]
}

// Deliver routes one opportunity. Returns true when at least one sink
// accepted it.
func (r *Router) Deliver(ctx context.Context, op domain.Opportunity) bool {
	channel := ChannelFor(op)

	if !r.markSent(op.Market.Key()) {
		log.Debug().
			Str("market", op.Market.Key()).
			Str("channel", string(channel)).
			Msg("suppressing repeat delivery")
		return false
	}

	sinks := r.sinksFor(channel)
	if len(sinks) == 0 {
		log.Debug().
			Str("market", op.Market.Key()).
			Str("channel", string(channel)).
			Msg("no sink attached for channel, dropping")
		return false
	}

	delivered := false
	for _, sink := range sinks {
		if r.deliverOne(ctx, sink, channel, op) {
			delivered = true
		}
	}
	if delivered {
		metrics.RecordOpportunity(string(channel), string(op.Urgency))
	}
	return delivered
}

// deliverOne calls a single sink under the sink deadline, absorbing
// panics so one misbehaving sink cannot take down a scan.
func (r *Router) deliverOne(ctx context.Context, sink Sink, channel domain.Channel, op domain.Opportunity) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("sink", sink.Name()).
				Str("channel", string(channel)).
				Interface("panic", rec).
				Msg("sink panicked during delivery")
			ok = false
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
	defer cancel()

	ok = sink.Deliver(sctx, channel, op)
	result := "ok"
	if !ok {
		result = "failed"
		log.Warn().
			Str("sink", sink.Name()).
			Str("channel", string(channel)).
			Str("market", op.Market.Key()).
			Msg("sink delivery failed, dropping")
	}
	metrics.RecordSinkDelivery(string(channel), result)
	return ok
}
