package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/metrics"
)

// Group is a set of linked multi-outcome opportunities delivered as
// one combined payload. Members are ordered by descending edge.
type Group struct {
	Key           string               `json:"key"`
	Channel       domain.Channel       `json:"channel"`
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// Best returns the strongest member.
func (g Group) Best() domain.Opportunity {
	return g.Opportunities[0]
}

// GroupKey links related outcomes of the same underlying event.
// Earnings mentions group per company, Fed commentary groups into a
// single speech bucket, and sibling outcomes of one market group by
// title.
func GroupKey(op domain.Opportunity) string {
	if company, ok := op.Signals[domain.SignalEarnings].(string); ok && company != "" {
		return "earnings:" + company
	}
	if op.Signals.Has(domain.SignalEarnings) {
		return "earnings:" + op.Market.Title
	}
	if op.Signals.Has(domain.SignalFedSpeech) {
		return "fed:speech"
	}
	return "market:" + op.Market.Title
}

// DispatchStats summarizes one dispatch call.
type DispatchStats struct {
	Delivered  int `json:"delivered"`
	Suppressed int `json:"suppressed"`
	Dropped    int `json:"dropped"`
	Groups     int `json:"groups"`
}

// Dispatch routes a batch of gated opportunities. Multi-outcome
// opportunities are grouped so sinks can render them together; all
// others are delivered one at a time in arrival order.
func (r *Router) Dispatch(ctx context.Context, ops []domain.Opportunity) DispatchStats {
	var stats DispatchStats

	groups := make(map[string][]domain.Opportunity)
	var groupOrder []string

	for _, op := range ops {
		if !op.MultiOutcome() {
			if r.Deliver(ctx, op) {
				stats.Delivered++
			} else {
				stats.Dropped++
			}
			continue
		}
		key := GroupKey(op)
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], op)
	}

	for _, key := range groupOrder {
		members := groups[key]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Edge > members[j].Edge
		})

		fresh := members[:0:0]
		for _, op := range members {
			if r.markSent(op.Market.Key()) {
				fresh = append(fresh, op)
			} else {
				stats.Suppressed++
			}
		}
		if len(fresh) == 0 {
			continue
		}

		group := Group{
			Key:           key,
			Channel:       ChannelFor(fresh[0]),
			Opportunities: fresh,
		}
		stats.Groups++
		if n := r.deliverGroup(ctx, group); n > 0 {
			stats.Delivered += len(fresh)
		} else {
			stats.Dropped += len(fresh)
		}
	}
	return stats
}

// deliverGroup sends one combined payload per batch-capable sink and
// falls back to member-by-member delivery elsewhere. Returns the
// number of sinks that accepted the group.
func (r *Router) deliverGroup(ctx context.Context, group Group) int {
	sinks := r.sinksFor(group.Channel)
	if len(sinks) == 0 {
		log.Debug().
			Str("group", group.Key).
			Str("channel", string(group.Channel)).
			Int("members", len(group.Opportunities)).
			Msg("no sink attached for channel, dropping group")
		return 0
	}

	accepted := 0
	for _, sink := range sinks {
		if batch, ok := sink.(BatchSink); ok {
			if r.deliverGroupOne(ctx, batch, group) {
				accepted++
			}
			continue
		}
		sunk := false
		for _, op := range group.Opportunities {
			if r.deliverOne(ctx, sink, group.Channel, op) {
				sunk = true
			}
		}
		if sunk {
			accepted++
		}
	}
	if accepted > 0 {
		best := group.Best()
		metrics.RecordOpportunity(string(group.Channel), string(best.Urgency))
	}
	return accepted
}

func (r *Router) deliverGroupOne(ctx context.Context, sink BatchSink, group Group) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("sink", sink.Name()).
				Str("group", group.Key).
				Interface("panic", rec).
				Msg("sink panicked during group delivery")
			ok = false
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
	defer cancel()

	ok = sink.DeliverGroup(sctx, group.Channel, group)
	result := "ok"
	if !ok {
		result = "failed"
		log.Warn().
			Str("sink", sink.Name()).
			Str("group", group.Key).
			Str("channel", string(group.Channel)).
			Msg("group delivery failed, dropping")
	}
	metrics.RecordSinkDelivery(string(group.Channel), result)
	return ok
}

// String renders a short identity for logs.
func (g Group) String() string {
	return fmt.Sprintf("%s (%d outcomes)", g.Key, len(g.Opportunities))
}
