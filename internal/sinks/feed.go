package sinks

import (
	"context"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/router"
	"github.com/edgewatch/edgewatch/internal/status"
)

// Broadcaster pushes events to connected live-feed clients. The HTTP
// layer's websocket hub satisfies it.
type Broadcaster interface {
	Broadcast(event any)
}

// FeedEvent is the wire shape pushed over the live feed.
type FeedEvent struct {
	Type        string              `json:"type"`
	Channel     domain.Channel      `json:"channel"`
	SentAt      time.Time           `json:"sent_at"`
	Opportunity *domain.Opportunity `json:"opportunity,omitempty"`
	Group       *router.Group       `json:"group,omitempty"`
	Status      *status.Update      `json:"status,omitempty"`
}

// FeedSink fans deliveries out to live websocket subscribers.
// Broadcasting is fire-and-forget; a sink with no listeners still
// reports success.
type FeedSink struct {
	hub Broadcaster
}

func NewFeedSink(hub Broadcaster) *FeedSink {
	return &FeedSink{hub: hub}
}

func (s *FeedSink) Name() string { return "feed" }

func (s *FeedSink) Deliver(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool {
	if s.hub == nil {
		return false
	}
	s.hub.Broadcast(FeedEvent{
		Type:        "opportunity",
		Channel:     channel,
		SentAt:      time.Now().UTC(),
		Opportunity: &op,
	})
	return true
}

func (s *FeedSink) DeliverGroup(ctx context.Context, channel domain.Channel, group router.Group) bool {
	if s.hub == nil {
		return false
	}
	s.hub.Broadcast(FeedEvent{
		Type:    "group",
		Channel: channel,
		SentAt:  time.Now().UTC(),
		Group:   &group,
	})
	return true
}

// PostStatus pushes an operational health summary to live viewers.
func (s *FeedSink) PostStatus(update status.Update) bool {
	if s.hub == nil {
		return false
	}
	s.hub.Broadcast(FeedEvent{
		Type:    "status",
		Channel: domain.ChannelStatus,
		SentAt:  time.Now().UTC(),
		Status:  &update,
	})
	return true
}
