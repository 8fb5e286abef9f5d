// Package sinks provides the delivery backends opportunities are
// routed to: webhook POSTs, JSONL archives, and the live feed.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/router"
	"github.com/edgewatch/edgewatch/internal/status"
)

// WebhookConfig maps channels to endpoint URLs. Channels without an
// entry fall back to FallbackURL; with neither, deliveries to that
// channel fail.
type WebhookConfig struct {
	URLs        map[domain.Channel]string
	FallbackURL string
	Timeout     time.Duration
}

// WebhookSink POSTs one JSON payload per delivery.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
}

type webhookPayload struct {
	Channel     domain.Channel      `json:"channel"`
	SentAt      time.Time           `json:"sent_at"`
	Opportunity *domain.Opportunity `json:"opportunity,omitempty"`
	Group       *router.Group       `json:"group,omitempty"`
	Status      *status.Update      `json:"status,omitempty"`
}

// NewWebhookSink builds a webhook sink with its own pooled client.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = router.SinkTimeout
	}
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) urlFor(channel domain.Channel) string {
	if url, ok := s.cfg.URLs[channel]; ok && url != "" {
		return url
	}
	return s.cfg.FallbackURL
}

// Deliver posts a single opportunity.
func (s *WebhookSink) Deliver(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool {
	return s.post(ctx, channel, webhookPayload{
		Channel:     channel,
		SentAt:      time.Now().UTC(),
		Opportunity: &op,
	})
}

// DeliverGroup posts one combined payload for a multi-outcome group.
func (s *WebhookSink) DeliverGroup(ctx context.Context, channel domain.Channel, group router.Group) bool {
	return s.post(ctx, channel, webhookPayload{
		Channel: channel,
		SentAt:  time.Now().UTC(),
		Group:   &group,
	})
}

// PostStatus posts an operational summary to the status channel.
func (s *WebhookSink) PostStatus(ctx context.Context, update status.Update) bool {
	return s.post(ctx, domain.ChannelStatus, webhookPayload{
		Channel: domain.ChannelStatus,
		SentAt:  time.Now().UTC(),
		Status:  &update,
	})
}

func (s *WebhookSink) post(ctx context.Context, channel domain.Channel, payload webhookPayload) bool {
	url := s.urlFor(channel)
	if url == "" {
		log.Debug().
			Str("channel", string(channel)).
			Msg("no webhook URL configured for channel")
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).
			Str("channel", string(channel)).
			Msg("failed to marshal webhook payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).
			Str("channel", string(channel)).
			Msg("failed to create webhook request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Warn().Err(err).
			Str("channel", string(channel)).
			Str("url", url).
			Msg("webhook request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().
			Str("channel", string(channel)).
			Str("url", url).
			Int("status", resp.StatusCode).
			Msg("webhook endpoint rejected payload")
		return false
	}
	return true
}
