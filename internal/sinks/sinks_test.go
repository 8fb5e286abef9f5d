package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/router"
	"github.com/edgewatch/edgewatch/internal/status"
)

func sampleOpportunity() domain.Opportunity {
	return domain.Opportunity{
		Market: domain.Market{
			Platform: "kalshi",
			ID:       "KXBTC-Y",
			Title:    "Bitcoin above 100k",
			Category: domain.CategoryCrypto,
			Price:    0.42,
		},
		Source:     "whale",
		Edge:       0.12,
		Confidence: 0.65,
		Direction:  domain.BuyYes,
		Urgency:    domain.UrgencyStandard,
		Signals:    domain.Signals{domain.SignalWhale: true},
	}
}

func TestWebhookSink_PostsOpportunityJSON(t *testing.T) {
	var (
		mu       sync.Mutex
		received webhookPayload
		path     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{
		URLs: map[domain.Channel]string{
			domain.ChannelCrypto: srv.URL + "/crypto",
		},
		FallbackURL: srv.URL + "/fallback",
	})

	t.Run("channel_url_wins_over_fallback", func(t *testing.T) {
		ok := sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity())
		require.True(t, ok)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "/crypto", path)
		assert.Equal(t, domain.ChannelCrypto, received.Channel)
		require.NotNil(t, received.Opportunity)
		assert.Equal(t, "KXBTC-Y", received.Opportunity.Market.ID)
	})

	t.Run("unmapped_channel_uses_fallback", func(t *testing.T) {
		ok := sink.Deliver(context.Background(), domain.ChannelDigest, sampleOpportunity())
		require.True(t, ok)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "/fallback", path)
	})
}

func TestWebhookSink_ServerErrorFailsDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{FallbackURL: srv.URL})
	assert.False(t, sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity()))
}

func TestWebhookSink_NoURLConfigured(t *testing.T) {
	sink := NewWebhookSink(WebhookConfig{})
	assert.False(t, sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity()))
}

func TestWebhookSink_GroupPayload(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{FallbackURL: srv.URL})
	group := router.Group{
		Key:           "earnings:NVDA",
		Channel:       domain.ChannelMentions,
		Opportunities: []domain.Opportunity{sampleOpportunity()},
	}
	require.True(t, sink.DeliverGroup(context.Background(), domain.ChannelMentions, group))
	require.NotNil(t, received.Group)
	assert.Equal(t, "earnings:NVDA", received.Group.Key)
	assert.Nil(t, received.Opportunity)
}

func TestWebhookSink_PostsStatusUpdates(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{
		URLs: map[domain.Channel]string{
			domain.ChannelStatus: srv.URL + "/status",
		},
	})

	require.True(t, sink.PostStatus(context.Background(), status.Update{Scans: 7, Emitted: 3}))
	assert.Equal(t, domain.ChannelStatus, received.Channel)
	require.NotNil(t, received.Status)
	assert.Equal(t, 7, received.Status.Scans)
	assert.Equal(t, 3, received.Status.Emitted)
	assert.Nil(t, received.Opportunity)
}

func TestFileSink_AppendsOneLinePerDelivery(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	require.True(t, sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity()))
	require.True(t, sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity()))

	f, err := os.Open(filepath.Join(dir, "crypto.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var payload webhookPayload
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &payload))
		assert.Equal(t, domain.ChannelCrypto, payload.Channel)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestFileSink_SeparatesChannels(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	require.True(t, sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity()))
	require.True(t, sink.Deliver(context.Background(), domain.ChannelSports, sampleOpportunity()))

	assert.FileExists(t, filepath.Join(dir, "crypto.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "sports.jsonl"))
}

type captureHub struct {
	mu     sync.Mutex
	events []any
}

func (h *captureHub) Broadcast(event any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func TestFeedSink_BroadcastsEvents(t *testing.T) {
	hub := &captureHub{}
	sink := NewFeedSink(hub)

	require.True(t, sink.Deliver(context.Background(), domain.ChannelCrypto, sampleOpportunity()))

	require.Len(t, hub.events, 1)
	event, ok := hub.events[0].(FeedEvent)
	require.True(t, ok)
	assert.Equal(t, "opportunity", event.Type)
	assert.Equal(t, domain.ChannelCrypto, event.Channel)
}

func TestFuncSink_AdaptsCallback(t *testing.T) {
	var got domain.Channel
	sink := FuncSink{Fn: func(ctx context.Context, channel domain.Channel, op domain.Opportunity) bool {
		got = channel
		return true
	}}

	assert.True(t, sink.Deliver(context.Background(), domain.ChannelDigest, sampleOpportunity()))
	assert.Equal(t, domain.ChannelDigest, got)
	assert.Equal(t, "func", sink.Name())

	empty := FuncSink{}
	assert.False(t, empty.Deliver(context.Background(), domain.ChannelDigest, sampleOpportunity()))
}
