package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON_DecodesResponse(t *testing.T) {
	var sawUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"price": 0.42, "ticker": "KXBTC"}`))
	}))
	defer srv.Close()

	client := New(DefaultConfig())

	var out struct {
		Price  float64 `json:"price"`
		Ticker string  `json:"ticker"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "exchange", srv.URL, &out))
	assert.Equal(t, 0.42, out.Price)
	assert.Equal(t, "KXBTC", out.Ticker)
	assert.Equal(t, "edgewatch/1.0", sawUA.Load())
}

func TestGet_NonSuccessStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(DefaultConfig())
	_, err := client.Get(context.Background(), "exchange", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestGet_BreakerTripsAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Breaker.ConsecutiveFailures = 2
	client := New(cfg)

	_, err := client.Get(context.Background(), "flaky", srv.URL)
	require.Error(t, err)
	_, err = client.Get(context.Background(), "flaky", srv.URL)
	require.Error(t, err)
	require.Equal(t, int64(2), hits.Load())

	// Third call fails fast without reaching the server.
	_, err = client.Get(context.Background(), "flaky", srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(2), hits.Load())
}

func TestGet_BreakersAreIsolatedPerSource(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer up.Close()

	cfg := DefaultConfig()
	cfg.Breaker.ConsecutiveFailures = 1
	client := New(cfg)

	_, err := client.Get(context.Background(), "flaky", down.URL)
	require.Error(t, err)

	_, err = client.Get(context.Background(), "healthy", up.URL)
	assert.NoError(t, err, "one tripped source must not block another")

	states := client.BreakerStates()
	assert.Equal(t, "open", states["flaky"])
	assert.Equal(t, "closed", states["healthy"])
}

func TestGet_RateLimitRespectsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.HostRPS = 0.5
	cfg.HostBurst = 1
	client := New(cfg)

	_, err := client.Get(context.Background(), "exchange", srv.URL)
	require.NoError(t, err)

	// Bucket is empty and refills too slowly for this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, "exchange", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
