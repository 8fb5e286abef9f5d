package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
)

type oddsPayload struct {
	Line float64 `json:"line"`
}

func decodeOdds(data []byte) (any, error) {
	var p oddsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func newMirroredCache(t *testing.T, reg *registry.Registry) (*SourceCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	c := New(reg, DefaultConfig())
	c.SetMirror(NewMirrorWithClient(client))
	return c, srv
}

func TestMirror_WriteThroughOnFetch(t *testing.T) {
	reg := registry.New()
	reg.RegisterSource(registry.Source{
		Name:     "odds",
		Category: domain.CategorySports,
		CacheTTL: time.Minute,
		Fetch: func(ctx context.Context) (any, error) {
			return oddsPayload{Line: 0.61}, nil
		},
		Decode: decodeOdds,
	})
	c, srv := newMirroredCache(t, reg)

	_, ok := c.FetchSource(context.Background(), "odds")
	require.True(t, ok)

	// The mirror write runs detached from the fetch path.
	require.Eventually(t, func() bool {
		return srv.Exists("edgewatch:source:odds")
	}, 2*time.Second, 20*time.Millisecond)

	raw, err := srv.Get("edgewatch:source:odds")
	require.NoError(t, err)
	assert.Contains(t, raw, `"line":0.61`)
}

func TestMirror_PrimesEmptySlotsAfterRestart(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	fetchCalls := 0
	src := registry.Source{
		Name:     "odds",
		Category: domain.CategorySports,
		CacheTTL: time.Minute,
		Fetch: func(ctx context.Context) (any, error) {
			fetchCalls++
			return oddsPayload{Line: 0.55}, nil
		},
		Decode: decodeOdds,
	}

	// Simulate the previous process having written through.
	envelope, err := json.Marshal(mirrorEnvelope{
		FetchedAt: time.Now().Add(-5 * time.Second),
		Payload:   json.RawMessage(`{"line":0.55}`),
	})
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), "edgewatch:source:odds", envelope, time.Minute).Err())

	reg := registry.New()
	reg.RegisterSource(src)
	c := New(reg, DefaultConfig())
	c.SetMirror(NewMirrorWithClient(client))

	primed := c.PrimeFromMirror(context.Background())
	assert.Equal(t, 1, primed)

	payload, ok := c.FetchSource(context.Background(), "odds")
	require.True(t, ok)
	assert.Equal(t, oddsPayload{Line: 0.55}, payload)
	assert.Equal(t, 0, fetchCalls, "primed slot must be served without a provider call")
}

func TestMirror_SkipsSourcesWithoutDecode(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Set(context.Background(), "edgewatch:source:nodecode",
		[]byte(`{"fetched_at":"2026-08-25T10:00:00Z","payload":{"x":1}}`), time.Minute).Err())

	reg := registry.New()
	reg.RegisterSource(registry.Source{
		Name:     "nodecode",
		Category: domain.CategoryOther,
		Fetch:    func(ctx context.Context) (any, error) { return nil, context.Canceled },
	})
	c := New(reg, DefaultConfig())
	c.SetMirror(NewMirrorWithClient(client))

	assert.Equal(t, 0, c.PrimeFromMirror(context.Background()))
}
