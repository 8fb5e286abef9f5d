package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/registry"
)

const (
	mirrorKeyPrefix  = "edgewatch:source:"
	mirrorOpTimeout  = 2 * time.Second
	mirrorPingWindow = 3 * time.Second
)

// mirrorEnvelope is the JSON shape stored per source key.
type mirrorEnvelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Mirror write-throughs successful fetches to Redis so a restarted
// process inherits warm payloads. The in-process slot stays the
// authority; mirror failures only log.
type Mirror struct {
	client *redis.Client
}

// NewMirror connects to Redis at addr and verifies it responds.
func NewMirror(ctx context.Context, addr string, db int) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pctx, cancel := context.WithTimeout(ctx, mirrorPingWindow)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis mirror at %s: %w", addr, err)
	}

	return &Mirror{client: client}, nil
}

// NewMirrorWithClient wraps an existing client. Used by tests.
func NewMirrorWithClient(client *redis.Client) *Mirror {
	return &Mirror{client: client}
}

// Close releases the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}

// WriteThrough stores a fetched payload under the source key with the
// source TTL. Runs detached so a slow mirror never delays a fetch.
func (m *Mirror) WriteThrough(src registry.Source, payload any, fetchedAt time.Time) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Str("source", src.Name).Err(err).Msg("mirror skip, payload not serializable")
		return
	}
	envelope, err := json.Marshal(mirrorEnvelope{FetchedAt: fetchedAt, Payload: raw})
	if err != nil {
		log.Warn().Str("source", src.Name).Err(err).Msg("mirror skip, envelope marshal failed")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
		defer cancel()
		if err := m.client.Set(ctx, mirrorKeyPrefix+src.Name, envelope, src.TTL()).Err(); err != nil {
			log.Warn().Str("source", src.Name).Err(err).Msg("mirror write failed")
		}
	}()
}

// Read loads the mirrored payload for a source, decoded through the
// source's Decode hook.
func (m *Mirror) Read(ctx context.Context, src registry.Source) (any, time.Time, bool) {
	if src.Decode == nil {
		return nil, time.Time{}, false
	}

	rctx, cancel := context.WithTimeout(ctx, mirrorOpTimeout)
	defer cancel()

	raw, err := m.client.Get(rctx, mirrorKeyPrefix+src.Name).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Str("source", src.Name).Err(err).Msg("mirror read failed")
		}
		return nil, time.Time{}, false
	}

	var envelope mirrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.Warn().Str("source", src.Name).Err(err).Msg("mirror envelope corrupt")
		return nil, time.Time{}, false
	}

	payload, err := src.Decode(envelope.Payload)
	if err != nil {
		log.Warn().Str("source", src.Name).Err(err).Msg("mirror payload decode failed")
		return nil, time.Time{}, false
	}

	return payload, envelope.FetchedAt, true
}

// PrimeFromMirror seeds empty cache slots from the mirror. Populated
// slots are left alone. Returns the number of sources primed.
func (c *SourceCache) PrimeFromMirror(ctx context.Context) int {
	if c.mirror == nil {
		return 0
	}

	primed := 0
	for _, src := range c.registry.Sources() {
		s := c.slotFor(src.Name)
		if _, _, populated := s.snapshot(); populated {
			continue
		}

		payload, fetchedAt, ok := c.mirror.Read(ctx, src)
		if !ok {
			continue
		}

		s.store(payload, fetchedAt)
		primed++
		log.Info().
			Str("source", src.Name).
			Dur("age", time.Since(fetchedAt)).
			Msg("primed cache slot from mirror")
	}
	return primed
}
