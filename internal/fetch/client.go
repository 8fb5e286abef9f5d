// Package fetch is the shared outbound HTTP layer for source
// fetchers: one pooled client with per-host rate limiting and
// per-source circuit breakers.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config tunes the shared client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	HostRPS   float64
	HostBurst int
	Breaker   BreakerConfig
}

// BreakerConfig tunes the per-source circuit breakers.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ErrorRateThreshold  float64
	ConsecutiveFailures uint32
}

// DefaultConfig returns conservative limits suited to free-tier data
// APIs.
func DefaultConfig() Config {
	return Config{
		UserAgent: "edgewatch/1.0",
		Timeout:   30 * time.Second,
		HostRPS:   4,
		HostBurst: 8,
		Breaker: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ErrorRateThreshold:  50.0,
			ConsecutiveFailures: 5,
		},
	}
}

// Client is safe for concurrent use by all source fetchers.
type Client struct {
	cfg  Config
	http *http.Client

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds the shared client with a pooled transport.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.HostRPS <= 0 {
		cfg.HostRPS = DefaultConfig().HostRPS
	}
	if cfg.HostBurst <= 0 {
		cfg.HostBurst = DefaultConfig().HostBurst
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// limiterFor returns or creates the token bucket for a host.
func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.RLock()
	limiter, exists := c.limiters[host]
	c.mu.RUnlock()
	if exists {
		return limiter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := c.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(c.cfg.HostRPS), c.cfg.HostBurst)
	c.limiters[host] = limiter
	return limiter
}

// breakerFor returns or creates the circuit breaker for a source.
func (c *Client) breakerFor(source string) *gobreaker.CircuitBreaker {
	c.mu.RLock()
	breaker, exists := c.breakers[source]
	c.mu.RUnlock()
	if exists {
		return breaker
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if breaker, exists := c.breakers[source]; exists {
		return breaker
	}

	bcfg := c.cfg.Breaker
	if bcfg.ConsecutiveFailures == 0 {
		bcfg = DefaultConfig().Breaker
	}
	breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: bcfg.MaxRequests,
		Interval:    bcfg.Interval,
		Timeout:     bcfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests >= 10 {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				if errorRate >= bcfg.ErrorRateThreshold {
					return true
				}
			}
			return counts.ConsecutiveFailures >= bcfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			event := log.Info()
			if to == gobreaker.StateOpen {
				event = log.Warn()
			}
			event.
				Str("source", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	c.breakers[source] = breaker
	return breaker
}

// Get fetches a URL on behalf of a source and returns the body.
// Requests wait for the host token bucket, then run through the
// source's circuit breaker; a tripped breaker fails fast without
// touching the network.
func (c *Client) Get(ctx context.Context, source, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url for %s: %w", source, err)
	}

	if err := c.limiterFor(parsed.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", parsed.Host, err)
	}

	result, err := c.breakerFor(source).Execute(func() (interface{}, error) {
		return c.do(ctx, rawURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source, err)
	}
	return result.([]byte), nil
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("throttled by upstream: status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// GetJSON fetches a URL and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, source, rawURL string, out any) error {
	body, err := c.Get(ctx, source, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response from %s: %w", source, err)
	}
	return nil
}

// BreakerStates reports the current state of every source breaker.
func (c *Client) BreakerStates() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make(map[string]string, len(c.breakers))
	for name, breaker := range c.breakers {
		states[name] = breaker.State().String()
	}
	return states
}
