package registry

import (
	"context"
	"time"

	"github.com/edgewatch/edgewatch/internal/domain"
)

// DefaultSourceTTL applies when a source descriptor omits CacheTTL.
const DefaultSourceTTL = 300 * time.Second

// FetchFunc produces a source's opaque payload. Implementations return
// an error instead of panicking; the cache layer turns errors into
// stale fallbacks.
type FetchFunc func(ctx context.Context) (any, error)

// ProcessFunc derives a new payload from already-fetched source data.
type ProcessFunc func(ctx context.Context, inputs domain.SourceData) (any, error)

// DetectFunc maps a market snapshot plus source data to opportunities.
// It must not panic and must tolerate missing source entries; internal
// failure yields an empty slice.
type DetectFunc func(ctx context.Context, markets []domain.Market, data domain.SourceData) []domain.Opportunity

// Source describes one external data provider. The struct is immutable
// after registration; the mutable cache slot lives in the cache layer.
type Source struct {
	Name     string
	Category domain.Category
	CacheTTL time.Duration // zero means DefaultSourceTTL
	Fetch    FetchFunc

	// Decode rehydrates a mirrored payload after a restart. Sources
	// that leave it nil are skipped when priming from the mirror.
	Decode func(data []byte) (any, error)
}

// TTL returns the effective cache TTL for the source.
func (s Source) TTL() time.Duration {
	if s.CacheTTL <= 0 {
		return DefaultSourceTTL
	}
	return s.CacheTTL
}

// Processor derives a named payload from declared input sources. It
// runs ahead of detectors and its output is addressable as source data.
type Processor struct {
	Name    string
	Inputs  []string
	Output  string // defaults to Name when empty
	Process ProcessFunc
}

// OutputName returns the source-data key the processor publishes under.
func (p Processor) OutputName() string {
	if p.Output == "" {
		return p.Name
	}
	return p.Output
}

// Detector describes one edge detector. Zero-value Disabled means the
// detector is enabled, matching the convention that an absent flag
// enables.
type Detector struct {
	Name          string
	Disabled      bool
	Sources       []string
	AllowPartial  bool // run even when declared sources are missing
	MinEdge       float64
	MinConfidence float64
	Detect        DetectFunc
}

// Enabled reports whether the detector participates in scans.
func (d Detector) Enabled() bool {
	return !d.Disabled
}
