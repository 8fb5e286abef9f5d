package registry

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
)

// Registry is the process-wide index of sources, processors, and
// detectors. Registration happens at startup and is rare afterwards;
// reads dominate, so a readers-writer lock guards the maps.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]Source
	processors map[string]Processor
	detectors  map[string]Detector
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sources:    make(map[string]Source),
		processors: make(map[string]Processor),
		detectors:  make(map[string]Detector),
	}
}

// RegisterSource indexes a source by name. Re-registering overwrites
// the previous descriptor with a warning rather than failing.
func (r *Registry) RegisterSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[s.Name]; exists {
		log.Warn().Str("source", s.Name).Msg("re-registering source, overwriting previous descriptor")
	}
	r.sources[s.Name] = s
}

// RegisterProcessor indexes a processor by name, overwriting with a
// warning on collision.
func (r *Registry) RegisterProcessor(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processors[p.Name]; exists {
		log.Warn().Str("processor", p.Name).Msg("re-registering processor, overwriting previous descriptor")
	}
	r.processors[p.Name] = p
}

// RegisterDetector indexes a detector by name. Declared dependencies
// may be sources or processor outputs; ones that are not yet
// registered only warn, since the provider may legitimately arrive
// later in startup.
func (r *Registry) RegisterDetector(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[d.Name]; exists {
		log.Warn().Str("detector", d.Name).Msg("re-registering detector, overwriting previous descriptor")
	}
	for _, dep := range d.Sources {
		if _, ok := r.sources[dep]; ok {
			continue
		}
		if r.processorOutputLocked(dep) {
			continue
		}
		log.Warn().Str("detector", d.Name).Str("source", dep).Msg("detector declares unregistered source")
	}
	r.detectors[d.Name] = d
}

func (r *Registry) processorOutputLocked(name string) bool {
	for _, p := range r.processors {
		if p.OutputName() == name {
			return true
		}
	}
	return false
}

// Source returns the descriptor for name.
func (r *Registry) Source(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

// Processor returns the descriptor for name.
func (r *Registry) Processor(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[name]
	return p, ok
}

// Detector returns the descriptor for name.
func (r *Registry) Detector(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// Sources lists every registered source sorted by name.
func (r *Registry) Sources() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Processors lists every registered processor sorted by name.
func (r *Registry) Processors() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Processor, 0, len(r.processors))
	for _, p := range r.processors {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Detectors lists every registered detector sorted by name.
func (r *Registry) Detectors() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Detector, 0, len(r.detectors))
	for _, d := range r.detectors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SourcesByCategory lists sources carrying the given category tag.
func (r *Registry) SourcesByCategory(category domain.Category) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Source
	for _, s := range r.sources {
		if s.Category == category {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnabledDetectors lists detectors that participate in scans, sorted
// by name.
func (r *Registry) EnabledDetectors() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Detector
	for _, d := range r.detectors {
		if d.Enabled() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears all registrations. Test-only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = make(map[string]Source)
	r.processors = make(map[string]Processor)
	r.detectors = make(map[string]Detector)
}

// Stats summarizes registry contents.
type Stats struct {
	Sources           int                     `json:"sources"`
	Processors        int                     `json:"processors"`
	Detectors         int                     `json:"detectors"`
	EnabledDetectors  int                     `json:"enabled_detectors"`
	SourcesByCategory map[domain.Category]int `json:"sources_by_category"`
}

// Stats returns counts and the per-category source histogram.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Sources:           len(r.sources),
		Processors:        len(r.processors),
		Detectors:         len(r.detectors),
		SourcesByCategory: make(map[domain.Category]int),
	}
	for _, s := range r.sources {
		stats.SourcesByCategory[s.Category]++
	}
	for _, d := range r.detectors {
		if d.Enabled() {
			stats.EnabledDetectors++
		}
	}
	return stats
}
