package domain

// SourceData maps source names to their latest payloads for one scan.
// Payload shapes are source-specific; detectors narrow them at their
// own boundary. The map is owned by the scan that built it.
type SourceData map[string]any

// Get returns the raw payload for name, if present.
func (sd SourceData) Get(name string) (any, bool) {
	v, ok := sd[name]
	return v, ok
}

// Has reports whether every named source resolved this scan.
func (sd SourceData) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := sd[name]; !ok {
			return false
		}
	}
	return true
}

// Payload narrows the payload for name to T. It is the typed accessor
// detectors use instead of casting inline; ok is false when the source
// is absent or the payload is a different shape.
func Payload[T any](sd SourceData, name string) (T, bool) {
	var zero T
	raw, ok := sd[name]
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Markets extracts the market snapshot list published by the primary
// exchange source under name.
func Markets(sd SourceData, name string) []Market {
	markets, ok := Payload[[]Market](sd, name)
	if !ok {
		return nil
	}
	return markets
}
