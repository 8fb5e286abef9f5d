// Package processors runs the derived-data stage between source
// fetching and detection. A processor consumes fetched payloads and
// publishes one named output back into the scan's source data.
package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/domain"
	"github.com/edgewatch/edgewatch/internal/registry"
)

// Run executes every registered processor whose inputs are present,
// in dependency order. Outputs land in data under the processor's
// output name, so later processors can consume earlier results. A
// failing or panicking processor is skipped; its output simply never
// appears, and detectors that depend on it see a missing source.
// Returns the names of the outputs produced.
func Run(ctx context.Context, reg *registry.Registry, data domain.SourceData) []string {
	pending := reg.Processors()
	var produced []string

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("pending", len(pending)).Msg("processor stage cut short")
			break
		}

		progressed := false
		remaining := pending[:0]
		for _, proc := range pending {
			if !data.Has(proc.Inputs...) {
				remaining = append(remaining, proc)
				continue
			}
			if out, err := runOne(ctx, proc, data); err != nil {
				log.Warn().Err(err).Str("processor", proc.Name).Msg("processor failed, output unavailable")
			} else {
				data[proc.OutputName()] = out
				produced = append(produced, proc.OutputName())
			}
			progressed = true
		}
		pending = remaining
		if !progressed {
			break
		}
	}

	for _, proc := range pending {
		log.Debug().
			Str("processor", proc.Name).
			Strs("inputs", proc.Inputs).
			Msg("processor inputs unavailable, skipping")
	}
	return produced
}

func runOne(ctx context.Context, proc registry.Processor, data domain.SourceData) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panicked: %v", rec)
		}
	}()

	start := time.Now()
	out, err = proc.Process(ctx, data)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("processor", proc.Name).
		Str("output", proc.OutputName()).
		Dur("took", time.Since(start)).
		Msg("processor produced output")
	return out, nil
}
