package prober

import (
	"context"
	"fmt"

	"github.com/medcohort/tcia-fetch/pkg/classify"
)

// Probe samples a collection's series inventory before any patient-level
// work starts and reports whether the collection shows any sign of
// carrying report content. The check is deliberately permissive: it uses
// the broad modality set and extended keyword list so a collection is
// only ruled out when the sample is entirely image data.
//
// The series endpoint has no limit parameter, so this is one request
// for the whole collection inventory, truncated to sampleSize in
// memory. That keeps the probe to a single round trip but the response
// body still scales with the collection.
func (p *Prober) Probe(ctx context.Context, collection string, sampleSize int) (bool, error) {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	series, err := p.lister.ListSeries(ctx, collection, "", "")
	if err != nil {
		return false, fmt.Errorf("preflight probe of %s: %w", collection, err)
	}
	if len(series) == 0 {
		return false, nil
	}
	if len(series) > sampleSize {
		series = series[:sampleSize]
	}
	found := classify.HasAnyReportIndicator(series)
	p.logger.Info().
		Str("collection", collection).
		Int("sampled", len(series)).
		Bool("has_report_indicator", found).
		Msg("preflight sample classified")
	return found, nil
}
