// Package prober classifies fetched studies by probing each patient's
// full series inventory for report-bearing series; a report anywhere in
// the patient's history qualifies them. Probing is the expensive half
// of the pipeline (one series lookup per patient), so it runs with
// bounded concurrency and backs off when the process grows too large.
package prober

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"github.com/medcohort/tcia-fetch/pkg/classify"
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

var (
	probesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prober_probes_total",
		Help: "Total number of patient-level series probes issued",
	})
	probeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prober_probe_errors_total",
		Help: "Total number of series probes that failed and were skipped",
	})
	patientsWithReports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prober_patients_with_reports_total",
		Help: "Total number of patients whose series carried report content",
	})
	memoryPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prober_memory_pauses_total",
		Help: "Total number of pauses triggered by the memory threshold",
	})
)

// SeriesLister is the slice of the TCIA client the prober needs. Empty
// patientID and studyUID widen the query scope, matching
// tcia.Client.ListSeries.
type SeriesLister interface {
	ListSeries(ctx context.Context, collection, patientID, studyUID string) ([]tcia.Series, error)
}

// Options tunes probing behavior. Zero values fall back to conservative
// defaults in New.
type Options struct {
	// Concurrency is the number of patients probed in parallel per batch.
	Concurrency int
	// ProbeDelay is the pause between batches, keeping request pressure
	// on the API roughly constant.
	ProbeDelay time.Duration
	// MemoryThresholdMB pauses batching when the process RSS exceeds it.
	MemoryThresholdMB uint64
	// MemoryPause is how long to wait when the threshold is exceeded.
	MemoryPause time.Duration
}

// Prober probes patients concurrently and selects representative studies.
type Prober struct {
	lister SeriesLister
	logger zerolog.Logger
	opts   Options

	// memFn reports the current process RSS in bytes. Tests inject a
	// fake; production uses gopsutil.
	memFn func() (uint64, error)
}

// New creates a Prober over the given series source.
func New(lister SeriesLister, logger zerolog.Logger, opts Options) *Prober {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.MemoryPause <= 0 {
		opts.MemoryPause = 2 * time.Second
	}
	return &Prober{
		lister: lister,
		logger: logger.With().Str("component", "prober").Logger(),
		opts:   opts,
		memFn:  processRSS,
	}
}

// Classify probes every patient in studies and returns one representative
// study per patient whose series inventory carries report content. The
// probe spans all of the patient's studies, so a report in an older
// study still qualifies them; the representative is always the most
// recent study. The result is ordered most recent first. Individual
// probe failures are logged and skipped; only context cancellation
// aborts the run.
func (p *Prober) Classify(ctx context.Context, collection string, studies []tcia.Study) ([]tcia.Study, error) {
	groups := GroupByPatient(studies)
	ids := sortedPatientIDs(groups)

	p.logger.Info().
		Str("collection", collection).
		Int("patients", len(ids)).
		Int("concurrency", p.opts.Concurrency).
		Msg("classifying patients")

	var (
		mu              sync.Mutex
		representatives []tcia.Study
	)

	for start := 0; start < len(ids); start += p.opts.Concurrency {
		if err := ctx.Err(); err != nil {
			return nil, tcia.ErrContextCancelled
		}

		end := start + p.opts.Concurrency
		if end > len(ids) {
			end = len(ids)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ids[start:end] {
			representative := groups[id][0]
			g.Go(func() error {
				probesTotal.Inc()
				series, err := p.lister.ListSeries(gctx, collection, representative.PatientID, "")
				if err != nil {
					probeErrorsTotal.Inc()
					p.logger.Warn().Err(err).
						Str("collection", collection).
						Str("patient_id", representative.PatientID).
						Msg("probe failed, skipping patient")
					return nil
				}
				if classify.HasReportSeries(series) {
					patientsWithReports.Inc()
					mu.Lock()
					representatives = append(representatives, representative)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if err := p.pauseBetweenBatches(ctx, end < len(ids)); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(representatives, func(i, j int) bool {
		if representatives[i].StudyDate != representatives[j].StudyDate {
			return representatives[i].StudyDate > representatives[j].StudyDate
		}
		return representatives[i].PatientID < representatives[j].PatientID
	})

	p.logger.Info().
		Str("collection", collection).
		Int("patients", len(ids)).
		Int("with_reports", len(representatives)).
		Msg("classification complete")
	return representatives, nil
}

// pauseBetweenBatches applies the inter-batch delay and, when the
// process has grown past the memory threshold, an additional pause to
// let the runtime return memory.
func (p *Prober) pauseBetweenBatches(ctx context.Context, moreWork bool) error {
	if !moreWork {
		return nil
	}
	if p.opts.MemoryThresholdMB > 0 {
		rss, err := p.memFn()
		if err == nil && rss > p.opts.MemoryThresholdMB*1024*1024 {
			memoryPausesTotal.Inc()
			p.logger.Warn().
				Uint64("rss_mb", rss/1024/1024).
				Uint64("threshold_mb", p.opts.MemoryThresholdMB).
				Msg("memory threshold exceeded, pausing")
			if err := sleepCtx(ctx, p.opts.MemoryPause); err != nil {
				return err
			}
		}
	}
	if p.opts.ProbeDelay > 0 {
		return sleepCtx(ctx, p.opts.ProbeDelay)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return tcia.ErrContextCancelled
	case <-time.After(d):
		return nil
	}
}

func processRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
