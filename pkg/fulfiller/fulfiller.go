// Package fulfiller coordinates fetching and classification until a
// quota of report-bearing patients is met or the collection is proven
// unable to meet it.
package fulfiller

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/medcohort/tcia-fetch/pkg/fetcher"
	"github.com/medcohort/tcia-fetch/pkg/scancache"
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

var (
	attemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfiller_attempts_total",
		Help: "Total number of fetch-and-classify passes",
	})
	quotaMetTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfiller_quota_met_total",
		Help: "Total number of runs that met their quota",
	})
	shortfallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfiller_shortfalls_total",
		Help: "Total number of runs that ended below quota",
	})
	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fulfiller_skipped_total",
		Help: "Total number of collections skipped by preflight",
	})
)

// Fetcher is the fetch half of the pipeline.
type Fetcher interface {
	FetchAll(ctx context.Context, collection string, target int, refresh bool) (*fetcher.Result, error)
}

// Classifier is the probing half of the pipeline.
type Classifier interface {
	Probe(ctx context.Context, collection string, sampleSize int) (bool, error)
	Classify(ctx context.Context, collection string, studies []tcia.Study) ([]tcia.Study, error)
}

// ScanStore is the optional cached-preflight lookup. A nil store means
// every run probes live.
type ScanStore interface {
	GetScan(ctx context.Context, collection string) (*scancache.ScanRecord, error)
	SetScan(ctx context.Context, rec *scancache.ScanRecord) error
}

// Options tunes fulfillment.
type Options struct {
	// MaxAttempts caps the number of fetch-and-classify passes.
	MaxAttempts int
	// SampleSize is handed to the live preflight probe.
	SampleSize int
}

// Outcome reports how a fulfillment run ended.
type Outcome struct {
	// Studies holds at most quota representative studies, most recent
	// first, one per report-bearing patient.
	Studies []tcia.Study
	// Skipped is true when preflight ruled the collection out before
	// any patient-level work.
	Skipped bool
	// Partial is true when the run was cut short by cancellation.
	Partial bool
	// Aborted is true when a fetch pass ended on an irrecoverable
	// request error; Studies holds what was classified up to that point.
	Aborted bool
	// Attempts is the number of fetch-and-classify passes performed.
	Attempts int
}

// Fulfiller drives the fetch-classify loop for one collection at a time.
type Fulfiller struct {
	fetcher    Fetcher
	classifier Classifier
	scans      ScanStore
	logger     zerolog.Logger
	opts       Options
}

// New creates a Fulfiller. scans may be nil.
func New(f Fetcher, c Classifier, scans ScanStore, logger zerolog.Logger, opts Options) *Fulfiller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 10
	}
	return &Fulfiller{
		fetcher:    f,
		classifier: c,
		scans:      scans,
		logger:     logger.With().Str("component", "fulfiller").Logger(),
		opts:       opts,
	}
}

// Fulfill gathers up to quota report-bearing patients from collection.
// Falling short of quota is a normal outcome, not an error: the result
// simply holds fewer studies. refresh drops the study cache before the
// first pass.
func (f *Fulfiller) Fulfill(ctx context.Context, collection string, quota int, refresh bool) (*Outcome, error) {
	if quota <= 0 {
		quota = 100
	}

	skip, err := f.preflight(ctx, collection)
	if err != nil {
		return nil, err
	}
	if skip {
		skippedTotal.Inc()
		f.logger.Info().Str("collection", collection).Msg("collection skipped by preflight")
		return &Outcome{Skipped: true}, nil
	}

	accepted := make(map[string]tcia.Study) // patientID -> representative
	outcome := &Outcome{}
	fetched := 0

	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		attemptsTotal.Inc()

		// Each pass asks for enough new studies to cover the remaining
		// quota on top of what is already cached.
		target := fetched + (quota - len(accepted))
		res, err := f.fetcher.FetchAll(ctx, collection, target, refresh && attempt == 1)
		if err != nil {
			return nil, err
		}
		fetched = len(res.Studies)

		reps, err := f.classifier.Classify(ctx, collection, res.Studies)
		if err != nil {
			if errors.Is(err, tcia.ErrContextCancelled) {
				outcome.Partial = true
				break
			}
			return nil, err
		}
		for _, rep := range reps {
			accepted[rep.PatientID] = rep
		}

		f.logger.Info().
			Str("collection", collection).
			Int("attempt", attempt).
			Int("fetched", fetched).
			Int("accepted", len(accepted)).
			Int("quota", quota).
			Msg("fulfillment pass complete")

		if len(accepted) >= quota {
			break
		}
		if res.Exhausted {
			f.logger.Info().
				Str("collection", collection).
				Int("accepted", len(accepted)).
				Int("quota", quota).
				Msg("collection exhausted below quota")
			break
		}
		if res.Aborted {
			outcome.Aborted = true
			f.logger.Warn().
				Str("collection", collection).
				Int("accepted", len(accepted)).
				Int("quota", quota).
				Msg("fetch aborted below quota, keeping what was classified")
			break
		}
		if res.Partial {
			outcome.Partial = true
			break
		}
	}

	outcome.Studies = selectQuota(accepted, quota)
	if len(outcome.Studies) >= quota {
		quotaMetTotal.Inc()
	} else {
		shortfallsTotal.Inc()
	}
	return outcome, nil
}

// preflight decides whether the collection can be skipped outright,
// preferring a cached scan outcome over a live probe. Cache failures
// only cost the shortcut.
func (f *Fulfiller) preflight(ctx context.Context, collection string) (skip bool, err error) {
	if f.scans != nil {
		rec, err := f.scans.GetScan(ctx, collection)
		if err == nil {
			return !rec.HasReports, nil
		}
		if !errors.Is(err, scancache.ErrCacheMiss) {
			f.logger.Warn().Err(err).Str("collection", collection).Msg("scan cache unavailable, probing live")
		}
	}

	found, err := f.classifier.Probe(ctx, collection, f.opts.SampleSize)
	if err != nil {
		return false, err
	}
	if f.scans != nil {
		rec := &scancache.ScanRecord{Collection: collection, HasReports: found, ScannedAt: time.Now().UTC()}
		if err := f.scans.SetScan(ctx, rec); err != nil {
			f.logger.Warn().Err(err).Str("collection", collection).Msg("failed to cache scan outcome")
		}
	}
	return !found, nil
}

// selectQuota orders the accepted representatives most recent first and
// truncates to quota.
func selectQuota(accepted map[string]tcia.Study, quota int) []tcia.Study {
	studies := make([]tcia.Study, 0, len(accepted))
	for _, s := range accepted {
		studies = append(studies, s)
	}
	sort.SliceStable(studies, func(i, j int) bool {
		if studies[i].StudyDate != studies[j].StudyDate {
			return studies[i].StudyDate > studies[j].StudyDate
		}
		return studies[i].PatientID < studies[j].PatientID
	})
	if len(studies) > quota {
		studies = studies[:quota]
	}
	return studies
}
