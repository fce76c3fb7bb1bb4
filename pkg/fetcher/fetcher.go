// Package fetcher drives the paginated retrieval of patient studies for
// a collection. It owns page-size selection, inter-page pacing, the
// early-exit recheck, and handing fetched records to the study cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/medcohort/tcia-fetch/pkg/studycache"
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcher_pages_total",
		Help: "Total number of study pages fetched",
	}, []string{"collection"})
	studiesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetcher_studies_fetched_total",
		Help: "Total number of usable studies appended to the cache",
	}, []string{"collection"})
	earlyExitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetcher_early_exits_total",
		Help: "Total number of fetches ended early by the recheck threshold",
	})
	fetchAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetcher_aborts_total",
		Help: "Total number of fetches ended by an irrecoverable request error",
	})
	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fetcher_fetch_duration_seconds",
		Help:    "Wall-clock duration of complete fetch runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// totalUnknown marks a failed or inconclusive total-count estimate.
const totalUnknown = -1

// StudyLister is the slice of the TCIA client the fetcher needs.
type StudyLister interface {
	ListPatientStudies(ctx context.Context, collection string, offset, limit int) ([]tcia.Study, error)
}

// RecheckFunc reports how many of the studies gathered so far satisfy
// the caller's acceptance criterion. The fetcher calls it periodically
// to decide whether enough material has accumulated to stop early.
type RecheckFunc func(ctx context.Context, studies []tcia.Study) (int, error)

// Options tunes the fetch loop. Zero values fall back to defaults in New.
type Options struct {
	// SmallPage, MediumPage and LargePage are the candidate page sizes.
	SmallPage  int
	MediumPage int
	LargePage  int
	// SmallPageMax and MediumPageMax are the workload thresholds that
	// select between them.
	SmallPageMax  int
	MediumPageMax int
	// PageDelay is the pause between consecutive page requests.
	PageDelay time.Duration
	// FlushChunk is handed to the study cache appender.
	FlushChunk int
	// RecheckEvery triggers the early-exit recheck after that many
	// newly cached studies.
	RecheckEvery int
	// EarlyExitThreshold is the fraction of the target that the recheck
	// count must reach for the fetch to stop early.
	EarlyExitThreshold float64
	// Recheck is optional; without it the fetch never exits early.
	Recheck RecheckFunc
}

// Result is the outcome of a fetch run.
type Result struct {
	// Studies holds every cached study for the collection, most recent
	// first.
	Studies []tcia.Study
	// Exhausted is true when the upstream enumeration was read to the
	// end, meaning the cache now covers the whole collection.
	Exhausted bool
	// Partial is true when the run was cut short by cancellation.
	Partial bool
	// Aborted is true when a page request failed past retry. The cached
	// studies stay valid; only the enumeration stopped short.
	Aborted bool
}

// Fetcher retrieves patient studies page by page into the study cache.
type Fetcher struct {
	client StudyLister
	store  *studycache.Store
	logger zerolog.Logger
	opts   Options
}

// New creates a Fetcher over the given client and cache store.
func New(client StudyLister, store *studycache.Store, logger zerolog.Logger, opts Options) *Fetcher {
	if opts.SmallPage <= 0 {
		opts.SmallPage = 50
	}
	if opts.MediumPage <= 0 {
		opts.MediumPage = 100
	}
	if opts.LargePage <= 0 {
		opts.LargePage = 200
	}
	if opts.SmallPageMax <= 0 {
		opts.SmallPageMax = 100
	}
	if opts.MediumPageMax <= 0 {
		opts.MediumPageMax = 1000
	}
	if opts.EarlyExitThreshold <= 0 {
		opts.EarlyExitThreshold = 0.8
	}
	if opts.RecheckEvery <= 0 {
		opts.RecheckEvery = 500
	}
	return &Fetcher{
		client: client,
		store:  store,
		logger: logger.With().Str("component", "fetcher").Logger(),
		opts:   opts,
	}
}

// FetchAll retrieves studies for collection until the cache holds at
// least target studies, the enumeration is exhausted, or the recheck
// threshold is met. target <= 0 means fetch everything. refresh drops
// any existing cache first.
//
// Neither cancellation nor a page request failing past retry is an
// error: pending records are flushed and the partial result is
// returned with Partial or Aborted set. Only cache failures surface
// as errors.
func (f *Fetcher) FetchAll(ctx context.Context, collection string, target int, refresh bool) (*Result, error) {
	start := time.Now()
	defer func() { fetchDuration.Observe(time.Since(start).Seconds()) }()

	if refresh {
		if err := f.store.Remove(collection); err != nil {
			return nil, fmt.Errorf("refresh cache for %s: %w", collection, err)
		}
	}

	cached, seen, err := f.store.Load(collection)
	if err != nil {
		return nil, err
	}
	if target > 0 && len(cached) >= target {
		f.logger.Info().
			Str("collection", collection).
			Int("cached", len(cached)).
			Int("target", target).
			Msg("cache already satisfies target")
		sortByDateDesc(cached)
		return &Result{Studies: cached}, nil
	}

	total := f.estimateTotal(ctx, collection)
	pageSize := f.pickPageSize(total, target)
	appender := f.store.NewAppender(collection, seen, f.opts.FlushChunk)

	f.logger.Info().
		Str("collection", collection).
		Int("cached", len(cached)).
		Int("target", target).
		Int("estimated_total", total).
		Int("page_size", pageSize).
		Msg("starting fetch")

	studies := cached
	sinceRecheck := 0
	exhausted := false

	for page := 0; ; page++ {
		if ctx.Err() != nil {
			return f.finishPartial(collection, appender, studies)
		}

		batch, err := f.client.ListPatientStudies(ctx, collection, page*pageSize, pageSize)
		if err != nil {
			if errors.Is(err, tcia.ErrContextCancelled) || errors.Is(ctx.Err(), context.Canceled) {
				return f.finishPartial(collection, appender, studies)
			}
			// The enumeration stops here but everything gathered so far
			// stays cached and is returned.
			return f.finishAborted(collection, page, appender, studies, err)
		}
		pagesTotal.WithLabelValues(collection).Inc()

		for _, s := range batch {
			added, err := appender.Append(s)
			if err != nil {
				return nil, err
			}
			if !added {
				continue
			}
			studiesFetched.WithLabelValues(collection).Inc()
			studies = append(studies, s)
			sinceRecheck++
		}

		f.logger.Debug().
			Str("collection", collection).
			Int("page", page).
			Int("page_records", len(batch)).
			Int("cached", len(studies)).
			Msg("page fetched")

		// A short or empty page means the enumeration ran out.
		if len(batch) < pageSize {
			exhausted = true
			break
		}
		if target > 0 && len(studies) >= target {
			break
		}
		if stop, err := f.recheck(ctx, collection, target, studies, &sinceRecheck); err != nil {
			return nil, err
		} else if stop {
			break
		}

		if f.opts.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return f.finishPartial(collection, appender, studies)
			case <-time.After(f.opts.PageDelay):
			}
		}
	}

	if err := appender.Flush(); err != nil {
		return nil, err
	}
	if exhausted {
		if err := f.store.Finalize(collection, studies, appender.Seen()); err != nil {
			return nil, err
		}
	}

	sortByDateDesc(studies)
	f.logger.Info().
		Str("collection", collection).
		Int("studies", len(studies)).
		Bool("exhausted", exhausted).
		Dur("elapsed", time.Since(start)).
		Msg("fetch complete")
	return &Result{Studies: studies, Exhausted: exhausted}, nil
}

// recheck consults the caller's acceptance count once enough new
// records have accumulated. Recheck failures are logged and ignored so
// a flaky counter cannot abort a healthy fetch.
func (f *Fetcher) recheck(ctx context.Context, collection string, target int, studies []tcia.Study, sinceRecheck *int) (bool, error) {
	if f.opts.Recheck == nil || target <= 0 || *sinceRecheck < f.opts.RecheckEvery {
		return false, nil
	}
	*sinceRecheck = 0
	count, err := f.opts.Recheck(ctx, studies)
	if err != nil {
		if errors.Is(err, tcia.ErrContextCancelled) {
			return false, err
		}
		f.logger.Warn().Err(err).Str("collection", collection).Msg("recheck failed, continuing fetch")
		return false, nil
	}
	needed := int(math.Ceil(f.opts.EarlyExitThreshold * float64(target)))
	if count >= needed {
		earlyExitsTotal.Inc()
		f.logger.Info().
			Str("collection", collection).
			Int("accepted", count).
			Int("needed", needed).
			Msg("early exit threshold reached")
		return true, nil
	}
	return false, nil
}

// finishAborted flushes and returns the studies gathered before a page
// request failed past retry.
func (f *Fetcher) finishAborted(collection string, page int, appender *studycache.Appender, studies []tcia.Study, cause error) (*Result, error) {
	fetchAbortsTotal.Inc()
	if err := appender.Flush(); err != nil {
		f.logger.Error().Err(err).Str("collection", collection).Msg("flush after fetch error failed")
	}
	f.logger.Error().Err(cause).
		Str("collection", collection).
		Int("page", page).
		Int("studies", len(studies)).
		Msg("fetch aborted, returning cached studies")
	sortByDateDesc(studies)
	return &Result{Studies: studies, Aborted: true}, nil
}

func (f *Fetcher) finishPartial(collection string, appender *studycache.Appender, studies []tcia.Study) (*Result, error) {
	if err := appender.Flush(); err != nil {
		f.logger.Error().Err(err).Str("collection", collection).Msg("flush on cancellation failed")
	}
	f.logger.Warn().
		Str("collection", collection).
		Int("studies", len(studies)).
		Msg("fetch cancelled, returning partial result")
	sortByDateDesc(studies)
	return &Result{Studies: studies, Partial: true}, nil
}

// estimateTotal issues a single minimal page to gauge the collection
// size. The endpoint reports no count header, so the estimate can only
// distinguish "empty" from "unknown".
func (f *Fetcher) estimateTotal(ctx context.Context, collection string) int {
	batch, err := f.client.ListPatientStudies(ctx, collection, 0, 1)
	if err != nil {
		f.logger.Warn().Err(err).Str("collection", collection).Msg("total estimate failed")
		return totalUnknown
	}
	if len(batch) == 0 {
		return 0
	}
	return totalUnknown
}

// pickPageSize selects a page size for the expected workload. When the
// total is unknown the target stands in for it; when both are unknown
// the small page keeps the first requests cheap.
func (f *Fetcher) pickPageSize(total, target int) int {
	expected := total
	if expected == totalUnknown {
		expected = target
	}
	switch {
	case expected <= 0:
		return f.opts.SmallPage
	case expected <= f.opts.SmallPageMax:
		return f.opts.SmallPage
	case expected <= f.opts.MediumPageMax:
		return f.opts.MediumPage
	default:
		return f.opts.LargePage
	}
}

func sortByDateDesc(studies []tcia.Study) {
	sort.SliceStable(studies, func(i, j int) bool {
		if studies[i].StudyDate != studies[j].StudyDate {
			return studies[i].StudyDate > studies[j].StudyDate
		}
		return studies[i].StudyInstanceUID < studies[j].StudyInstanceUID
	})
}
