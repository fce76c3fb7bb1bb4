package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/medcohort/tcia-fetch/pkg/download"
	"github.com/medcohort/tcia-fetch/pkg/fetcher"
	"github.com/medcohort/tcia-fetch/pkg/fulfiller"
	"github.com/medcohort/tcia-fetch/pkg/prober"
	"github.com/medcohort/tcia-fetch/pkg/progress"
	"github.com/medcohort/tcia-fetch/pkg/studycache"
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

var (
	fetchCollection string
	fetchLimit      int
	fetchRefresh    bool
	fetchDownload   bool
	fetchNoReports  bool
	fetchOutput     string
)

// fetchCmd gathers representative studies for one collection.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch report-bearing patient studies from a collection",
	Long: `Fetch enumerates a collection's patient studies into the local cache,
probes each patient's series for report content, and keeps fetching
until the requested number of qualifying patients is found or the
collection is exhausted. Each qualifying patient contributes their most
recent study.

The study cache is resumed by default; --refresh-cache discards it and
re-enumerates from the beginning.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchCollection, "collection", "c", "", "Collection to fetch (required)")
	fetchCmd.Flags().IntVarP(&fetchLimit, "limit", "n", 0, "Number of qualifying patients to gather (default from config)")
	fetchCmd.Flags().BoolVar(&fetchRefresh, "refresh-cache", false, "Discard the study cache and re-enumerate")
	fetchCmd.Flags().BoolVar(&fetchDownload, "download", false, "Download the image archives of selected studies")
	fetchCmd.Flags().BoolVar(&fetchNoReports, "no-report-filter", false, "Skip classification and return raw studies")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write selected studies as JSON to this file (default stdout)")
	fetchCmd.MarkFlagRequired("collection")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	client, err := newClient()
	if err != nil {
		return err
	}
	store, err := studycache.NewStore(cfg.CacheDir)
	if err != nil {
		return err
	}

	p := prober.New(client, logger, prober.Options{
		Concurrency:       cfg.ClassifyConcurrency,
		ProbeDelay:        cfg.ProbeDelay,
		MemoryThresholdMB: cfg.MemoryThresholdMB,
		MemoryPause:       cfg.MemoryPause,
	})

	quota := fetchLimit
	if quota <= 0 {
		quota = cfg.DefaultTarget
	}

	f := fetcher.New(client, store, logger, fetcherOptions(p))

	var studies []tcia.Study
	if fetchNoReports {
		res, err := f.FetchAll(ctx, fetchCollection, quota, fetchRefresh)
		if err != nil {
			return err
		}
		studies = res.Studies
		if res.Partial {
			fmt.Fprintln(os.Stderr, "interrupted, result is partial")
		}
		if res.Aborted {
			fmt.Fprintln(os.Stderr, "fetch aborted by a request error, result holds what was cached")
		}
	} else {
		var scans fulfiller.ScanStore
		if sc := openScanCache(cmd); sc != nil {
			scans = sc
		}
		ful := fulfiller.New(f, p, scans, logger, fulfiller.Options{
			MaxAttempts: cfg.MaxFetchAttempts,
			SampleSize:  cfg.SampleSize,
		})

		ind := progress.Start(os.Stderr, "fetching "+fetchCollection)
		out, err := ful.Fulfill(ctx, fetchCollection, quota, fetchRefresh)
		ind.Stop()
		if err != nil {
			return err
		}
		if out.Skipped {
			fmt.Fprintf(os.Stderr, "collection %s skipped: no report content found in preflight sample\n", fetchCollection)
			return nil
		}
		if out.Partial {
			fmt.Fprintln(os.Stderr, "interrupted, result is partial")
		}
		if out.Aborted {
			fmt.Fprintln(os.Stderr, "fetch aborted by a request error, result holds what was classified")
		}
		fmt.Fprintf(os.Stderr, "selected %d of %d requested patients in %d pass(es)\n",
			len(out.Studies), quota, out.Attempts)
		studies = out.Studies
	}

	if err := writeStudies(studies); err != nil {
		return err
	}

	if fetchDownload && len(studies) > 0 {
		d := download.New(client, cfg.DataDir, logger, download.Options{
			Concurrency: cfg.DownloadConcurrency,
		})
		if err := d.DownloadStudies(ctx, studies); err != nil {
			return fmt.Errorf("download archives: %w", err)
		}
	}
	return nil
}

// fetcherOptions maps the config onto the fetch loop, wiring the
// early-exit recheck through the prober.
func fetcherOptions(p *prober.Prober) fetcher.Options {
	opts := fetcher.Options{
		SmallPage:          cfg.SmallPage,
		MediumPage:         cfg.MediumPage,
		LargePage:          cfg.LargePage,
		SmallPageMax:       cfg.SmallPageMax,
		MediumPageMax:      cfg.MediumPageMax,
		PageDelay:          cfg.PageDelay,
		FlushChunk:         cfg.FlushChunk,
		RecheckEvery:       cfg.RecheckEvery,
		EarlyExitThreshold: cfg.EarlyExitThreshold,
	}
	if !fetchNoReports {
		opts.Recheck = func(ctx context.Context, studies []tcia.Study) (int, error) {
			reps, err := p.Classify(ctx, fetchCollection, studies)
			if err != nil {
				return 0, err
			}
			return len(reps), nil
		}
	}
	return opts
}

// writeStudies emits the selected studies as indented JSON to the
// output file or stdout.
func writeStudies(studies []tcia.Study) error {
	data, err := json.MarshalIndent(studies, "", "  ")
	if err != nil {
		return err
	}
	if fetchOutput == "" {
		_, err = fmt.Println(string(data))
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fetchOutput), 0o755); err != nil {
		return err
	}
	return os.WriteFile(fetchOutput, data, 0o644)
}
