// Package download retrieves series image archives and unpacks them
// into the local data directory.
package download

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "download_series_total",
		Help: "Total number of series downloads by result",
	}, []string{"result"}) // "ok", "error"
	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_bytes_total",
		Help: "Total number of archive bytes downloaded",
	})
	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "download_duration_seconds",
		Help:    "Duration of individual series downloads",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// SeriesSource resolves and lists the series to download for a study.
type SeriesSource interface {
	ListSeries(ctx context.Context, collection, patientID, studyUID string) ([]tcia.Series, error)
	ResolveDownloadURL(ctx context.Context, seriesUID string) (string, error)
}

// Options tunes the downloader.
type Options struct {
	// Concurrency bounds the number of series downloaded in parallel.
	Concurrency int
	// Timeout applies per archive request.
	Timeout time.Duration
}

// Downloader fetches series archives for representative studies.
type Downloader struct {
	source  SeriesSource
	httpc   *http.Client
	dataDir string
	logger  zerolog.Logger
	opts    Options
}

// New creates a Downloader writing under dataDir.
func New(source SeriesSource, dataDir string, logger zerolog.Logger, opts Options) *Downloader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Downloader{
		source:  source,
		httpc:   &http.Client{Timeout: opts.Timeout},
		dataDir: dataDir,
		logger:  logger.With().Str("component", "download").Logger(),
		opts:    opts,
	}
}

// DownloadStudies fetches every series of each study, at most
// Concurrency series in flight at a time. The first failure cancels the
// remaining work.
func (d *Downloader) DownloadStudies(ctx context.Context, studies []tcia.Study) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)

	for _, study := range studies {
		series, err := d.source.ListSeries(ctx, study.Collection, study.PatientID, study.StudyInstanceUID)
		if err != nil {
			return fmt.Errorf("list series for study %s: %w", study.StudyInstanceUID, err)
		}
		for _, s := range series {
			g.Go(func() error {
				return d.downloadSeries(gctx, study, s)
			})
		}
	}
	return g.Wait()
}

func (d *Downloader) downloadSeries(ctx context.Context, study tcia.Study, series tcia.Series) error {
	start := time.Now()
	defer func() { downloadDuration.Observe(time.Since(start).Seconds()) }()

	dest := filepath.Join(d.dataDir, study.Collection, study.PatientID, study.StudyInstanceUID, series.SeriesInstanceUID)
	if _, err := os.Stat(dest); err == nil {
		d.logger.Debug().Str("series_uid", series.SeriesInstanceUID).Msg("series already downloaded")
		return nil
	}

	url, err := d.source.ResolveDownloadURL(ctx, series.SeriesInstanceUID)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("resolve download url for series %s: %w", series.SeriesInstanceUID, err)
	}

	archive, err := d.fetchArchive(ctx, url)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("download series %s: %w", series.SeriesInstanceUID, err)
	}
	downloadBytes.Add(float64(len(archive)))

	if err := extractZip(archive, dest); err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("extract series %s: %w", series.SeriesInstanceUID, err)
	}

	downloadsTotal.WithLabelValues("ok").Inc()
	d.logger.Info().
		Str("collection", study.Collection).
		Str("patient_id", study.PatientID).
		Str("series_uid", series.SeriesInstanceUID).
		Int("bytes", len(archive)).
		Dur("elapsed", time.Since(start)).
		Msg("series downloaded")
	return nil
}

func (d *Downloader) fetchArchive(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive server returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// extractZip unpacks an in-memory archive under dest, refusing entries
// that would escape it.
func extractZip(archive []byte, dest string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, file := range reader.File {
		target := filepath.Join(dest, filepath.Clean(file.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeZipEntry(file, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
