// Package config defines the tunable parameters of the fetch pipeline.
// All rate, backoff, and concurrency constants live here as an explicit
// value object passed into each component at construction.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all pipeline settings. Zero values are replaced by
// DefaultConfig values during Load.
type Config struct {
	// APIBaseURL is the root of the TCIA REST API.
	APIBaseURL string `yaml:"api_base_url"`

	// UserAgent is sent with every API request.
	UserAgent string `yaml:"user_agent"`

	// CacheDir is where per-collection study caches are stored.
	CacheDir string `yaml:"cache_dir"`

	// DataDir is where downloaded series archives are extracted.
	DataDir string `yaml:"data_dir"`

	// RequestTimeout bounds a single API request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry
	MaxRetries  int           `yaml:"max_retries"`
	BackoffStep time.Duration `yaml:"backoff_step"` // linear: attempt * step

	// Politeness delays toward the remote service.
	PageDelay  time.Duration `yaml:"page_delay"`  // between study pages
	ProbeDelay time.Duration `yaml:"probe_delay"` // between series probes

	// Dynamic page sizing.
	SmallPage     int `yaml:"small_page"`
	MediumPage    int `yaml:"medium_page"`
	LargePage     int `yaml:"large_page"`
	SmallPageMax  int `yaml:"small_page_max"`
	MediumPageMax int `yaml:"medium_page_max"`

	// FlushChunk is the buffered-append flush threshold.
	FlushChunk int `yaml:"flush_chunk"`

	// DefaultTarget is the study count fetched when neither a quota nor
	// a total estimate is available.
	DefaultTarget int `yaml:"default_target"`

	// MaxFetchAttempts bounds quota top-up passes.
	MaxFetchAttempts int `yaml:"max_fetch_attempts"`

	// EarlyExitThreshold stops paging once this fraction of the target
	// quota is already satisfied by qualifying patients.
	EarlyExitThreshold float64 `yaml:"early_exit_threshold"`

	// RecheckEvery is the number of newly cached studies between
	// early-exit probes. Deliberately independent of page size.
	RecheckEvery int `yaml:"recheck_every"`

	// Concurrency limits.
	ClassifyConcurrency int `yaml:"classify_concurrency"`
	DownloadConcurrency int `yaml:"download_concurrency"`

	// SampleSize is the preflight probe sample.
	SampleSize int `yaml:"sample_size"`

	// RedisAddr enables the Redis-backed scan cache when non-empty.
	RedisAddr string `yaml:"redis_addr"`

	// ScanCacheTTL expires cached scan outcomes; zero keeps them until
	// overwritten.
	ScanCacheTTL time.Duration `yaml:"scan_cache_ttl"`

	// Memory backpressure between classification batches.
	MemoryThresholdMB uint64        `yaml:"memory_threshold_mb"`
	MemoryPause       time.Duration `yaml:"memory_pause"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:          "https://services.cancerimagingarchive.net/services/v4/TCIA",
		UserAgent:           "tcia-fetch/1.0",
		CacheDir:            "cache/studies",
		DataDir:             "data/images",
		RequestTimeout:      450 * time.Second,
		MaxRetries:          3,
		BackoffStep:         5 * time.Second,
		PageDelay:           1 * time.Second,
		ProbeDelay:          200 * time.Millisecond,
		SmallPage:           50,
		MediumPage:          100,
		LargePage:           200,
		SmallPageMax:        100,
		MediumPageMax:       1000,
		FlushChunk:          1000,
		DefaultTarget:       100,
		MaxFetchAttempts:    5,
		EarlyExitThreshold:  0.8,
		RecheckEvery:        500,
		ClassifyConcurrency: 10,
		DownloadConcurrency: 5,
		SampleSize:          10,
		MemoryThresholdMB:   1024,
		MemoryPause:         2 * time.Second,
	}
}

// Load reads a YAML config file and merges it over the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg.withDefaults(), nil
}

// withDefaults fills zero-valued fields from DefaultConfig so a sparse
// YAML file only overrides what it names.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = def.BackoffStep
	}
	if c.PageDelay <= 0 {
		c.PageDelay = def.PageDelay
	}
	if c.ProbeDelay <= 0 {
		c.ProbeDelay = def.ProbeDelay
	}
	if c.SmallPage <= 0 {
		c.SmallPage = def.SmallPage
	}
	if c.MediumPage <= 0 {
		c.MediumPage = def.MediumPage
	}
	if c.LargePage <= 0 {
		c.LargePage = def.LargePage
	}
	if c.SmallPageMax <= 0 {
		c.SmallPageMax = def.SmallPageMax
	}
	if c.MediumPageMax <= 0 {
		c.MediumPageMax = def.MediumPageMax
	}
	if c.FlushChunk <= 0 {
		c.FlushChunk = def.FlushChunk
	}
	if c.DefaultTarget <= 0 {
		c.DefaultTarget = def.DefaultTarget
	}
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = def.MaxFetchAttempts
	}
	if c.EarlyExitThreshold <= 0 {
		c.EarlyExitThreshold = def.EarlyExitThreshold
	}
	if c.RecheckEvery <= 0 {
		c.RecheckEvery = def.RecheckEvery
	}
	if c.ClassifyConcurrency <= 0 {
		c.ClassifyConcurrency = def.ClassifyConcurrency
	}
	if c.DownloadConcurrency <= 0 {
		c.DownloadConcurrency = def.DownloadConcurrency
	}
	if c.SampleSize <= 0 {
		c.SampleSize = def.SampleSize
	}
	if c.MemoryThresholdMB == 0 {
		c.MemoryThresholdMB = def.MemoryThresholdMB
	}
	if c.MemoryPause <= 0 {
		c.MemoryPause = def.MemoryPause
	}

	return c
}
