// Package scancache stores per-collection scan and verification
// outcomes in Redis so repeated runs can skip collections that were
// already classified.
package scancache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no cached outcome exists for the collection.
	ErrCacheMiss = errors.New("scan cache miss")

	// ErrInvalidEntry indicates the cached outcome could not be decoded.
	ErrInvalidEntry = errors.New("invalid scan cache entry")
)

const (
	scanKeyPrefix   = "tcia:scan:"
	verifyKeyPrefix = "tcia:verify:"
)

// ScanRecord is the cached outcome of a preflight scan.
type ScanRecord struct {
	Collection string    `json:"collection"`
	HasReports bool      `json:"has_reports"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// VerifyRecord is the cached outcome of a strict text-report
// verification, alongside the earlier permissive scan result for
// comparison.
type VerifyRecord struct {
	Collection         string    `json:"collection"`
	HasTextReports     bool      `json:"has_text_reports"`
	ReportTypes        []string  `json:"report_types,omitempty"`
	OriginalHasReports bool      `json:"original_has_reports"`
	VerifiedAt         time.Time `json:"verified_at"`
}

// Store reads and writes scan outcomes in Redis. A zero TTL keeps
// entries until they are overwritten.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a store over the given Redis client.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{redis: redisClient, ttl: ttl}
}

// GetScan retrieves the cached preflight outcome for a collection.
// Returns ErrCacheMiss when none exists.
func (s *Store) GetScan(ctx context.Context, collection string) (*ScanRecord, error) {
	var rec ScanRecord
	if err := s.get(ctx, scanKeyPrefix+collection, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetScan stores the preflight outcome for a collection.
func (s *Store) SetScan(ctx context.Context, rec *ScanRecord) error {
	if rec == nil {
		return fmt.Errorf("scan record cannot be nil")
	}
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now().UTC()
	}
	return s.set(ctx, scanKeyPrefix+rec.Collection, rec)
}

// GetVerify retrieves the cached verification outcome for a collection.
// Returns ErrCacheMiss when none exists.
func (s *Store) GetVerify(ctx context.Context, collection string) (*VerifyRecord, error) {
	var rec VerifyRecord
	if err := s.get(ctx, verifyKeyPrefix+collection, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetVerify stores the verification outcome for a collection.
func (s *Store) SetVerify(ctx context.Context, rec *VerifyRecord) error {
	if rec == nil {
		return fmt.Errorf("verify record cannot be nil")
	}
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = time.Now().UTC()
	}
	return s.set(ctx, verifyKeyPrefix+rec.Collection, rec)
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			scanMisses.Inc()
			return ErrCacheMiss
		}
		scanErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		scanErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	scanHits.Inc()
	return nil
}

func (s *Store) set(ctx context.Context, key string, rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		scanErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal scan cache entry: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		scanErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	scanWrites.Inc()
	return nil
}
