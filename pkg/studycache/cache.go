// Package studycache provides the durable, append-only, deduplicating
// per-collection study store.
//
// Layout under the cache directory, keyed by collection name:
//
//	<collection>.jsonl      append log, one JSON study per line
//	<collection>.uids.json  JSON array of seen StudyInstanceUIDs
//	<collection>.json       finalized snapshot, written once enumeration
//	                        is complete; the append log is removed then
//
// A crash mid-finalize leaves the append log, the snapshot, or both on
// disk; Load re-dedups across whatever survives, so duplicate data is
// recoverable and nothing is silently lost.
package studycache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

// Store manages the durable cache files. The file set is owned
// exclusively by this type; no other component opens these paths.
type Store struct {
	dir    string
	logger zerolog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: log.With().Str("component", "studycache").Logger(),
	}, nil
}

func (s *Store) appendPath(collection string) string {
	return filepath.Join(s.dir, collection+".jsonl")
}

func (s *Store) uidsPath(collection string) string {
	return filepath.Join(s.dir, collection+".uids.json")
}

func (s *Store) finalPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// Load reads existing durable state for a collection. Returns empty
// results (not an error) when no cache exists. Malformed append-log
// lines are logged and skipped, never fatal. After a successful load
// the seen-UID set equals exactly the UIDs of the returned studies.
func (s *Store) Load(collection string) ([]tcia.Study, map[string]struct{}, error) {
	var studies []tcia.Study
	seen := make(map[string]struct{})

	// Finalized snapshot first, then any append log on top; a crash
	// mid-finalize can leave both, and re-dedup reconciles them.
	if data, err := os.ReadFile(s.finalPath(collection)); err == nil {
		var snapshot []tcia.Study
		if err := json.Unmarshal(data, &snapshot); err != nil {
			s.logger.Warn().
				Err(err).
				Str("collection", collection).
				Msg("Corrupt finalized snapshot, ignoring")
			cacheCorruptLines.Inc()
		} else {
			for _, st := range snapshot {
				if _, dup := seen[st.StudyInstanceUID]; dup || st.StudyInstanceUID == "" {
					continue
				}
				seen[st.StudyInstanceUID] = struct{}{}
				studies = append(studies, st)
			}
		}
	}

	appended, err := s.loadAppendLog(collection, seen)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}
	studies = append(studies, appended...)

	if len(studies) == 0 {
		s.logger.Debug().Str("collection", collection).Msg("No cache for collection")
		return nil, make(map[string]struct{}), nil
	}

	// Rewrite the UID snapshot so it reflects exactly what was loaded.
	if err := s.writeUIDs(collection, seen); err != nil {
		s.logger.Warn().Err(err).Str("collection", collection).Msg("Failed to rewrite UID snapshot")
	}

	cacheLoadsTotal.Inc()
	s.logger.Info().
		Str("collection", collection).
		Int("studies", len(studies)).
		Int("uids", len(seen)).
		Msg("Loaded cached studies")

	return studies, seen, nil
}

// loadAppendLog scans the JSONL file, deduplicating against seen.
func (s *Store) loadAppendLog(collection string, seen map[string]struct{}) ([]tcia.Study, error) {
	f, err := os.Open(s.appendPath(collection))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var studies []tcia.Study
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var study tcia.Study
		if err := json.Unmarshal(line, &study); err != nil {
			s.logger.Warn().
				Err(err).
				Str("collection", collection).
				Msg("Skipping corrupt cache line")
			cacheCorruptLines.Inc()
			continue
		}
		if study.StudyInstanceUID == "" {
			continue
		}
		if _, dup := seen[study.StudyInstanceUID]; dup {
			continue
		}
		seen[study.StudyInstanceUID] = struct{}{}
		studies = append(studies, study)
	}
	if err := scanner.Err(); err != nil {
		return studies, fmt.Errorf("scan append log: %w", err)
	}

	return studies, nil
}

// Flush appends all buffered studies to the append log and rewrites the
// UID snapshot. A nil or empty buffer is a no-op.
func (s *Store) Flush(collection string, buffer []tcia.Study, seen map[string]struct{}) error {
	if len(buffer) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.appendPath(collection), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("flush").Inc()
		return fmt.Errorf("open append log: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, study := range buffer {
		line, err := json.Marshal(study)
		if err != nil {
			f.Close()
			cacheErrorsTotal.WithLabelValues("flush").Inc()
			return fmt.Errorf("marshal study: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		cacheErrorsTotal.WithLabelValues("flush").Inc()
		return fmt.Errorf("flush append log: %w", err)
	}
	if err := f.Close(); err != nil {
		cacheErrorsTotal.WithLabelValues("flush").Inc()
		return fmt.Errorf("close append log: %w", err)
	}

	if err := s.writeUIDs(collection, seen); err != nil {
		return err
	}

	cacheFlushesTotal.Inc()
	cacheAppendsTotal.Add(float64(len(buffer)))
	s.logger.Debug().
		Str("collection", collection).
		Int("studies", len(buffer)).
		Msg("Flushed studies to append log")

	return nil
}

// Finalize writes a single compacted snapshot of all studies and UIDs,
// then removes the append log. The snapshot is written to a temp file
// and renamed so a crash leaves either the old append log or the new
// snapshot recoverable.
func (s *Store) Finalize(collection string, studies []tcia.Study, seen map[string]struct{}) error {
	data, err := json.MarshalIndent(studies, "", "  ")
	if err != nil {
		cacheErrorsTotal.WithLabelValues("finalize").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.finalPath(collection) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		cacheErrorsTotal.WithLabelValues("finalize").Inc()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.finalPath(collection)); err != nil {
		cacheErrorsTotal.WithLabelValues("finalize").Inc()
		return fmt.Errorf("rename snapshot: %w", err)
	}

	if err := s.writeUIDs(collection, seen); err != nil {
		return err
	}

	if err := os.Remove(s.appendPath(collection)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove append log: %w", err)
	}

	cacheFinalizeTotal.Inc()
	s.logger.Info().
		Str("collection", collection).
		Int("studies", len(studies)).
		Int("uids", len(seen)).
		Msg("Finalized collection cache")

	return nil
}

// Remove deletes all durable state for a collection (refresh).
func (s *Store) Remove(collection string) error {
	for _, path := range []string{
		s.appendPath(collection),
		s.uidsPath(collection),
		s.finalPath(collection),
	} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}

	s.logger.Info().Str("collection", collection).Msg("Cleared collection cache")
	return nil
}

// writeUIDs rewrites the UID snapshot file.
func (s *Store) writeUIDs(collection string, seen map[string]struct{}) error {
	uids := make([]string, 0, len(seen))
	for uid := range seen {
		uids = append(uids, uid)
	}

	data, err := json.Marshal(uids)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("uids").Inc()
		return fmt.Errorf("marshal uids: %w", err)
	}
	if err := os.WriteFile(s.uidsPath(collection), data, 0o644); err != nil {
		cacheErrorsTotal.WithLabelValues("uids").Inc()
		return fmt.Errorf("write uids: %w", err)
	}

	return nil
}
