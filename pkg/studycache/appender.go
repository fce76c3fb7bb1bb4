package studycache

import (
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

// Appender accumulates studies for one fetch run and flushes them to
// the store in chunks, amortizing I/O against fetch throughput. It is
// owned by the single fetch run that created it; there is no concurrent
// writer.
type Appender struct {
	store      *Store
	collection string
	chunk      int

	seen   map[string]struct{}
	buffer []tcia.Study
}

// NewAppender creates an appender over an existing seen-UID set (from
// Load). chunk is the flush threshold; values <= 0 default to 1000.
func (s *Store) NewAppender(collection string, seen map[string]struct{}, chunk int) *Appender {
	if chunk <= 0 {
		chunk = 1000
	}
	if seen == nil {
		seen = make(map[string]struct{})
	}
	return &Appender{
		store:      s,
		collection: collection,
		chunk:      chunk,
		seen:       seen,
	}
}

// Append buffers a study if its UID is new. Studies with a missing or
// already-seen UID are dropped and false is returned. When the buffer
// reaches the chunk size it is flushed to durable storage and cleared.
func (a *Appender) Append(study tcia.Study) (bool, error) {
	if !study.Usable() {
		return false, nil
	}
	if _, dup := a.seen[study.StudyInstanceUID]; dup {
		return false, nil
	}

	a.seen[study.StudyInstanceUID] = struct{}{}
	a.buffer = append(a.buffer, study)

	if len(a.buffer) >= a.chunk {
		if err := a.Flush(); err != nil {
			return true, err
		}
	}

	return true, nil
}

// Flush writes all buffered studies to the append log. Safe to call
// with an empty buffer.
func (a *Appender) Flush() error {
	if len(a.buffer) == 0 {
		return nil
	}
	if err := a.store.Flush(a.collection, a.buffer, a.seen); err != nil {
		return err
	}
	a.buffer = a.buffer[:0]
	return nil
}

// Seen returns the seen-UID set, shared with the caller that loaded it.
func (a *Appender) Seen() map[string]struct{} {
	return a.seen
}

// Pending returns the number of buffered, unflushed studies.
func (a *Appender) Pending() int {
	return len(a.buffer)
}
