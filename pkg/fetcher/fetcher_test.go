package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medcohort/tcia-fetch/pkg/studycache"
	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

// fakeStudyLister serves slices of a fixed study universe and records
// every request it sees.
type fakeStudyLister struct {
	mu       sync.Mutex
	universe []tcia.Study
	requests [][2]int // offset, limit
	failPage int      // fail the request at this offset, -1 to disable
	onPage   func(offset int)
}

func newFakeLister(n int) *fakeStudyLister {
	f := &fakeStudyLister{failPage: -1}
	for i := 0; i < n; i++ {
		f.universe = append(f.universe, tcia.Study{
			Collection:       "TEST-COL",
			PatientID:        fmt.Sprintf("P%04d", i/2), // two studies per patient
			StudyInstanceUID: fmt.Sprintf("1.2.%04d", i),
			StudyDate:        fmt.Sprintf("2001-01-%02d", i%28+1),
		})
	}
	return f
}

func (f *fakeStudyLister) ListPatientStudies(ctx context.Context, collection string, offset, limit int) ([]tcia.Study, error) {
	f.mu.Lock()
	f.requests = append(f.requests, [2]int{offset, limit})
	f.mu.Unlock()
	if f.onPage != nil {
		f.onPage(offset)
	}
	if f.failPage >= 0 && offset == f.failPage {
		return nil, &tcia.APIError{StatusCode: 503, ErrorClass: tcia.ErrorClassServer, Message: "unavailable"}
	}
	if offset >= len(f.universe) {
		return nil, nil
	}
	end := len(f.universe)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return f.universe[offset:end], nil
}

// pageRequests returns the requests that were real page fetches, i.e.
// not the limit=1 total estimate.
func (f *fakeStudyLister) pageRequests() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages [][2]int
	for _, r := range f.requests {
		if r[1] != 1 {
			pages = append(pages, r)
		}
	}
	return pages
}

func newTestFetcher(t *testing.T, lister StudyLister, opts Options) (*Fetcher, *studycache.Store) {
	t.Helper()
	store, err := studycache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(lister, store, zerolog.Nop(), opts), store
}

func TestFetchAll_FullEnumeration(t *testing.T) {
	lister := newFakeLister(237)
	f, store := newTestFetcher(t, lister, Options{MediumPage: 100})

	// Target 500 with unknown total selects the medium page, so 237
	// records take exactly three page requests.
	res, err := f.FetchAll(context.Background(), "TEST-COL", 500, false)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Studies) != 237 {
		t.Fatalf("got %d studies, want 237", len(res.Studies))
	}
	if !res.Exhausted {
		t.Error("full enumeration not marked exhausted")
	}
	if got := len(lister.pageRequests()); got != 3 {
		t.Errorf("issued %d page requests, want 3", got)
	}

	// Exhaustion finalizes the cache: everything must survive a reload.
	studies, seen, err := store.Load("TEST-COL")
	if err != nil {
		t.Fatalf("Load after finalize: %v", err)
	}
	if len(studies) != 237 || len(seen) != 237 {
		t.Errorf("reload: %d studies, %d uids, want 237 each", len(studies), len(seen))
	}
}

func TestFetchAll_StopsAtTarget(t *testing.T) {
	lister := newFakeLister(237)
	f, _ := newTestFetcher(t, lister, Options{})

	res, err := f.FetchAll(context.Background(), "TEST-COL", 60, false)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Studies) < 60 {
		t.Errorf("got %d studies, want at least 60", len(res.Studies))
	}
	if res.Exhausted {
		t.Error("target stop wrongly marked exhausted")
	}
}

func TestFetchAll_TargetSatisfiedByCache(t *testing.T) {
	lister := newFakeLister(50)
	f, store := newTestFetcher(t, lister, Options{})

	seen := make(map[string]struct{})
	for _, s := range lister.universe[:20] {
		seen[s.StudyInstanceUID] = struct{}{}
	}
	if err := store.Flush("TEST-COL", lister.universe[:20], seen); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := f.FetchAll(context.Background(), "TEST-COL", 10, false)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Studies) != 20 {
		t.Errorf("got %d studies, want 20 from cache", len(res.Studies))
	}
	if len(lister.requests) != 0 {
		t.Errorf("issued %d requests, want 0 when cache suffices", len(lister.requests))
	}
}

func TestFetchAll_RefreshDropsCache(t *testing.T) {
	lister := newFakeLister(30)
	f, store := newTestFetcher(t, lister, Options{})

	stale := []tcia.Study{{Collection: "TEST-COL", PatientID: "GONE", StudyInstanceUID: "9.9.9"}}
	if err := store.Flush("TEST-COL", stale, map[string]struct{}{"9.9.9": {}}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := f.FetchAll(context.Background(), "TEST-COL", 0, true)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	for _, s := range res.Studies {
		if s.StudyInstanceUID == "9.9.9" {
			t.Error("stale record survived refresh")
		}
	}
	if len(res.Studies) != 30 {
		t.Errorf("got %d studies, want 30", len(res.Studies))
	}
}

func TestFetchAll_EmptyCollection(t *testing.T) {
	lister := newFakeLister(0)
	f, _ := newTestFetcher(t, lister, Options{})

	res, err := f.FetchAll(context.Background(), "EMPTY-COL", 100, false)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Studies) != 0 {
		t.Errorf("got %d studies from empty collection", len(res.Studies))
	}
	if !res.Exhausted {
		t.Error("empty collection not marked exhausted")
	}
}

func TestFetchAll_EarlyExit(t *testing.T) {
	lister := newFakeLister(1000)
	opts := Options{
		RecheckEvery:       100,
		EarlyExitThreshold: 0.5,
		Recheck: func(ctx context.Context, studies []tcia.Study) (int, error) {
			return len(studies), nil // every study qualifies
		},
	}
	f, _ := newTestFetcher(t, lister, opts)

	res, err := f.FetchAll(context.Background(), "TEST-COL", 200, false)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	// Threshold is 100 qualifying studies, reached after the first
	// recheck, well before the 200-study target.
	if len(res.Studies) >= 200 {
		t.Errorf("early exit did not stop fetch, got %d studies", len(res.Studies))
	}
	if res.Exhausted {
		t.Error("early exit wrongly marked exhausted")
	}
}

func TestFetchAll_RecheckErrorsIgnored(t *testing.T) {
	lister := newFakeLister(120)
	opts := Options{
		RecheckEvery: 50,
		Recheck: func(ctx context.Context, studies []tcia.Study) (int, error) {
			return 0, errors.New("classifier down")
		},
	}
	f, _ := newTestFetcher(t, lister, opts)

	res, err := f.FetchAll(context.Background(), "TEST-COL", 1000, false)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(res.Studies) != 120 {
		t.Errorf("got %d studies, want 120 despite recheck errors", len(res.Studies))
	}
}

func TestFetchAll_CancellationReturnsPartial(t *testing.T) {
	lister := newFakeLister(500)
	ctx, cancel := context.WithCancel(context.Background())
	lister.onPage = func(offset int) {
		if offset >= 50 {
			cancel()
		}
	}
	f, store := newTestFetcher(t, lister, Options{})

	res, err := f.FetchAll(ctx, "TEST-COL", 0, false)
	if err != nil {
		t.Fatalf("FetchAll after cancel: %v", err)
	}
	if !res.Partial {
		t.Error("cancelled fetch not marked partial")
	}
	if len(res.Studies) == 0 {
		t.Error("partial result lost fetched studies")
	}

	// Partial progress must be durable.
	studies, _, err := store.Load("TEST-COL")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(studies) != len(res.Studies) {
		t.Errorf("durable %d studies, result had %d", len(studies), len(res.Studies))
	}
}

func TestFetchAll_ServerErrorReturnsCachedStudies(t *testing.T) {
	lister := newFakeLister(500)
	lister.failPage = 50
	f, store := newTestFetcher(t, lister, Options{})

	res, err := f.FetchAll(context.Background(), "TEST-COL", 0, false)
	if err != nil {
		t.Fatalf("irrecoverable page error raised past the fetch layer: %v", err)
	}
	if !res.Aborted {
		t.Error("failed fetch not marked aborted")
	}
	if res.Exhausted {
		t.Error("aborted fetch wrongly marked exhausted")
	}
	if len(res.Studies) != 50 {
		t.Errorf("got %d studies, want the 50 cached before the failure", len(res.Studies))
	}

	studies, _, err := store.Load("TEST-COL")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(studies) != 50 {
		t.Errorf("durable %d studies after failure, want 50", len(studies))
	}
}

func TestPickPageSize(t *testing.T) {
	f, _ := newTestFetcher(t, newFakeLister(0), Options{})
	cases := []struct {
		total, target, want int
	}{
		{totalUnknown, 80, 50},    // small workload
		{totalUnknown, 500, 100},  // medium workload
		{totalUnknown, 5000, 200}, // large workload
		{totalUnknown, 0, 50},     // nothing known
		{0, 500, 50},              // known empty
		{100, 5000, 50},           // known total wins over target
	}
	for _, tc := range cases {
		if got := f.pickPageSize(tc.total, tc.target); got != tc.want {
			t.Errorf("pickPageSize(%d, %d) = %d, want %d", tc.total, tc.target, got, tc.want)
		}
	}
}
