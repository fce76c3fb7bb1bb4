package tcia

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		BaseURL:        server.URL,
		UserAgent:      "tcia-fetch-test/1.0",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
		BackoffStep:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return client, server
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() should fail without a base URL")
	}

	client, err := New(Config{BaseURL: "http://example.test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.config.MaxRetries != 3 {
		t.Errorf("MaxRetries default = %d, want 3", client.config.MaxRetries)
	}
	if client.config.RequestTimeout != 450*time.Second {
		t.Errorf("RequestTimeout default = %v, want 450s", client.config.RequestTimeout)
	}
}

func TestListCollections(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query/getCollectionValues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"Collection":"TCGA-GBM"},{"Collection":"LIDC-IDRI"},{"Collection":""}]`))
	}))

	names, err := client.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("ListCollections() error = %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("got %d collections, want 2 (empty name dropped)", len(names))
	}
	if names[0] != "TCGA-GBM" || names[1] != "LIDC-IDRI" {
		t.Errorf("unexpected collection names %v", names)
	}
}

func TestListPatientStudies_Pagination(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("Collection") != "TCGA-GBM" {
			t.Errorf("Collection = %q, want TCGA-GBM", q.Get("Collection"))
		}
		if q.Get("offset") != "100" || q.Get("limit") != "50" {
			t.Errorf("offset/limit = %s/%s, want 100/50", q.Get("offset"), q.Get("limit"))
		}
		w.Write([]byte(`[{"Collection":"TCGA-GBM","PatientID":"P1","StudyInstanceUID":"1.2.3","StudyDate":"2001-01-01"}]`))
	}))

	studies, err := client.ListPatientStudies(context.Background(), "TCGA-GBM", 100, 50)
	if err != nil {
		t.Fatalf("ListPatientStudies() error = %v", err)
	}
	if len(studies) != 1 || studies[0].StudyInstanceUID != "1.2.3" {
		t.Errorf("unexpected studies %+v", studies)
	}
}

func TestListPatientStudies_EmptyBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	studies, err := client.ListPatientStudies(context.Background(), "EMPTY", 0, 50)
	if err != nil {
		t.Fatalf("ListPatientStudies() error = %v", err)
	}
	if len(studies) != 0 {
		t.Errorf("got %d studies, want 0 for empty body", len(studies))
	}
}

func TestStudyByUID_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))

	study, err := client.StudyByUID(context.Background(), "TCGA-GBM", "1.2.3")
	if err != nil {
		t.Fatalf("StudyByUID() error = %v", err)
	}
	if study != nil {
		t.Errorf("expected nil study, got %+v", study)
	}
}

func TestListSeries_Params(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("PatientID") != "P1" || q.Get("StudyInstanceUID") != "1.2.3" {
			t.Errorf("unexpected params %v", q)
		}
		w.Write([]byte(`[{"SeriesInstanceUID":"9.9.9","Modality":"SR","SeriesDescription":"Radiology Report"}]`))
	}))

	series, err := client.ListSeries(context.Background(), "TCGA-GBM", "P1", "1.2.3")
	if err != nil {
		t.Fatalf("ListSeries() error = %v", err)
	}
	if len(series) != 1 || series[0].Modality != "SR" {
		t.Errorf("unexpected series %+v", series)
	}
}

func TestResolveDownloadURL(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("SeriesInstanceUID") != "9.9.9" {
			t.Errorf("unexpected params %v", r.URL.Query())
		}
		w.Write([]byte(`{"url":"https://archive.test/series.zip"}`))
	}))

	url, err := client.ResolveDownloadURL(context.Background(), "9.9.9")
	if err != nil {
		t.Fatalf("ResolveDownloadURL() error = %v", err)
	}
	if url != "https://archive.test/series.zip" {
		t.Errorf("url = %q", url)
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"Collection":"TCGA-GBM"}]`))
	}))

	names, err := client.ListCollections(context.Background())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(names) != 1 {
		t.Errorf("got %d collections, want 1", len(names))
	}
	if calls.Load() != 3 {
		t.Errorf("got %d requests, want 3", calls.Load())
	}
}

func TestGetJSON_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.ListCollections(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassClient {
		t.Fatalf("expected client APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("got %d requests, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestGetJSON_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.ListCollections(context.Background())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("got %d requests, want 3", calls.Load())
	}
}
