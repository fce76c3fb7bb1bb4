// Package testutil provides testing utilities for the TCIA fetch
// pipeline.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockStudy mirrors the study payload of the TCIA API. testutil keeps
// its own copy of the shape so the mock can serve raw JSON without
// importing the client packages under test.
type MockStudy struct {
	Collection       string `json:"Collection"`
	PatientID        string `json:"PatientID"`
	StudyInstanceUID string `json:"StudyInstanceUID"`
	StudyDate        string `json:"StudyDate,omitempty"`
	StudyDescription string `json:"StudyDescription,omitempty"`
}

// MockSeries mirrors the series payload of the TCIA API.
type MockSeries struct {
	SeriesInstanceUID string `json:"SeriesInstanceUID"`
	Modality          string `json:"Modality,omitempty"`
	SeriesDescription string `json:"SeriesDescription,omitempty"`
	SeriesNumber      string `json:"SeriesNumber,omitempty"`
}

// MockResponse defines a canned response for a mock TCIA endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockTCIA is a configurable mock TCIA server for testing. Without
// custom handlers it serves the configured collections, studies and
// series the way the real API does, honoring offset and limit on the
// study endpoint.
type MockTCIA struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	collections []string
	studies     map[string][]MockStudy  // key: collection
	series      map[string][]MockSeries // key: collection|patientID|studyUID, empty parts match all

	// Tracking
	RequestCount int
	PathCounts   map[string]int
}

// NewMockTCIA creates a new mock TCIA server.
func NewMockTCIA() *MockTCIA {
	mock := &MockTCIA{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		studies:    make(map[string][]MockStudy),
		series:     make(map[string][]MockSeries),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockTCIA) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTCIA) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTCIA) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTCIA) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// SetCollections configures the collections the mock advertises.
func (m *MockTCIA) SetCollections(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = names
}

// SetStudies configures the studies served for a collection.
func (m *MockTCIA) SetStudies(collection string, studies []MockStudy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studies[collection] = studies
}

// SetSeries configures the series served for a scope. Empty patientID
// or studyUID acts as a wildcard, matching collection-wide queries.
func (m *MockTCIA) SetSeries(collection, patientID, studyUID string, series []MockSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[collection+"|"+patientID+"|"+studyUID] = series
}

// SetHandler sets a custom handler for a specific path.
func (m *MockTCIA) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple canned response for a path.
func (m *MockTCIA) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

func (m *MockTCIA) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch r.URL.Path {
	case "/query/getCollectionValues":
		m.serveCollections(w)
	case "/query/getPatientStudy":
		m.serveStudies(w, r)
	case "/query/getSeries":
		m.serveSeries(w, r)
	case "/query/getImage":
		m.serveImage(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "unknown endpoint"}`))
	}
}

func (m *MockTCIA) serveCollections(w http.ResponseWriter) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type entry struct {
		Collection string `json:"Collection"`
	}
	out := make([]entry, 0, len(m.collections))
	for _, c := range m.collections {
		out = append(out, entry{Collection: c})
	}
	json.NewEncoder(w).Encode(out)
}

// ServeStudies serves the configured study data the way the default
// handler does. Custom handlers can delegate to it after injecting
// failures.
func (m *MockTCIA) ServeStudies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	m.serveStudies(w, r)
}

func (m *MockTCIA) serveStudies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	collection := q.Get("Collection")

	m.mu.RLock()
	studies := m.studies[collection]
	m.mu.RUnlock()

	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	if offset >= len(studies) {
		w.Write([]byte("[]"))
		return
	}
	end := len(studies)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	json.NewEncoder(w).Encode(studies[offset:end])
}

func (m *MockTCIA) serveSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("Collection") + "|" + q.Get("PatientID") + "|" + q.Get("StudyInstanceUID")

	m.mu.RLock()
	series, ok := m.series[key]
	if !ok {
		// Fall back to the patient-wide, then collection-wide entry.
		series, ok = m.series[q.Get("Collection")+"|"+q.Get("PatientID")+"|"]
		if !ok {
			series = m.series[q.Get("Collection")+"||"]
		}
	}
	m.mu.RUnlock()

	if series == nil {
		w.Write([]byte("[]"))
		return
	}
	json.NewEncoder(w).Encode(series)
}

func (m *MockTCIA) serveImage(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("SeriesInstanceUID")
	if uid == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "SeriesInstanceUID required"}`))
		return
	}
	json.NewEncoder(w).Encode(map[string]string{
		"url": m.server.URL + "/archive/" + uid + ".zip",
	})
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": "service unavailable"}`,
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
	}
}
