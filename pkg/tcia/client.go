// Package tcia provides the TCIA REST API client with retry, error
// classification, and request metrics.
package tcia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for TCIA client operations.
var (
	tciaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcia_requests_total",
		Help: "Total TCIA requests by endpoint and status",
	}, []string{"endpoint", "status"})

	tciaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcia_request_duration_seconds",
		Help:    "TCIA request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	tciaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcia_errors_total",
		Help: "Total TCIA errors by class",
	}, []string{"class"})
)

// API endpoint paths under the TCIA base URL.
const (
	endpointCollections  = "/query/getCollectionValues"
	endpointPatientStudy = "/query/getPatientStudy"
	endpointSeries       = "/query/getSeries"
	endpointImage        = "/query/getImage"
)

// Client is the TCIA catalog API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g.
	// "https://services.cancerimagingarchive.net/services/v4/TCIA".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration

	// Retry
	MaxRetries  int
	BackoffStep time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "tcia-fetch/1.0",
		RequestTimeout: 450 * time.Second,
		MaxRetries:     3,
		BackoffStep:    5 * time.Second,
	}
}

// New creates a new TCIA client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 450 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = 5 * time.Second
	}

	logger := log.With().Str("component", "tcia-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// ListCollections fetches the names of all available collections.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var collections []Collection
	if err := c.getJSON(ctx, endpointCollections, nil, &collections); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(collections))
	for _, col := range collections {
		if col.Name != "" {
			names = append(names, col.Name)
		}
	}

	c.logger.Info().Int("count", len(names)).Msg("Retrieved collections")
	return names, nil
}

// ListPatientStudies fetches one page of study records for a collection.
// An empty result signals the end of data. Pass limit <= 0 to omit
// pagination parameters entirely.
func (c *Client) ListPatientStudies(ctx context.Context, collection string, offset, limit int) ([]Study, error) {
	params := url.Values{}
	params.Set("Collection", collection)
	params.Set("format", "json")
	if limit > 0 {
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(limit))
	}

	var studies []Study
	if err := c.getJSON(ctx, endpointPatientStudy, params, &studies); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("collection", collection).
		Int("offset", offset).
		Int("limit", limit).
		Int("received", len(studies)).
		Msg("Retrieved patient studies")

	return studies, nil
}

// StudyByUID fetches a single study record by its StudyInstanceUID.
// Returns nil without error when the study does not exist.
func (c *Client) StudyByUID(ctx context.Context, collection, studyUID string) (*Study, error) {
	params := url.Values{}
	params.Set("Collection", collection)
	params.Set("StudyInstanceUID", studyUID)

	var studies []Study
	if err := c.getJSON(ctx, endpointPatientStudy, params, &studies); err != nil {
		return nil, err
	}
	if len(studies) == 0 {
		return nil, nil
	}

	return &studies[0], nil
}

// ListSeries fetches series records. patientID narrows to one patient,
// studyUID further narrows to one study; both may be empty to scope the
// query to the whole collection.
func (c *Client) ListSeries(ctx context.Context, collection, patientID, studyUID string) ([]Series, error) {
	params := url.Values{}
	params.Set("Collection", collection)
	if patientID != "" {
		params.Set("PatientID", patientID)
	}
	if studyUID != "" {
		params.Set("StudyInstanceUID", studyUID)
	}

	var series []Series
	if err := c.getJSON(ctx, endpointSeries, params, &series); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("collection", collection).
		Str("patient_id", patientID).
		Str("study_uid", studyUID).
		Int("received", len(series)).
		Msg("Retrieved series")

	return series, nil
}

// ResolveDownloadURL resolves the archive download URL for a series.
func (c *Client) ResolveDownloadURL(ctx context.Context, seriesUID string) (string, error) {
	params := url.Values{}
	params.Set("SeriesInstanceUID", seriesUID)

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, endpointImage, params, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("empty download url for series %s", seriesUID)
	}

	return resp.URL, nil
}

// getJSON performs a GET request against an endpoint with retry and
// decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	reqURL := c.config.BaseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	retryCfg := RetryConfig{
		MaxAttempts: c.config.MaxRetries,
		BackoffStep: c.config.BackoffStep,
	}

	return retryWithBackoff(ctx, retryCfg, func() error {
		return c.doOnce(ctx, endpoint, reqURL, out)
	})
}

// doOnce executes a single request attempt.
func (c *Client) doOnce(ctx context.Context, endpoint, reqURL string, out any) error {
	start := time.Now()
	defer func() {
		tciaRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := classifyError(0, err)
		tciaErrorsTotal.WithLabelValues(string(errClass)).Inc()
		tciaRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()

		c.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Bool("timeout", isTimeout(err)).
			Msg("HTTP request failed")

		return &APIError{ErrorClass: errClass, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	tciaRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		errClass := classifyError(resp.StatusCode, nil)
		tciaErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("TCIA request error")

		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	// Some endpoints return an empty body instead of [] when a
	// collection has no records.
	if len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "invalid JSON response",
			Err:        err,
		}
	}

	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
