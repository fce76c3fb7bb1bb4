package tcia

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	tciaRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcia_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	tciaRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tcia_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 5, 10, 15, 30, 60},
	}, []string{"error_class"})

	tciaRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tcia_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BackoffStep is multiplied by the attempt number for linear backoff.
	BackoffStep time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffStep: 5 * time.Second,
	}
}

// retryWithBackoff executes fn with linear backoff (attempt x step).
// Only network/timeout and server errors are retried; client errors
// return immediately. The ctx channel aborts a pending backoff.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errClass := classOf(err)

		if !shouldRetry(errClass) {
			return lastErr
		}

		if attempt >= config.MaxAttempts {
			break
		}

		tciaRetriesTotal.WithLabelValues(string(errClass)).Inc()

		backoff := time.Duration(attempt) * config.BackoffStep
		tciaRetryBackoffSeconds.WithLabelValues(string(errClass)).Observe(backoff.Seconds())

		log.Warn().
			Str("error_class", string(errClass)).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(backoff):
		}
	}

	errClass := classOf(lastErr)
	tciaRetryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
	log.Warn().
		Str("error_class", string(errClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

// classOf extracts the error class from an APIError chain, defaulting
// to network for bare transport errors.
func classOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ErrorClassNetwork
}
