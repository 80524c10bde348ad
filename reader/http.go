package reader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"oddsflow/config"
	"oddsflow/logger"
	"oddsflow/models"
)

// HTTPStatusError represents a non-200 response from the quote endpoint.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("quote endpoint returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// retryable reports whether another attempt could succeed.
func (e *HTTPStatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPSource fetches a JSON array of quotes with a GET request. Requests are
// rate limited and transient failures retried with exponential backoff.
type HTTPSource struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	retry   config.RetryConfig
	log     *logger.Log
}

func NewHTTPSource(cfg config.HTTPConfig, log *logger.Log) *HTTPSource {
	if log == nil {
		log = logger.GetLogger()
	}
	burst := cfg.RateLimit.BurstSize
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}

	s := &HTTPSource{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg.Retry,
		log:     log,
	}

	log.WithComponent("http_source").WithFields(logger.Fields{
		"url":          cfg.URL,
		"timeout":      cfg.Timeout,
		"rps":          cfg.RateLimit.RequestsPerSecond,
		"max_attempts": cfg.Retry.MaxAttempts,
	}).Info("http quote source initialized")

	return s
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]models.QuoteRecord, error) {
	log := s.log.WithComponent("http_source").WithFields(logger.Fields{"url": s.url})

	var records []models.QuoteRecord
	attempt := 0
	operation := func() error {
		attempt++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		body, err := s.get(ctx)
		logger.LogPerformanceEntry(log, "http_source", "api_request", time.Since(start), logger.Fields{"attempt": attempt})
		if err != nil {
			if statusErr, ok := err.(*HTTPStatusError); ok && !statusErr.retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("quote request failed")
			return err
		}

		decoded, err := DecodeJSON(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		records = decoded
		return nil
	}

	if err := backoff.Retry(operation, s.retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}

	logger.LogDataFlowEntry(log, s.url, "pipeline", len(records), "quote_records")
	return records, nil
}

func (s *HTTPSource) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (s *HTTPSource) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if s.retry.BaseDelay > 0 {
		exp.InitialInterval = s.retry.BaseDelay
	}
	if s.retry.MaxDelay > 0 {
		exp.MaxInterval = s.retry.MaxDelay
	}
	exp.MaxElapsedTime = 0

	retries := 0
	if s.retry.MaxAttempts > 1 {
		retries = s.retry.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}
