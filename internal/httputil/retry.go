package httputil

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls the retry behavior for calls into the GFN session
// API. The same backoff shape is reused by the signaling reconnect loop
// (see internal/core), so changes here affect both call sites.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig returns sensible defaults for client→GFN API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// isRetryableStatus returns true for HTTP status codes worth retrying.
// Auth failures (401/403) are deliberately excluded: a bad or expired JWT
// will not start working on the next attempt, so those are reported
// immediately as errs.AuthInvalid instead of burning the retry budget.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Backoff computes the delay before retry attempt n (1-indexed) under cfg,
// including jitter. Exported so the signaling reconnect loop can compute
// the same exponential/jittered shape without duplicating the math.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	return applyJitter(delay, cfg.JitterFrac)
}

// Do executes an HTTP request against the GFN session API with retry
// logic. The request body must be provided separately as a byte slice so
// it can be replayed on retries. Errors from exhausted retries or network
// failures are returned as *errs.Error with code errs.Transient so callers
// can fold them into the streaming error taxonomy without re-wrapping.
func Do(ctx context.Context, client *http.Client, method, url string, body []byte, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(cfg, attempt)
			log.Debug("retrying request",
				"attempt", attempt,
				"delay", delay,
				"url", url,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, err // malformed request, not retryable
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = errs.Wrap(errs.Transient, "request to "+url, err)
			continue // network error — retry
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, errs.New(errs.AuthInvalid, "auth rejected by "+url)
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil // success or caller-handled error status
		}

		resp.Body.Close()
		lastErr = errs.New(errs.Transient, "request to "+url+" failed with retryable status "+http.StatusText(resp.StatusCode))
	}

	log.Warn("all retries exhausted",
		"method", method,
		"url", url,
		"attempts", cfg.MaxRetries+1,
		"error", lastErr,
	)
	return nil, lastErr
}

// applyJitter adds ±frac random jitter to a duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
