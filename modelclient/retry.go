package modelclient

import (
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries        = 4
	baseRetryDelay    = 1 * time.Second
	minRateLimitDelay = 5 * time.Second
	maxRetryDelay     = 120 * time.Second
)

// retryableStatusCode reports whether an HTTP response warrants a retry
// rather than an immediate failure.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// authFailure reports whether a response indicates bad credentials,
// which is never worth retrying.
func authFailure(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// backoffDelay computes the capped exponential delay for a non-429
// retryable failure: attempt 1 waits baseRetryDelay, attempt 2 waits
// 2x, and so on, capped at maxRetryDelay.
func backoffDelay(attempt int) time.Duration {
	d := baseRetryDelay * time.Duration(1<<uint(attempt-1))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// rateLimitDelay computes the delay for a 429 response, honoring a
// server-supplied Retry-After header (in seconds) when it asks for
// longer than the default backoff.
func rateLimitDelay(attempt int, retryAfterHeader string) time.Duration {
	d := minRateLimitDelay * time.Duration(1<<uint(attempt))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	if retryAfterHeader != "" {
		if seconds, err := strconv.Atoi(retryAfterHeader); err == nil && seconds > 0 {
			if hd := time.Duration(seconds) * time.Second; hd > d {
				d = hd
			}
		}
	}
	return d
}
