package modelclient

import (
	"context"

	"golang.org/x/time/rate"
)

// defaultRequestsPerMinute is the leaky-bucket rate applied when a
// Config leaves RequestsPerMinute unset.
const defaultRequestsPerMinute = 60

// newLimiter builds a process-wide limiter shared by every call the
// httpClient makes, so embed/generate/describe/etc. all drain the same
// bucket rather than each getting their own budget.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	perSecond := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// wait blocks until the limiter admits one request or ctx is done.
func wait(ctx context.Context, l *rate.Limiter) error {
	return l.Wait(ctx)
}
