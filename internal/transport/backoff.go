package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy configures attempts and exponential backoff with jitter.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterFactor is the maximum extra delay as a fraction of the backoff (0-1).
	JitterFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		JitterFactor: 0.2,
	}
}

// Delay returns the wait before the attempt following attempt (1-based).
// rnd is a uniform sample in [0,1).
func (p RetryPolicy) Delay(attempt int, rnd float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.JitterFactor > 0 {
		d += time.Duration(float64(d) * p.JitterFactor * rnd)
	}
	return min(d, p.MaxDelay)
}

// retryAfter reads a server supplied wait. It understands Retry-After in
// seconds or HTTP-date form, and GitHub's X-RateLimit-Reset epoch seconds.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" && h.Get("X-RateLimit-Remaining") == "0" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if at := time.Unix(epoch, 0); at.After(now) {
				return at.Sub(now)
			}
		}
	}
	return 0
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
