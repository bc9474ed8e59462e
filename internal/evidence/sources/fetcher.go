package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"diligence/internal/cache"
	"diligence/internal/transport"
)

// ErrMalformedPayload marks a provider response that could not be decoded.
var ErrMalformedPayload = errors.New("malformed provider payload")

// HTTPClient is satisfied by *transport.Transport.
type HTTPClient interface {
	Fetch(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Fetcher routes every provider call through the response cache and the
// shared transport. A nil cache disables caching.
type Fetcher struct {
	client HTTPClient
	cache  *cache.Cache
}

func NewFetcher(client HTTPClient, c *cache.Cache) *Fetcher {
	return &Fetcher{client: client, cache: c}
}

// Fetch returns the raw payload for req and the number of HTTP attempts it
// took; attempts is zero on a cache hit.
func (f *Fetcher) Fetch(ctx context.Context, req transport.Request, ttl time.Duration) ([]byte, int, error) {
	var attempts atomic.Int32
	fetch := func(ctx context.Context) ([]byte, error) {
		resp, err := f.client.Fetch(ctx, req)
		if err != nil {
			attempts.Add(int32(transport.AttemptsOf(err)))
			return nil, err
		}
		attempts.Add(int32(resp.Attempts))
		return resp.Body, nil
	}

	if f.cache == nil {
		body, err := fetch(ctx)
		return body, int(attempts.Load()), err
	}
	body, err := f.cache.GetOrFetch(ctx, f.fingerprint(req), ttl, fetch)
	return body, int(attempts.Load()), err
}

// JSON fetches req and decodes the payload into out. An empty payload or one
// that does not decode is evicted so the next call refetches it.
func (f *Fetcher) JSON(ctx context.Context, req transport.Request, ttl time.Duration, out any) (int, error) {
	body, attempts, err := f.Fetch(ctx, req, ttl)
	if err != nil {
		return attempts, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		f.Invalidate(ctx, req)
		return attempts, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	if err := json.Unmarshal(body, out); err != nil {
		f.Invalidate(ctx, req)
		return attempts, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return attempts, nil
}

// Invalidate evicts the cached payload for req. Adapters call it when a
// well-formed payload still reports an upstream error.
func (f *Fetcher) Invalidate(ctx context.Context, req transport.Request) {
	if f.cache != nil {
		f.cache.Invalidate(ctx, f.fingerprint(req))
	}
}

func (f *Fetcher) fingerprint(req transport.Request) cache.Fingerprint {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	return cache.FingerprintOf(method, req.URL, req.Body)
}

// Describe turns a fetch error into the short detail stored on a Result.
func Describe(err error) string {
	var te *transport.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, transport.ErrBudgetExhausted):
		return "call budget exhausted"
	case errors.Is(err, transport.ErrCircuitOpen):
		return "provider temporarily disabled after repeated failures"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed response"
	case errors.As(err, &te):
		switch te.Kind {
		case transport.KindRateLimited:
			return fmt.Sprintf("rate limited after %d attempt(s)", te.Attempts)
		case transport.KindTimeout:
			return fmt.Sprintf("timed out after %d attempt(s)", te.Attempts)
		case transport.KindServerError:
			if te.StatusCode != 0 {
				return fmt.Sprintf("provider error (status %d) after %d attempt(s)", te.StatusCode, te.Attempts)
			}
			return fmt.Sprintf("provider unreachable after %d attempt(s)", te.Attempts)
		default:
			if te.StatusCode == 404 {
				return "not found at provider"
			}
			return fmt.Sprintf("request rejected (status %d)", te.StatusCode)
		}
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
