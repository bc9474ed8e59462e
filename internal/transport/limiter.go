package transport

import (
	"sync"

	"golang.org/x/time/rate"
)

// HostRate is a token bucket refill rate and burst for one host.
type HostRate struct {
	Limit rate.Limit
	Burst int
}

// DefaultHostRates are conservative unauthenticated limits for the public
// provider APIs.
func DefaultHostRates() map[string]HostRate {
	return map[string]HostRate{
		"api.llama.fi":     {Limit: 5, Burst: 5},
		"api.github.com":   {Limit: 1, Burst: 2},
		"hub.snapshot.org": {Limit: 2, Burst: 2},
		"immunefi.com":     {Limit: 1, Burst: 1},
		"api.etherscan.io": {Limit: 4, Burst: 4},
	}
}

// limiters lazily creates one bucket per host. Buckets are never removed;
// the set of provider hosts is small and fixed.
type limiters struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	rates    map[string]HostRate
	fallback HostRate
}

func newLimiters(rates map[string]HostRate, fallback HostRate) *limiters {
	return &limiters{
		buckets:  make(map[string]*rate.Limiter),
		rates:    rates,
		fallback: fallback,
	}
}

func (l *limiters) get(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[host]; ok {
		return b
	}
	hr, ok := l.rates[host]
	if !ok {
		hr = l.fallback
	}
	b := rate.NewLimiter(hr.Limit, max(hr.Burst, 1))
	l.buckets[host] = b
	return b
}

func (l *limiters) set(host string, hr HostRate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[host] = hr
	delete(l.buckets, host)
}
