package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Caches and stores return these
// (optionally wrapped) so callers can branch with errors.Is without knowing
// which backend answered.
//
//   - ErrNotFound: no entry for the key
//   - ErrExpired: entry exists but is past its expiry or retention window
//   - ErrUnavailable: backing service unreachable or timed out
var (
	ErrNotFound    = errors.New("not found")
	ErrExpired     = errors.New("expired")
	ErrUnavailable = errors.New("unavailable")
)
