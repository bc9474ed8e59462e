package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// Fingerprint identifies a logical request. Two requests that differ only in
// query parameter order, host case, a URL fragment or JSON body key order
// share a fingerprint.
type Fingerprint string

// FingerprintOf hashes the method, canonical URL and canonical body.
func FingerprintOf(method, rawURL string, body []byte) Fingerprint {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(method))))
	h.Write([]byte{0})
	h.Write([]byte(canonicalURL(rawURL)))
	h.Write([]byte{0})
	h.Write(canonicalBody(body))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func canonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		sort.Strings(q[k])
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()
	return u.String()
}

// canonicalBody re-encodes JSON bodies so object key order does not matter.
// encoding/json writes map keys sorted.
func canonicalBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}
