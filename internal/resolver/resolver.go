// Package resolver maps free-text protocol names onto catalog identities.
package resolver

import (
	"sort"
	"strings"

	"diligence/internal/protocol"
)

const (
	DefaultThreshold = 0.75
	DefaultMargin    = 0.10

	editWeight  = 0.7
	tokenWeight = 0.3

	maxSuggestions = 3
)

// filler words that do not identify a protocol on their own.
var filler = map[string]struct{}{
	"protocol": {},
	"finance":  {},
	"dao":      {},
	"network":  {},
	"labs":     {},
	"exchange": {},
	"fi":       {},
	"defi":     {},
	"the":      {},
}

// Resolver is a pure function over an immutable catalog; safe for
// concurrent use.
type Resolver struct {
	entries   []candidate
	exact     map[string]int
	core      map[string]int
	threshold float64
	margin    float64
}

type candidate struct {
	identity protocol.Identity
	forms    []form
}

type form struct {
	compact string
	tokens  []string
}

type Option func(*Resolver)

// WithThreshold sets the minimum similarity a fuzzy match must exceed.
func WithThreshold(t float64) Option {
	return func(r *Resolver) {
		if t > 0 && t < 1 {
			r.threshold = t
		}
	}
}

// WithMargin sets how far the best fuzzy match must lead the runner-up.
func WithMargin(m float64) Option {
	return func(r *Resolver) {
		if m >= 0 && m < 1 {
			r.margin = m
		}
	}
}

func New(catalog *protocol.Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		exact:     make(map[string]int),
		core:      make(map[string]int),
		threshold: DefaultThreshold,
		margin:    DefaultMargin,
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, id := range catalog.Entries() {
		c := candidate{identity: id}
		for _, name := range id.Names() {
			tokens := tokenize(name)
			if len(tokens) == 0 {
				continue
			}
			r.exact[strings.Join(tokens, "")] = i

			core := stripFiller(tokens)
			key := strings.Join(core, "")
			if prev, seen := r.core[key]; seen && prev != i {
				r.core[key] = -1 // two protocols share this core name; never exact-match it
			} else if !seen {
				r.core[key] = i
			}
			c.forms = append(c.forms, form{compact: key, tokens: core})
		}
		r.entries = append(r.entries, c)
	}
	return r
}

// Resolve returns the identity text refers to, or a *NotFoundError naming
// the closest candidates. It never guesses between near-ties.
func (r *Resolver) Resolve(text string) (protocol.Identity, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return protocol.Identity{}, &NotFoundError{Query: text}
	}

	if i, ok := r.exact[strings.Join(tokens, "")]; ok {
		return r.entries[i].identity, nil
	}

	core := stripFiller(tokens)
	coreKey := strings.Join(core, "")
	if i, ok := r.exact[coreKey]; ok {
		return r.entries[i].identity, nil
	}
	if i, ok := r.core[coreKey]; ok && i >= 0 {
		return r.entries[i].identity, nil
	}

	ranked := r.rank(coreKey, core)
	best := ranked[0]
	var runnerUp float64
	if len(ranked) > 1 {
		runnerUp = ranked[1].score
	}
	if best.score > r.threshold && best.score-runnerUp >= r.margin {
		return r.entries[best.index].identity, nil
	}

	suggestions := make([]string, 0, maxSuggestions)
	for _, s := range ranked[:min(maxSuggestions, len(ranked))] {
		suggestions = append(suggestions, r.entries[s.index].identity.DisplayName)
	}
	return protocol.Identity{}, &NotFoundError{Query: strings.TrimSpace(text), Suggestions: suggestions}
}

type scored struct {
	index int
	score float64
}

// rank scores every entry by its best-matching name, highest first. Ties
// keep catalog order so results are deterministic.
func (r *Resolver) rank(compact string, tokens []string) []scored {
	out := make([]scored, len(r.entries))
	for i, c := range r.entries {
		var best float64
		for _, f := range c.forms {
			s := editWeight*ratio(compact, f.compact) + tokenWeight*tokenOverlap(tokens, f.tokens)
			best = max(best, s)
		}
		out[i] = scored{index: i, score: best}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].score > out[b].score })
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// stripFiller drops filler words, keeping the original tokens when nothing
// else would remain ("the protocol" stays as is).
func stripFiller(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, skip := filler[t]; !skip {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return tokens
	}
	return out
}
