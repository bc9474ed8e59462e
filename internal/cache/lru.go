package cache

import (
	"container/list"
	"time"
)

// lru is an unsynchronized recency list bounded by max entries. Callers hold
// Cache.mu.
type lru struct {
	max     int
	entries map[Fingerprint]*list.Element
	ordered *list.List
}

func newLRU(max int) *lru {
	return &lru{
		max:     max,
		entries: make(map[Fingerprint]*list.Element, max),
		ordered: list.New(),
	}
}

// get returns the entry for fp if it is still fresh at now. Stale entries
// are dropped on access.
func (l *lru) get(fp Fingerprint, now time.Time) (Entry, bool) {
	el, ok := l.entries[fp]
	if !ok {
		return Entry{}, false
	}
	e := el.Value.(*Entry)
	if !now.Before(e.ExpiresAt) {
		l.remove(el)
		return Entry{}, false
	}
	l.ordered.MoveToFront(el)
	return *e, true
}

// put inserts or replaces the entry and returns how many entries were
// evicted for capacity.
func (l *lru) put(e Entry) int {
	if el, ok := l.entries[e.Fingerprint]; ok {
		*el.Value.(*Entry) = e
		l.ordered.MoveToFront(el)
		return 0
	}
	entry := e
	l.entries[e.Fingerprint] = l.ordered.PushFront(&entry)

	evicted := 0
	for l.ordered.Len() > l.max {
		l.remove(l.ordered.Back())
		evicted++
	}
	return evicted
}

func (l *lru) delete(fp Fingerprint) bool {
	el, ok := l.entries[fp]
	if ok {
		l.remove(el)
	}
	return ok
}

// purge drops every entry that expired or outlived retention.
func (l *lru) purge(now time.Time, retention time.Duration) int {
	removed := 0
	for el := l.ordered.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*Entry)
		if !now.Before(e.ExpiresAt) || (retention > 0 && now.Sub(e.FetchedAt) >= retention) {
			l.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (l *lru) len() int {
	return l.ordered.Len()
}

func (l *lru) reset() {
	l.entries = make(map[Fingerprint]*list.Element, l.max)
	l.ordered.Init()
}

func (l *lru) remove(el *list.Element) {
	e := el.Value.(*Entry)
	delete(l.entries, e.Fingerprint)
	l.ordered.Remove(el)
}
