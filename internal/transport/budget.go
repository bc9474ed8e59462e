package transport

import (
	"context"
	"sync"
)

type budgetKey struct{}

// Budget caps how many requests may be sent to a host within one logical
// operation, such as building a single report. Hosts without a limit are
// unbounded. Safe for concurrent use.
type Budget struct {
	mu        sync.Mutex
	limits    map[string]int
	spent     map[string]int
	exhausted map[string]bool
}

func NewBudget(limits map[string]int) *Budget {
	l := make(map[string]int, len(limits))
	for host, n := range limits {
		l[host] = n
	}
	return &Budget{limits: l, spent: make(map[string]int), exhausted: make(map[string]bool)}
}

// WithBudget attaches a fresh budget to ctx.
func WithBudget(ctx context.Context, limits map[string]int) context.Context {
	if len(limits) == 0 {
		return ctx
	}
	return context.WithValue(ctx, budgetKey{}, NewBudget(limits))
}

// BudgetFrom returns the budget attached to ctx, or nil.
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}

// Spend consumes one call for host.
func (b *Budget) Spend(host string) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	limit, ok := b.limits[host]
	if !ok {
		return nil
	}
	if b.spent[host] >= limit {
		b.exhausted[host] = true
		return ErrBudgetExhausted
	}
	b.spent[host]++
	return nil
}

func (b *Budget) Spent(host string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent[host]
}

// Exhausted reports whether any call to host was refused.
func (b *Budget) Exhausted(host string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exhausted[host]
}
