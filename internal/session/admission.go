package session

import (
	"context"
	"fmt"
)

// Gate is the pre-flight admission check: global capacity first, then the
// requester allow-list. Both are pure reads; nothing is reserved or written.
type Gate struct {
	counter interface {
		CountAccounts(ctx context.Context) (int64, error)
	}
	maxInstances int
	allow        map[string]struct{}
}

// NewGate builds a gate over the record counter. An empty allow-list denies
// everyone.
func NewGate(counter interface {
	CountAccounts(ctx context.Context) (int64, error)
}, maxInstances int, allowList []string) *Gate {
	allow := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		allow[id] = struct{}{}
	}
	return &Gate{counter: counter, maxInstances: maxInstances, allow: allow}
}

func (g *Gate) Check(ctx context.Context, requesterID string) error {
	n, err := g.counter.CountAccounts(ctx)
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if n >= int64(g.maxInstances) {
		return fmt.Errorf("%w: %d of %d in use", ErrCapacityExceeded, n, g.maxInstances)
	}
	if _, ok := g.allow[requesterID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, requesterID)
	}
	return nil
}
