package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedCounter int64

func (c fixedCounter) CountAccounts(ctx context.Context) (int64, error) {
	return int64(c), nil
}

func TestGate_CapacityExceeded(t *testing.T) {
	g := NewGate(fixedCounter(5), 5, []string{"111", "222"})

	err := g.Check(context.Background(), "111")
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestGate_CapacityCheckedBeforeAuthorization(t *testing.T) {
	g := NewGate(fixedCounter(5), 5, []string{"111"})

	// requester is unauthorized too, but capacity wins the fixed order
	err := g.Check(context.Background(), "999")
	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestGate_Unauthorized(t *testing.T) {
	g := NewGate(fixedCounter(0), 5, []string{"111", "222"})

	err := g.Check(context.Background(), "999")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestGate_EmptyAllowListDeniesAll(t *testing.T) {
	g := NewGate(fixedCounter(0), 5, nil)

	err := g.Check(context.Background(), "111")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestGate_Allows(t *testing.T) {
	g := NewGate(fixedCounter(4), 5, []string{"111", "222"})

	require.NoError(t, g.Check(context.Background(), "222"))
}
