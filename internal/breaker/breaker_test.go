package breaker

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func TestRegistryIsolatesTenants(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	failing := func(context.Context) (any, error) { return nil, errors.New("boom") }
	ok := func(context.Context) (any, error) { return "fine", nil }

	for i := 0; i < minRequestsTrip; i++ {
		_, _ = r.Do(ctx, "tenant-a", "llm", failing)
	}
	require.Equal(t, gobreaker.StateOpen, r.State("tenant-a", "llm"))

	v, err := r.Do(ctx, "tenant-b", "llm", ok)
	require.NoError(t, err)
	require.Equal(t, "fine", v)
	require.Equal(t, gobreaker.StateClosed, r.State("tenant-b", "llm"))
}
