package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerGroup_PerHostIsolation(t *testing.T) {
	var transitions []string
	g := NewBreakerGroup(func(host string, from, to gobreaker.State) {
		transitions = append(transitions, host+":"+to.String())
	})

	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		err := g.Execute(context.Background(), "host-a", func(ctx context.Context) error { return boom })
		require.Error(t, err, "call %d on a failing op must return the error", i)
	}

	err := g.Execute(context.Background(), "host-a", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "5 consecutive failures must open the breaker")

	calls := 0
	err = g.Execute(context.Background(), "host-b", func(ctx context.Context) error { calls++; return nil })
	require.NoError(t, err, "an unrelated host's breaker must not be affected by host-a's failures")
	assert.Equal(t, 1, calls)

	assert.Contains(t, transitions, "host-a:open", "onStateChange must fire when host-a's breaker opens")
}

func TestBreakerGroup_WrapsOperationError(t *testing.T) {
	g := NewBreakerGroup(nil)
	cause := errors.New("platform unavailable")

	err := g.Execute(context.Background(), "host-a", func(ctx context.Context) error { return cause })
	assert.ErrorIs(t, err, cause, "Execute must preserve the underlying operation error")
}
