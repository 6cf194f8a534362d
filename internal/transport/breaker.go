package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerGroup lazily creates and memoizes one circuit breaker per host, so
// a failing backend or platform host trips independently of the others.
type BreakerGroup struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings func(host string) gobreaker.Settings
}

// NewBreakerGroup builds a BreakerGroup. onStateChange, if non-nil, is
// invoked whenever any host's breaker changes state (cmd/cr uses it to feed
// the circuit_breaker_trips_total metric, labeled by host and new state).
func NewBreakerGroup(onStateChange func(host string, from, to gobreaker.State)) *BreakerGroup {
	return &BreakerGroup{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: func(host string) gobreaker.Settings {
			return gobreaker.Settings{
				Name:        host,
				MaxRequests: 1,
				Interval:    30 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					if onStateChange != nil {
						onStateChange(name, from, to)
					}
				},
			}
		},
	}
}

func (g *BreakerGroup) forHost(host string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(g.settings(host))
	g.breakers[host] = b
	return b
}

// Execute runs op through the named host's breaker. An open breaker returns
// gobreaker.ErrOpenState immediately without invoking op, so a sustained
// backend or platform outage stops hammering the remote host.
func (g *BreakerGroup) Execute(ctx context.Context, host string, op Operation) error {
	breaker := g.forHost(host)
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if err != nil {
		return fmt.Errorf("breaker %s: %w", host, err)
	}
	return nil
}
