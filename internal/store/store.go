// Package store persists in-flight order state so order tracking survives a
// restart.
package store

import (
	"context"
	"sync"

	"github.com/coachpo/litebridge/internal/orders"
)

// OrderStateStore saves and restores tracked order snapshots. SaveStates
// replaces the full set; the stored set always mirrors the live one.
type OrderStateStore interface {
	SaveStates(ctx context.Context, states []orders.State) error
	LoadStates(ctx context.Context) ([]orders.State, error)
}

// Memory is the in-process store used when no database is configured.
// Restarts lose its contents; stream and REST reconciliation rebuild what
// the exchange still knows about.
type Memory struct {
	mu     sync.Mutex
	states []orders.State
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveStates replaces the stored snapshot set.
func (m *Memory) SaveStates(_ context.Context, states []orders.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append([]orders.State(nil), states...)
	return nil
}

// LoadStates returns the stored snapshot set.
func (m *Memory) LoadStates(context.Context) ([]orders.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]orders.State(nil), m.states...), nil
}
