// Package app wires the driver's subsystems — registry, sandbox bridge,
// scheduler, connection manager and transport, permission store, and
// persistence adapter — into one process, and manages their startup and
// shutdown order.
//
// Grounded on the teacher's applications/system/manager.go: an ordered list
// of named services, started in registration order with rollback of
// whatever already started if a later one fails, and stopped in reverse
// order, idempotently, on process shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
)

// Service is anything the Manager can start and stop in order. Satisfied
// by *scheduler.Scheduler, *connection.Service, and the adapterService
// wrapper around persistence.Adapter, all consumer-side.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts and stops a fixed list of services in registration order,
// rolling back on a failed start and tolerating repeated or out-of-band
// Stop calls.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
	running  bool
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends svc to the start order. Register must not be called
// after Start.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("app: cannot register %q after Start", svc.Name())
	}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in order. If one fails, everything
// already started is stopped in reverse order before Start returns the
// triggering error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.rollback(ctx)
			return fmt.Errorf("app: start %q: %w", svc.Name(), err)
		}
		m.started = append(m.started, svc)
	}
	m.running = true
	return nil
}

// rollback stops every service recorded as started, in reverse order, and
// clears the started list. Caller must hold m.mu.
func (m *Manager) rollback(ctx context.Context) {
	for i := len(m.started) - 1; i >= 0; i-- {
		_ = m.started[i].Stop(ctx)
	}
	m.started = nil
}

// Stop stops every started service in reverse order. Idempotent: a second
// call is a no-op. The first error encountered is returned, but every
// service still gets a Stop attempt.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}

	var first error
	for i := len(m.started) - 1; i >= 0; i-- {
		svc := m.started[i]
		if err := svc.Stop(ctx); err != nil && first == nil {
			first = fmt.Errorf("app: stop %q: %w", svc.Name(), err)
		}
	}
	m.started = nil
	m.running = false
	return first
}
