package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
)

// Manager is the registry of projection handlers. It starts and stops them as
// a group and answers freshness questions across all of them.
type Manager struct {
	store  eventstore.Eventstore
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*Handler
	order    []string
}

// NewManager creates an empty registry.
func NewManager(store eventstore.Eventstore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		logger:   logger,
		handlers: make(map[string]*Handler),
	}
}

// Register adds a handler. Registering a duplicate name replaces the previous
// handler; callers are expected to register each projection once at wiring.
func (m *Manager) Register(h *Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[h.Name()]; !exists {
		m.order = append(m.order, h.Name())
	}
	m.handlers[h.Name()] = h
}

// Handler returns the named handler.
func (m *Manager) Handler(name string) (*Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[name]
	return h, ok
}

// Names returns the registered projection names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Start launches all registered handlers. On the first failure the already
// started handlers are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	handlers := make([]*Handler, 0, len(m.order))
	for _, name := range m.order {
		handlers = append(handlers, m.handlers[name])
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handlers {
		g.Go(func() error {
			if err := h.Start(gctx); err != nil {
				return fmt.Errorf("start projection %s: %w", h.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.Stop()
		return err
	}
	m.logger.Info("projections started", "count", len(handlers))
	return nil
}

// Stop halts all handlers and waits for their current batches.
func (m *Manager) Stop() {
	m.mu.RLock()
	handlers := make([]*Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Stop()
		}()
	}
	wg.Wait()
}

// TriggerAll nudges every handler to look for new events.
func (m *Manager) TriggerAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.handlers {
		h.Trigger()
	}
}

// WaitForProjection blocks until the named projection's cursor reaches pos.
// Commands use it for read-your-writes before querying the read model.
func (m *Manager) WaitForProjection(ctx context.Context, name string, pos domain.Position, timeout time.Duration) error {
	h, ok := m.Handler(name)
	if !ok {
		return domain.NewNotFoundError("projection " + name)
	}
	return h.WaitForPosition(ctx, pos, timeout)
}

// Status describes one projection's freshness.
type Status struct {
	Name     string
	State    State
	Position domain.Position

	// Behind reports whether the projection's cursor trails the log head.
	Behind bool
}

// Status reports every projection's state and whether it trails the log.
func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	head, err := m.store.LatestPosition(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		h := m.handlers[name]
		pos := h.Position()
		statuses = append(statuses, Status{
			Name:     name,
			State:    h.State(),
			Position: pos,
			Behind:   head.After(pos),
		})
	}
	return statuses, nil
}

// Reset rebuilds a projection from scratch: its tables are re-initialized,
// read-model rows dropped, quarantined events cleared and the cursor removed,
// all in one transaction. The projection must not be running.
func Reset(ctx context.Context, pool *database.Pool, p Projection) error {
	return pool.WithTransaction(ctx, func(ctx context.Context) error {
		ex := pool.Executor(ctx)
		if err := InitStateTables(ctx, ex); err != nil {
			return err
		}
		if err := p.Init(ctx, ex); err != nil {
			return err
		}
		if resetter, ok := p.(Resetter); ok {
			if err := resetter.Reset(ctx, ex); err != nil {
				return err
			}
		}
		if err := ClearFailedEvents(ctx, ex, p.Name()); err != nil {
			return err
		}
		return resetPosition(ctx, ex, p.Name())
	})
}

// Health fails when any registered projection is not running.
func (m *Manager) Health(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.order {
		state := m.handlers[name].State()
		if state == StateStopped || state == StateStopping {
			return fmt.Errorf("projection %s is %s", name, state)
		}
	}
	return nil
}
