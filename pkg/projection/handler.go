package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
	"github.com/plaenen/iamcore/pkg/messaging"
)

// State is the lifecycle state of a projection handler.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateCatchUp
	StateLive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateCatchUp:
		return "catch_up"
	case StateLive:
		return "live"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// ErrAlreadyRunning is returned when Start is called on a running handler.
var ErrAlreadyRunning = errors.New("projection handler already running")

// errLockBusy signals that another replica holds the projection lock.
var errLockBusy = errors.New("projection locked by another replica")

type handlerConfig struct {
	batchSize       uint32
	interval        time.Duration
	maxFailureCount int
	txErrorLimit    int
	enableLocking   bool
	rebuildOnStart  bool
	logger          *slog.Logger
}

func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		batchSize:       100,
		interval:        time.Second,
		maxFailureCount: 5,
		txErrorLimit:    10,
		enableLocking:   true,
		logger:          slog.Default(),
	}
}

// HandlerOption configures a projection handler.
type HandlerOption func(*handlerConfig)

// WithBatchSize sets how many events one transaction processes.
func WithBatchSize(n uint32) HandlerOption {
	return func(c *handlerConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithInterval sets the polling interval while live.
func WithInterval(d time.Duration) HandlerOption {
	return func(c *handlerConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxFailureCount sets the failure count at which a quarantined event is
// reported as permanently failed.
func WithMaxFailureCount(n int) HandlerOption {
	return func(c *handlerConfig) {
		if n > 0 {
			c.maxFailureCount = n
		}
	}
}

// WithoutLocking disables the advisory lock. Only safe when a single replica
// runs the projection.
func WithoutLocking() HandlerOption {
	return func(c *handlerConfig) { c.enableLocking = false }
}

// WithRebuildOnStart drops the cursor and the projected rows on Start so the
// projection replays the full log.
func WithRebuildOnStart() HandlerOption {
	return func(c *handlerConfig) { c.rebuildOnStart = true }
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(c *handlerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// DB is the database surface the handler runs on: transactions, savepoints
// and the executor bound to the context. *database.Pool implements it.
type DB interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
	Executor(ctx context.Context) database.Executor
}

// Handler drives one projection: catch-up from the cursor, then live tailing
// nudged by the event bus and a polling ticker. Replicas coordinate through a
// transaction-scoped advisory lock, so at most one works per batch while the
// others skip.
type Handler struct {
	projection Projection
	reducers   reducerIndex
	store      eventstore.Eventstore
	pool       DB
	bus        messaging.EventBus
	cfg        handlerConfig
	logger     *slog.Logger

	// lifecycle serializes Start and Stop, so a Stop racing a Start cannot
	// observe the half-started handler and leave the loop running.
	lifecycle sync.Mutex

	state   atomic.Int32
	trigger chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	sub     messaging.Subscription

	mu          sync.Mutex
	position    domain.Position
	txErrStreak int
}

// NewHandler wires a handler for one projection. bus may be nil; the handler
// then relies on the polling interval alone.
func NewHandler(projection Projection, store eventstore.Eventstore, pool DB, bus messaging.EventBus, opts ...HandlerOption) *Handler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Handler{
		projection: projection,
		reducers:   buildReducerIndex(projection.Reducers()),
		store:      store,
		pool:       pool,
		bus:        bus,
		cfg:        cfg,
		logger:     cfg.logger.With("projection", projection.Name()),
		trigger:    make(chan struct{}, 1),
	}
}

// Name returns the projection's name.
func (h *Handler) Name() string { return h.projection.Name() }

// State returns the handler's lifecycle state.
func (h *Handler) State() State { return State(h.state.Load()) }

// Position returns the last committed cursor position.
func (h *Handler) Position() domain.Position {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// Start initializes tables and launches the processing loop.
func (h *Handler) Start(ctx context.Context) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if !h.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	if err := h.init(ctx); err != nil {
		h.state.Store(int32(StateStopped))
		return err
	}

	pos, err := currentPosition(ctx, h.pool.Executor(ctx), h.projection.Name())
	if err != nil {
		h.state.Store(int32(StateStopped))
		return err
	}
	h.mu.Lock()
	h.position = pos
	h.txErrStreak = 0
	h.mu.Unlock()

	if h.bus != nil {
		sub, err := h.bus.Subscribe(messaging.EventFilter{
			AggregateTypes: h.reducers.aggregateTypes(),
		}, func(*domain.Event) error {
			h.Trigger()
			return nil
		})
		if err != nil {
			h.state.Store(int32(StateStopped))
			return err
		}
		h.sub = sub
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel
	h.done = make(chan struct{})
	h.state.Store(int32(StateCatchUp))
	h.logger.Info("projection starting", "position", pos.Position.String())

	go h.run(runCtx)
	return nil
}

func (h *Handler) init(ctx context.Context) error {
	return h.pool.WithTransaction(ctx, func(ctx context.Context) error {
		ex := h.pool.Executor(ctx)
		if err := InitStateTables(ctx, ex); err != nil {
			return err
		}
		if err := h.projection.Init(ctx, ex); err != nil {
			return err
		}
		if !h.cfg.rebuildOnStart {
			return nil
		}
		if resetter, ok := h.projection.(Resetter); ok {
			if err := resetter.Reset(ctx, ex); err != nil {
				return err
			}
		}
		if err := ClearFailedEvents(ctx, ex, h.projection.Name()); err != nil {
			return err
		}
		return resetPosition(ctx, ex, h.projection.Name())
	})
}

// Stop halts the processing loop and waits for the current batch to finish.
// A Stop concurrent with Start blocks until the Start completes, then stops
// the launched loop.
func (h *Handler) Stop() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	for {
		state := h.State()
		switch state {
		case StateStopped, StateStopping:
			return
		}
		if h.state.CompareAndSwap(int32(state), int32(StateStopping)) {
			break
		}
	}
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		<-h.done
	}
	h.state.Store(int32(StateStopped))
	h.logger.Info("projection stopped")
}

// Trigger nudges the loop to look for new events immediately.
func (h *Handler) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// WaitForPosition blocks until the projection's cursor reaches pos.
func (h *Handler) WaitForPosition(ctx context.Context, pos domain.Position, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.Trigger()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		current := h.Position()
		if current.Compare(pos) >= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("projection %s did not reach position %s: %w",
				h.projection.Name(), pos.Position.String(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *Handler) run(ctx context.Context) {
	defer func() {
		if h.sub != nil {
			_ = h.sub.Unsubscribe()
			h.sub = nil
		}
		close(h.done)
	}()

	ticker := time.NewTicker(h.cfg.interval)
	defer ticker.Stop()

	for {
		if !h.catchUp(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-h.trigger:
		case <-ticker.C:
		}
	}
}

// catchUp processes batches until the projection is drained. Returns false
// when the loop must exit.
func (h *Handler) catchUp(ctx context.Context) bool {
	for {
		if ctx.Err() != nil || h.State() == StateStopping {
			return false
		}

		fetched, err := h.processBatch(ctx)
		switch {
		case errors.Is(err, errLockBusy):
			// another replica is projecting; check again next tick
			return true
		case err != nil:
			h.mu.Lock()
			h.txErrStreak++
			streak := h.txErrStreak
			h.mu.Unlock()
			h.logger.Error("projection batch failed", "error", err, "consecutive_failures", streak)
			if streak >= h.cfg.txErrorLimit {
				h.logger.Error("projection auto-stopped after repeated transaction failures")
				h.state.Store(int32(StateStopped))
				return false
			}
			return true
		}

		h.mu.Lock()
		h.txErrStreak = 0
		h.mu.Unlock()

		if fetched < int(h.cfg.batchSize) {
			if h.state.CompareAndSwap(int32(StateCatchUp), int32(StateLive)) {
				h.logger.Info("projection live", "position", h.Position().Position.String())
			}
			return true
		}
		h.state.CompareAndSwap(int32(StateLive), int32(StateCatchUp))
	}
}

// processBatch runs one batch in a single transaction: acquire the lock, read
// the cursor, reduce and apply each event inside its own savepoint, persist
// the new cursor. Returns how many events were fetched.
func (h *Handler) processBatch(ctx context.Context) (int, error) {
	name := h.projection.Name()
	var (
		fetched  int
		newPos   domain.Position
		advanced bool
	)

	err := h.pool.WithTransaction(ctx, func(ctx context.Context) error {
		ex := h.pool.Executor(ctx)

		if h.cfg.enableLocking {
			k1, k2 := database.LockKey(name, "")
			acquired, err := database.TryAdvisoryXactLock(ctx, ex, k1, k2)
			if err != nil {
				return err
			}
			if !acquired {
				return errLockBusy
			}
		}

		pos, err := currentPosition(ctx, ex, name)
		if err != nil {
			return err
		}

		events, err := h.store.EventsAfterPosition(ctx, pos, h.cfg.batchSize)
		if err != nil {
			return err
		}
		fetched = len(events)
		if fetched == 0 {
			newPos, advanced = pos, true
			return nil
		}

		cursor := pos
		for _, event := range events {
			if err := h.applyEvent(ctx, ex, event); err != nil {
				return err
			}
			cursor = event.Position
		}

		if err := savePosition(ctx, ex, name, cursor); err != nil {
			return err
		}
		newPos, advanced = cursor, true
		return nil
	})
	if err != nil {
		return fetched, err
	}

	if advanced {
		h.mu.Lock()
		h.position = newPos
		h.mu.Unlock()
	}
	return fetched, nil
}

// applyEvent reduces and executes one event inside a savepoint. A failing
// event rolls back only its savepoint and is recorded in the quarantine
// table; the batch moves on to the next event.
func (h *Handler) applyEvent(ctx context.Context, ex database.Executor, event *domain.Event) error {
	fn, ok := h.reducers.reduce(event)
	if !ok {
		return nil
	}

	stmt, reduceErr := fn(event)
	execErr := reduceErr
	if execErr == nil && !stmt.IsNoOp() {
		execErr = h.pool.Savepoint(ctx, func(ctx context.Context) error {
			return stmt.Execute(ctx, h.pool.Executor(ctx))
		})
	}
	if execErr == nil {
		return nil
	}

	count, err := recordFailure(ctx, ex, h.projection.Name(), event, execErr)
	if err != nil {
		return err
	}
	if count >= h.cfg.maxFailureCount {
		h.logger.Error("event permanently failed",
			"event_id", event.ID, "event_type", event.EventType,
			"failure_count", count, "error", execErr)
		return nil
	}
	h.logger.Warn("event reduction failed, quarantined",
		"event_id", event.ID, "event_type", event.EventType,
		"failure_count", count, "error", execErr)
	return nil
}
