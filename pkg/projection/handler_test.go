package projection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
)

// fakeDB implements the handler's DB surface over in-memory maps, answering
// the fixed statements the engine issues. Events come from the real in-memory
// eventstore; only cursor, quarantine and read-model writes land here.
type fakeDB struct {
	mu       sync.Mutex
	cursors  map[string]domain.Position
	failures map[string]int
	applied  []string
	lockBusy bool
	txErr    error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		cursors:  make(map[string]domain.Position),
		failures: make(map[string]int),
	}
}

func (f *fakeDB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	err := f.txErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

func (f *fakeDB) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeDB) Executor(context.Context) database.Executor { return f }

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(sql, "CREATE SCHEMA"):
	case strings.Contains(sql, "INSERT INTO projections.current_states"):
		f.cursors[args[0].(string)] = domain.Position{
			Position:        args[1].(decimal.Decimal),
			InPositionOrder: args[2].(uint32),
		}
	case strings.Contains(sql, "DELETE FROM projections.current_states"):
		delete(f.cursors, args[0].(string))
	case strings.Contains(sql, "DELETE FROM projections.failed_events"):
		clear(f.failures)
	case strings.Contains(sql, "INSERT INTO projections.test_rows"):
		f.applied = append(f.applied, args[0].(string))
	default:
		return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", sql)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(sql, "pg_try_advisory_xact_lock"):
		acquired := !f.lockBusy
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*bool) = acquired
			return nil
		}}
	case strings.Contains(sql, "SELECT position, in_position_order"):
		pos, ok := f.cursors[args[0].(string)]
		if !ok {
			return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
		}
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*decimal.Decimal) = pos.Position
			*dest[1].(*uint32) = pos.InPositionOrder
			return nil
		}}
	case strings.Contains(sql, "INSERT INTO projections.failed_events"):
		key := args[0].(string) + "\x00" + args[1].(string)
		f.failures[key]++
		count := f.failures[key]
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*int) = count
			return nil
		}}
	}
	return fakeRow{scan: func(...any) error { return errors.New("unexpected query row") }}
}

func (f *fakeDB) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.applied))
	copy(ids, f.applied)
	return ids
}

func (f *fakeDB) cursor(name string) (domain.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.cursors[name]
	return pos, ok
}

func (f *fakeDB) seedCursor(name string, pos domain.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[name] = pos
}

func (f *fakeDB) failureCount(name, eventID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[name+"\x00"+eventID]
}

func (f *fakeDB) setLockBusy(busy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockBusy = busy
}

func (f *fakeDB) setTxErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txErr = err
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// testProjection writes one row per org.added event. Events listed in poison
// fail reduction; the init channels let a test hold Start open.
type testProjection struct {
	mu          sync.Mutex
	poison      map[string]error
	initStarted chan struct{}
	initRelease chan struct{}
}

func (p *testProjection) Name() string { return "test_rows" }

func (p *testProjection) Init(context.Context, database.Executor) error {
	if p.initStarted != nil {
		close(p.initStarted)
		<-p.initRelease
	}
	return nil
}

func (p *testProjection) Reducers() []AggregateReducer {
	return []AggregateReducer{{
		Aggregate: domain.AggregateTypeOrg,
		EventReducers: []EventReducer{{
			Event: domain.OrgAddedType,
			Reduce: func(e *domain.Event) (*Statement, error) {
				p.mu.Lock()
				err := p.poison[e.ID]
				p.mu.Unlock()
				if err != nil {
					return nil, err
				}
				return NewCreateStatement(e, "projections.test_rows",
					[]Column{NewCol("event_id", e.ID)}), nil
			},
		}},
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pushOrgEvent(t *testing.T, store *eventstore.MemoryStore, aggregateID string) *domain.Event {
	t.Helper()
	event, err := store.Push(context.Background(), &domain.Command{
		InstanceID:    "i1",
		AggregateType: domain.AggregateTypeOrg,
		AggregateID:   aggregateID,
		ResourceOwner: aggregateID,
		EventType:     domain.OrgAddedType,
		Editor:        "editor-1",
	})
	require.NoError(t, err)
	return event
}

func TestHandlerCatchesUpAndGoesLive(t *testing.T) {
	store := eventstore.NewMemoryStore(nil)
	defer store.Close()
	db := newFakeDB()
	ctx := context.Background()

	first := pushOrgEvent(t, store, "o1")
	second := pushOrgEvent(t, store, "o2")

	h := NewHandler(&testProjection{}, store, db, nil,
		WithInterval(10*time.Millisecond),
		WithHandlerLogger(discardLogger()))
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	require.NoError(t, h.WaitForPosition(ctx, second.Position, 5*time.Second))
	require.Eventually(t, func() bool { return h.State() == StateLive },
		5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{first.ID, second.ID}, db.appliedIDs())
	cursor, ok := db.cursor("test_rows")
	require.True(t, ok)
	assert.Equal(t, 0, cursor.Compare(second.Position))

	// live tailing picks up events pushed after catch-up
	third := pushOrgEvent(t, store, "o3")
	h.Trigger()
	require.NoError(t, h.WaitForPosition(ctx, third.Position, 5*time.Second))
	assert.Contains(t, db.appliedIDs(), third.ID)
}

func TestHandlerResumesFromSavedCursor(t *testing.T) {
	store := eventstore.NewMemoryStore(nil)
	defer store.Close()
	db := newFakeDB()
	ctx := context.Background()

	first := pushOrgEvent(t, store, "o1")
	second := pushOrgEvent(t, store, "o2")
	db.seedCursor("test_rows", first.Position)

	h := NewHandler(&testProjection{}, store, db, nil,
		WithInterval(10*time.Millisecond),
		WithHandlerLogger(discardLogger()))
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	require.NoError(t, h.WaitForPosition(ctx, second.Position, 5*time.Second))
	assert.Equal(t, []string{second.ID}, db.appliedIDs())
}

func TestHandlerQuarantinesPoisonEventAndContinues(t *testing.T) {
	store := eventstore.NewMemoryStore(nil)
	defer store.Close()
	db := newFakeDB()
	ctx := context.Background()

	first := pushOrgEvent(t, store, "o1")
	second := pushOrgEvent(t, store, "o2")
	third := pushOrgEvent(t, store, "o3")

	p := &testProjection{poison: map[string]error{second.ID: errors.New("bad row")}}
	h := NewHandler(p, store, db, nil,
		WithInterval(10*time.Millisecond),
		WithHandlerLogger(discardLogger()))
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	require.NoError(t, h.WaitForPosition(ctx, third.Position, 5*time.Second))

	// the batch continues past the poison event and the cursor advances
	assert.Equal(t, []string{first.ID, third.ID}, db.appliedIDs())
	assert.Equal(t, 1, db.failureCount("test_rows", second.ID))
	cursor, ok := db.cursor("test_rows")
	require.True(t, ok)
	assert.Equal(t, 0, cursor.Compare(third.Position))
}

func TestHandlerSkipsWhenLockBusy(t *testing.T) {
	store := eventstore.NewMemoryStore(nil)
	defer store.Close()
	db := newFakeDB()
	db.setLockBusy(true)
	ctx := context.Background()

	first := pushOrgEvent(t, store, "o1")

	h := NewHandler(&testProjection{}, store, db, nil,
		WithInterval(10*time.Millisecond),
		WithHandlerLogger(discardLogger()))
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	assert.Never(t, func() bool { return len(db.appliedIDs()) > 0 },
		200*time.Millisecond, 20*time.Millisecond)

	db.setLockBusy(false)
	h.Trigger()
	require.NoError(t, h.WaitForPosition(ctx, first.Position, 5*time.Second))
	assert.Equal(t, []string{first.ID}, db.appliedIDs())
}

func TestHandlerAutoStopsAfterRepeatedTransactionErrors(t *testing.T) {
	store := eventstore.NewMemoryStore(nil)
	defer store.Close()
	db := newFakeDB()
	ctx := context.Background()

	first := pushOrgEvent(t, store, "o1")

	h := NewHandler(&testProjection{}, store, db, nil,
		WithInterval(time.Millisecond),
		WithHandlerLogger(discardLogger()))
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.WaitForPosition(ctx, first.Position, 5*time.Second))

	db.setTxErr(errors.New("connection reset"))
	require.Eventually(t, func() bool { return h.State() == StateStopped },
		5*time.Second, 10*time.Millisecond)

	// Stop on an auto-stopped handler returns immediately
	h.Stop()
	assert.Equal(t, StateStopped, h.State())
}

func TestHandlerStopWaitsForInFlightStart(t *testing.T) {
	store := eventstore.NewMemoryStore(nil)
	defer store.Close()
	db := newFakeDB()

	pushOrgEvent(t, store, "o1")

	p := &testProjection{
		initStarted: make(chan struct{}),
		initRelease: make(chan struct{}),
	}
	h := NewHandler(p, store, db, nil,
		WithInterval(10*time.Millisecond),
		WithHandlerLogger(discardLogger()))

	startErr := make(chan error, 1)
	go func() { startErr <- h.Start(context.Background()) }()
	<-p.initStarted

	stopDone := make(chan struct{})
	go func() {
		h.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("Stop returned while Start was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.initRelease)
	require.NoError(t, <-startErr)
	<-stopDone
	assert.Equal(t, StateStopped, h.State())

	// the loop launched by Start must not survive the Stop
	applied := len(db.appliedIDs())
	pushOrgEvent(t, store, "o2")
	h.Trigger()
	assert.Never(t, func() bool { return len(db.appliedIDs()) > applied },
		200*time.Millisecond, 20*time.Millisecond)
}
