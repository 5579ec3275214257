package projection

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

type execution struct {
	sql  string
	args []any
}

// recordingExecutor captures executed SQL instead of hitting a database.
type recordingExecutor struct {
	executions []execution
}

func (r *recordingExecutor) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.executions = append(r.executions, execution{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *recordingExecutor) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (r *recordingExecutor) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

var testDate = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestEvent(t *testing.T, eventType domain.EventType, aggregateType domain.AggregateType, aggregateID string, payload any) *domain.Event {
	t.Helper()
	e := &domain.Event{
		ID:               "event-1",
		EventType:        eventType,
		AggregateType:    aggregateType,
		AggregateID:      aggregateID,
		AggregateVersion: 7,
		ResourceOwner:    "org-1",
		InstanceID:       "instance-1",
		CreationDate:     testDate,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		e.Payload = raw
	}
	return e
}

func executeStatement(t *testing.T, p interface {
	Reducers() []handler.AggregateReducer
}, e *domain.Event) *recordingExecutor {
	t.Helper()
	for _, agg := range p.Reducers() {
		if agg.Aggregate != e.AggregateType {
			continue
		}
		for _, r := range agg.EventReducers {
			if r.Event != e.EventType {
				continue
			}
			stmt, err := r.Reduce(e)
			require.NoError(t, err)
			ex := &recordingExecutor{}
			require.NoError(t, stmt.Execute(context.Background(), ex))
			return ex
		}
	}
	t.Fatalf("no reducer for %s/%s", e.AggregateType, e.EventType)
	return nil
}

func TestUsersReduceHumanAdded(t *testing.T) {
	e := newTestEvent(t, domain.UserHumanAddedType, domain.AggregateTypeUser, "user-1", domain.HumanAddedPayload{
		Username:    "gigi",
		FirstName:   "Gigi",
		LastName:    "Giraffe",
		DisplayName: "Gigi Giraffe",
		Email:       "gigi@example.com",
	})

	ex := executeStatement(t, NewUsersProjection(), e)
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"INSERT INTO projections.users (id, instance_id, resource_owner, creation_date, change_date, sequence, state, type, username, first_name, last_name, display_name, preferred_language, gender, email, email_verified, phone, password_hash) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18) "+
			"ON CONFLICT (instance_id, id) DO UPDATE SET resource_owner = EXCLUDED.resource_owner, creation_date = EXCLUDED.creation_date, change_date = EXCLUDED.change_date, sequence = EXCLUDED.sequence, state = EXCLUDED.state, type = EXCLUDED.type, username = EXCLUDED.username, first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, display_name = EXCLUDED.display_name, preferred_language = EXCLUDED.preferred_language, gender = EXCLUDED.gender, email = EXCLUDED.email, email_verified = EXCLUDED.email_verified, phone = EXCLUDED.phone, password_hash = EXCLUDED.password_hash",
		ex.executions[0].sql)
	assert.Equal(t, "user-1", ex.executions[0].args[0])
	assert.Equal(t, "instance-1", ex.executions[0].args[1])
	assert.Equal(t, "gigi", ex.executions[0].args[8])
}

func TestUsersReduceProfileChanged(t *testing.T) {
	firstName := "Gina"
	e := newTestEvent(t, domain.UserHumanProfileChangedType, domain.AggregateTypeUser, "user-1", domain.HumanProfileChangedPayload{
		FirstName: &firstName,
	})

	ex := executeStatement(t, NewUsersProjection(), e)
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"UPDATE projections.users SET (change_date, sequence, first_name) = ($1, $2, $3) WHERE (id = $4) AND (instance_id = $5)",
		ex.executions[0].sql)
	assert.Equal(t, []any{testDate, uint64(7), "Gina", "user-1", "instance-1"}, ex.executions[0].args)
}

func TestUsersReduceEmailChangedResetsVerified(t *testing.T) {
	e := newTestEvent(t, domain.UserHumanEmailChangedType, domain.AggregateTypeUser, "user-1", domain.HumanEmailChangedPayload{
		Email: "new@example.com",
	})

	ex := executeStatement(t, NewUsersProjection(), e)
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"UPDATE projections.users SET (change_date, sequence, email, email_verified) = ($1, $2, $3, $4) WHERE (id = $5) AND (instance_id = $6)",
		ex.executions[0].sql)
	assert.Equal(t, []any{testDate, uint64(7), "new@example.com", false, "user-1", "instance-1"}, ex.executions[0].args)
}

func TestUsersReduceRemovedIsTombstone(t *testing.T) {
	e := newTestEvent(t, domain.UserRemovedType, domain.AggregateTypeUser, "user-1", nil)

	ex := executeStatement(t, NewUsersProjection(), e)
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"UPDATE projections.users SET (change_date, sequence, state) = ($1, $2, $3) WHERE (id = $4) AND (instance_id = $5)",
		ex.executions[0].sql)
	assert.Equal(t, []any{testDate, uint64(7), domain.UserStateRemoved, "user-1", "instance-1"}, ex.executions[0].args)
}

func TestUsersReduceMachineAdded(t *testing.T) {
	e := newTestEvent(t, domain.UserMachineAddedType, domain.AggregateTypeUser, "machine-1", domain.MachineAddedPayload{
		Username: "backend-service",
		Name:     "Backend Service",
	})

	ex := executeStatement(t, NewUsersProjection(), e)
	require.Len(t, ex.executions, 1)
	assert.Contains(t, ex.executions[0].sql, "INSERT INTO projections.users")
	assert.Contains(t, ex.executions[0].sql, "machine_name")
	assert.Equal(t, "backend-service", ex.executions[0].args[8])
	assert.Equal(t, "Backend Service", ex.executions[0].args[9])
}
