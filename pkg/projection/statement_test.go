package projection

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/domain"
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

func testReduceEvent() *domain.Event {
	return &domain.Event{
		ID:            "event-1",
		EventType:     domain.OrgMemberAddedType,
		AggregateType: domain.AggregateTypeOrg,
		AggregateID:   "org-1",
		InstanceID:    "instance-1",
		Position:      domain.Position{Position: decimal.NewFromInt(42), InPositionOrder: 1},
	}
}

func TestStatementMetadata(t *testing.T) {
	event := testReduceEvent()
	stmt := NewNoOpStatement(event)

	assert.Equal(t, "event-1", stmt.EventID)
	assert.Equal(t, domain.AggregateTypeOrg, stmt.AggregateType)
	assert.Equal(t, "org-1", stmt.AggregateID)
	assert.Equal(t, "instance-1", stmt.InstanceID)
	assert.Equal(t, 0, stmt.Position.Compare(event.Position))
	assert.True(t, stmt.IsNoOp())

	ex := &recordingExecutor{}
	require.NoError(t, stmt.Execute(context.Background(), ex))
	assert.Empty(t, ex.executions)
}

func TestCreateStatement(t *testing.T) {
	stmt := NewCreateStatement(testReduceEvent(), "projections.org_members", []Column{
		NewCol("user_id", "user-1"),
		NewCol("org_id", "org-1"),
		NewCol("roles", []string{"ORG_OWNER"}),
	})
	require.False(t, stmt.IsNoOp())

	ex := &recordingExecutor{}
	require.NoError(t, stmt.Execute(context.Background(), ex))
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"INSERT INTO projections.org_members (user_id, org_id, roles) VALUES ($1, $2, $3)",
		ex.executions[0].sql)
	assert.Equal(t, []any{"user-1", "org-1", []string{"ORG_OWNER"}}, ex.executions[0].args)
}

func TestCreateStatementRequiresColumns(t *testing.T) {
	stmt := NewCreateStatement(testReduceEvent(), "projections.org_members", nil)
	err := stmt.Execute(context.Background(), &recordingExecutor{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpsertStatement(t *testing.T) {
	stmt := NewUpsertStatement(testReduceEvent(), "projections.orgs",
		[]string{"id", "instance_id"},
		[]Column{
			NewCol("id", "org-1"),
			NewCol("instance_id", "instance-1"),
			NewCol("name", "acme"),
		})

	ex := &recordingExecutor{}
	require.NoError(t, stmt.Execute(context.Background(), ex))
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"INSERT INTO projections.orgs (id, instance_id, name) VALUES ($1, $2, $3) "+
			"ON CONFLICT (id, instance_id) DO UPDATE SET name = EXCLUDED.name",
		ex.executions[0].sql)
	assert.Equal(t, []any{"org-1", "instance-1", "acme"}, ex.executions[0].args)
}

func TestUpdateStatement(t *testing.T) {
	stmt := NewUpdateStatement(testReduceEvent(), "projections.org_members",
		[]Column{
			NewCol("roles", []string{"ORG_OWNER", "ORG_ADMIN"}),
			NewCol("change_date", "now"),
		},
		[]Condition{
			NewCond("user_id", "user-1"),
			NewCond("org_id", "org-1"),
		})

	ex := &recordingExecutor{}
	require.NoError(t, stmt.Execute(context.Background(), ex))
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"UPDATE projections.org_members SET (roles, change_date) = ($1, $2) WHERE (user_id = $3) AND (org_id = $4)",
		ex.executions[0].sql)
	assert.Equal(t, []any{[]string{"ORG_OWNER", "ORG_ADMIN"}, "now", "user-1", "org-1"}, ex.executions[0].args)
}

func TestUpdateStatementRequiresConditions(t *testing.T) {
	stmt := NewUpdateStatement(testReduceEvent(), "projections.org_members",
		[]Column{NewCol("roles", []string{"x"})}, nil)
	err := stmt.Execute(context.Background(), &recordingExecutor{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteStatement(t *testing.T) {
	stmt := NewDeleteStatement(testReduceEvent(), "projections.org_members", []Condition{
		NewCond("user_id", "user-1"),
		NewCond("org_id", "org-1"),
	})

	ex := &recordingExecutor{}
	require.NoError(t, stmt.Execute(context.Background(), ex))
	require.Len(t, ex.executions, 1)
	assert.Equal(t,
		"DELETE FROM projections.org_members WHERE (user_id = $1) AND (org_id = $2)",
		ex.executions[0].sql)
	assert.Equal(t, []any{"user-1", "org-1"}, ex.executions[0].args)
}

func TestMultiStatement(t *testing.T) {
	stmt := NewMultiStatement(testReduceEvent(),
		AddDelete("projections.org_members", []Condition{NewCond("org_id", "org-1")}),
		AddUpdate("projections.orgs",
			[]Column{NewCol("state", "removed")},
			[]Condition{NewCond("id", "org-1")}),
	)

	ex := &recordingExecutor{}
	require.NoError(t, stmt.Execute(context.Background(), ex))
	require.Len(t, ex.executions, 2)
	assert.Equal(t,
		"DELETE FROM projections.org_members WHERE (org_id = $1)",
		ex.executions[0].sql)
	assert.Equal(t,
		"UPDATE projections.orgs SET (state) = ($1) WHERE (id = $2)",
		ex.executions[1].sql)
}

func TestReducerIndex(t *testing.T) {
	var calls []string
	reduce := func(tag string) ReduceFunc {
		return func(event *domain.Event) (*Statement, error) {
			calls = append(calls, tag)
			return NewNoOpStatement(event), nil
		}
	}

	idx := buildReducerIndex([]AggregateReducer{
		{
			Aggregate: domain.AggregateTypeOrg,
			EventReducers: []EventReducer{
				{Event: domain.OrgAddedType, Reduce: reduce("org.added")},
				{Event: domain.OrgMemberAddedType, Reduce: reduce("org.member.added")},
			},
		},
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []EventReducer{
				{Event: domain.UserRemovedType, Reduce: reduce("user.removed")},
			},
		},
	})

	fn, ok := idx.reduce(&domain.Event{AggregateType: domain.AggregateTypeOrg, EventType: domain.OrgMemberAddedType})
	require.True(t, ok)
	_, err := fn(testReduceEvent())
	require.NoError(t, err)
	assert.Equal(t, []string{"org.member.added"}, calls)

	_, ok = idx.reduce(&domain.Event{AggregateType: domain.AggregateTypeOrg, EventType: domain.OrgRemovedType})
	assert.False(t, ok)

	_, ok = idx.reduce(&domain.Event{AggregateType: domain.AggregateTypeProject, EventType: domain.ProjectAddedType})
	assert.False(t, ok)

	types := idx.aggregateTypes()
	assert.ElementsMatch(t, []domain.AggregateType{domain.AggregateTypeOrg, domain.AggregateTypeUser}, types)
}
