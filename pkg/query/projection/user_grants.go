package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const UserGrantsTable = "projections.user_grants"

const userGrantsDDL = `
CREATE TABLE IF NOT EXISTS projections.user_grants (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	project_grant_id TEXT,
	roles TEXT[],
	PRIMARY KEY (instance_id, id)
);
CREATE INDEX IF NOT EXISTS idx_user_grants_user ON projections.user_grants (instance_id, user_id);
CREATE INDEX IF NOT EXISTS idx_user_grants_project ON projections.user_grants (instance_id, project_id);
`

// UserGrantsProjection folds user grant events. Removal is a tombstone, but
// cascades from removed users or projects delete the rows outright since the
// referenced aggregate no longer resolves.
type UserGrantsProjection struct{}

func NewUserGrantsProjection() *UserGrantsProjection { return &UserGrantsProjection{} }

func (*UserGrantsProjection) Name() string { return "user_grants" }

func (*UserGrantsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, userGrantsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*UserGrantsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.user_grants"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *UserGrantsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeUserGrant,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserGrantAddedType, Reduce: p.reduceAdded},
				{Event: domain.UserGrantChangedType, Reduce: p.reduceChanged},
				{Event: domain.UserGrantDeactivatedType, Reduce: p.reduceState(domain.GrantStateInactive)},
				{Event: domain.UserGrantReactivatedType, Reduce: p.reduceState(domain.GrantStateActive)},
				{Event: domain.UserGrantRemovedType, Reduce: p.reduceState(domain.GrantStateRemoved)},
			},
		},
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserRemovedType, Reduce: p.reduceUserRemoved},
			},
		},
		{
			Aggregate: domain.AggregateTypeProject,
			EventReducers: []handler.EventReducer{
				{Event: domain.ProjectRemovedType, Reduce: p.reduceProjectRemoved},
			},
		},
	}
}

func userGrantConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func userGrantChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func (p *UserGrantsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.UserGrantAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, UserGrantsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.GrantStateActive),
			handler.NewCol("user_id", payload.UserID),
			handler.NewCol("project_id", payload.ProjectID),
			handler.NewCol("project_grant_id", payload.ProjectGrantID),
			handler.NewCol("roles", payload.Roles),
		}), nil
}

func (p *UserGrantsProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.UserGrantChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := append(userGrantChangeCols(e), handler.NewCol("roles", payload.Roles))
	return handler.NewUpdateStatement(e, UserGrantsTable, cols, userGrantConds(e)), nil
}

func (p *UserGrantsProjection) reduceState(state domain.GrantState) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		cols := append(userGrantChangeCols(e), handler.NewCol("state", state))
		return handler.NewUpdateStatement(e, UserGrantsTable, cols, userGrantConds(e)), nil
	}
}

func (p *UserGrantsProjection) reduceUserRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, UserGrantsTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("user_id", e.AggregateID),
	}), nil
}

func (p *UserGrantsProjection) reduceProjectRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, UserGrantsTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
	}), nil
}
