package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const ProjectGrantsTable = "projections.project_grants"

// Project grant events live on the project aggregate; the grant id is carried
// in the payload, so the table keys on it directly.
const projectGrantsDDL = `
CREATE TABLE IF NOT EXISTS projections.project_grants (
	grant_id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	project_id TEXT NOT NULL,
	granted_org_id TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	granted_roles TEXT[],
	PRIMARY KEY (instance_id, grant_id)
);
CREATE INDEX IF NOT EXISTS idx_project_grants_project ON projections.project_grants (instance_id, project_id);
CREATE INDEX IF NOT EXISTS idx_project_grants_granted_org ON projections.project_grants (instance_id, granted_org_id);
`

// ProjectGrantsProjection folds project grant events into the project_grants
// table.
type ProjectGrantsProjection struct{}

func NewProjectGrantsProjection() *ProjectGrantsProjection { return &ProjectGrantsProjection{} }

func (*ProjectGrantsProjection) Name() string { return "project_grants" }

func (*ProjectGrantsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, projectGrantsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*ProjectGrantsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.project_grants"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *ProjectGrantsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeProject,
			EventReducers: []handler.EventReducer{
				{Event: domain.ProjectGrantAddedType, Reduce: p.reduceAdded},
				{Event: domain.ProjectGrantChangedType, Reduce: p.reduceChanged},
				{Event: domain.ProjectGrantRemovedType, Reduce: p.reduceRemoved},
				{Event: domain.ProjectRemovedType, Reduce: p.reduceProjectRemoved},
			},
		},
	}
}

func (p *ProjectGrantsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectGrantAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, ProjectGrantsTable,
		[]string{"instance_id", "grant_id"},
		[]handler.Column{
			handler.NewCol("grant_id", payload.GrantID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("project_id", e.AggregateID),
			handler.NewCol("granted_org_id", payload.GrantedOrgID),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.GrantStateActive),
			handler.NewCol("granted_roles", payload.GrantedRoles),
		}), nil
}

func (p *ProjectGrantsProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectGrantChangedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpdateStatement(e, ProjectGrantsTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("granted_roles", payload.GrantedRoles),
		},
		[]handler.Condition{
			handler.NewCond("grant_id", payload.GrantID),
			handler.NewCond("instance_id", e.InstanceID),
		}), nil
}

func (p *ProjectGrantsProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectGrantRemovedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpdateStatement(e, ProjectGrantsTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.GrantStateRemoved),
		},
		[]handler.Condition{
			handler.NewCond("grant_id", payload.GrantID),
			handler.NewCond("instance_id", e.InstanceID),
		}), nil
}

func (p *ProjectGrantsProjection) reduceProjectRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, ProjectGrantsTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
	}), nil
}
