package projection

import (
	"context"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const (
	ProjectsTable     = "projections.projects"
	ProjectRolesTable = "projections.project_roles"
)

const projectsDDL = `
CREATE TABLE IF NOT EXISTS projections.projects (
	id TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	state SMALLINT NOT NULL,
	name TEXT NOT NULL,
	project_role_assertion BOOLEAN NOT NULL DEFAULT false,
	project_role_check BOOLEAN NOT NULL DEFAULT false,
	has_project_check BOOLEAN NOT NULL DEFAULT false,
	private_labeling_setting SMALLINT NOT NULL DEFAULT 0,
	PRIMARY KEY (instance_id, id)
);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projections.projects (instance_id, resource_owner);
`

// ProjectsProjection folds project lifecycle events into the projects table.
type ProjectsProjection struct{}

func NewProjectsProjection() *ProjectsProjection { return &ProjectsProjection{} }

func (*ProjectsProjection) Name() string { return "projects" }

func (*ProjectsProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, projectsDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*ProjectsProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.projects"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *ProjectsProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeProject,
			EventReducers: []handler.EventReducer{
				{Event: domain.ProjectAddedType, Reduce: p.reduceAdded},
				{Event: domain.ProjectChangedType, Reduce: p.reduceChanged},
				{Event: domain.ProjectDeactivatedType, Reduce: p.reduceState(domain.ProjectStateInactive)},
				{Event: domain.ProjectReactivatedType, Reduce: p.reduceState(domain.ProjectStateActive)},
				{Event: domain.ProjectRemovedType, Reduce: p.reduceState(domain.ProjectStateRemoved)},
			},
		},
	}
}

func projectConds(e *domain.Event) []handler.Condition {
	return []handler.Condition{
		handler.NewCond("id", e.AggregateID),
		handler.NewCond("instance_id", e.InstanceID),
	}
}

func projectChangeCols(e *domain.Event) []handler.Column {
	return []handler.Column{
		handler.NewCol("change_date", e.CreationDate),
		handler.NewCol("sequence", e.AggregateVersion),
	}
}

func (p *ProjectsProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, ProjectsTable,
		[]string{"instance_id", "id"},
		[]handler.Column{
			handler.NewCol("id", e.AggregateID),
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("state", domain.ProjectStateActive),
			handler.NewCol("name", payload.Name),
			handler.NewCol("project_role_assertion", payload.ProjectRoleAssertion),
			handler.NewCol("project_role_check", payload.ProjectRoleCheck),
			handler.NewCol("has_project_check", payload.HasProjectCheck),
			handler.NewCol("private_labeling_setting", payload.PrivateLabelingSetting),
		}), nil
}

func (p *ProjectsProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectChangedPayload](e)
	if err != nil {
		return nil, err
	}
	cols := projectChangeCols(e)
	if payload.Name != nil {
		cols = append(cols, handler.NewCol("name", *payload.Name))
	}
	if payload.ProjectRoleAssertion != nil {
		cols = append(cols, handler.NewCol("project_role_assertion", *payload.ProjectRoleAssertion))
	}
	if payload.ProjectRoleCheck != nil {
		cols = append(cols, handler.NewCol("project_role_check", *payload.ProjectRoleCheck))
	}
	if payload.HasProjectCheck != nil {
		cols = append(cols, handler.NewCol("has_project_check", *payload.HasProjectCheck))
	}
	if payload.PrivateLabelingSetting != nil {
		cols = append(cols, handler.NewCol("private_labeling_setting", *payload.PrivateLabelingSetting))
	}
	return handler.NewUpdateStatement(e, ProjectsTable, cols, projectConds(e)), nil
}

func (p *ProjectsProjection) reduceState(state domain.ProjectState) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		cols := append(projectChangeCols(e), handler.NewCol("state", state))
		return handler.NewUpdateStatement(e, ProjectsTable, cols, projectConds(e)), nil
	}
}

const projectRolesDDL = `
CREATE TABLE IF NOT EXISTS projections.project_roles (
	instance_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	role_key TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	display_name TEXT,
	group_name TEXT,
	PRIMARY KEY (instance_id, project_id, role_key)
);
`

// ProjectRolesProjection folds project role events. Role rows are deleted on
// removal and cascade-deleted with their project.
type ProjectRolesProjection struct{}

func NewProjectRolesProjection() *ProjectRolesProjection { return &ProjectRolesProjection{} }

func (*ProjectRolesProjection) Name() string { return "project_roles" }

func (*ProjectRolesProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, projectRolesDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*ProjectRolesProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.project_roles"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *ProjectRolesProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeProject,
			EventReducers: []handler.EventReducer{
				{Event: domain.ProjectRoleAddedType, Reduce: p.reduceAdded},
				{Event: domain.ProjectRoleRemovedType, Reduce: p.reduceRemoved},
				{Event: domain.ProjectRemovedType, Reduce: p.reduceProjectRemoved},
			},
		},
	}
}

func (p *ProjectRolesProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectRoleAddedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, ProjectRolesTable,
		[]string{"instance_id", "project_id", "role_key"},
		[]handler.Column{
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("project_id", e.AggregateID),
			handler.NewCol("role_key", payload.Key),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("display_name", payload.DisplayName),
			handler.NewCol("group_name", payload.Group),
		}), nil
}

func (p *ProjectRolesProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectRoleRemovedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, ProjectRolesTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
		handler.NewCond("role_key", payload.Key),
	}), nil
}

func (p *ProjectRolesProjection) reduceProjectRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, ProjectRolesTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
	}), nil
}
