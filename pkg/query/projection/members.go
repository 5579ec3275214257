package projection

import (
	"context"
	"fmt"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
	handler "github.com/plaenen/iamcore/pkg/projection"
)

const (
	InstanceMembersTable     = "projections.instance_members"
	OrgMembersTable          = "projections.org_members"
	ProjectMembersTable      = "projections.project_members"
	ProjectGrantMembersTable = "projections.project_grant_members"
)

// memberDDL is shared by the three simple member scopes; the scope column
// names the aggregate the membership attaches to.
func memberDDL(table, scopeColumn string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	instance_id TEXT NOT NULL,
	%s TEXT NOT NULL,
	user_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	roles TEXT[] NOT NULL,
	PRIMARY KEY (instance_id, %s, user_id)
);
CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (instance_id, user_id);
`, table, scopeColumn, scopeColumn, tableBase(table), table)
}

func tableBase(table string) string {
	for i := len(table) - 1; i >= 0; i-- {
		if table[i] == '.' {
			return table[i+1:]
		}
	}
	return table
}

// memberScope describes one membership table for the shared reducers.
type memberScope struct {
	table       string
	scopeColumn string
}

func (s memberScope) upsert(e *domain.Event, userID string, roles []string) *handler.Statement {
	return handler.NewUpsertStatement(e, s.table,
		[]string{"instance_id", s.scopeColumn, "user_id"},
		[]handler.Column{
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol(s.scopeColumn, e.AggregateID),
			handler.NewCol("user_id", userID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("roles", roles),
		})
}

func (s memberScope) updateRoles(e *domain.Event, userID string, roles []string) *handler.Statement {
	return handler.NewUpdateStatement(e, s.table,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("roles", roles),
		},
		[]handler.Condition{
			handler.NewCond("instance_id", e.InstanceID),
			handler.NewCond(s.scopeColumn, e.AggregateID),
			handler.NewCond("user_id", userID),
		})
}

func (s memberScope) delete(e *domain.Event, userID string) *handler.Statement {
	return handler.NewDeleteStatement(e, s.table, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond(s.scopeColumn, e.AggregateID),
		handler.NewCond("user_id", userID),
	})
}

// deleteUser removes the user's memberships in this scope across all
// aggregates, used when the user itself is removed.
func (s memberScope) deleteUser(e *domain.Event) *handler.Statement {
	return handler.NewDeleteStatement(e, s.table, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("user_id", e.AggregateID),
	})
}

// deleteScope removes every membership of one aggregate, used when the
// scoping aggregate is removed.
func (s memberScope) deleteScope(e *domain.Event) *handler.Statement {
	return handler.NewDeleteStatement(e, s.table, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond(s.scopeColumn, e.AggregateID),
	})
}

func reduceMemberAdded(s memberScope) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return nil, err
		}
		return s.upsert(e, payload.UserID, payload.Roles), nil
	}
}

func reduceMemberChanged(s memberScope) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return nil, err
		}
		return s.updateRoles(e, payload.UserID, payload.Roles), nil
	}
}

func reduceMemberRemoved(s memberScope) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
		if err != nil {
			return nil, err
		}
		return s.delete(e, payload.UserID), nil
	}
}

func reduceMemberUserRemoved(s memberScope) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		return s.deleteUser(e), nil
	}
}

func reduceMemberScopeRemoved(s memberScope) handler.ReduceFunc {
	return func(e *domain.Event) (*handler.Statement, error) {
		return s.deleteScope(e), nil
	}
}

const instanceMembersDDL = `
CREATE TABLE IF NOT EXISTS projections.instance_members (
	instance_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	roles TEXT[] NOT NULL,
	PRIMARY KEY (instance_id, user_id)
);
`

// InstanceMembersProjection folds instance membership events. The instance
// aggregate's id is the instance itself, so the table keys on
// (instance_id, user_id) alone.
type InstanceMembersProjection struct{}

func NewInstanceMembersProjection() *InstanceMembersProjection {
	return &InstanceMembersProjection{}
}

func (*InstanceMembersProjection) Name() string { return "instance_members" }

func (p *InstanceMembersProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, instanceMembersDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*InstanceMembersProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.instance_members"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *InstanceMembersProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeInstance,
			EventReducers: []handler.EventReducer{
				{Event: domain.InstanceMemberAddedType, Reduce: p.reduceAdded},
				{Event: domain.InstanceMemberChangedType, Reduce: p.reduceChanged},
				{Event: domain.InstanceMemberRemovedType, Reduce: p.reduceRemoved},
			},
		},
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserRemovedType, Reduce: p.reduceUserRemoved},
			},
		},
	}
}

func (p *InstanceMembersProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, InstanceMembersTable,
		[]string{"instance_id", "user_id"},
		[]handler.Column{
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("user_id", payload.UserID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("roles", payload.Roles),
		}), nil
}

func (p *InstanceMembersProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpdateStatement(e, InstanceMembersTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("roles", payload.Roles),
		},
		[]handler.Condition{
			handler.NewCond("instance_id", e.InstanceID),
			handler.NewCond("user_id", payload.UserID),
		}), nil
}

func (p *InstanceMembersProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.MemberPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, InstanceMembersTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("user_id", payload.UserID),
	}), nil
}

func (p *InstanceMembersProjection) reduceUserRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, InstanceMembersTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("user_id", e.AggregateID),
	}), nil
}

// OrgMembersProjection folds org membership events.
type OrgMembersProjection struct{ scope memberScope }

func NewOrgMembersProjection() *OrgMembersProjection {
	return &OrgMembersProjection{scope: memberScope{table: OrgMembersTable, scopeColumn: "org_id"}}
}

func (*OrgMembersProjection) Name() string { return "org_members" }

func (p *OrgMembersProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, memberDDL(OrgMembersTable, "org_id")); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*OrgMembersProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.org_members"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *OrgMembersProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeOrg,
			EventReducers: []handler.EventReducer{
				{Event: domain.OrgMemberAddedType, Reduce: reduceMemberAdded(p.scope)},
				{Event: domain.OrgMemberChangedType, Reduce: reduceMemberChanged(p.scope)},
				{Event: domain.OrgMemberRemovedType, Reduce: reduceMemberRemoved(p.scope)},
				{Event: domain.OrgRemovedType, Reduce: reduceMemberScopeRemoved(p.scope)},
			},
		},
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserRemovedType, Reduce: reduceMemberUserRemoved(p.scope)},
			},
		},
	}
}

// ProjectMembersProjection folds project membership events.
type ProjectMembersProjection struct{ scope memberScope }

func NewProjectMembersProjection() *ProjectMembersProjection {
	return &ProjectMembersProjection{scope: memberScope{table: ProjectMembersTable, scopeColumn: "project_id"}}
}

func (*ProjectMembersProjection) Name() string { return "project_members" }

func (p *ProjectMembersProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, memberDDL(ProjectMembersTable, "project_id")); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*ProjectMembersProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.project_members"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *ProjectMembersProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeProject,
			EventReducers: []handler.EventReducer{
				{Event: domain.ProjectMemberAddedType, Reduce: reduceMemberAdded(p.scope)},
				{Event: domain.ProjectMemberChangedType, Reduce: reduceMemberChanged(p.scope)},
				{Event: domain.ProjectMemberRemovedType, Reduce: reduceMemberRemoved(p.scope)},
				{Event: domain.ProjectRemovedType, Reduce: reduceMemberScopeRemoved(p.scope)},
			},
		},
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserRemovedType, Reduce: reduceMemberUserRemoved(p.scope)},
			},
		},
	}
}

const projectGrantMembersDDL = `
CREATE TABLE IF NOT EXISTS projections.project_grant_members (
	instance_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	grant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	resource_owner TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL,
	change_date TIMESTAMPTZ NOT NULL,
	sequence BIGINT NOT NULL,
	roles TEXT[] NOT NULL,
	PRIMARY KEY (instance_id, project_id, grant_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_project_grant_members_user ON projections.project_grant_members (instance_id, user_id);
`

// ProjectGrantMembersProjection folds grant membership events. The grant id
// travels in the payload; the aggregate is the owning project.
type ProjectGrantMembersProjection struct{}

func NewProjectGrantMembersProjection() *ProjectGrantMembersProjection {
	return &ProjectGrantMembersProjection{}
}

func (*ProjectGrantMembersProjection) Name() string { return "project_grant_members" }

func (p *ProjectGrantMembersProjection) Init(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, projectGrantMembersDDL); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (*ProjectGrantMembersProjection) Reset(ctx context.Context, ex database.Executor) error {
	if _, err := ex.Exec(ctx, "DELETE FROM projections.project_grant_members"); err != nil {
		return domain.NewIntegrationError(err)
	}
	return nil
}

func (p *ProjectGrantMembersProjection) Reducers() []handler.AggregateReducer {
	return []handler.AggregateReducer{
		{
			Aggregate: domain.AggregateTypeProject,
			EventReducers: []handler.EventReducer{
				{Event: domain.ProjectGrantMemberAddedType, Reduce: p.reduceAdded},
				{Event: domain.ProjectGrantMemberChangedType, Reduce: p.reduceChanged},
				{Event: domain.ProjectGrantMemberRemovedType, Reduce: p.reduceRemoved},
				{Event: domain.ProjectGrantRemovedType, Reduce: p.reduceGrantRemoved},
				{Event: domain.ProjectRemovedType, Reduce: p.reduceProjectRemoved},
			},
		},
		{
			Aggregate: domain.AggregateTypeUser,
			EventReducers: []handler.EventReducer{
				{Event: domain.UserRemovedType, Reduce: p.reduceUserRemoved},
			},
		},
	}
}

func (p *ProjectGrantMembersProjection) reduceAdded(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.GrantMemberPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpsertStatement(e, ProjectGrantMembersTable,
		[]string{"instance_id", "project_id", "grant_id", "user_id"},
		[]handler.Column{
			handler.NewCol("instance_id", e.InstanceID),
			handler.NewCol("project_id", e.AggregateID),
			handler.NewCol("grant_id", payload.GrantID),
			handler.NewCol("user_id", payload.UserID),
			handler.NewCol("resource_owner", e.ResourceOwner),
			handler.NewCol("creation_date", e.CreationDate),
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("roles", payload.Roles),
		}), nil
}

func (p *ProjectGrantMembersProjection) reduceChanged(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.GrantMemberPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewUpdateStatement(e, ProjectGrantMembersTable,
		[]handler.Column{
			handler.NewCol("change_date", e.CreationDate),
			handler.NewCol("sequence", e.AggregateVersion),
			handler.NewCol("roles", payload.Roles),
		},
		[]handler.Condition{
			handler.NewCond("instance_id", e.InstanceID),
			handler.NewCond("project_id", e.AggregateID),
			handler.NewCond("grant_id", payload.GrantID),
			handler.NewCond("user_id", payload.UserID),
		}), nil
}

func (p *ProjectGrantMembersProjection) reduceRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.GrantMemberPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, ProjectGrantMembersTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
		handler.NewCond("grant_id", payload.GrantID),
		handler.NewCond("user_id", payload.UserID),
	}), nil
}

func (p *ProjectGrantMembersProjection) reduceGrantRemoved(e *domain.Event) (*handler.Statement, error) {
	payload, err := domain.UnmarshalPayload[domain.ProjectGrantRemovedPayload](e)
	if err != nil {
		return nil, err
	}
	return handler.NewDeleteStatement(e, ProjectGrantMembersTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
		handler.NewCond("grant_id", payload.GrantID),
	}), nil
}

func (p *ProjectGrantMembersProjection) reduceProjectRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, ProjectGrantMembersTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("project_id", e.AggregateID),
	}), nil
}

func (p *ProjectGrantMembersProjection) reduceUserRemoved(e *domain.Event) (*handler.Statement, error) {
	return handler.NewDeleteStatement(e, ProjectGrantMembersTable, []handler.Condition{
		handler.NewCond("instance_id", e.InstanceID),
		handler.NewCond("user_id", e.AggregateID),
	}), nil
}
