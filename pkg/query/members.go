package query

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// OrgMembership is one org-scope membership of a user.
type OrgMembership struct {
	OrgID string
	Roles []string
}

// ProjectMembership is one project-scope membership of a user.
type ProjectMembership struct {
	ProjectID string
	Roles     []string
}

// GrantMembership is one project-grant-scope membership of a user.
type GrantMembership struct {
	ProjectID string
	GrantID   string
	Roles     []string
}

// MemberRolesQueries serves membership lookups across the four member scopes.
// The permission engine aggregates from these.
type MemberRolesQueries struct {
	pool *database.Pool
}

func NewMemberRolesQueries(pool *database.Pool) *MemberRolesQueries {
	return &MemberRolesQueries{pool: pool}
}

func (q *MemberRolesQueries) roles(ctx context.Context, sql string, args ...any) ([]string, error) {
	var roles []string
	err := q.pool.QueryRow(ctx, sql, args...).Scan(&roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return roles, nil
}

// GetInstanceMemberRoles returns the user's instance-level roles, nil when
// the user is no instance member.
func (q *MemberRolesQueries) GetInstanceMemberRoles(ctx context.Context, instanceID, userID string) ([]string, error) {
	return q.roles(ctx,
		`SELECT roles FROM projections.instance_members WHERE instance_id = $1 AND user_id = $2`,
		instanceID, userID)
}

// GetOrgMemberRoles returns the user's roles in one org.
func (q *MemberRolesQueries) GetOrgMemberRoles(ctx context.Context, instanceID, orgID, userID string) ([]string, error) {
	return q.roles(ctx,
		`SELECT roles FROM projections.org_members WHERE instance_id = $1 AND org_id = $2 AND user_id = $3`,
		instanceID, orgID, userID)
}

// GetProjectMemberRoles returns the user's roles in one project.
func (q *MemberRolesQueries) GetProjectMemberRoles(ctx context.Context, instanceID, projectID, userID string) ([]string, error) {
	return q.roles(ctx,
		`SELECT roles FROM projections.project_members WHERE instance_id = $1 AND project_id = $2 AND user_id = $3`,
		instanceID, projectID, userID)
}

// GetProjectGrantMemberRoles returns the user's roles in one project grant.
func (q *MemberRolesQueries) GetProjectGrantMemberRoles(ctx context.Context, instanceID, projectID, grantID, userID string) ([]string, error) {
	return q.roles(ctx,
		`SELECT roles FROM projections.project_grant_members
		 WHERE instance_id = $1 AND project_id = $2 AND grant_id = $3 AND user_id = $4`,
		instanceID, projectID, grantID, userID)
}

// OrgMembershipsOfUser lists every org membership of the user in the
// instance.
func (q *MemberRolesQueries) OrgMembershipsOfUser(ctx context.Context, instanceID, userID string) ([]*OrgMembership, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT org_id, roles FROM projections.org_members WHERE instance_id = $1 AND user_id = $2`,
		instanceID, userID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var memberships []*OrgMembership
	for rows.Next() {
		m := new(OrgMembership)
		if err := rows.Scan(&m.OrgID, &m.Roles); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return memberships, nil
}

// ProjectMembershipsOfUser lists every project membership of the user.
func (q *MemberRolesQueries) ProjectMembershipsOfUser(ctx context.Context, instanceID, userID string) ([]*ProjectMembership, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT project_id, roles FROM projections.project_members WHERE instance_id = $1 AND user_id = $2`,
		instanceID, userID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var memberships []*ProjectMembership
	for rows.Next() {
		m := new(ProjectMembership)
		if err := rows.Scan(&m.ProjectID, &m.Roles); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return memberships, nil
}

// GrantMembershipsOfUser lists every project-grant membership of the user.
func (q *MemberRolesQueries) GrantMembershipsOfUser(ctx context.Context, instanceID, userID string) ([]*GrantMembership, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT project_id, grant_id, roles FROM projections.project_grant_members
		 WHERE instance_id = $1 AND user_id = $2`,
		instanceID, userID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var memberships []*GrantMembership
	for rows.Next() {
		m := new(GrantMembership)
		if err := rows.Scan(&m.ProjectID, &m.GrantID, &m.Roles); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return memberships, nil
}
