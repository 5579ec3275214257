package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// UserGrant is the projected user grant read model.
type UserGrant struct {
	ID             string
	InstanceID     string
	ResourceOwner  string
	CreationDate   time.Time
	ChangeDate     time.Time
	Sequence       uint64
	State          domain.GrantState
	UserID         string
	ProjectID      string
	ProjectGrantID *string
	Roles          []string
}

// ProjectGrant is the projected project grant read model.
type ProjectGrant struct {
	GrantID       string
	InstanceID    string
	ResourceOwner string
	ProjectID     string
	GrantedOrgID  string
	CreationDate  time.Time
	ChangeDate    time.Time
	Sequence      uint64
	State         domain.GrantState
	GrantedRoles  []string
}

const userGrantColumns = `id, instance_id, resource_owner, creation_date, change_date, sequence, state,
	user_id, project_id, project_grant_id, roles`

func scanUserGrant(row pgx.Row) (*UserGrant, error) {
	g := new(UserGrant)
	err := row.Scan(&g.ID, &g.InstanceID, &g.ResourceOwner, &g.CreationDate, &g.ChangeDate,
		&g.Sequence, &g.State, &g.UserID, &g.ProjectID, &g.ProjectGrantID, &g.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return g, nil
}

const projectGrantColumns = `grant_id, instance_id, resource_owner, project_id, granted_org_id,
	creation_date, change_date, sequence, state, granted_roles`

func scanProjectGrant(row pgx.Row) (*ProjectGrant, error) {
	g := new(ProjectGrant)
	err := row.Scan(&g.GrantID, &g.InstanceID, &g.ResourceOwner, &g.ProjectID, &g.GrantedOrgID,
		&g.CreationDate, &g.ChangeDate, &g.Sequence, &g.State, &g.GrantedRoles)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return g, nil
}

// GrantQueries serves user grant and project grant lookups.
type GrantQueries struct {
	pool *database.Pool
}

func NewGrantQueries(pool *database.Pool) *GrantQueries {
	return &GrantQueries{pool: pool}
}

// GetUserGrantByID returns the user grant or nil.
func (q *GrantQueries) GetUserGrantByID(ctx context.Context, instanceID, id string) (*UserGrant, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.user_grants WHERE instance_id = $1 AND id = $2 AND state <> $3`, userGrantColumns),
		instanceID, id, domain.GrantStateRemoved)
	return scanUserGrant(row)
}

// UserGrantsForUser lists the active grants of one user.
func (q *GrantQueries) UserGrantsForUser(ctx context.Context, instanceID, userID string) ([]*UserGrant, error) {
	rows, err := q.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.user_grants
		 WHERE instance_id = $1 AND user_id = $2 AND state = $3
		 ORDER BY creation_date`, userGrantColumns),
		instanceID, userID, domain.GrantStateActive)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var grants []*UserGrant
	for rows.Next() {
		g, err := scanUserGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return grants, nil
}

// GetProjectGrantByID returns the project grant or nil.
func (q *GrantQueries) GetProjectGrantByID(ctx context.Context, instanceID, grantID string) (*ProjectGrant, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.project_grants WHERE instance_id = $1 AND grant_id = $2 AND state <> $3`, projectGrantColumns),
		instanceID, grantID, domain.GrantStateRemoved)
	return scanProjectGrant(row)
}

// ProjectGrantsForOrg lists the active grants where the org is the grantee,
// the cross-org source of the permission engine.
func (q *GrantQueries) ProjectGrantsForOrg(ctx context.Context, instanceID, grantedOrgID string) ([]*ProjectGrant, error) {
	return q.projectGrants(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.project_grants
		 WHERE instance_id = $1 AND granted_org_id = $2 AND state = $3
		 ORDER BY creation_date`, projectGrantColumns),
		instanceID, grantedOrgID, domain.GrantStateActive)
}

// ProjectGrantsForProject lists the active grants of one project.
func (q *GrantQueries) ProjectGrantsForProject(ctx context.Context, instanceID, projectID string) ([]*ProjectGrant, error) {
	return q.projectGrants(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.project_grants
		 WHERE instance_id = $1 AND project_id = $2 AND state = $3
		 ORDER BY creation_date`, projectGrantColumns),
		instanceID, projectID, domain.GrantStateActive)
}

func (q *GrantQueries) projectGrants(ctx context.Context, sql string, args ...any) ([]*ProjectGrant, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var grants []*ProjectGrant
	for rows.Next() {
		g, err := scanProjectGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return grants, nil
}
