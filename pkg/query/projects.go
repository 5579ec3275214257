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

// Project is the projected project read model.
type Project struct {
	ID                     string
	InstanceID             string
	ResourceOwner          string
	CreationDate           time.Time
	ChangeDate             time.Time
	Sequence               uint64
	State                  domain.ProjectState
	Name                   string
	ProjectRoleAssertion   bool
	ProjectRoleCheck       bool
	HasProjectCheck        bool
	PrivateLabelingSetting domain.PrivateLabelSetting
}

// ProjectRole is one role defined on a project.
type ProjectRole struct {
	InstanceID   string
	ProjectID    string
	Key          string
	CreationDate time.Time
	ChangeDate   time.Time
	Sequence     uint64
	DisplayName  *string
	Group        *string
}

const projectColumns = `id, instance_id, resource_owner, creation_date, change_date, sequence, state, name,
	project_role_assertion, project_role_check, has_project_check, private_labeling_setting`

func scanProject(row pgx.Row) (*Project, error) {
	p := new(Project)
	err := row.Scan(&p.ID, &p.InstanceID, &p.ResourceOwner, &p.CreationDate, &p.ChangeDate,
		&p.Sequence, &p.State, &p.Name,
		&p.ProjectRoleAssertion, &p.ProjectRoleCheck, &p.HasProjectCheck, &p.PrivateLabelingSetting)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return p, nil
}

// ProjectQueries serves project lookups over the projects and project_roles
// projections.
type ProjectQueries struct {
	pool *database.Pool
}

func NewProjectQueries(pool *database.Pool) *ProjectQueries {
	return &ProjectQueries{pool: pool}
}

// GetProjectByID returns the project or nil. Tombstoned projects count as
// absent.
func (q *ProjectQueries) GetProjectByID(ctx context.Context, instanceID, id string) (*Project, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.projects WHERE instance_id = $1 AND id = $2 AND state <> $3`, projectColumns),
		instanceID, id, domain.ProjectStateRemoved)
	return scanProject(row)
}

var projectSortColumns = map[string]bool{
	"name":          true,
	"creation_date": true,
	"change_date":   true,
}

// SearchProjects returns projects matching the filter.
func (q *ProjectQueries) SearchProjects(ctx context.Context, instanceID string, filter Filter, page Pagination, sort Sort) ([]*Project, error) {
	sql, args := searchSQL(searchSpec{
		columns:      projectColumns,
		table:        "projections.projects",
		instanceID:   instanceID,
		tombstone:    tombstoneClause("state", domain.ProjectStateRemoved),
		filter:       filter,
		page:         page,
		sort:         sort,
		sortColumns:  projectSortColumns,
		defaultOrder: "creation_date",
	})
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return projects, nil
}

// GetProjectRoles lists the roles defined on a project.
func (q *ProjectQueries) GetProjectRoles(ctx context.Context, instanceID, projectID string) ([]*ProjectRole, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT instance_id, project_id, role_key, creation_date, change_date, sequence, display_name, group_name
		 FROM projections.project_roles
		 WHERE instance_id = $1 AND project_id = $2
		 ORDER BY role_key`,
		instanceID, projectID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var roles []*ProjectRole
	for rows.Next() {
		r := new(ProjectRole)
		if err := rows.Scan(&r.InstanceID, &r.ProjectID, &r.Key, &r.CreationDate, &r.ChangeDate,
			&r.Sequence, &r.DisplayName, &r.Group); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return roles, nil
}
