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

// Org is the projected organization read model.
type Org struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	CreationDate  time.Time
	ChangeDate    time.Time
	Sequence      uint64
	State         domain.OrgState
	Name          string
	PrimaryDomain *string
}

// OrgDomain is one domain attached to an org.
type OrgDomain struct {
	InstanceID     string
	OrgID          string
	Domain         string
	CreationDate   time.Time
	ChangeDate     time.Time
	Sequence       uint64
	IsVerified     bool
	IsPrimary      bool
	ValidationType domain.DomainValidationType
	ValidationCode *string
}

const orgColumns = `id, instance_id, resource_owner, creation_date, change_date, sequence, state, name, primary_domain`

func scanOrg(row pgx.Row) (*Org, error) {
	o := new(Org)
	err := row.Scan(&o.ID, &o.InstanceID, &o.ResourceOwner, &o.CreationDate, &o.ChangeDate,
		&o.Sequence, &o.State, &o.Name, &o.PrimaryDomain)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return o, nil
}

// OrgQueries serves organization lookups over the orgs and org_domains
// projections.
type OrgQueries struct {
	pool *database.Pool
}

func NewOrgQueries(pool *database.Pool) *OrgQueries {
	return &OrgQueries{pool: pool}
}

// GetOrgByID returns the org or nil. Tombstoned orgs count as absent.
func (q *OrgQueries) GetOrgByID(ctx context.Context, instanceID, id string) (*Org, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.orgs WHERE instance_id = $1 AND id = $2 AND state <> $3`, orgColumns),
		instanceID, id, domain.OrgStateRemoved)
	return scanOrg(row)
}

// GetOrgByDomainGlobal resolves the org owning a verified domain, regardless
// of which org the caller belongs to.
func (q *OrgQueries) GetOrgByDomainGlobal(ctx context.Context, instanceID, orgDomain string) (*Org, error) {
	row := q.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM projections.orgs o
		 WHERE o.instance_id = $1 AND o.state <> $2
		   AND o.id = (
		     SELECT d.org_id FROM projections.org_domains d
		     WHERE d.instance_id = $1 AND d.domain = $3 AND d.is_verified
		     LIMIT 1
		   )`,
		prefixColumns(orgColumns, "o")),
		instanceID, domain.OrgStateRemoved, orgDomain)
	return scanOrg(row)
}

var orgSortColumns = map[string]bool{
	"name":          true,
	"creation_date": true,
	"change_date":   true,
}

// SearchOrgs returns orgs matching the filter, instance-scoped and without
// tombstones.
func (q *OrgQueries) SearchOrgs(ctx context.Context, instanceID string, filter Filter, page Pagination, sort Sort) ([]*Org, error) {
	sql, args := searchSQL(searchSpec{
		columns:      orgColumns,
		table:        "projections.orgs",
		instanceID:   instanceID,
		tombstone:    tombstoneClause("state", domain.OrgStateRemoved),
		filter:       filter,
		page:         page,
		sort:         sort,
		sortColumns:  orgSortColumns,
		defaultOrder: "creation_date",
	})
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var orgs []*Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return orgs, nil
}

// GetOrgDomains lists the domains of one org, primary first.
func (q *OrgQueries) GetOrgDomains(ctx context.Context, instanceID, orgID string) ([]*OrgDomain, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT instance_id, org_id, domain, creation_date, change_date, sequence,
		        is_verified, is_primary, validation_type, validation_code
		 FROM projections.org_domains
		 WHERE instance_id = $1 AND org_id = $2
		 ORDER BY is_primary DESC, domain`,
		instanceID, orgID)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var domains []*OrgDomain
	for rows.Next() {
		d := new(OrgDomain)
		if err := rows.Scan(&d.InstanceID, &d.OrgID, &d.Domain, &d.CreationDate, &d.ChangeDate,
			&d.Sequence, &d.IsVerified, &d.IsPrimary, &d.ValidationType, &d.ValidationCode); err != nil {
			return nil, domain.NewIntegrationError(err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return domains, nil
}
