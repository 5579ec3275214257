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

// App is the projected application read model. Config fields are populated
// according to AppType.
type App struct {
	ID               string
	InstanceID       string
	ResourceOwner    string
	ProjectID        string
	CreationDate     time.Time
	ChangeDate       time.Time
	Sequence         uint64
	State            domain.AppState
	Name             string
	AppType          domain.AppType
	ClientID         *string
	ClientSecretHash *string
	RedirectURIs     []string
	ResponseTypes    []string
	GrantTypes       []string
	AuthMethodType   *int16
	DevMode          bool
	EntityID         *string
	MetadataURL      *string
	Metadata         []byte
}

const appColumns = `id, instance_id, resource_owner, project_id, creation_date, change_date, sequence, state, name, app_type,
	client_id, client_secret_hash, redirect_uris, response_types, grant_types, auth_method_type, dev_mode,
	entity_id, metadata_url, metadata`

func scanApp(row pgx.Row) (*App, error) {
	a := new(App)
	err := row.Scan(&a.ID, &a.InstanceID, &a.ResourceOwner, &a.ProjectID, &a.CreationDate, &a.ChangeDate,
		&a.Sequence, &a.State, &a.Name, &a.AppType,
		&a.ClientID, &a.ClientSecretHash, &a.RedirectURIs, &a.ResponseTypes, &a.GrantTypes,
		&a.AuthMethodType, &a.DevMode, &a.EntityID, &a.MetadataURL, &a.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return a, nil
}

// AppQueries serves application lookups over the apps projection.
type AppQueries struct {
	pool *database.Pool
}

func NewAppQueries(pool *database.Pool) *AppQueries {
	return &AppQueries{pool: pool}
}

// GetAppByID returns the application or nil. Tombstoned apps count as absent.
func (q *AppQueries) GetAppByID(ctx context.Context, instanceID, id string) (*App, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.apps WHERE instance_id = $1 AND id = $2 AND state <> $3`, appColumns),
		instanceID, id, domain.AppStateRemoved)
	return scanApp(row)
}

// GetAppByClientID resolves an OIDC or API application by its client id, the
// lookup token verification runs on every request.
func (q *AppQueries) GetAppByClientID(ctx context.Context, instanceID, clientID string) (*App, error) {
	row := q.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM projections.apps WHERE instance_id = $1 AND client_id = $2 AND state <> $3`, appColumns),
		instanceID, clientID, domain.AppStateRemoved)
	return scanApp(row)
}

var appSortColumns = map[string]bool{
	"name":          true,
	"creation_date": true,
	"change_date":   true,
}

// SearchApps returns applications matching the filter.
func (q *AppQueries) SearchApps(ctx context.Context, instanceID string, filter Filter, page Pagination, sort Sort) ([]*App, error) {
	sql, args := searchSQL(searchSpec{
		columns:      appColumns,
		table:        "projections.apps",
		instanceID:   instanceID,
		tombstone:    tombstoneClause("state", domain.AppStateRemoved),
		filter:       filter,
		page:         page,
		sort:         sort,
		sortColumns:  appSortColumns,
		defaultOrder: "creation_date",
	})
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewIntegrationError(err)
	}
	return apps, nil
}
