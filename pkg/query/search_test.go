package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plaenen/iamcore/pkg/domain"
)

func TestSearchSQLMinimal(t *testing.T) {
	sql, args := searchSQL(searchSpec{
		columns:      "id, name",
		table:        "projections.orgs",
		instanceID:   "instance-1",
		defaultOrder: "creation_date",
	})

	assert.Equal(t,
		"SELECT id, name FROM projections.orgs WHERE instance_id = $1 ORDER BY creation_date LIMIT $2",
		sql)
	assert.Equal(t, []any{"instance-1", uint32(100)}, args)
}

func TestSearchSQLWithFilterAndTombstone(t *testing.T) {
	sql, args := searchSQL(searchSpec{
		columns:      "id, name",
		table:        "projections.orgs",
		instanceID:   "instance-1",
		tombstone:    tombstoneClause("state", domain.OrgStateRemoved),
		filter:       And(Contains("name", "acme"), Eq("state", domain.OrgStateActive)),
		page:         Pagination{Offset: 20, Limit: 10},
		sort:         Sort{Column: "name", Descending: true},
		sortColumns:  map[string]bool{"name": true},
		defaultOrder: "creation_date",
	})

	assert.Equal(t,
		"SELECT id, name FROM projections.orgs WHERE instance_id = $1 AND state <> $2 "+
			"AND ((name LIKE $3 AND state = $4)) ORDER BY name DESC LIMIT $5 OFFSET $6",
		sql)
	assert.Equal(t,
		[]any{"instance-1", domain.OrgStateRemoved, "%acme%", domain.OrgStateActive, uint32(10), uint32(20)},
		args)
}

func TestSearchSQLRejectsUnknownSortColumn(t *testing.T) {
	sql, _ := searchSQL(searchSpec{
		columns:      "id",
		table:        "projections.users",
		instanceID:   "instance-1",
		sort:         Sort{Column: "password_hash; DROP TABLE users"},
		sortColumns:  map[string]bool{"username": true},
		defaultOrder: "creation_date",
	})

	assert.Contains(t, sql, "ORDER BY creation_date")
	assert.NotContains(t, sql, "DROP TABLE")
}

func TestSearchSQLCapsPageSize(t *testing.T) {
	_, args := searchSQL(searchSpec{
		columns:      "id",
		table:        "projections.users",
		instanceID:   "instance-1",
		page:         Pagination{Limit: 5000},
		defaultOrder: "creation_date",
	})

	assert.Equal(t, uint32(1000), args[len(args)-1])
}
