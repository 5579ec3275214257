package query

import (
	"fmt"
	"strings"
)

// searchSpec describes one projected-table search; searchSQL renders it to a
// single parameterized SELECT.
type searchSpec struct {
	columns      string
	table        string
	instanceID   string
	tombstone    tombstone
	filter       Filter
	page         Pagination
	sort         Sort
	sortColumns  map[string]bool
	defaultOrder string
}

// tombstone is the state predicate excluding removed rows. The zero value
// means the table has no tombstones.
type tombstone struct {
	column  string
	removed any
}

func tombstoneClause(column string, removed any) tombstone {
	return tombstone{column: column, removed: removed}
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func searchSQL(spec searchSpec) (string, []any) {
	var b strings.Builder
	args := []any{spec.instanceID}
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE instance_id = $1", spec.columns, spec.table)

	if spec.tombstone.column != "" {
		args = append(args, spec.tombstone.removed)
		fmt.Fprintf(&b, " AND %s <> $%d", spec.tombstone.column, len(args))
	}
	if spec.filter != nil {
		clause, all := CompileFilter(spec.filter, args)
		args = all
		fmt.Fprintf(&b, " AND (%s)", clause)
	}

	order := spec.defaultOrder
	if spec.sort.Column != "" && spec.sortColumns[spec.sort.Column] {
		order = spec.sort.Column
	}
	fmt.Fprintf(&b, " ORDER BY %s", order)
	if spec.sort.Descending {
		b.WriteString(" DESC")
	}

	page := spec.page.normalize()
	args = append(args, page.Limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	if page.Offset > 0 {
		args = append(args, page.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
