// Package query serves typed read-model lookups over the projected tables.
// Filters compile to parameterized SQL; all queries scope by instance, skip
// tombstoned rows by default and return nil instead of an error when nothing
// matches.
package query

import (
	"fmt"
	"strings"
)

// Comparison is the operator of a column condition.
type Comparison int

const (
	CompareEquals Comparison = iota
	CompareNotEquals
	CompareLess
	CompareLessOrEqual
	CompareGreater
	CompareGreaterOrEqual
	CompareIn
	CompareNotIn
	CompareLike
	CompareILike
	CompareStartsWith
	CompareEndsWith
	CompareContains
	CompareIsNull
)

// Filter is a condition tree compiled to a parameterized WHERE clause.
type Filter interface {
	write(b *sqlBuilder)
}

type sqlBuilder struct {
	sql  strings.Builder
	args []any
}

// placeholder appends an argument and returns its placeholder.
func (b *sqlBuilder) placeholder(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

// CompileFilter renders the filter to SQL. Placeholders continue after
// existingArgs, so the clause composes into a larger statement.
func CompileFilter(f Filter, existingArgs []any) (string, []any) {
	b := &sqlBuilder{args: append([]any{}, existingArgs...)}
	f.write(b)
	return b.sql.String(), b.args
}

type condition struct {
	column string
	op     Comparison
	value  any
}

func (c condition) write(b *sqlBuilder) {
	switch c.op {
	case CompareEquals:
		fmt.Fprintf(&b.sql, "%s = %s", c.column, b.placeholder(c.value))
	case CompareNotEquals:
		fmt.Fprintf(&b.sql, "%s <> %s", c.column, b.placeholder(c.value))
	case CompareLess:
		fmt.Fprintf(&b.sql, "%s < %s", c.column, b.placeholder(c.value))
	case CompareLessOrEqual:
		fmt.Fprintf(&b.sql, "%s <= %s", c.column, b.placeholder(c.value))
	case CompareGreater:
		fmt.Fprintf(&b.sql, "%s > %s", c.column, b.placeholder(c.value))
	case CompareGreaterOrEqual:
		fmt.Fprintf(&b.sql, "%s >= %s", c.column, b.placeholder(c.value))
	case CompareIn:
		fmt.Fprintf(&b.sql, "%s = ANY(%s)", c.column, b.placeholder(c.value))
	case CompareNotIn:
		fmt.Fprintf(&b.sql, "NOT (%s = ANY(%s))", c.column, b.placeholder(c.value))
	case CompareLike:
		fmt.Fprintf(&b.sql, "%s LIKE %s", c.column, b.placeholder(c.value))
	case CompareILike:
		fmt.Fprintf(&b.sql, "%s ILIKE %s", c.column, b.placeholder(c.value))
	case CompareStartsWith:
		fmt.Fprintf(&b.sql, "%s LIKE %s", c.column, b.placeholder(escapeLike(c.value)+"%"))
	case CompareEndsWith:
		fmt.Fprintf(&b.sql, "%s LIKE %s", c.column, b.placeholder("%"+escapeLike(c.value)))
	case CompareContains:
		fmt.Fprintf(&b.sql, "%s LIKE %s", c.column, b.placeholder("%"+escapeLike(c.value)+"%"))
	case CompareIsNull:
		fmt.Fprintf(&b.sql, "%s IS NULL", c.column)
	}
}

func escapeLike(value any) string {
	s := fmt.Sprintf("%v", value)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Filter {
	return condition{column: column, op: CompareEquals, value: value}
}

// Neq matches rows where column differs from value.
func Neq(column string, value any) Filter {
	return condition{column: column, op: CompareNotEquals, value: value}
}

// Lt matches rows where column is less than value.
func Lt(column string, value any) Filter {
	return condition{column: column, op: CompareLess, value: value}
}

// Lte matches rows where column is at most value.
func Lte(column string, value any) Filter {
	return condition{column: column, op: CompareLessOrEqual, value: value}
}

// Gt matches rows where column is greater than value.
func Gt(column string, value any) Filter {
	return condition{column: column, op: CompareGreater, value: value}
}

// Gte matches rows where column is at least value.
func Gte(column string, value any) Filter {
	return condition{column: column, op: CompareGreaterOrEqual, value: value}
}

// In matches rows where column is one of values.
func In(column string, values []string) Filter {
	return condition{column: column, op: CompareIn, value: values}
}

// NotIn matches rows where column is none of values.
func NotIn(column string, values []string) Filter {
	return condition{column: column, op: CompareNotIn, value: values}
}

// Like matches against a caller-supplied LIKE pattern.
func Like(column, pattern string) Filter {
	return condition{column: column, op: CompareLike, value: pattern}
}

// ILike matches case-insensitively against a LIKE pattern.
func ILike(column, pattern string) Filter {
	return condition{column: column, op: CompareILike, value: pattern}
}

// StartsWith matches rows whose column starts with prefix.
func StartsWith(column, prefix string) Filter {
	return condition{column: column, op: CompareStartsWith, value: prefix}
}

// EndsWith matches rows whose column ends with suffix.
func EndsWith(column, suffix string) Filter {
	return condition{column: column, op: CompareEndsWith, value: suffix}
}

// Contains matches rows whose column contains substr.
func Contains(column, substr string) Filter {
	return condition{column: column, op: CompareContains, value: substr}
}

// IsNull matches rows where column is NULL.
func IsNull(column string) Filter {
	return condition{column: column, op: CompareIsNull}
}

type group struct {
	operator string
	filters  []Filter
}

func (g group) write(b *sqlBuilder) {
	if len(g.filters) == 1 {
		g.filters[0].write(b)
		return
	}
	b.sql.WriteString("(")
	for i, f := range g.filters {
		if i > 0 {
			b.sql.WriteString(" " + g.operator + " ")
		}
		f.write(b)
	}
	b.sql.WriteString(")")
}

// And matches rows satisfying every filter.
func And(filters ...Filter) Filter {
	return group{operator: "AND", filters: filters}
}

// Or matches rows satisfying any filter.
func Or(filters ...Filter) Filter {
	return group{operator: "OR", filters: filters}
}

type notFilter struct {
	inner Filter
}

func (n notFilter) write(b *sqlBuilder) {
	b.sql.WriteString("NOT (")
	n.inner.write(b)
	b.sql.WriteString(")")
}

// Not inverts a filter.
func Not(f Filter) Filter {
	return notFilter{inner: f}
}

// maxPageSize caps the number of rows one search returns.
const maxPageSize = 1000

// defaultPageSize applies when the caller does not set a limit.
const defaultPageSize = 100

// Pagination is an offset/limit window over search results.
type Pagination struct {
	Offset uint32
	Limit  uint32
}

func (p Pagination) normalize() Pagination {
	if p.Limit == 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}

// Sort orders search results by one column.
type Sort struct {
	Column     string
	Descending bool
}
