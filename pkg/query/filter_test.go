package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompileFilterConditions(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		wantSQL  string
		wantArgs []any
	}{
		{"equals", Eq("username", "alice"), "username = $1", []any{"alice"}},
		{"not equals", Neq("state", 5), "state <> $1", []any{5}},
		{"less", Lt("sequence", 10), "sequence < $1", []any{10}},
		{"less or equal", Lte("sequence", 10), "sequence <= $1", []any{10}},
		{"greater", Gt("sequence", 10), "sequence > $1", []any{10}},
		{"greater or equal", Gte("sequence", 10), "sequence >= $1", []any{10}},
		{"in", In("id", []string{"a", "b"}), "id = ANY($1)", []any{[]string{"a", "b"}}},
		{"not in", NotIn("id", []string{"a"}), "NOT (id = ANY($1))", []any{[]string{"a"}}},
		{"like", Like("email", "%@acme.test"), "email LIKE $1", []any{"%@acme.test"}},
		{"ilike", ILike("name", "acme%"), "name ILIKE $1", []any{"acme%"}},
		{"starts with", StartsWith("username", "al"), "username LIKE $1", []any{"al%"}},
		{"ends with", EndsWith("domain", ".test"), "domain LIKE $1", []any{"%.test"}},
		{"contains", Contains("name", "cm"), "name LIKE $1", []any{"%cm%"}},
		{"contains escapes wildcards", Contains("name", "50%_x"), "name LIKE $1", []any{`%50\%\_x%`}},
		{"is null", IsNull("removed_at"), "removed_at IS NULL", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := CompileFilter(tt.filter, nil)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCompileFilterGroups(t *testing.T) {
	f := And(
		Eq("instance_id", "i1"),
		Or(
			Eq("state", 1),
			Eq("state", 2),
		),
		Not(Eq("id", "u9")),
	)
	sql, args := CompileFilter(f, nil)
	assert.Equal(t, "(instance_id = $1 AND (state = $2 OR state = $3) AND NOT (id = $4))", sql)
	assert.Equal(t, []any{"i1", 1, 2, "u9"}, args)
}

func TestCompileFilterSingleElementGroup(t *testing.T) {
	sql, args := CompileFilter(And(Eq("id", "u1")), nil)
	assert.Equal(t, "id = $1", sql)
	assert.Equal(t, []any{"u1"}, args)
}

func TestCompileFilterPlaceholderOffset(t *testing.T) {
	existing := []any{"i1"}
	sql, args := CompileFilter(Eq("username", "alice"), existing)
	assert.Equal(t, "username = $2", sql)
	assert.Equal(t, []any{"i1", "alice"}, args)
}

func TestPaginationNormalize(t *testing.T) {
	assert.Equal(t, Pagination{Limit: 100}, Pagination{}.normalize())
	assert.Equal(t, Pagination{Offset: 10, Limit: 50}, Pagination{Offset: 10, Limit: 50}.normalize())
	assert.Equal(t, Pagination{Limit: 1000}, Pagination{Limit: 5000}.normalize())
}
