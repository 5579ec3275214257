package projection

import (
	"context"
	"fmt"
	"strings"

	"github.com/plaenen/iamcore/pkg/database"
	"github.com/plaenen/iamcore/pkg/domain"
)

// Statement is the reduced form of one event: metadata for cursor tracking
// plus the SQL to apply to the read model. Reducers build statements without
// touching the database, which keeps them pure and testable.
type Statement struct {
	EventID       string
	EventType     domain.EventType
	AggregateType domain.AggregateType
	AggregateID   string
	InstanceID    string
	Position      domain.Position

	executes []execFunc
}

type execFunc func(ctx context.Context, ex database.Executor) error

// Execute applies the statement's SQL. A no-op statement succeeds without
// touching the executor.
func (s *Statement) Execute(ctx context.Context, ex database.Executor) error {
	for _, exec := range s.executes {
		if err := exec(ctx, ex); err != nil {
			return err
		}
	}
	return nil
}

// IsNoOp reports whether the statement carries no SQL.
func (s *Statement) IsNoOp() bool {
	return len(s.executes) == 0
}

// Column is a named value written by a create, upsert or update.
type Column struct {
	Name  string
	Value any
}

// NewCol builds a column.
func NewCol(name string, value any) Column {
	return Column{Name: name, Value: value}
}

// Condition restricts an update or delete to matching rows.
type Condition struct {
	Name  string
	Value any
}

// NewCond builds a condition.
func NewCond(name string, value any) Condition {
	return Condition{Name: name, Value: value}
}

func baseStatement(e *domain.Event) *Statement {
	return &Statement{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		InstanceID:    e.InstanceID,
		Position:      e.Position,
	}
}

// NewNoOpStatement advances the cursor without writing.
func NewNoOpStatement(e *domain.Event) *Statement {
	return baseStatement(e)
}

// NewCreateStatement inserts one row.
func NewCreateStatement(e *domain.Event, table string, columns []Column) *Statement {
	s := baseStatement(e)
	s.executes = []execFunc{execInsert(table, columns)}
	return s
}

// NewUpsertStatement inserts one row or, on a conflict over conflictColumns,
// updates the remaining columns in place.
func NewUpsertStatement(e *domain.Event, table string, conflictColumns []string, columns []Column) *Statement {
	s := baseStatement(e)
	s.executes = []execFunc{execUpsert(table, conflictColumns, columns)}
	return s
}

// NewUpdateStatement updates matching rows.
func NewUpdateStatement(e *domain.Event, table string, columns []Column, conditions []Condition) *Statement {
	s := baseStatement(e)
	s.executes = []execFunc{execUpdate(table, columns, conditions)}
	return s
}

// NewDeleteStatement deletes matching rows.
func NewDeleteStatement(e *domain.Event, table string, conditions []Condition) *Statement {
	s := baseStatement(e)
	s.executes = []execFunc{execDelete(table, conditions)}
	return s
}

// Op is one SQL operation inside a multi-statement.
type Op func() execFunc

// AddCreate builds an insert operation for NewMultiStatement.
func AddCreate(table string, columns []Column) Op {
	return func() execFunc { return execInsert(table, columns) }
}

// AddUpsert builds an upsert operation for NewMultiStatement.
func AddUpsert(table string, conflictColumns []string, columns []Column) Op {
	return func() execFunc { return execUpsert(table, conflictColumns, columns) }
}

// AddUpdate builds an update operation for NewMultiStatement.
func AddUpdate(table string, columns []Column, conditions []Condition) Op {
	return func() execFunc { return execUpdate(table, columns, conditions) }
}

// AddDelete builds a delete operation for NewMultiStatement.
func AddDelete(table string, conditions []Condition) Op {
	return func() execFunc { return execDelete(table, conditions) }
}

// NewMultiStatement applies several operations for one event, in order,
// within the same savepoint.
func NewMultiStatement(e *domain.Event, ops ...Op) *Statement {
	s := baseStatement(e)
	for _, op := range ops {
		s.executes = append(s.executes, op())
	}
	return s
}

func execInsert(table string, columns []Column) execFunc {
	return func(ctx context.Context, ex database.Executor) error {
		if len(columns) == 0 {
			return domain.NewValidationError("columns", "insert requires at least one column")
		}
		names := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		args := make([]any, len(columns))
		for i, col := range columns {
			names[i] = col.Name
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = col.Value
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
		_, err := ex.Exec(ctx, query, args...)
		return err
	}
}

func execUpsert(table string, conflictColumns []string, columns []Column) execFunc {
	return func(ctx context.Context, ex database.Executor) error {
		if len(columns) == 0 {
			return domain.NewValidationError("columns", "upsert requires at least one column")
		}
		if len(conflictColumns) == 0 {
			return domain.NewValidationError("conflictColumns", "upsert requires conflict columns")
		}
		conflict := make(map[string]bool, len(conflictColumns))
		for _, name := range conflictColumns {
			conflict[name] = true
		}

		names := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		args := make([]any, len(columns))
		var updates []string
		for i, col := range columns {
			names[i] = col.Name
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = col.Value
			if !conflict[col.Name] {
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col.Name, col.Name))
			}
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			table,
			strings.Join(names, ", "),
			strings.Join(placeholders, ", "),
			strings.Join(conflictColumns, ", "),
			strings.Join(updates, ", "))
		_, err := ex.Exec(ctx, query, args...)
		return err
	}
}

func execUpdate(table string, columns []Column, conditions []Condition) execFunc {
	return func(ctx context.Context, ex database.Executor) error {
		if len(columns) == 0 {
			return domain.NewValidationError("columns", "update requires at least one column")
		}
		if len(conditions) == 0 {
			return domain.NewValidationError("conditions", "update requires at least one condition")
		}
		names := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		args := make([]any, 0, len(columns)+len(conditions))
		for i, col := range columns {
			names[i] = col.Name
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, col.Value)
		}
		wheres := make([]string, len(conditions))
		for i, cond := range conditions {
			wheres[i] = fmt.Sprintf("(%s = $%d)", cond.Name, len(columns)+i+1)
			args = append(args, cond.Value)
		}
		query := fmt.Sprintf("UPDATE %s SET (%s) = (%s) WHERE %s",
			table,
			strings.Join(names, ", "),
			strings.Join(placeholders, ", "),
			strings.Join(wheres, " AND "))
		_, err := ex.Exec(ctx, query, args...)
		return err
	}
}

func execDelete(table string, conditions []Condition) execFunc {
	return func(ctx context.Context, ex database.Executor) error {
		if len(conditions) == 0 {
			return domain.NewValidationError("conditions", "delete requires at least one condition")
		}
		wheres := make([]string, len(conditions))
		args := make([]any, len(conditions))
		for i, cond := range conditions {
			wheres[i] = fmt.Sprintf("(%s = $%d)", cond.Name, i+1)
			args[i] = cond.Value
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(wheres, " AND "))
		_, err := ex.Exec(ctx, query, args...)
		return err
	}
}
