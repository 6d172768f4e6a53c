// Package query holds a small typed predicate language used by repositories to
// describe filters without building SQL fragments by hand.
package query

import (
	"time"

	"school_mailman/internal/domain/window"
)

// Predicate is one of the concrete filter types below.
type Predicate interface {
	predicate()
}

type (
	// Eq matches Column = Value.
	Eq struct {
		Column string
		Value  any
	}
	// NotEq matches Column <> Value.
	NotEq struct {
		Column string
		Value  any
	}
	// In matches Column IN (Values...). An empty list matches nothing.
	In struct {
		Column string
		Values []any
	}
	// NotIn matches Column NOT IN (Values...). An empty list matches everything.
	NotIn struct {
		Column string
		Values []any
	}
	// Between matches From <= Column < To.
	Between struct {
		Column string
		From   time.Time
		To     time.Time
	}
	// Before matches Column < At.
	Before struct {
		Column string
		At     time.Time
	}
	// Since matches Column >= At.
	Since struct {
		Column string
		At     time.Time
	}
	// IsNull matches Column IS NULL.
	IsNull struct {
		Column string
	}
	// NotNull matches Column IS NOT NULL.
	NotNull struct {
		Column string
	}
	// Raw is an escape hatch for predicates that the types above cannot express,
	// such as correlated sub-queries. SQL uses ? placeholders.
	Raw struct {
		SQL  string
		Args []any
	}
	// And matches when every member matches. An empty And matches everything.
	And []Predicate
	// Or matches when any member matches. An empty Or matches nothing.
	Or []Predicate
)

func (Eq) predicate() {}
func (NotEq) predicate() {}
func (In) predicate() {}
func (NotIn) predicate() {}
func (Between) predicate() {}
func (Before) predicate() {}
func (Since) predicate() {}
func (IsNull) predicate() {}
func (NotNull) predicate() {}
func (Raw) predicate() {}
func (And) predicate() {}
func (Or) predicate() {}

// InWindow is Between over a half-open window, with bounds in UTC.
func InWindow(column string, w window.Window) Between {
	u := w.UTC()
	return Between{Column: column, From: u.Start, To: u.End}
}

// Int64s converts ids into In/NotIn values.
func Int64s(ids []int64) []any {
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return vals
}
