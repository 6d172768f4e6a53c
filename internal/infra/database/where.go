package database

import (
	"fmt"
	"strings"
	"time"

	"school_mailman/internal/domain/query"
)

// BuildWhere translates a predicate into SQL with ? placeholders and its
// arguments. Callers rebind the result for the active driver.
func BuildWhere(p query.Predicate) (string, []any) {
	var b whereBuilder
	b.write(p)
	return b.sql.String(), b.args
}

type whereBuilder struct {
	sql  strings.Builder
	args []any
}

func (b *whereBuilder) write(p query.Predicate) {
	switch p := p.(type) {
	case nil:
		b.sql.WriteString("1 = 1")
	case query.Eq:
		b.binary(p.Column, "=", p.Value)
	case query.NotEq:
		b.binary(p.Column, "<>", p.Value)
	case query.In:
		if len(p.Values) == 0 {
			b.sql.WriteString("1 = 0")
			return
		}
		b.list(p.Column, "IN", p.Values)
	case query.NotIn:
		if len(p.Values) == 0 {
			b.sql.WriteString("1 = 1")
			return
		}
		b.list(p.Column, "NOT IN", p.Values)
	case query.Between:
		fmt.Fprintf(&b.sql, "(%s >= ? AND %s < ?)", p.Column, p.Column)
		b.args = append(b.args, arg(p.From), arg(p.To))
	case query.Before:
		b.binary(p.Column, "<", p.At)
	case query.Since:
		b.binary(p.Column, ">=", p.At)
	case query.IsNull:
		fmt.Fprintf(&b.sql, "%s IS NULL", p.Column)
	case query.NotNull:
		fmt.Fprintf(&b.sql, "%s IS NOT NULL", p.Column)
	case query.Raw:
		fmt.Fprintf(&b.sql, "(%s)", p.SQL)
		for _, a := range p.Args {
			b.args = append(b.args, arg(a))
		}
	case query.And:
		b.group(p, "AND", "1 = 1")
	case query.Or:
		b.group(p, "OR", "1 = 0")
	default:
		panic(fmt.Sprintf("database: unsupported predicate %T", p))
	}
}

func (b *whereBuilder) binary(column, op string, v any) {
	fmt.Fprintf(&b.sql, "%s %s ?", column, op)
	b.args = append(b.args, arg(v))
}

func (b *whereBuilder) list(column, op string, values []any) {
	fmt.Fprintf(&b.sql, "%s %s (", column, op)
	for i, v := range values {
		if i > 0 {
			b.sql.WriteString(", ")
		}
		b.sql.WriteString("?")
		b.args = append(b.args, arg(v))
	}
	b.sql.WriteString(")")
}

func (b *whereBuilder) group(members []query.Predicate, op, empty string) {
	if len(members) == 0 {
		b.sql.WriteString(empty)
		return
	}
	if len(members) == 1 {
		b.write(members[0])
		return
	}
	b.sql.WriteString("(")
	for i, m := range members {
		if i > 0 {
			fmt.Fprintf(&b.sql, " %s ", op)
		}
		b.write(m)
	}
	b.sql.WriteString(")")
}

// arg normalises times to UTC whole seconds so that both drivers compare
// them consistently.
func arg(v any) any {
	if t, ok := v.(time.Time); ok {
		return dbTime(t)
	}
	return v
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
