package orm

import (
	"fmt"
	"strconv"
	"strings"
)

// QuoteIdent экранирует идентификатор Postgres.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// SQL переводит цепочку в SELECT с плейсхолдерами $1..$n.
func (q *QuerySet) SQL() (string, []any) {
	var (
		where []string
		args  []any
	)
	ph := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	for _, s := range q.steps {
		if len(s.Lookups) == 0 {
			continue
		}
		conds := make([]string, 0, len(s.Lookups))
		for _, lk := range s.Lookups {
			conds = append(conds, q.condition(lk, ph))
		}
		switch s.Op {
		case OpFilter:
			where = append(where, "("+strings.Join(conds, " AND ")+")")
		case OpExclude:
			where = append(where, "NOT ("+strings.Join(conds, " AND ")+")")
		}
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(QuoteIdent(q.model.Table()))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if order := q.ordering(); len(order) > 0 {
		parts := make([]string, 0, len(order))
		for _, o := range order {
			dir := "ASC"
			if strings.HasPrefix(o, "-") {
				dir = "DESC"
			}
			parts = append(parts, QuoteIdent(q.column(strings.TrimPrefix(o, "-")))+" "+dir)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if lim, ok := q.limit(); ok {
		fmt.Fprintf(&b, " LIMIT %d", lim.Limit)
		if lim.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", lim.Offset)
		}
	}
	return b.String(), args
}

func (q *QuerySet) column(name string) string {
	if f := q.model.Field(name); f != nil {
		return f.ColumnName()
	}
	return name
}

func (q *QuerySet) condition(lk Lookup, ph func(any) string) string {
	col := QuoteIdent(q.column(lk.Field))
	switch lk.Op {
	case "isnull":
		if want, _ := asBool(lk.Value); want {
			return col + " IS NULL"
		}
		return col + " IS NOT NULL"
	case "in":
		return col + " = ANY(" + ph(toSlice(lk.Value)) + ")"
	case "exact":
		if lk.Value == nil {
			return col + " IS NULL"
		}
		return col + " = " + ph(lk.Value)
	case "iexact":
		return "lower(" + col + "::text) = lower(" + ph(fmt.Sprint(lk.Value)) + ")"
	case "contains":
		return col + "::text LIKE " + ph("%"+escapeLike(fmt.Sprint(lk.Value))+"%")
	case "icontains":
		return col + "::text ILIKE " + ph("%"+escapeLike(fmt.Sprint(lk.Value))+"%")
	case "startswith":
		return col + "::text LIKE " + ph(escapeLike(fmt.Sprint(lk.Value))+"%")
	case "gt":
		return col + " > " + ph(lk.Value)
	case "gte":
		return col + " >= " + ph(lk.Value)
	case "lt":
		return col + " < " + ph(lk.Value)
	case "lte":
		return col + " <= " + ph(lk.Value)
	}
	return "FALSE"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
