package db

import (
	"fmt"
	"strings"
)

// Query assembles a filtered, paginated SELECT with positional arguments.
type Query struct {
	table   string
	cols    string
	where   []string
	args    []interface{}
	orderBy string
}

func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols}
}

// next returns the placeholder for the next argument.
func (q *Query) next() string { return fmt.Sprintf("$%d", len(q.args)+1) }

// Where appends a clause whose single placeholder is written as "?".
func (q *Query) Where(clause string, arg interface{}) *Query {
	q.where = append(q.where, strings.Replace(clause, "?", q.next(), 1))
	q.args = append(q.args, arg)
	return q
}

func (q *Query) Eq(column string, value interface{}) *Query {
	return q.Where(column+" = ?", value)
}

// Contains matches value anywhere in any of columns, case-insensitively.
func (q *Query) Contains(value string, columns ...string) *Query {
	ph := q.next()
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s ILIKE %s", c, ph)
	}
	q.where = append(q.where, "("+strings.Join(parts, " OR ")+")")
	q.args = append(q.args, "%"+escapeLike(value)+"%")
	return q
}

func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

func (q *Query) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.table, q.whereSQL())
}

func (q *Query) Args() []interface{} { return q.args }

func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.table, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	n := len(q.args)
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
}

func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
