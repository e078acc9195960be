package db

import (
	"fmt"
	"reflect"
	"strings"
)

// SQL rendering for the statements GormEngine issues: row selects, multi-row
// inserts, and updates and deletes constrained by key and version.
//
// Identifiers (tables, columns, ORDER BY terms) are written verbatim. They come
// from compiled entity metadata, never from user input. Values always travel as
// placeholders.

// Operator is a WHERE comparison
type Operator string

const (
	Equal              Operator = "="
	NotEqual           Operator = "!="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	Like               Operator = "LIKE"
	In                 Operator = "IN"
	NotIn              Operator = "NOT IN"
	IsNull             Operator = "IS NULL"
	IsNotNull          Operator = "IS NOT NULL"
)

// Condition is one WHERE term. Terms are joined with AND.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Builder renders statements against one table
type Builder struct {
	table   string
	columns []string
	where   []Condition
	orderBy []string
	limit   int
}

// NewBuilder creates a builder for table
func NewBuilder(table string) *Builder {
	return &Builder{table: table}
}

// Select restricts the selected columns; the default is *
func (b *Builder) Select(cols ...string) *Builder {
	b.columns = cols
	return b
}

// Where appends a condition
func (b *Builder) Where(field string, op Operator, value interface{}) *Builder {
	b.where = append(b.where, Condition{Field: field, Operator: op, Value: value})
	return b
}

// WhereAll appends conditions
func (b *Builder) WhereAll(conditions ...Condition) *Builder {
	b.where = append(b.where, conditions...)
	return b
}

// OrderBy appends sort terms. A leading "-" sorts that column descending.
func (b *Builder) OrderBy(terms ...string) *Builder {
	for _, t := range terms {
		if col, ok := strings.CutPrefix(t, "-"); ok {
			b.orderBy = append(b.orderBy, col+" DESC")
		} else {
			b.orderBy = append(b.orderBy, t+" ASC")
		}
	}
	return b
}

// Limit caps the number of selected rows; zero or negative means no limit
func (b *Builder) Limit(n int) *Builder {
	b.limit = max(n, 0)
	return b
}

// BuildSelect renders SELECT ... FROM ... [WHERE] [ORDER BY] [LIMIT]
func (b *Builder) BuildSelect() (string, []interface{}) {
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, b.table)
	args := b.writeWhere(&sb)
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String(), args
}

// BuildInsert renders a multi-row INSERT for rows tuples of columns and
// returns the number of values each tuple takes
func (b *Builder) BuildInsert(columns []string, rows int) (string, int) {
	tuple := "(" + placeholders(len(columns)) + ")"

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES %s", b.table, strings.Join(columns, ", "), tuple)
	for i := 1; i < rows; i++ {
		sb.WriteString(", " + tuple)
	}
	return sb.String(), len(columns)
}

// BuildUpdate renders UPDATE ... SET col = ?, ... [WHERE]. The returned
// arguments are the WHERE values only; the caller puts the SET values first.
func (b *Builder) BuildUpdate(columns []string) (string, []interface{}) {
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = col + " = ?"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "UPDATE %s SET %s", b.table, strings.Join(sets, ", "))
	args := b.writeWhere(&sb)
	return sb.String(), args
}

// BuildDelete renders DELETE FROM ... [WHERE]
func (b *Builder) BuildDelete() (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM " + b.table)
	args := b.writeWhere(&sb)
	return sb.String(), args
}

func (b *Builder) writeWhere(sb *strings.Builder) []interface{} {
	if len(b.where) == 0 {
		return nil
	}

	var args []interface{}
	terms := make([]string, len(b.where))
	for i, c := range b.where {
		term, termArgs := renderCondition(c)
		terms[i] = term
		args = append(args, termArgs...)
	}
	sb.WriteString(" WHERE " + strings.Join(terms, " AND "))
	return args
}

func renderCondition(c Condition) (string, []interface{}) {
	switch c.Operator {
	case IsNull, IsNotNull:
		return c.Field + " " + string(c.Operator), nil
	case In, NotIn:
		return renderIn(c)
	default:
		return fmt.Sprintf("%s %s ?", c.Field, c.Operator), []interface{}{c.Value}
	}
}

// renderIn expands a slice into one placeholder per element. An empty or nil
// list makes IN match nothing and NOT IN match everything.
func renderIn(c Condition) (string, []interface{}) {
	if c.Value == nil {
		return emptyIn(c.Operator), nil
	}

	v := reflect.ValueOf(c.Value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return fmt.Sprintf("%s %s (?)", c.Field, c.Operator), []interface{}{c.Value}
	}
	if v.Len() == 0 {
		return emptyIn(c.Operator), nil
	}

	args := make([]interface{}, v.Len())
	for i := range args {
		args[i] = v.Index(i).Interface()
	}
	return fmt.Sprintf("%s %s (%s)", c.Field, c.Operator, placeholders(len(args))), args
}

func emptyIn(op Operator) string {
	if op == In {
		return "1 = 0"
	}
	return "1 = 1"
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
