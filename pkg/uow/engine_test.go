package uow

import (
	"context"
	"fmt"
	"sort"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
)

// memEngine is an in-memory db.Engine keyed on an "id" column. It records
// every write so tests can assert the exact WHERE values a flush used.
type memEngine struct {
	tables  map[string]*memTable
	writes  []string
	updates []db.UpdateStatement
	deletes []db.DeleteStatement
	selects int
}

type memTable struct {
	rows   []db.Row
	nextID int64
}

func newMemEngine() *memEngine {
	return &memEngine{tables: make(map[string]*memTable)}
}

func (e *memEngine) table(name string) *memTable {
	t, ok := e.tables[name]
	if !ok {
		t = &memTable{nextID: 1}
		e.tables[name] = t
	}
	return t
}

// seed stores a row as-is
func (e *memEngine) seed(table string, row db.Row) {
	t := e.table(table)
	if id := schema.NormalizeKey(row["id"]).(int64); id >= t.nextID {
		t.nextID = id + 1
	}
	t.rows = append(t.rows, row)
}

// row returns the stored row with the given id
func (e *memEngine) row(table string, id int64) db.Row {
	for _, r := range e.table(table).rows {
		if schema.NormalizeKey(r["id"]) == id {
			return r
		}
	}
	return nil
}

func (e *memEngine) Insert(_ context.Context, stmt db.InsertStatement) (db.Result, error) {
	t := e.table(stmt.Table)
	var res db.Result
	for _, values := range stmt.Rows {
		row := db.Row{}
		for i, col := range stmt.Columns {
			row[col] = values[i]
		}
		if _, ok := row["id"]; !ok {
			row["id"] = t.nextID
		}
		id := schema.NormalizeKey(row["id"]).(int64)
		if e.row(stmt.Table, id) != nil {
			return db.Result{}, fmt.Errorf("insert into %s: %w", stmt.Table, db.ErrConstraintViolation)
		}
		if id >= t.nextID {
			t.nextID = id + 1
		}
		t.rows = append(t.rows, row)
		res.RowsAffected++
		res.LastInsertID = id
	}
	e.writes = append(e.writes, "insert "+stmt.Table)
	return res, nil
}

func (e *memEngine) Update(_ context.Context, stmt db.UpdateStatement) (db.Result, error) {
	e.writes = append(e.writes, "update "+stmt.Table)
	e.updates = append(e.updates, stmt)
	var n int64
	for _, row := range e.table(stmt.Table).rows {
		if !matches(row, stmt.Where) {
			continue
		}
		for i, col := range stmt.Columns {
			row[col] = stmt.Values[i]
		}
		n++
	}
	return db.Result{RowsAffected: n}, nil
}

func (e *memEngine) Delete(_ context.Context, stmt db.DeleteStatement) (db.Result, error) {
	e.writes = append(e.writes, "delete "+stmt.Table)
	e.deletes = append(e.deletes, stmt)
	t := e.table(stmt.Table)
	kept := t.rows[:0]
	var n int64
	for _, row := range t.rows {
		if matches(row, stmt.Where) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return db.Result{RowsAffected: n}, nil
}

func (e *memEngine) Select(_ context.Context, stmt db.SelectStatement) ([]db.Row, error) {
	e.selects++
	var out []db.Row
	for _, row := range e.table(stmt.Table).rows {
		if !matches(row, stmt.Where) {
			continue
		}
		cp := db.Row{}
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return schema.NormalizeKey(out[i]["id"]).(int64) < schema.NormalizeKey(out[j]["id"]).(int64)
	})
	if stmt.Limit > 0 && len(out) > stmt.Limit {
		out = out[:stmt.Limit]
	}
	return out, nil
}

func (e *memEngine) Transaction(ctx context.Context, fn func(db.Engine) error) error {
	saved := make(map[string]*memTable, len(e.tables))
	for name, t := range e.tables {
		cp := &memTable{nextID: t.nextID}
		for _, row := range t.rows {
			r := db.Row{}
			for k, v := range row {
				r[k] = v
			}
			cp.rows = append(cp.rows, r)
		}
		saved[name] = cp
	}
	if err := fn(e); err != nil {
		e.tables = saved
		return err
	}
	return nil
}

func matches(row db.Row, where []db.Condition) bool {
	for _, c := range where {
		v := schema.NormalizeKey(row[c.Field])
		switch c.Operator {
		case db.Equal:
			if v != schema.NormalizeKey(c.Value) {
				return false
			}
		case db.In:
			found := false
			for _, item := range c.Value.([]any) {
				if v == schema.NormalizeKey(item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			panic("unsupported operator " + string(c.Operator))
		}
	}
	return true
}

// memCache is an in-memory RowCache
type memCache struct {
	rows        map[string]db.Row
	hits        int
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{rows: make(map[string]db.Row)}
}

func cacheKey(table string, key any) string {
	return fmt.Sprintf("%s:%v", table, key)
}

func (c *memCache) GetRows(_ context.Context, table string, keys []any) (map[any]db.Row, error) {
	out := make(map[any]db.Row)
	for _, k := range keys {
		if row, ok := c.rows[cacheKey(table, k)]; ok {
			out[k] = row
			c.hits++
		}
	}
	return out, nil
}

func (c *memCache) SetRows(_ context.Context, table string, rows map[any]db.Row) error {
	for k, row := range rows {
		c.rows[cacheKey(table, k)] = row
	}
	return nil
}

func (c *memCache) Invalidate(_ context.Context, table string, keys []any) error {
	for _, k := range keys {
		delete(c.rows, cacheKey(table, k))
		c.invalidated = append(c.invalidated, cacheKey(table, k))
	}
	return nil
}

// Test entities

type Parent struct {
	ID       int64
	Name     string
	Version  int
	Children []*Child
}

type Child struct {
	ID     int64
	Name   string
	Parent *Parent
}

func testRegistry() *schema.Registry {
	return schema.MustRegistry(
		schema.Declaration{
			Model: (*Child)(nil),
			Table: "child",
			Relations: []schema.Relation{
				{Field: "Parent", Kind: schema.ManyToOne, Target: "Parent"},
			},
		},
		schema.Declaration{
			Model:   (*Parent)(nil),
			Table:   "parent",
			Version: "Version",
			Relations: []schema.Relation{
				{Field: "Children", Kind: schema.OneToMany, Target: "Child", MappedBy: "Parent"},
			},
		},
	)
}

// seedScenario stores parents 1..3 with versions 10, 100, 1 and children
// 1..3 referencing parents 3, 1, 2
func seedScenario(e *memEngine) {
	e.seed("parent", db.Row{"id": int64(1), "name": "a", "version": int64(10)})
	e.seed("parent", db.Row{"id": int64(2), "name": "b", "version": int64(100)})
	e.seed("parent", db.Row{"id": int64(3), "name": "c", "version": int64(1)})
	e.seed("child", db.Row{"id": int64(1), "name": "c", "parent_id": int64(3)})
	e.seed("child", db.Row{"id": int64(2), "name": "a", "parent_id": int64(1)})
	e.seed("child", db.Row{"id": int64(3), "name": "b", "parent_id": int64(2)})
}
