package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Engine is the storage collaborator driven by a unit of work. Every
// statement it receives is already ordered; it only executes and reports.
type Engine interface {
	Insert(ctx context.Context, stmt InsertStatement) (Result, error)
	Update(ctx context.Context, stmt UpdateStatement) (Result, error)
	Delete(ctx context.Context, stmt DeleteStatement) (Result, error)
	Select(ctx context.Context, stmt SelectStatement) ([]Row, error)
	// Transaction runs fn against an engine bound to one storage transaction
	Transaction(ctx context.Context, fn func(Engine) error) error
}

// Result reports the outcome of a write
type Result struct {
	RowsAffected int64
	LastInsertID int64 // generated key of a single-row insert, zero otherwise
}

// InsertStatement inserts one or more rows sharing the same columns
type InsertStatement struct {
	Table   string
	Columns []string
	Rows    [][]interface{}
}

// UpdateStatement sets columns on rows matching every condition in Where.
// Optimistic updates carry both the key and the expected version here.
type UpdateStatement struct {
	Table   string
	Columns []string
	Values  []interface{}
	Where   []Condition
}

// DeleteStatement removes rows matching every condition in Where
type DeleteStatement struct {
	Table string
	Where []Condition
}

// SelectStatement reads rows. An OrderBy column prefixed with "-" sorts descending.
type SelectStatement struct {
	Table   string
	Columns []string
	Where   []Condition
	OrderBy []string
	Limit   int
}

// GormEngine executes statements built by the query builder on a GORM
// connection or transaction
type GormEngine struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewGormEngine binds an engine to a GORM handle
func NewGormEngine(db *gorm.DB, queryTimeout time.Duration) *GormEngine {
	return &GormEngine{db: db, timeout: queryTimeout}
}

// withQueryTimeout wraps a context with the configured query timeout
func (e *GormEngine) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	// Return context without timeout if not configured
	return ctx, func() {}
}

// Insert executes a multi-row insert. The generated key is reported only for
// a single-row statement: drivers disagree on which row LastInsertId names
// (MySQL reports the first, SQLite the last).
func (e *GormEngine) Insert(ctx context.Context, stmt InsertStatement) (Result, error) {
	if len(stmt.Rows) == 0 {
		return Result{}, nil
	}

	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	query, width := NewBuilder(stmt.Table).BuildInsert(stmt.Columns, len(stmt.Rows))
	args := make([]interface{}, 0, width*len(stmt.Rows))
	for i, row := range stmt.Rows {
		if len(row) != width {
			return Result{}, fmt.Errorf("insert into %s: row %d has %d values, want %d", stmt.Table, i, len(row), width)
		}
		args = append(args, row...)
	}

	// GORM's Exec does not expose the generated key, so go through the
	// connection pool (the *sql.Tx inside a transaction) and trace manually
	begin := time.Now()
	res, err := e.db.Statement.ConnPool.ExecContext(ctx, query, args...)
	var result Result
	if err == nil {
		result.RowsAffected, _ = res.RowsAffected()
		if len(stmt.Rows) == 1 {
			result.LastInsertID, _ = res.LastInsertId()
		}
	}
	e.db.Logger.Trace(ctx, begin, func() (string, int64) {
		return e.db.Dialector.Explain(query, args...), result.RowsAffected
	}, err)

	if err != nil {
		return Result{}, classify(fmt.Errorf("insert into %s: %w", stmt.Table, err))
	}
	return result, nil
}

// Update executes an UPDATE and reports affected rows
func (e *GormEngine) Update(ctx context.Context, stmt UpdateStatement) (Result, error) {
	if len(stmt.Columns) != len(stmt.Values) {
		return Result{}, fmt.Errorf("update %s: %d columns but %d values", stmt.Table, len(stmt.Columns), len(stmt.Values))
	}

	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	query, whereArgs := NewBuilder(stmt.Table).WhereAll(stmt.Where...).BuildUpdate(stmt.Columns)
	args := append(append([]interface{}{}, stmt.Values...), whereArgs...)

	tx := e.db.WithContext(ctx).Exec(query, args...)
	if tx.Error != nil {
		return Result{}, classify(fmt.Errorf("update %s: %w", stmt.Table, tx.Error))
	}
	return Result{RowsAffected: tx.RowsAffected}, nil
}

// Delete executes a DELETE and reports affected rows
func (e *GormEngine) Delete(ctx context.Context, stmt DeleteStatement) (Result, error) {
	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(stmt.Table).WhereAll(stmt.Where...).BuildDelete()
	tx := e.db.WithContext(ctx).Exec(query, args...)
	if tx.Error != nil {
		return Result{}, classify(fmt.Errorf("delete from %s: %w", stmt.Table, tx.Error))
	}
	return Result{RowsAffected: tx.RowsAffected}, nil
}

// Select reads rows into column-keyed maps
func (e *GormEngine) Select(ctx context.Context, stmt SelectStatement) ([]Row, error) {
	ctx, cancel := e.withQueryTimeout(ctx)
	defer cancel()

	query, args := NewBuilder(stmt.Table).
		Select(stmt.Columns...).
		WhereAll(stmt.Where...).
		OrderBy(stmt.OrderBy...).
		Limit(stmt.Limit).
		BuildSelect()

	var raw []map[string]interface{}
	if err := e.db.WithContext(ctx).Raw(query, args...).Scan(&raw).Error; err != nil {
		return nil, fmt.Errorf("select from %s: %w", stmt.Table, err)
	}

	rows := make([]Row, len(raw))
	for i, r := range raw {
		rows[i] = Row(r)
	}
	return rows, nil
}

// Transaction runs fn inside one GORM transaction; fn's error rolls it back
func (e *GormEngine) Transaction(ctx context.Context, fn func(Engine) error) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormEngine{db: tx, timeout: e.timeout})
	})
}
