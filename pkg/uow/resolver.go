package uow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
)

// ErrNotFound is returned by Refresh when the row no longer exists
var ErrNotFound = errors.New("entity not found")

// RowCache is an optional second-level cache of raw rows keyed by table and
// normalized primary key. A unit of work reads through it when resolving
// references and invalidates it after writes.
type RowCache interface {
	GetRows(ctx context.Context, table string, keys []any) (map[any]db.Row, error)
	SetRows(ctx context.Context, table string, rows map[any]db.Row) error
	Invalidate(ctx context.Context, table string, keys []any) error
}

// Query selects entities of one type
type Query struct {
	Where    []db.Condition
	OrderBy  []string // columns, "-" prefix for descending; defaults to the primary key
	Limit    int
	Populate []string // relation paths, e.g. "TestCase" or "Revisions.TestCase"
}

// Find loads the entities matching q. Rows whose key is already managed and
// initialized resolve to the managed instance, which is not overwritten.
func (u *UnitOfWork) Find(ctx context.Context, meta *schema.Entity, q Query) ([]any, error) {
	orderBy := q.OrderBy
	if len(orderBy) == 0 {
		orderBy = []string{meta.PrimaryKey.Column}
	}

	rows, err := u.engine.Select(ctx, db.SelectStatement{
		Table:   meta.Table,
		Columns: columns(meta),
		Where:   q.Where,
		OrderBy: orderBy,
		Limit:   q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", meta.Name, err)
	}

	objs := make([]any, 0, len(rows))
	for _, row := range rows {
		obj, err := u.hydrate(meta, row)
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}

	if err := u.Populate(ctx, meta, objs, q.Populate...); err != nil {
		return nil, err
	}
	return objs, nil
}

// FindByKey returns the entity stored under key, consulting the identity map,
// then the row cache, then storage. It returns nil, nil when no row exists.
func (u *UnitOfWork) FindByKey(ctx context.Context, meta *schema.Entity, key any) (any, error) {
	if obj, ok := u.identity.Lookup(meta, key); ok && u.IsInitialized(obj) {
		return obj, nil
	}

	rows, err := u.loadRows(ctx, meta, []any{key})
	if err != nil {
		return nil, err
	}
	nk, err := meta.ParseKey(key)
	if err != nil {
		return nil, err
	}
	row, ok := rows[nk]
	if !ok {
		return nil, nil
	}
	return u.hydrate(meta, row)
}

// Reference returns the managed instance for key, creating an uninitialized
// one that only carries the key when nothing is tracked yet
func (u *UnitOfWork) Reference(meta *schema.Entity, key any) (any, error) {
	key, err := meta.ParseKey(key)
	if err != nil {
		return nil, fmt.Errorf("reference %s: %w", meta.Name, err)
	}
	if schema.IsZeroKey(key) {
		return nil, fmt.Errorf("reference %s: empty key", meta.Name)
	}
	if obj, ok := u.identity.Lookup(meta, key); ok {
		return obj, nil
	}

	obj := meta.New()
	if err := meta.SetKey(obj, key); err != nil {
		return nil, fmt.Errorf("reference %s: %w", meta.Name, err)
	}
	if err := u.identity.Register(meta, key, obj); err != nil {
		return nil, err
	}
	u.track(meta, obj, stateManaged, false)
	return obj, nil
}

// Populate loads the given relation paths for objs, which must all be of type
// meta. Uninitialized references are filled in place so that every holder
// keeps pointing at the same instance. A foreign key without a matching row
// is ErrUnresolvedRelationship.
func (u *UnitOfWork) Populate(ctx context.Context, meta *schema.Entity, objs []any, paths ...string) error {
	for _, path := range paths {
		head, rest, _ := strings.Cut(path, ".")
		a, ok := meta.Relation(head)
		if !ok {
			return fmt.Errorf("populate %s: unknown relation %q", meta.Name, head)
		}

		var related []any
		var err error
		switch a.Kind {
		case schema.ManyToOne:
			related, err = u.populateOwning(ctx, a, objs)
		case schema.OneToMany:
			related, err = u.populateInverse(ctx, a, objs)
		}
		if err != nil {
			return err
		}

		if rest != "" && len(related) > 0 {
			if err := u.Populate(ctx, a.Target, related, rest); err != nil {
				return err
			}
		}
	}
	return nil
}

func (u *UnitOfWork) populateOwning(ctx context.Context, a *schema.Association, objs []any) ([]any, error) {
	var targets, missing []any
	seen := make(map[any]bool)
	for _, obj := range objs {
		target := a.Get(obj)
		if target == nil || seen[target] {
			continue
		}
		seen[target] = true
		targets = append(targets, target)
		if !u.IsInitialized(target) {
			missing = append(missing, a.Target.KeyOf(target))
		}
	}
	if len(missing) == 0 {
		return targets, nil
	}

	rows, err := u.loadRows(ctx, a.Target, missing)
	if err != nil {
		return nil, err
	}
	// first-seen key order keeps the entry order of the targets deterministic
	for _, key := range missing {
		row, ok := rows[key]
		if !ok {
			return nil, errorf(ErrUnresolvedRelationship, "%s.%s references missing %s#%v",
				a.Owner.Name, a.Name, a.Target.Name, key)
		}
		if _, err := u.hydrate(a.Target, row); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func (u *UnitOfWork) populateInverse(ctx context.Context, a *schema.Association, objs []any) ([]any, error) {
	owners := make(map[any]bool, len(objs))
	var keys []any
	for _, obj := range objs {
		if owners[obj] {
			continue
		}
		owners[obj] = true
		if key := a.Owner.KeyOf(obj); !schema.IsZeroKey(key) {
			keys = append(keys, key)
		}
		if len(a.Items(obj)) == 0 {
			a.Reset(obj)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	rows, err := u.engine.Select(ctx, db.SelectStatement{
		Table:   a.Target.Table,
		Columns: columns(a.Target),
		Where:   []db.Condition{{Field: a.ForeignKey, Operator: db.In, Value: keys}},
		OrderBy: []string{a.Target.PrimaryKey.Column},
	})
	if err != nil {
		return nil, fmt.Errorf("populate %s.%s: %w", a.Owner.Name, a.Name, err)
	}

	children := make([]any, 0, len(rows))
	for _, row := range rows {
		child, err := u.hydrate(a.Target, row)
		if err != nil {
			return nil, err
		}
		children = append(children, child)

		parent := a.MappedBy.Get(child)
		if parent == nil || !owners[parent] || a.Contains(parent, child) {
			continue
		}
		a.Append(parent, child)
	}
	return children, nil
}

// loadRows fetches rows by key through the row cache. The result is keyed by
// normalized primary key.
func (u *UnitOfWork) loadRows(ctx context.Context, meta *schema.Entity, keys []any) (map[any]db.Row, error) {
	out := make(map[any]db.Row, len(keys))
	pending := make([]any, 0, len(keys))
	for _, k := range keys {
		nk, err := meta.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", meta.Name, err)
		}
		pending = append(pending, nk)
	}

	if u.opts.Cache != nil {
		cached, err := u.opts.Cache.GetRows(ctx, meta.Table, pending)
		if err != nil {
			u.logger.Debug("row cache read failed", "table", meta.Table, "error", err)
		}
		misses := pending[:0:0]
		for _, k := range pending {
			if row, ok := cached[k]; ok {
				out[k] = row
				continue
			}
			misses = append(misses, k)
		}
		pending = misses
	}
	if len(pending) == 0 {
		return out, nil
	}

	rows, err := u.engine.Select(ctx, db.SelectStatement{
		Table:   meta.Table,
		Columns: columns(meta),
		Where:   []db.Condition{{Field: meta.PrimaryKey.Column, Operator: db.In, Value: pending}},
		OrderBy: []string{meta.PrimaryKey.Column},
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", meta.Name, err)
	}

	fetched := make(map[any]db.Row, len(rows))
	for _, row := range rows {
		k, err := meta.ParseKey(row[meta.PrimaryKey.Column])
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", meta.Name, err)
		}
		out[k] = row
		fetched[k] = row
	}
	if u.opts.Cache != nil && len(fetched) > 0 {
		if err := u.opts.Cache.SetRows(ctx, meta.Table, fetched); err != nil {
			u.logger.Debug("row cache write failed", "table", meta.Table, "error", err)
		}
	}
	return out, nil
}

// hydrate turns a row into the managed instance for its key
func (u *UnitOfWork) hydrate(meta *schema.Entity, row db.Row) (any, error) {
	key, err := meta.ParseKey(row[meta.PrimaryKey.Column])
	if err != nil || schema.IsZeroKey(key) {
		return nil, fmt.Errorf("hydrate %s: row has no usable primary key", meta.Name)
	}

	if obj, ok := u.identity.Lookup(meta, key); ok {
		e := u.entries[obj]
		if e == nil || e.initialized {
			return obj, nil
		}
		if err := u.fill(meta, obj, row); err != nil {
			return nil, err
		}
		e.initialized = true
		u.snapshots.Capture(meta, obj)
		return obj, nil
	}

	obj := meta.New()
	if err := u.fill(meta, obj, row); err != nil {
		return nil, err
	}
	if err := u.identity.Register(meta, key, obj); err != nil {
		return nil, err
	}
	u.track(meta, obj, stateManaged, true)
	u.snapshots.Capture(meta, obj)
	return obj, nil
}

// fill copies row values onto obj; owning foreign keys become references
func (u *UnitOfWork) fill(meta *schema.Entity, obj any, row db.Row) error {
	if err := meta.PrimaryKey.Set(obj, row[meta.PrimaryKey.Column]); err != nil {
		return fmt.Errorf("hydrate %s: %w", meta.Name, err)
	}
	if meta.Version != nil {
		if v, ok := row[meta.Version.Column]; ok {
			if err := meta.Version.Set(obj, v); err != nil {
				return fmt.Errorf("hydrate %s: %w", meta.Name, err)
			}
		}
	}
	for _, f := range meta.Attributes {
		v, ok := row[f.Column]
		if !ok {
			continue
		}
		if err := f.Set(obj, v); err != nil {
			return fmt.Errorf("hydrate %s: %w", meta.Name, err)
		}
	}
	for _, a := range meta.Owning() {
		fk, ok := row[a.ForeignKey]
		if !ok {
			continue
		}
		if fk == nil || schema.IsZeroKey(fk) {
			a.Set(obj, nil)
			continue
		}
		ref, err := u.Reference(a.Target, fk)
		if err != nil {
			return fmt.Errorf("hydrate %s.%s: %w", meta.Name, a.Name, err)
		}
		a.Set(obj, ref)
	}
	return nil
}

// Refresh reloads a managed entity from storage, bypassing the row cache,
// and makes the loaded state its new snapshot
func (u *UnitOfWork) Refresh(ctx context.Context, obj any) error {
	e, ok := u.entries[obj]
	if !ok || e.state == stateNew {
		return fmt.Errorf("refresh %T: %w", obj, ErrNotManaged)
	}
	key := e.meta.KeyOf(obj)

	rows, err := u.engine.Select(ctx, db.SelectStatement{
		Table:   e.meta.Table,
		Columns: columns(e.meta),
		Where:   []db.Condition{{Field: e.meta.PrimaryKey.Column, Operator: db.Equal, Value: key}},
	})
	if err != nil {
		return fmt.Errorf("refresh %s#%v: %w", e.meta.Name, key, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("refresh %s#%v: %w", e.meta.Name, key, ErrNotFound)
	}

	if err := u.fill(e.meta, obj, rows[0]); err != nil {
		return err
	}
	e.initialized = true
	u.snapshots.Capture(e.meta, obj)

	if u.opts.Cache != nil {
		if err := u.opts.Cache.SetRows(ctx, e.meta.Table, map[any]db.Row{key: rows[0]}); err != nil {
			u.logger.Debug("row cache write failed", "table", e.meta.Table, "error", err)
		}
	}
	return nil
}

// columns lists every stored column of an entity
func columns(meta *schema.Entity) []string {
	cols := []string{meta.PrimaryKey.Column}
	if meta.Version != nil {
		cols = append(cols, meta.Version.Column)
	}
	for _, f := range meta.Attributes {
		cols = append(cols, f.Column)
	}
	for _, a := range meta.Owning() {
		cols = append(cols, a.ForeignKey)
	}
	return cols
}
