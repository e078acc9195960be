package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/redis"
	"github.com/ammar0144/sql4go/pkg/schema"
	"github.com/ammar0144/sql4go/pkg/uow"
)

// EntityManager is the session facade: reads resolve through its unit of
// work and writes are buffered until Flush
type EntityManager struct {
	registry *schema.Registry
	engine   db.Engine
	cache    *redis.RowCache
	opts     uow.Options
	uow      *uow.UnitOfWork
}

// NewEntityManager creates an entity manager over a storage engine. cache may
// be nil for database-only mode.
func NewEntityManager(registry *schema.Registry, engine db.Engine, cache *redis.RowCache, opts uow.Options) *EntityManager {
	if cache != nil {
		opts.Cache = cache
	}
	return &EntityManager{
		registry: registry,
		engine:   engine,
		cache:    cache,
		opts:     opts,
		uow:      uow.New(registry, engine, opts),
	}
}

// Fork returns an entity manager with a fresh unit of work sharing storage,
// cache and options. Forks are independent sessions.
func (em *EntityManager) Fork() *EntityManager {
	return &EntityManager{
		registry: em.registry,
		engine:   em.engine,
		cache:    em.cache,
		opts:     em.opts,
		uow:      uow.New(em.registry, em.engine, em.opts),
	}
}

// UnitOfWork exposes the session's unit of work
func (em *EntityManager) UnitOfWork() *uow.UnitOfWork {
	return em.uow
}

// Registry returns the entity metadata
func (em *EntityManager) Registry() *schema.Registry {
	return em.registry
}

// ============================================================================
// READ OPERATIONS - Identity Map First
// ============================================================================

// FindAll loads every entity of the named type
func (em *EntityManager) FindAll(ctx context.Context, entity string, opts ...FindOption) ([]any, error) {
	return em.FindWhere(ctx, entity, nil, opts...)
}

// FindWhere loads the entities of the named type matching every condition
func (em *EntityManager) FindWhere(ctx context.Context, entity string, conditions []db.Condition, opts ...FindOption) ([]any, error) {
	meta, err := em.registry.Entity(entity)
	if err != nil {
		return nil, err
	}
	q := buildQuery(opts)
	q.Where = conditions
	return em.uow.Find(ctx, meta, q)
}

// FindOne loads one entity by primary key; nil, nil when it does not exist
func (em *EntityManager) FindOne(ctx context.Context, entity string, id any) (any, error) {
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}
	meta, err := em.registry.Entity(entity)
	if err != nil {
		return nil, err
	}
	return em.uow.FindByKey(ctx, meta, id)
}

// Populate loads relation paths for already loaded entities of one type
func (em *EntityManager) Populate(ctx context.Context, entities []any, paths ...string) error {
	if len(entities) == 0 {
		return nil
	}
	meta, err := em.registry.EntityOf(entities[0])
	if err != nil {
		return err
	}
	return em.uow.Populate(ctx, meta, entities, paths...)
}

// Refresh reloads a managed entity from storage
func (em *EntityManager) Refresh(ctx context.Context, entity any) error {
	return em.uow.Refresh(ctx, entity)
}

// ============================================================================
// WRITE OPERATIONS - Buffered Until Flush
// ============================================================================

// Persist marks entities for insertion
func (em *EntityManager) Persist(entities ...any) error {
	return em.uow.Persist(entities...)
}

// Remove marks entities for deletion
func (em *EntityManager) Remove(entities ...any) error {
	for _, e := range entities {
		if err := em.uow.Remove(e); err != nil {
			return err
		}
	}
	return nil
}

// Assign sets attribute values by struct field name
func (em *EntityManager) Assign(entity any, values map[string]any) error {
	return em.uow.Assign(entity, values)
}

// Flush writes pending changes and returns the applied change sets
func (em *EntityManager) Flush(ctx context.Context) ([]*uow.ChangeSet, error) {
	return em.uow.Flush(ctx)
}

// PersistAndFlush persists entities and flushes immediately
func (em *EntityManager) PersistAndFlush(ctx context.Context, entities ...any) ([]*uow.ChangeSet, error) {
	if err := em.Persist(entities...); err != nil {
		return nil, err
	}
	return em.Flush(ctx)
}

// Clear detaches every entity from the session
func (em *EntityManager) Clear() {
	em.uow.Clear()
}

// InsertRows writes rows straight to storage, bypassing the unit of work.
// Row keys are struct field or relation names; a relation accepts an entity
// or a key. Versioned rows without a version get the initial version.
// It returns the number of inserted rows.
func (em *EntityManager) InsertRows(ctx context.Context, entity string, rows []map[string]any) (int64, error) {
	meta, err := em.registry.Entity(entity)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	withKey := false
	for _, row := range rows {
		if v, ok := row[meta.PrimaryKey.Name]; ok && !schema.IsZeroKey(v) {
			withKey = true
			break
		}
	}

	var columns []string
	var fields []string
	if withKey {
		columns = append(columns, meta.PrimaryKey.Column)
		fields = append(fields, meta.PrimaryKey.Name)
	}
	if meta.Versioned() {
		columns = append(columns, meta.Version.Column)
		fields = append(fields, meta.Version.Name)
	}
	for _, f := range meta.Attributes {
		columns = append(columns, f.Column)
		fields = append(fields, f.Name)
	}
	owning := meta.Owning()
	for _, a := range owning {
		columns = append(columns, a.ForeignKey)
		fields = append(fields, a.Name)
	}

	initialVersion := em.opts.InitialVersion
	if initialVersion == 0 {
		initialVersion = 1
	}

	values := make([][]any, 0, len(rows))
	for i, row := range rows {
		if err := checkRowFields(meta, row); err != nil {
			return 0, fmt.Errorf("insert %s row %d: %w", meta.Name, i, err)
		}
		vals := make([]any, len(fields))
		for j, name := range fields {
			v := row[name]
			switch {
			case meta.Versioned() && name == meta.Version.Name && v == nil:
				v = initialVersion
			case j >= len(fields)-len(owning):
				a := owning[j-(len(fields)-len(owning))]
				if v != nil && a.Target.Owns(v) {
					v = a.Target.KeyOf(v)
				}
			}
			vals[j] = v
		}
		values = append(values, vals)
	}

	res, err := em.engine.Insert(ctx, db.InsertStatement{Table: meta.Table, Columns: columns, Rows: values})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// InvalidateCache drops every cached row of the named entity
func (em *EntityManager) InvalidateCache(ctx context.Context, entity string) error {
	if em.cache == nil {
		return nil
	}
	meta, err := em.registry.Entity(entity)
	if err != nil {
		return err
	}
	return em.cache.Purge(ctx, meta.Table)
}

// checkRowFields rejects names that map to no column
func checkRowFields(meta *schema.Entity, row map[string]any) error {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := meta.Attribute(name); ok {
			continue
		}
		if a, ok := meta.Relation(name); ok && a.Kind == schema.ManyToOne {
			continue
		}
		return fmt.Errorf("unknown field %s", name)
	}
	return nil
}
