package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
	"github.com/ammar0144/sql4go/pkg/uow"
)

// GenericRepository provides typed reads for one declared entity type
type GenericRepository[T any] struct {
	em   *EntityManager
	meta *schema.Entity
}

// NewGenericRepository creates a repository for T, which must be declared in
// the entity manager's registry
func NewGenericRepository[T any](em *EntityManager) (Repository[T], error) {
	// Obtain the reflect.Type for the generic type parameter T in a safe way
	entityType := reflect.TypeOf((*T)(nil)).Elem()
	if entityType.Kind() == reflect.Ptr {
		return nil, fmt.Errorf("repository type parameter must be a struct, got %v", entityType)
	}

	meta, ok := em.registry.TypeOf(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %v", schema.ErrUnknownEntity, entityType)
	}
	return &GenericRepository[T]{em: em, meta: meta}, nil
}

// MustRepository is NewGenericRepository for types known to be declared
func MustRepository[T any](em *EntityManager) Repository[T] {
	r, err := NewGenericRepository[T](em)
	if err != nil {
		panic(err)
	}
	return r
}

// Meta returns the entity metadata
func (r *GenericRepository[T]) Meta() *schema.Entity {
	return r.meta
}

// ============================================================================
// READ OPERATIONS - Identity Map First
// ============================================================================

// FindByID returns the entity with the given key; nil, nil when not found
func (r *GenericRepository[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	// Input validation
	if id == nil {
		return nil, fmt.Errorf("id cannot be nil")
	}

	// Check if context is already cancelled
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled before operation: %w", err)
	}

	obj, err := r.em.uow.FindByKey(ctx, r.meta, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s by id: %w", r.meta.Name, err)
	}
	if obj == nil {
		return nil, nil // Not found, not an error
	}
	return obj.(*T), nil
}

// FindAll returns every entity ordered by primary key unless OrderBy is given
func (r *GenericRepository[T]) FindAll(ctx context.Context, opts ...FindOption) ([]*T, error) {
	return r.FindWhere(ctx, nil, opts...)
}

// FindWhere returns the entities matching every condition
func (r *GenericRepository[T]) FindWhere(ctx context.Context, conditions []db.Condition, opts ...FindOption) ([]*T, error) {
	q := buildQuery(opts)
	q.Where = conditions

	objs, err := r.em.uow.Find(ctx, r.meta, q)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", r.meta.Name, err)
	}
	return typed[T](objs), nil
}

// First returns the first matching entity; nil, nil when none matches
func (r *GenericRepository[T]) First(ctx context.Context, conditions []db.Condition, opts ...FindOption) (*T, error) {
	entities, err := r.FindWhere(ctx, conditions, append(opts, Limit(1))...)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// Exists checks whether an entity with the given key is stored
func (r *GenericRepository[T]) Exists(ctx context.Context, id interface{}) (bool, error) {
	entity, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return entity != nil, nil
}

// Reference returns the managed instance for id without loading it
func (r *GenericRepository[T]) Reference(id interface{}) (*T, error) {
	obj, err := r.em.uow.Reference(r.meta, id)
	if err != nil {
		return nil, err
	}
	return obj.(*T), nil
}

// Populate loads relation paths for entities
func (r *GenericRepository[T]) Populate(ctx context.Context, entities []*T, paths ...string) error {
	objs := make([]any, len(entities))
	for i, e := range entities {
		objs[i] = e
	}
	return r.em.uow.Populate(ctx, r.meta, objs, paths...)
}

// InvalidateCache drops every cached row of this entity type
func (r *GenericRepository[T]) InvalidateCache(ctx context.Context) error {
	if r.em.cache == nil {
		return nil
	}
	return r.em.cache.Purge(ctx, r.meta.Table)
}

func buildQuery(opts []FindOption) uow.Query {
	var o findOptions
	for _, opt := range opts {
		opt(&o)
	}
	return uow.Query{OrderBy: o.orderBy, Limit: o.limit, Populate: o.populate}
}

func typed[T any](objs []any) []*T {
	out := make([]*T, len(objs))
	for i, obj := range objs {
		out[i] = obj.(*T)
	}
	return out
}
