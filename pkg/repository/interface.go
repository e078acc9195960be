package repository

import (
	"context"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
)

// Repository defines typed reads over one entity type. Every instance it
// returns is managed by the owning EntityManager; writes go through it.
type Repository[T any] interface {
	// Queries (Identity Map First)
	FindByID(ctx context.Context, id interface{}) (*T, error)
	FindAll(ctx context.Context, opts ...FindOption) ([]*T, error)
	FindWhere(ctx context.Context, conditions []db.Condition, opts ...FindOption) ([]*T, error)
	First(ctx context.Context, conditions []db.Condition, opts ...FindOption) (*T, error)
	Exists(ctx context.Context, id interface{}) (bool, error)

	// Relationships
	Reference(id interface{}) (*T, error)
	Populate(ctx context.Context, entities []*T, paths ...string) error

	// Metadata and Cache Management
	Meta() *schema.Entity
	InvalidateCache(ctx context.Context) error
}

// FindOption tunes a query
type FindOption func(*findOptions)

type findOptions struct {
	populate []string
	orderBy  []string
	limit    int
}

// Populate loads relation paths with the result, e.g. "TestCase" or
// "Revisions.TestCase"
func Populate(paths ...string) FindOption {
	return func(o *findOptions) {
		o.populate = append(o.populate, paths...)
	}
}

// OrderBy sorts by columns; prefix a column with "-" for descending order
func OrderBy(columns ...string) FindOption {
	return func(o *findOptions) {
		o.orderBy = append(o.orderBy, columns...)
	}
}

// Limit caps the number of rows read
func Limit(n int) FindOption {
	return func(o *findOptions) {
		o.limit = n
	}
}
