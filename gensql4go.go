// Package sql4go is a GORM-based persistence layer with a unit of work:
// an identity map, snapshot-based change tracking and optimistic locking,
// plus an optional Redis row cache.
package sql4go

import (
	"fmt"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/redis"
	"github.com/ammar0144/sql4go/pkg/repository"
	"github.com/ammar0144/sql4go/pkg/schema"
	"github.com/ammar0144/sql4go/pkg/uow"
)

// DatabaseConfig represents database configuration
type DatabaseConfig = db.Config

// RedisConfig represents Redis configuration
type RedisConfig = redis.Config

// Declaration describes one entity type
type Declaration = schema.Declaration

// Relation declares a relationship field
type Relation = schema.Relation

// EntityManager is the session facade
type EntityManager = repository.EntityManager

// Options configures units of work
type Options = uow.Options

// Repository provides typed reads over one entity type
type Repository[T any] interface {
	repository.Repository[T]
}

// ORM owns the connections and hands out entity managers
type ORM struct {
	registry *schema.Registry
	db       *db.Manager
	redis    *redis.Manager
	cache    *redis.RowCache
	opts     uow.Options
	em       *repository.EntityManager
}

// Open connects to the configured database and, when enabled, Redis. Settings
// from cfg.UnitOfWork fill the fields left zero in opts.
func Open(cfg *Config, registry *schema.Registry, opts uow.Options) (*ORM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	dbManager, err := db.NewManager(&cfg.Database)
	if err != nil {
		return nil, err
	}

	o := &ORM{registry: registry, db: dbManager}
	if cfg.Redis.Enabled {
		redisManager, err := redis.NewManager(&cfg.Redis)
		if err != nil {
			dbManager.Close()
			return nil, err
		}
		o.redis = redisManager
		o.cache = redis.NewRowCache(redisManager, dbManager.DatabaseName(), opts.Logger)
	}

	if !opts.Transactional {
		opts.Transactional = cfg.UnitOfWork.Transactional
	}
	if opts.InitialVersion == 0 {
		opts.InitialVersion = cfg.UnitOfWork.InitialVersion
	}
	o.opts = opts
	o.em = o.newEntityManager()
	return o, nil
}

func (o *ORM) newEntityManager() *repository.EntityManager {
	return repository.NewEntityManager(o.registry, o.db.Engine(), o.cache, o.opts)
}

// EntityManager returns the default session
func (o *ORM) EntityManager() *repository.EntityManager {
	return o.em
}

// Fork returns a new independent session
func (o *ORM) Fork() *repository.EntityManager {
	return o.newEntityManager()
}

// DB returns the database manager
func (o *ORM) DB() *db.Manager {
	return o.db
}

// Redis returns the Redis manager, nil when the cache is disabled
func (o *ORM) Redis() *redis.Manager {
	return o.redis
}

// Close closes the Redis and database connections
func (o *ORM) Close() error {
	if o.redis != nil {
		if err := o.redis.Close(); err != nil {
			o.db.Close()
			return err
		}
	}
	return o.db.Close()
}

// NewRegistry compiles entity declarations
func NewRegistry(decls ...Declaration) (*schema.Registry, error) {
	return schema.NewRegistry(decls...)
}

// NewRepository creates a typed repository bound to an entity manager
func NewRepository[T any](em *EntityManager) (Repository[T], error) {
	return repository.NewGenericRepository[T](em)
}
