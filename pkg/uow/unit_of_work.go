// Package uow implements the unit of work: an identity map, per-entity
// snapshots, change-set computation and an ordered flush with optimistic
// version checks.
//
// A UnitOfWork is owned by one logical session and is not safe for concurrent
// use. Concurrent sessions must each create their own.
package uow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
)

// Options configures a unit of work
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Cache   RowCache

	// Transactional wraps each flush in one storage transaction and rolls the
	// in-memory state back if it fails
	Transactional bool

	// InitialVersion is assigned to versioned entities inserted with a zero version
	InitialVersion int64
}

type entityState int

const (
	stateNew entityState = iota + 1
	stateManaged
	stateRemoved
)

type entry struct {
	meta        *schema.Entity
	obj         any
	state       entityState
	initialized bool // false for references that only carry a key
	seq         uint64
}

// UnitOfWork tracks entities of one session and writes their changes on Flush
type UnitOfWork struct {
	registry *schema.Registry
	engine   db.Engine
	opts     Options
	logger   *slog.Logger

	identity   *IdentityMap
	snapshots  *SnapshotStore
	entries    map[any]*entry
	seq        uint64
	changeSets []*ChangeSet

	flushMu sync.Mutex
}

// New creates a unit of work over a storage engine
func New(registry *schema.Registry, engine db.Engine, opts Options) *UnitOfWork {
	if opts.InitialVersion == 0 {
		opts.InitialVersion = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UnitOfWork{
		registry:  registry,
		engine:    engine,
		opts:      opts,
		logger:    logger,
		identity:  NewIdentityMap(),
		snapshots: NewSnapshotStore(),
		entries:   make(map[any]*entry),
	}
}

// Registry returns the entity metadata
func (u *UnitOfWork) Registry() *schema.Registry {
	return u.registry
}

// IdentityMap exposes the identity map
func (u *UnitOfWork) IdentityMap() *IdentityMap {
	return u.identity
}

// Snapshots exposes the snapshot store
func (u *UnitOfWork) Snapshots() *SnapshotStore {
	return u.snapshots
}

// Contains reports whether obj is tracked, including pending inserts
func (u *UnitOfWork) Contains(obj any) bool {
	_, ok := u.entries[obj]
	return ok
}

// IsInitialized reports whether a tracked instance holds loaded data rather
// than just a key
func (u *UnitOfWork) IsInitialized(obj any) bool {
	e, ok := u.entries[obj]
	return ok && e.initialized
}

// Persist marks new entities for insertion. Managed entities are left as
// they are and removed ones are restored.
func (u *UnitOfWork) Persist(objs ...any) error {
	for _, obj := range objs {
		if err := u.persist(obj); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) persist(obj any) error {
	meta, err := u.registry.EntityOf(obj)
	if err != nil {
		return err
	}
	if reflect.ValueOf(obj).IsNil() {
		return fmt.Errorf("persist %s: nil instance", meta.Name)
	}
	if e, ok := u.entries[obj]; ok {
		if e.state == stateRemoved {
			e.state = stateManaged
		}
		return nil
	}
	if key := meta.KeyOf(obj); !schema.IsZeroKey(key) {
		if existing, ok := u.identity.Lookup(meta, key); ok && existing != obj {
			return errorf(ErrDuplicateIdentity, "%s#%v is already managed by another instance", meta.Name, key)
		}
	}
	u.track(meta, obj, stateNew, true)
	return nil
}

// Remove marks a tracked entity for deletion. A pending insert is simply dropped.
func (u *UnitOfWork) Remove(obj any) error {
	e, ok := u.entries[obj]
	if !ok {
		return fmt.Errorf("remove %T: %w", obj, ErrNotManaged)
	}
	if e.state == stateNew {
		delete(u.entries, obj)
		return nil
	}
	e.state = stateRemoved
	return nil
}

// Assign applies attribute values to an entity without touching its snapshot.
// Keys are struct field names; a many-to-one relation accepts an entity
// instance, a key (resolved to a reference) or nil.
func (u *UnitOfWork) Assign(obj any, values map[string]any) error {
	meta, err := u.registry.EntityOf(obj)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := values[name]
		if a, ok := meta.Relation(name); ok {
			if a.Kind != schema.ManyToOne {
				return fmt.Errorf("assign %s.%s: collections cannot be assigned", meta.Name, name)
			}
			target, err := u.toReference(a.Target, v)
			if err != nil {
				return fmt.Errorf("assign %s.%s: %w", meta.Name, name, err)
			}
			a.Set(obj, target)
			continue
		}
		f, ok := meta.Attribute(name)
		if !ok {
			return fmt.Errorf("assign: %s has no attribute %s", meta.Name, name)
		}
		if f == meta.PrimaryKey && u.Contains(obj) {
			return fmt.Errorf("assign %s.%s: primary key of a managed entity is immutable", meta.Name, name)
		}
		if err := f.Set(obj, v); err != nil {
			return fmt.Errorf("assign %s: %w", meta.Name, err)
		}
	}
	return nil
}

// toReference resolves a relation value given as an instance or a key
func (u *UnitOfWork) toReference(meta *schema.Entity, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		if !meta.Owns(v) {
			return nil, fmt.Errorf("expected *%s, got %T", meta.Type.Name(), v)
		}
		return v, nil
	}
	return u.Reference(meta, v)
}

// Clear detaches every entity and drops pending work
func (u *UnitOfWork) Clear() {
	u.identity.Clear()
	u.snapshots.Clear()
	u.entries = make(map[any]*entry)
	u.changeSets = nil
	u.seq = 0
}

// Detach stops tracking one entity
func (u *UnitOfWork) Detach(obj any) {
	e, ok := u.entries[obj]
	if !ok {
		return
	}
	if key := e.meta.KeyOf(obj); !schema.IsZeroKey(key) {
		if existing, ok := u.identity.Lookup(e.meta, key); ok && existing == obj {
			u.identity.Forget(e.meta, key)
		}
	}
	u.snapshots.Forget(obj)
	delete(u.entries, obj)
}

func (u *UnitOfWork) track(meta *schema.Entity, obj any, state entityState, initialized bool) *entry {
	u.seq++
	e := &entry{meta: meta, obj: obj, state: state, initialized: initialized, seq: u.seq}
	u.entries[obj] = e
	return e
}

// ordered returns tracked entries by entity commit order, then arrival order
func (u *UnitOfWork) ordered() []*entry {
	out := make([]*entry, 0, len(u.entries))
	for _, e := range u.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if oi, oj := out[i].meta.Order(), out[j].meta.Order(); oi != oj {
			return oi < oj
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// cascadePersist tracks unsaved instances reachable from tracked ones. New
// collection members get their owning side pointed at the collection owner.
func (u *UnitOfWork) cascadePersist() error {
	var queue []*entry
	for _, e := range u.ordered() {
		if e.state != stateRemoved && e.initialized {
			queue = append(queue, e)
		}
	}

	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		for _, a := range e.meta.Relations {
			var related []any
			if a.Kind == schema.ManyToOne {
				if target := a.Get(e.obj); target != nil {
					related = append(related, target)
				}
			} else {
				related = a.Items(e.obj)
			}

			for _, r := range related {
				if a.Kind == schema.OneToMany && a.MappedBy.Get(r) == nil {
					a.MappedBy.Set(r, e.obj)
				}
				if _, tracked := u.entries[r]; tracked {
					continue
				}
				if !schema.IsZeroKey(a.Target.KeyOf(r)) {
					// detached instance with a key acts as a reference
					continue
				}
				queue = append(queue, u.track(a.Target, r, stateNew, true))
			}
		}
	}
	return nil
}

// Flush writes every pending change: inserts in dependency order, foreign
// keys those inserts had to defer, updates in commit order, then deletes
// children first. It returns the applied change sets, which are the same
// objects ComputeChangeSets handed out.
func (u *UnitOfWork) Flush(ctx context.Context) ([]*ChangeSet, error) {
	u.flushMu.Lock()
	defer u.flushMu.Unlock()

	start := time.Now()
	sets, err := u.ComputeChangeSets()
	if err != nil {
		u.opts.Metrics.observeFlush(flushResultError, time.Since(start))
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}

	u.logger.Debug("flush started", "change_sets", len(sets), "transactional", u.opts.Transactional)

	var journal undoJournal
	touched := make(map[*schema.Entity][]any)
	creates := 0
	for creates < len(sets) && sets[creates].Type == ChangeCreate {
		creates++
	}
	run := func(engine db.Engine) error {
		for _, cs := range sets[:creates] {
			if err := u.apply(ctx, engine, cs, &journal, touched); err != nil {
				return err
			}
		}
		if err := u.linkDeferred(ctx, engine, sets[:creates], &journal); err != nil {
			return err
		}
		for _, cs := range sets[creates:] {
			if err := u.apply(ctx, engine, cs, &journal, touched); err != nil {
				return err
			}
		}
		return nil
	}

	if u.opts.Transactional {
		err = u.engine.Transaction(ctx, run)
		if err != nil {
			journal.rollback()
		}
	} else {
		err = run(u.engine)
	}
	u.invalidateCache(ctx, touched)

	if err != nil {
		result := flushResultError
		if IsOptimisticLock(err) {
			result = flushResultConflict
		}
		u.opts.Metrics.observeFlush(result, time.Since(start))
		u.logger.Warn("flush failed", "error", err)
		return nil, err
	}

	u.changeSets = nil
	u.opts.Metrics.observeFlush(flushResultOK, time.Since(start))
	u.logger.Debug("flush completed", "change_sets", len(sets), "duration", time.Since(start))
	return sets, nil
}

func (u *UnitOfWork) apply(ctx context.Context, engine db.Engine, cs *ChangeSet, j *undoJournal, touched map[*schema.Entity][]any) error {
	switch cs.Type {
	case ChangeCreate:
		return u.insert(ctx, engine, cs, j)
	case ChangeUpdate:
		touched[cs.Meta] = append(touched[cs.Meta], cs.Key())
		return u.update(ctx, engine, cs, j)
	case ChangeDelete:
		touched[cs.Meta] = append(touched[cs.Meta], cs.Key())
		return u.delete(ctx, engine, cs, j)
	}
	return fmt.Errorf("unknown change type %d", cs.Type)
}

func (u *UnitOfWork) insert(ctx context.Context, engine db.Engine, cs *ChangeSet, j *undoJournal) error {
	meta, obj := cs.Meta, cs.Entity
	e := u.entries[obj]

	key := meta.KeyOf(obj)
	generated := schema.IsZeroKey(key)
	if generated && meta.PrimaryKey.Type.Kind() == reflect.String {
		return &FlushError{Op: OpInsert, Entity: meta.Name, Err: fmt.Errorf("string primary key %s must be assigned", meta.PrimaryKey.Name)}
	}

	prevVersion := meta.VersionOf(obj)
	if meta.Versioned() && prevVersion == 0 {
		meta.SetVersion(obj, u.opts.InitialVersion)
	}

	var columns []string
	var values []any
	if !generated {
		columns = append(columns, meta.PrimaryKey.Column)
		values = append(values, meta.PrimaryKey.Get(obj))
	}
	if meta.Versioned() {
		columns = append(columns, meta.Version.Column)
		values = append(values, meta.Version.Get(obj))
	}
	for _, f := range meta.Attributes {
		columns = append(columns, f.Column)
		values = append(values, f.Get(obj))
	}
	for _, a := range meta.Owning() {
		columns = append(columns, a.ForeignKey)
		values = append(values, referencedKey(a, obj))
	}

	res, err := engine.Insert(ctx, db.InsertStatement{Table: meta.Table, Columns: columns, Rows: [][]any{values}})
	if err != nil {
		meta.SetVersion(obj, prevVersion)
		return &FlushError{Op: OpInsert, Entity: meta.Name, Key: nilIfZero(key), Err: err}
	}
	u.opts.Metrics.countStatement(OpInsert)

	if generated {
		if err := meta.SetKey(obj, res.LastInsertID); err != nil {
			return &FlushError{Op: OpInsert, Entity: meta.Name, Err: err}
		}
		key = meta.KeyOf(obj)
	}
	if err := u.identity.Register(meta, key, obj); err != nil {
		return &FlushError{Op: OpInsert, Entity: meta.Name, Key: key, Err: err}
	}

	j.record(func() {
		u.identity.Forget(meta, key)
		u.snapshots.Forget(obj)
		if generated {
			_ = meta.SetKey(obj, 0)
		}
		meta.SetVersion(obj, prevVersion)
		e.state = stateNew
	})

	e.state = stateManaged
	cs.Payload = u.snapshots.Diff(meta, obj)
	u.snapshots.Capture(meta, obj)

	u.logger.Debug("flush insert", "entity", meta.Name, "key", key, "version", meta.VersionOf(obj))
	return nil
}

// linkDeferred writes the foreign keys inserts left NULL because their
// targets were inserted after them. The rows are brand new, so the version
// is checked but not advanced.
func (u *UnitOfWork) linkDeferred(ctx context.Context, engine db.Engine, creates []*ChangeSet, j *undoJournal) error {
	for _, cs := range creates {
		if len(cs.deferred) == 0 {
			continue
		}
		meta, obj := cs.Meta, cs.Entity
		key := meta.KeyOf(obj)

		columns := make([]string, len(cs.deferred))
		values := make([]any, len(cs.deferred))
		for i, a := range cs.deferred {
			columns[i] = a.ForeignKey
			values[i] = referencedKey(a, obj)
		}
		where := []db.Condition{{Field: meta.PrimaryKey.Column, Operator: db.Equal, Value: key}}
		if meta.Versioned() {
			where = append(where, db.Condition{Field: meta.Version.Column, Operator: db.Equal, Value: meta.VersionOf(obj)})
		}

		res, err := engine.Update(ctx, db.UpdateStatement{Table: meta.Table, Columns: columns, Values: values, Where: where})
		if err != nil {
			return &FlushError{Op: OpUpdate, Entity: meta.Name, Key: key, Err: err}
		}
		u.opts.Metrics.countStatement(OpUpdate)
		if res.RowsAffected == 0 {
			return &FlushError{Op: OpUpdate, Entity: meta.Name, Key: key,
				Err: fmt.Errorf("row inserted in this flush is gone")}
		}

		prev, _ := u.snapshots.Get(obj)
		j.record(func() {
			u.snapshots.Restore(obj, prev, true)
		})
		u.snapshots.Capture(meta, obj)
		for i, a := range cs.deferred {
			for k := range cs.Payload {
				if cs.Payload[k].Attribute == a.Name {
					cs.Payload[k].New = values[i]
				}
			}
		}

		u.logger.Debug("flush link", "entity", meta.Name, "key", key, "columns", columns)
	}
	return nil
}

func (u *UnitOfWork) update(ctx context.Context, engine db.Engine, cs *ChangeSet, j *undoJournal) error {
	meta, obj := cs.Meta, cs.Entity

	// re-diff: the instance may have changed since the change set was computed
	changes := u.snapshots.Diff(meta, obj)
	cs.Payload = changes
	if len(changes) == 0 {
		return nil
	}

	key := meta.KeyOf(obj)
	columns := make([]string, 0, len(changes)+1)
	values := make([]any, 0, len(changes)+1)
	for _, ch := range changes {
		columns = append(columns, ch.Column)
		values = append(values, ch.New)
	}
	where := []db.Condition{{Field: meta.PrimaryKey.Column, Operator: db.Equal, Value: key}}

	expected := meta.VersionOf(obj)
	if meta.Versioned() {
		columns = append(columns, meta.Version.Column)
		values = append(values, expected+1)
		where = append(where, db.Condition{Field: meta.Version.Column, Operator: db.Equal, Value: expected})
	}

	res, err := engine.Update(ctx, db.UpdateStatement{Table: meta.Table, Columns: columns, Values: values, Where: where})
	if err != nil {
		return &FlushError{Op: OpUpdate, Entity: meta.Name, Key: key, Err: err}
	}
	u.opts.Metrics.countStatement(OpUpdate)

	if meta.Versioned() && res.RowsAffected == 0 {
		u.opts.Metrics.countConflict()
		u.logger.Warn("optimistic lock conflict", "entity", meta.Name, "key", key, "expected_version", expected)
		return &FlushError{Op: OpUpdate, Entity: meta.Name, Key: key,
			Err: &OptimisticLockError{Entity: meta.Name, Key: key, ExpectedVersion: expected}}
	}

	prev, _ := u.snapshots.Get(obj)
	j.record(func() {
		meta.SetVersion(obj, expected)
		u.snapshots.Restore(obj, prev, true)
	})

	if meta.Versioned() {
		meta.SetVersion(obj, expected+1)
	}
	u.snapshots.Capture(meta, obj)

	u.logger.Debug("flush update", "entity", meta.Name, "key", key, "version", meta.VersionOf(obj), "changes", len(changes))
	return nil
}

func (u *UnitOfWork) delete(ctx context.Context, engine db.Engine, cs *ChangeSet, j *undoJournal) error {
	meta, obj := cs.Meta, cs.Entity
	e := u.entries[obj]

	key := meta.KeyOf(obj)
	where := []db.Condition{{Field: meta.PrimaryKey.Column, Operator: db.Equal, Value: key}}
	checked := meta.Versioned() && e.initialized
	expected := meta.VersionOf(obj)
	if checked {
		where = append(where, db.Condition{Field: meta.Version.Column, Operator: db.Equal, Value: expected})
	}

	res, err := engine.Delete(ctx, db.DeleteStatement{Table: meta.Table, Where: where})
	if err != nil {
		return &FlushError{Op: OpDelete, Entity: meta.Name, Key: key, Err: err}
	}
	u.opts.Metrics.countStatement(OpDelete)

	if checked && res.RowsAffected == 0 {
		u.opts.Metrics.countConflict()
		u.logger.Warn("optimistic lock conflict", "entity", meta.Name, "key", key, "expected_version", expected)
		return &FlushError{Op: OpDelete, Entity: meta.Name, Key: key,
			Err: &OptimisticLockError{Entity: meta.Name, Key: key, ExpectedVersion: expected}}
	}

	prev, hadSnapshot := u.snapshots.Get(obj)
	j.record(func() {
		_ = u.identity.Register(meta, key, obj)
		u.snapshots.Restore(obj, prev, hadSnapshot)
		u.entries[obj] = e
	})

	u.identity.Forget(meta, key)
	u.snapshots.Forget(obj)
	delete(u.entries, obj)

	u.logger.Debug("flush delete", "entity", meta.Name, "key", key)
	return nil
}

// invalidateCache drops cached rows of updated and deleted entities. Cache
// errors are ignored - best effort.
func (u *UnitOfWork) invalidateCache(ctx context.Context, touched map[*schema.Entity][]any) {
	if u.opts.Cache == nil {
		return
	}
	for meta, keys := range touched {
		if err := u.opts.Cache.Invalidate(ctx, meta.Table, keys); err != nil {
			u.logger.Debug("row cache invalidation failed", "table", meta.Table, "error", err)
		}
	}
}

// undoJournal reverts in-memory effects of a rolled back transactional flush
type undoJournal []func()

func (j *undoJournal) record(fn func()) {
	*j = append(*j, fn)
}

func (j undoJournal) rollback() {
	for i := len(j) - 1; i >= 0; i-- {
		j[i]()
	}
}

func nilIfZero(key any) any {
	if schema.IsZeroKey(key) {
		return nil
	}
	return key
}
