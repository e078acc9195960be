package uow

import (
	"github.com/ammar0144/sql4go/pkg/schema"
)

// ChangeType is the write a change set will issue
type ChangeType int

const (
	ChangeCreate ChangeType = iota + 1
	ChangeUpdate
	ChangeDelete
)

func (t ChangeType) String() string {
	switch t {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeSet is a view over one pending entity. Payload is the diff as computed;
// Entity is the live instance, so writes applied by a flush (generated keys,
// version increments) are visible through a change set computed before it.
type ChangeSet struct {
	Type    ChangeType
	Meta    *schema.Entity
	Entity  any
	Payload Changes

	// owning relations a create leaves NULL because their target is inserted
	// later in the same flush
	deferred []*schema.Association
}

// Name returns the entity name
func (cs *ChangeSet) Name() string {
	return cs.Meta.Name
}

// Key returns the entity's current primary key
func (cs *ChangeSet) Key() any {
	return cs.Meta.KeyOf(cs.Entity)
}

// Version returns the entity's current version
func (cs *ChangeSet) Version() int64 {
	return cs.Meta.VersionOf(cs.Entity)
}

// Value returns the live value of an attribute
func (cs *ChangeSet) Value(attribute string) (any, bool) {
	f, ok := cs.Meta.Attribute(attribute)
	if !ok {
		return nil, false
	}
	return f.Get(cs.Entity), true
}

// ComputeChangeSets diffs every pending entity against its snapshot. Creates
// come first, each after the pending instances it references; updates follow
// in commit order (parent types before child types, then the order entities
// entered the unit of work); deletes run in reverse. Change sets computed
// earlier for the same instance are updated in place rather than replaced.
// Snapshots are not touched.
func (u *UnitOfWork) ComputeChangeSets() ([]*ChangeSet, error) {
	if err := u.cascadePersist(); err != nil {
		return nil, err
	}

	previous := make(map[any]*ChangeSet, len(u.changeSets))
	for _, cs := range u.changeSets {
		previous[cs.Entity] = cs
	}

	var creates, updates, deletes []*ChangeSet
	for _, e := range u.ordered() {
		var typ ChangeType
		var payload Changes

		switch {
		case e.state == stateNew:
			typ, payload = ChangeCreate, u.snapshots.Diff(e.meta, e.obj)
		case e.state == stateRemoved:
			typ = ChangeDelete
		case e.initialized:
			payload = u.snapshots.Diff(e.meta, e.obj)
			if len(payload) == 0 {
				continue
			}
			typ = ChangeUpdate
		default:
			continue
		}

		if typ != ChangeDelete {
			if err := u.checkReferences(e); err != nil {
				return nil, &FlushError{Op: OpCompute, Entity: e.meta.Name, Key: e.meta.KeyOf(e.obj), Err: err}
			}
		}

		cs, ok := previous[e.obj]
		if !ok {
			cs = &ChangeSet{Meta: e.meta, Entity: e.obj}
		}
		cs.Type = typ
		cs.Payload = payload
		cs.deferred = nil

		switch typ {
		case ChangeCreate:
			creates = append(creates, cs)
		case ChangeUpdate:
			updates = append(updates, cs)
		case ChangeDelete:
			deletes = append(deletes, cs)
		}
	}

	// every insert runs before the updates, so an update may point at a row
	// created in the same flush; deletes run children first
	sets := orderCreates(creates)
	sets = append(sets, updates...)
	for i := len(deletes) - 1; i >= 0; i-- {
		sets = append(sets, deletes[i])
	}

	u.changeSets = sets
	return u.ChangeSets(), nil
}

// ChangeSets returns the change sets of the last computation
func (u *UnitOfWork) ChangeSets() []*ChangeSet {
	out := make([]*ChangeSet, len(u.changeSets))
	copy(out, u.changeSets)
	return out
}

// checkReferences rejects owning relations that point at removed instances or
// at unsaved instances the unit of work does not know
func (u *UnitOfWork) checkReferences(e *entry) error {
	for _, a := range e.meta.Owning() {
		target := a.Get(e.obj)
		if target == nil {
			continue
		}
		te, tracked := u.entries[target]
		switch {
		case tracked && te.state == stateRemoved:
			return errorf(ErrUnresolvedRelationship, "%s.%s references removed %s#%v",
				e.meta.Name, a.Name, a.Target.Name, a.Target.KeyOf(target))
		case !tracked && schema.IsZeroKey(a.Target.KeyOf(target)):
			return errorf(ErrUnresolvedRelationship, "%s.%s references an unsaved %s",
				e.meta.Name, a.Name, a.Target.Name)
		}
	}
	return nil
}

// orderCreates puts every create after the pending creates its owning
// relations point at, including instances of its own type. Input order (type
// commit order, then arrival) is kept where no dependency forces otherwise. A
// relation that closes a cycle is deferred: the insert writes NULL and the
// flush sets the key once the target exists.
func orderCreates(creates []*ChangeSet) []*ChangeSet {
	pending := make(map[any]*ChangeSet, len(creates))
	for _, cs := range creates {
		pending[cs.Entity] = cs
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*ChangeSet]int, len(creates))
	out := make([]*ChangeSet, 0, len(creates))

	var visit func(cs *ChangeSet)
	visit = func(cs *ChangeSet) {
		state[cs] = visiting
		for _, a := range cs.Meta.Owning() {
			target := a.Get(cs.Entity)
			if target == nil {
				continue
			}
			dep, ok := pending[target]
			if !ok {
				continue
			}
			switch state[dep] {
			case visiting:
				cs.deferred = append(cs.deferred, a)
			case 0:
				visit(dep)
			}
		}
		state[cs] = done
		out = append(out, cs)
	}
	for _, cs := range creates {
		if state[cs] == 0 {
			visit(cs)
		}
	}
	return out
}
