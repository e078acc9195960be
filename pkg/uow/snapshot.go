package uow

import (
	"reflect"

	"github.com/ammar0144/sql4go/pkg/schema"
)

// Change is one attribute whose value differs from the snapshot
type Change struct {
	Attribute string // struct field name, or relation name for foreign keys
	Column    string
	Old       any
	New       any
}

// Changes is an ordered diff: plain attributes first, then owning foreign keys
type Changes []Change

// Has reports whether the attribute changed
func (c Changes) Has(attribute string) bool {
	for _, ch := range c {
		if ch.Attribute == attribute {
			return true
		}
	}
	return false
}

// Values maps attribute names to their new values
func (c Changes) Values() map[string]any {
	out := make(map[string]any, len(c))
	for _, ch := range c {
		out[ch.Attribute] = ch.New
	}
	return out
}

// Snapshot is the last durably persisted state of one entity. It is never
// mutated after capture.
type Snapshot struct {
	values map[string]any
}

// Get returns a captured attribute value
func (s Snapshot) Get(attribute string) (any, bool) {
	v, ok := s.values[attribute]
	return v, ok
}

// SnapshotStore keeps the diff baseline of every managed entity
type SnapshotStore struct {
	byObj map[any]Snapshot
}

// NewSnapshotStore creates an empty store
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{byObj: make(map[any]Snapshot)}
}

// Capture records obj's current values, replacing any previous snapshot
func (s *SnapshotStore) Capture(meta *schema.Entity, obj any) Snapshot {
	snap := Snapshot{values: readState(meta, obj)}
	s.byObj[obj] = snap
	return snap
}

// Get returns the snapshot of obj
func (s *SnapshotStore) Get(obj any) (Snapshot, bool) {
	snap, ok := s.byObj[obj]
	return snap, ok
}

// Diff returns the attributes of obj that differ from its snapshot. An entity
// never captured reports every attribute as changed. Diff never advances the
// baseline; only Capture does.
func (s *SnapshotStore) Diff(meta *schema.Entity, obj any) Changes {
	current := readState(meta, obj)
	snap, captured := s.byObj[obj]

	var changes Changes
	visit := func(attribute, column string) {
		cur := current[attribute]
		if captured {
			old := snap.values[attribute]
			if reflect.DeepEqual(old, cur) {
				return
			}
			changes = append(changes, Change{Attribute: attribute, Column: column, Old: old, New: cur})
			return
		}
		changes = append(changes, Change{Attribute: attribute, Column: column, New: cur})
	}
	for _, f := range meta.Attributes {
		visit(f.Name, f.Column)
	}
	for _, a := range meta.Owning() {
		visit(a.Name, a.ForeignKey)
	}
	return changes
}

// Forget drops the snapshot of obj
func (s *SnapshotStore) Forget(obj any) {
	delete(s.byObj, obj)
}

// Restore puts back a snapshot taken earlier, used when a flush is rolled back
func (s *SnapshotStore) Restore(obj any, snap Snapshot, existed bool) {
	if !existed {
		delete(s.byObj, obj)
		return
	}
	s.byObj[obj] = snap
}

// Len returns the number of snapshots
func (s *SnapshotStore) Len() int {
	return len(s.byObj)
}

// Clear drops every snapshot
func (s *SnapshotStore) Clear() {
	s.byObj = make(map[any]Snapshot)
}

// readState copies the persistent state of obj: key, version, plain
// attributes and the keys referenced by owning relations
func readState(meta *schema.Entity, obj any) map[string]any {
	values := make(map[string]any, len(meta.Attributes)+len(meta.Relations)+2)
	values[meta.PrimaryKey.Name] = meta.PrimaryKey.Get(obj)
	if meta.Version != nil {
		values[meta.Version.Name] = meta.Version.Get(obj)
	}
	for _, f := range meta.Attributes {
		values[f.Name] = copyValue(f.Get(obj))
	}
	for _, a := range meta.Owning() {
		values[a.Name] = referencedKey(a, obj)
	}
	return values
}

// referencedKey is the foreign key an owning relation currently points at
func referencedKey(a *schema.Association, obj any) any {
	target := a.Get(obj)
	if target == nil {
		return nil
	}
	key := a.Target.KeyOf(target)
	if schema.IsZeroKey(key) {
		return nil
	}
	return key
}

// copyValue detaches slices so later in-place edits show up in a diff
func copyValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return v
	}
	cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(cp, rv)
	return cp.Interface()
}
