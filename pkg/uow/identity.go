package uow

import (
	"fmt"

	"github.com/ammar0144/sql4go/pkg/schema"
)

type identityKey struct {
	entity string
	key    any
}

// IdentityMap guarantees one in-memory instance per stored row
type IdentityMap struct {
	items map[identityKey]any
}

// NewIdentityMap creates an empty identity map
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{items: make(map[identityKey]any)}
}

// Register stores obj under its key. Registering the same instance twice is a
// no-op; a different instance for an occupied key is ErrDuplicateIdentity.
func (m *IdentityMap) Register(meta *schema.Entity, key any, obj any) error {
	k := identityKey{entity: meta.Name, key: schema.NormalizeKey(key)}
	if existing, ok := m.items[k]; ok {
		if existing == obj {
			return nil
		}
		return fmt.Errorf("%w: %s#%v", ErrDuplicateIdentity, meta.Name, k.key)
	}
	m.items[k] = obj
	return nil
}

// Lookup returns the managed instance for a key
func (m *IdentityMap) Lookup(meta *schema.Entity, key any) (any, bool) {
	obj, ok := m.items[identityKey{entity: meta.Name, key: schema.NormalizeKey(key)}]
	return obj, ok
}

// Forget detaches the instance stored under a key
func (m *IdentityMap) Forget(meta *schema.Entity, key any) {
	delete(m.items, identityKey{entity: meta.Name, key: schema.NormalizeKey(key)})
}

// Len returns the number of tracked instances
func (m *IdentityMap) Len() int {
	return len(m.items)
}

// Clear detaches everything
func (m *IdentityMap) Clear() {
	m.items = make(map[identityKey]any)
}
