// Package schema holds the entity declaration surface: explicit metadata structs
// describing primary keys, optimistic version attributes and relationships,
// compiled once into an immutable Registry.
package schema

import (
	"errors"
	"reflect"
)

// ErrUnknownEntity is returned when an object or name has no registered declaration
var ErrUnknownEntity = errors.New("unknown entity")

// RelationKind identifies which side of a foreign-key association a field represents
type RelationKind int

const (
	// ManyToOne is the owning side; the declaring table stores the foreign key
	ManyToOne RelationKind = iota + 1
	// OneToMany is the inverse side; a virtual collection of owning entities
	OneToMany
)

func (k RelationKind) String() string {
	switch k {
	case ManyToOne:
		return "many_to_one"
	case OneToMany:
		return "one_to_many"
	default:
		return "unknown"
	}
}

// Relation declares a relationship field of an entity.
//
// A ManyToOne field must be a pointer to the target struct. A OneToMany field
// must be a slice of pointers to the target struct and names the owning
// ManyToOne field on the target through MappedBy.
type Relation struct {
	Field      string
	Kind       RelationKind
	Target     string
	ForeignKey string // column on the owning table, defaults to <field>_id
	MappedBy   string
}

// Declaration describes one entity type. Only Model is required; everything
// else falls back to GORM naming conventions.
type Declaration struct {
	Model      any // pointer to the struct, e.g. (*User)(nil)
	Name       string
	Table      string
	PrimaryKey string // field name, defaults to ID
	Version    string // optional optimistic version field
	Attributes []string
	Relations  []Relation
}

// Field is a mapped struct field
type Field struct {
	Name   string
	Column string
	Type   reflect.Type
	index  []int
}

// Association is a compiled relationship
type Association struct {
	Name       string
	Kind       RelationKind
	Owner      *Entity
	Target     *Entity
	ForeignKey string       // ManyToOne: column on Owner; OneToMany: column on Target
	MappedBy   *Association // the opposite side, nil for a ManyToOne without inverse
	index      []int
}

// Entity is the compiled metadata for one declared type
type Entity struct {
	Name       string
	Table      string
	Type       reflect.Type
	PrimaryKey *Field
	Version    *Field
	Attributes []*Field
	Relations  []*Association

	order      int
	attrByName map[string]*Field
	relByName  map[string]*Association
}

// Attribute returns a plain, key or version field by struct field name
func (e *Entity) Attribute(name string) (*Field, bool) {
	f, ok := e.attrByName[name]
	return f, ok
}

// Relation returns the association declared on the given field
func (e *Entity) Relation(name string) (*Association, bool) {
	a, ok := e.relByName[name]
	return a, ok
}

// Owning returns the ManyToOne associations in declaration order
func (e *Entity) Owning() []*Association {
	var out []*Association
	for _, a := range e.Relations {
		if a.Kind == ManyToOne {
			out = append(out, a)
		}
	}
	return out
}

// Versioned reports whether the entity uses optimistic locking
func (e *Entity) Versioned() bool {
	return e.Version != nil
}

// Order is the entity's position in commit order (parents first)
func (e *Entity) Order() int {
	return e.order
}
