package schema

import (
	"fmt"
	"reflect"
	"sort"

	gormschema "gorm.io/gorm/schema"
)

// Registry holds every compiled entity. It is immutable once built and safe
// to share between units of work.
type Registry struct {
	entities []*Entity
	byName   map[string]*Entity
	byType   map[reflect.Type]*Entity
	naming   gormschema.Namer
}

// NewRegistry compiles declarations using GORM's default naming strategy
func NewRegistry(decls ...Declaration) (*Registry, error) {
	return NewRegistryWithNamer(gormschema.NamingStrategy{}, decls...)
}

// NewRegistryWithNamer compiles declarations with a custom GORM namer
func NewRegistryWithNamer(namer gormschema.Namer, decls ...Declaration) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*Entity, len(decls)),
		byType: make(map[reflect.Type]*Entity, len(decls)),
		naming: namer,
	}

	// First pass: scalar fields, so relations can reference any entity
	for i, decl := range decls {
		e, err := r.compileFields(decl)
		if err != nil {
			return nil, fmt.Errorf("declaration %d: %w", i, err)
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("entity %s declared twice", e.Name)
		}
		r.entities = append(r.entities, e)
		r.byName[e.Name] = e
		r.byType[e.Type] = e
	}

	// Second pass: relations
	for i, decl := range decls {
		if err := r.compileRelations(r.entities[i], decl.Relations); err != nil {
			return nil, fmt.Errorf("entity %s: %w", r.entities[i].Name, err)
		}
	}
	for _, e := range r.entities {
		if err := r.linkInverse(e); err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.Name, err)
		}
	}

	r.computeCommitOrder()
	return r, nil
}

// MustRegistry is NewRegistry that panics on error, for package-level setup
func MustRegistry(decls ...Declaration) *Registry {
	r, err := NewRegistry(decls...)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity looks up an entity by name
func (r *Registry) Entity(name string) (*Entity, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return e, nil
}

// EntityOf returns the metadata for a pointer to a declared struct
func (r *Registry) EntityOf(obj any) (*Entity, error) {
	t := reflect.TypeOf(obj)
	if t == nil || t.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("%w: expected pointer to struct, got %T", ErrUnknownEntity, obj)
	}
	e, ok := r.byType[t.Elem()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, t.Elem())
	}
	return e, nil
}

// TypeOf returns the metadata for a struct type
func (r *Registry) TypeOf(t reflect.Type) (*Entity, bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	e, ok := r.byType[t]
	return e, ok
}

// Entities returns all entities in commit order
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, len(r.entities))
	copy(out, r.entities)
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

func (r *Registry) compileFields(decl Declaration) (*Entity, error) {
	t := reflect.TypeOf(decl.Model)
	if t == nil {
		return nil, fmt.Errorf("model is required")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model %s is not a struct", t)
	}

	e := &Entity{
		Name:       decl.Name,
		Table:      decl.Table,
		Type:       t,
		attrByName: make(map[string]*Field),
		relByName:  make(map[string]*Association),
	}
	if e.Name == "" {
		e.Name = t.Name()
	}
	if e.Table == "" {
		e.Table = r.naming.TableName(t.Name())
	}

	pkName := decl.PrimaryKey
	if pkName == "" {
		pkName = "ID"
	}
	pk, err := r.field(t, pkName)
	if err != nil {
		return nil, fmt.Errorf("primary key: %w", err)
	}
	if !isKeyKind(pk.Type.Kind()) {
		return nil, fmt.Errorf("primary key %s must be an integer or string, got %s", pkName, pk.Type)
	}
	e.PrimaryKey = pk
	e.attrByName[pk.Name] = pk

	if decl.Version != "" {
		v, err := r.field(t, decl.Version)
		if err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
		if !isIntegerKind(v.Type.Kind()) {
			return nil, fmt.Errorf("version %s must be an integer, got %s", decl.Version, v.Type)
		}
		e.Version = v
		e.attrByName[v.Name] = v
	}

	relFields := make(map[string]bool, len(decl.Relations))
	for _, rel := range decl.Relations {
		relFields[rel.Field] = true
	}

	names := decl.Attributes
	if len(names) == 0 {
		names = inferAttributes(t, e, relFields)
	}
	for _, name := range names {
		f, err := r.field(t, name)
		if err != nil {
			return nil, fmt.Errorf("attribute: %w", err)
		}
		e.Attributes = append(e.Attributes, f)
		e.attrByName[f.Name] = f
	}
	return e, nil
}

func (r *Registry) compileRelations(e *Entity, rels []Relation) error {
	for _, rel := range rels {
		sf, ok := e.Type.FieldByName(rel.Field)
		if !ok {
			return fmt.Errorf("relation field %s not found", rel.Field)
		}
		target, ok := r.byName[rel.Target]
		if !ok {
			return fmt.Errorf("relation %s: %w: %s", rel.Field, ErrUnknownEntity, rel.Target)
		}
		a := &Association{
			Name:   rel.Field,
			Kind:   rel.Kind,
			Owner:  e,
			Target: target,
			index:  sf.Index,
		}
		switch rel.Kind {
		case ManyToOne:
			if sf.Type != reflect.PointerTo(target.Type) {
				return fmt.Errorf("relation %s must be *%s, got %s", rel.Field, target.Type.Name(), sf.Type)
			}
			a.ForeignKey = rel.ForeignKey
			if a.ForeignKey == "" {
				a.ForeignKey = r.naming.ColumnName(e.Table, rel.Field+"ID")
			}
		case OneToMany:
			if sf.Type != reflect.SliceOf(reflect.PointerTo(target.Type)) {
				return fmt.Errorf("relation %s must be []*%s, got %s", rel.Field, target.Type.Name(), sf.Type)
			}
			if rel.MappedBy == "" {
				return fmt.Errorf("relation %s: one-to-many requires MappedBy", rel.Field)
			}
		default:
			return fmt.Errorf("relation %s: unsupported kind %d", rel.Field, rel.Kind)
		}
		e.Relations = append(e.Relations, a)
		e.relByName[a.Name] = a
		// MappedBy is resolved in linkInverse once every owning side exists
		if rel.Kind == OneToMany {
			a.MappedBy = &Association{Name: rel.MappedBy}
		}
	}
	return nil
}

func (r *Registry) linkInverse(e *Entity) error {
	for _, a := range e.Relations {
		if a.Kind != OneToMany {
			continue
		}
		owning, ok := a.Target.relByName[a.MappedBy.Name]
		if !ok || owning.Kind != ManyToOne || owning.Target != e {
			return fmt.Errorf("relation %s: %s.%s is not a many-to-one back to %s",
				a.Name, a.Target.Name, a.MappedBy.Name, e.Name)
		}
		a.MappedBy = owning
		a.ForeignKey = owning.ForeignKey
		owning.MappedBy = a
	}
	return nil
}

// computeCommitOrder sorts entities so that every ManyToOne target comes before
// its owner. Types caught in a cycle keep declaration order.
func (r *Registry) computeCommitOrder() {
	visited := make(map[*Entity]int, len(r.entities)) // 0 new, 1 visiting, 2 done
	next := 0
	var visit func(e *Entity)
	visit = func(e *Entity) {
		if visited[e] != 0 {
			return
		}
		visited[e] = 1
		for _, a := range e.Owning() {
			if a.Target != e {
				visit(a.Target)
			}
		}
		visited[e] = 2
		e.order = next
		next++
	}
	for _, e := range r.entities {
		visit(e)
	}
}

func (r *Registry) field(t reflect.Type, name string) (*Field, error) {
	sf, ok := t.FieldByName(name)
	if !ok || !sf.IsExported() {
		return nil, fmt.Errorf("field %s not found on %s", name, t)
	}
	column := gormschema.ParseTagSetting(sf.Tag.Get("gorm"), ";")["COLUMN"]
	if column == "" {
		column = r.naming.ColumnName("", sf.Name)
	}
	return &Field{Name: sf.Name, Column: column, Type: sf.Type, index: sf.Index}, nil
}

func inferAttributes(t reflect.Type, e *Entity, relFields map[string]bool) []string {
	var names []string
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Anonymous || relFields[sf.Name] {
			continue
		}
		if _, taken := e.attrByName[sf.Name]; taken {
			continue
		}
		if gormschema.ParseTagSetting(sf.Tag.Get("gorm"), ";")["-"] == "-" {
			continue
		}
		if isEntityLike(sf.Type) {
			continue
		}
		names = append(names, sf.Name)
	}
	return names
}

// isEntityLike filters pointer-to-struct and slice-of-struct fields, which can
// only be relations
func isEntityLike(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr:
		return t.Elem().Kind() == reflect.Struct
	case reflect.Slice:
		el := t.Elem()
		if el.Kind() == reflect.Ptr {
			el = el.Elem()
		}
		return el.Kind() == reflect.Struct
	}
	return false
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isKeyKind(k reflect.Kind) bool {
	return isIntegerKind(k) || k == reflect.String
}
