package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// New allocates a zero instance and returns a pointer to it
func (e *Entity) New() any {
	return reflect.New(e.Type).Interface()
}

// Owns reports whether obj is a non-nil pointer to this entity's struct
func (e *Entity) Owns(obj any) bool {
	v := reflect.ValueOf(obj)
	return v.Kind() == reflect.Ptr && !v.IsNil() && v.Elem().Type() == e.Type
}

// KeyOf returns the normalized primary key of obj
func (e *Entity) KeyOf(obj any) any {
	return NormalizeKey(e.PrimaryKey.Get(obj))
}

// ParseKey converts a key read from storage or supplied by a caller into the
// normalized form of this entity's primary key type
func (e *Entity) ParseKey(v any) (any, error) {
	dst := reflect.New(e.PrimaryKey.Type).Elem()
	if err := AssignValue(dst, v); err != nil {
		return nil, fmt.Errorf("%s key: %w", e.Name, err)
	}
	return NormalizeKey(dst.Interface()), nil
}

// SetKey assigns a primary key value onto obj
func (e *Entity) SetKey(obj any, key any) error {
	return e.PrimaryKey.Set(obj, key)
}

// VersionOf returns the current in-memory version of obj
func (e *Entity) VersionOf(obj any) int64 {
	if e.Version == nil {
		return 0
	}
	return toInt64(e.Version.value(obj))
}

// SetVersion assigns a version value onto obj
func (e *Entity) SetVersion(obj any, v int64) {
	if e.Version == nil {
		return
	}
	fv := e.Version.value(obj)
	switch fv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fv.SetUint(uint64(v))
	default:
		fv.SetInt(v)
	}
}

// Get reads the field from a pointer to the owning struct
func (f *Field) Get(obj any) any {
	return f.value(obj).Interface()
}

// Set writes v into the field, converting storage representations
// ([]byte text, wider integers) to the field's type
func (f *Field) Set(obj any, v any) error {
	if err := AssignValue(f.value(obj), v); err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	return nil
}

func (f *Field) value(obj any) reflect.Value {
	return reflect.ValueOf(obj).Elem().FieldByIndex(f.index)
}

// Get returns the referenced entity of a ManyToOne association, or nil
func (a *Association) Get(obj any) any {
	fv := a.value(obj)
	if fv.IsNil() {
		return nil
	}
	return fv.Interface()
}

// Set wires target onto a ManyToOne association; nil clears it
func (a *Association) Set(obj any, target any) {
	fv := a.value(obj)
	if target == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return
	}
	fv.Set(reflect.ValueOf(target))
}

// Items returns the members of a OneToMany collection
func (a *Association) Items(obj any) []any {
	fv := a.value(obj)
	out := make([]any, 0, fv.Len())
	for i := 0; i < fv.Len(); i++ {
		if el := fv.Index(i); !el.IsNil() {
			out = append(out, el.Interface())
		}
	}
	return out
}

// Contains reports whether item is already a member of the collection
func (a *Association) Contains(obj any, item any) bool {
	fv := a.value(obj)
	for i := 0; i < fv.Len(); i++ {
		if fv.Index(i).Interface() == item {
			return true
		}
	}
	return false
}

// Append adds item to a OneToMany collection
func (a *Association) Append(obj any, item any) {
	fv := a.value(obj)
	fv.Set(reflect.Append(fv, reflect.ValueOf(item)))
}

// Reset replaces a OneToMany collection with an empty, non-nil slice
func (a *Association) Reset(obj any) {
	fv := a.value(obj)
	fv.Set(reflect.MakeSlice(fv.Type(), 0, 0))
}

func (a *Association) value(obj any) reflect.Value {
	return reflect.ValueOf(obj).Elem().FieldByIndex(a.index)
}

// NormalizeKey maps every integer kind onto int64 and []byte onto string so
// keys read from different drivers compare equal. Unsigned values above
// math.MaxInt64 stay uint64; folding them into int64 would alias negative keys.
func NormalizeKey(v any) any {
	switch k := v.(type) {
	case nil:
		return nil
	case string:
		return k
	case []byte:
		return string(k)
	case int64:
		return k
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > math.MaxInt64 {
			return n
		}
		return int64(n)
	case reflect.String:
		return rv.String()
	}
	return v
}

// IsZeroKey reports whether a primary key is unset
func IsZeroKey(v any) bool {
	switch k := NormalizeKey(v).(type) {
	case nil:
		return true
	case int64:
		return k == 0
	case string:
		return k == ""
	}
	return reflect.ValueOf(v).IsZero()
}

// AssignValue stores v into dst, accepting the loose typing of database/sql
// rows and msgpack payloads
func AssignValue(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		el := reflect.New(dst.Type().Elem())
		if err := AssignValue(el.Elem(), v); err != nil {
			return err
		}
		dst.Set(el)
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Kind() == reflect.Ptr {
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		src = src.Elem()
	}
	if b, ok := src.Interface().([]byte); ok && dst.Kind() != reflect.Slice {
		return assignText(dst, string(b))
	}
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	switch {
	case isNumeric(src.Kind()) && isNumeric(dst.Kind()):
		dst.Set(src.Convert(dst.Type()))
		return nil
	case src.Kind() == reflect.String && dst.Kind() == reflect.String:
		dst.SetString(src.String())
		return nil
	case src.Kind() == reflect.String:
		return assignText(dst, src.String())
	case src.Kind() == reflect.Bool && dst.Kind() == reflect.Bool:
		dst.SetBool(src.Bool())
		return nil
	case isIntegerKind(src.Kind()) && dst.Kind() == reflect.Bool:
		dst.SetBool(toInt64(src) != 0)
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", v, dst.Type())
}

func assignText(dst reflect.Value, s string) error {
	switch dst.Kind() {
	case reflect.String:
		dst.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		dst.SetFloat(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		dst.SetBool(b)
	default:
		return fmt.Errorf("cannot assign text to %s", dst.Type())
	}
	return nil
}

func toInt64(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	default:
		return v.Int()
	}
}

func isNumeric(k reflect.Kind) bool {
	return isIntegerKind(k) || k == reflect.Float32 || k == reflect.Float64
}
