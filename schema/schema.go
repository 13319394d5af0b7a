// Package schema resolves Go model types into persistent property metadata.
//
// A model is any struct implementing Model: it carries a stable numeric id
// used as the primary key across every backend. Persistent properties are
// the exported struct fields; the `db` struct tag overrides the property
// name and, for time.Time fields, selects the temporal logical type:
//
//	type Person struct {
//	    schema.Base
//	    Name    string    `db:"name"`
//	    Age     int       `db:"age"`
//	    Joined  time.Time `db:"joined,zoned"`
//	    Ignored string    `db:"-"`
//	}
//
// Resolution is idempotent and cached per type: repeated ModelOf calls for
// the same type return the same *Model without re-deriving it via
// reflection.
package schema

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"

	"github.com/syssam/strata/schema/field"
)

// IDColumn is the unquoted primary key column/field name used everywhere.
const IDColumn = "id"

// Identifiable is the contract every persistent model satisfies.
type Identifiable interface {
	GetID() int64
	SetID(int64)
}

// TableNamer overrides the derived table/collection name of a model.
type TableNamer interface {
	TableName() string
}

// Base is the embeddable model base carrying the primary key.
type Base struct {
	ID int64 `db:"-"`
}

// GetID returns the model's identifier.
func (b *Base) GetID() int64 { return b.ID }

// SetID sets the model's identifier.
func (b *Base) SetID(id int64) { b.ID = id }

// A Field is one named, typed persistent property of a model.
type Field struct {
	// Name is the resolved property name used as the base column/field name.
	Name string
	// Type is the logical type of the property.
	Type field.Type
	// Elem is the element logical type when Type is TypeList.
	Elem field.Type
	// GoType is the Go type of the struct field.
	GoType reflect.Type

	index []int
}

// A Model holds the resolved persistent metadata of one model type.
type Model struct {
	// Table is the physical table/collection name.
	Table string
	// Label is the snake-cased entity label used in diagnostics.
	Label string
	// Fields enumerates the persistent properties in declaration order,
	// excluding the id.
	Fields []*Field

	goType reflect.Type
	byName map[string]*Field
}

var modelCache sync.Map // reflect.Type -> *Model

// ModelOf resolves (and caches) the persistent metadata of T.
func ModelOf[T any]() (*Model, error) {
	return Resolve(reflect.TypeOf((*T)(nil)).Elem())
}

// Resolve resolves the persistent metadata of a model type. rt may be the
// struct type or a pointer to it.
func Resolve(rt reflect.Type) (*Model, error) {
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("strata: schema: model type must be a struct, got %v", rt)
	}
	if m, ok := modelCache.Load(rt); ok {
		return m.(*Model), nil
	}
	m, err := resolve(rt)
	if err != nil {
		return nil, err
	}
	actual, _ := modelCache.LoadOrStore(rt, m)
	return actual.(*Model), nil
}

func resolve(rt reflect.Type) (*Model, error) {
	m := &Model{
		Table:  inflect.Pluralize(inflect.Underscore(rt.Name())),
		Label:  inflect.Underscore(rt.Name()),
		goType: rt,
		byName: make(map[string]*Field),
	}
	if namer, ok := reflect.New(rt).Interface().(TableNamer); ok {
		m.Table = namer.TableName()
	}
	if err := collectFields(rt, nil, m); err != nil {
		return nil, err
	}
	return m, nil
}

func collectFields(rt reflect.Type, index []int, m *Model) error {
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
			if err := collectFields(sf.Type, append(append([]int(nil), index...), i), m); err != nil {
				return err
			}
			continue
		}
		name, opt := parseTag(sf)
		if name == "-" || name == IDColumn {
			continue
		}
		ft, elem, err := logicalType(sf.Type, opt)
		if err != nil {
			return fmt.Errorf("strata: schema: %s.%s: %w", rt.Name(), sf.Name, err)
		}
		f := &Field{
			Name:   name,
			Type:   ft,
			Elem:   elem,
			GoType: sf.Type,
			index:  append(append([]int(nil), index...), i),
		}
		if _, dup := m.byName[name]; dup {
			return fmt.Errorf("strata: schema: %s: duplicate property name %q", rt.Name(), name)
		}
		m.byName[name] = f
		m.Fields = append(m.Fields, f)
	}
	return nil
}

func parseTag(sf reflect.StructField) (name, opt string) {
	tag, ok := sf.Tag.Lookup("db")
	if !ok {
		return inflect.Underscore(sf.Name), ""
	}
	name = tag
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			name, opt = tag[:i], tag[i+1:]
			break
		}
	}
	if name == "" {
		name = inflect.Underscore(sf.Name)
	}
	return name, opt
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

func logicalType(rt reflect.Type, opt string) (field.Type, field.Type, error) {
	if rt == timeType {
		switch opt {
		case "", "instant":
			return field.TypeInstant, 0, nil
		case "date":
			return field.TypeDate, 0, nil
		case "timeofday":
			return field.TypeTimeOfDay, 0, nil
		case "offset":
			return field.TypeOffsetTime, 0, nil
		case "zoned":
			return field.TypeZonedTime, 0, nil
		}
		return 0, 0, fmt.Errorf("unknown temporal option %q", opt)
	}
	if rt == uuidType {
		return field.TypeUUID, 0, nil
	}
	switch rt.Kind() {
	case reflect.Bool:
		return field.TypeBool, 0, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return field.TypeInt, 0, nil
	case reflect.Int64, reflect.Uint64:
		return field.TypeInt64, 0, nil
	case reflect.Float32, reflect.Float64:
		return field.TypeFloat64, 0, nil
	case reflect.String:
		if rt != reflect.TypeOf("") || opt == "enum" {
			// Named string types are enums persisted by name.
			return field.TypeEnum, 0, nil
		}
		return field.TypeString, 0, nil
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return field.TypeBytes, 0, nil
		}
		elem, _, err := logicalType(rt.Elem(), "")
		if err != nil {
			return 0, 0, err
		}
		return field.TypeList, elem, nil
	}
	// Custom types need an extension codec registered for the exact type.
	return field.TypeOther, 0, nil
}

// Field returns the resolved property with the given name.
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Value reads the named property from a model instance.
func (m *Model) Value(instance any, name string) (any, error) {
	f, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("strata: schema: %s has no property %q", m.Label, name)
	}
	rv, err := m.structValue(instance)
	if err != nil {
		return nil, err
	}
	return rv.FieldByIndex(f.index).Interface(), nil
}

// SetValue writes the named property on a model instance, converting the
// value to the property's Go type when assignable by conversion.
func (m *Model) SetValue(instance any, name string, v any) error {
	f, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("strata: schema: %s has no property %q", m.Label, name)
	}
	rv, err := m.structValue(instance)
	if err != nil {
		return err
	}
	target := rv.FieldByIndex(f.index)
	if v == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	val := reflect.ValueOf(v)
	if !val.Type().AssignableTo(target.Type()) {
		if !val.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("strata: schema: cannot assign %T to %s.%s", v, m.Label, name)
		}
		val = val.Convert(target.Type())
	}
	target.Set(val)
	return nil
}

func (m *Model) structValue(instance any) (reflect.Value, error) {
	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Type() != m.goType {
		return reflect.Value{}, fmt.Errorf("strata: schema: instance type %T does not match model %s", instance, m.Label)
	}
	return rv, nil
}

// New allocates a new instance of the model type, returned as a pointer.
func (m *Model) New() any {
	return reflect.New(m.goType).Interface()
}
