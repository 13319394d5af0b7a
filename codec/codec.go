// Package codec maps logical property values to physical column values and
// back, per backend-independent encoding rules.
//
// A Codec declares the physical columns backing one logical type (some
// temporal types split into two columns, e.g. "_date" plus "_zone") and the
// encode/decode pair between them. Encode and decode are inverses up to the
// declared precision: millisecond epoch for instants, day ordinal for dates,
// nanosecond-of-day for times.
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/strata/schema"
	"github.com/syssam/strata/schema/field"
)

// Column describes one physical column of a codec. Suffix is appended to
// the property name to form the column name; the first column of every
// codec has an empty suffix except for multi-column temporal encodings.
type Column struct {
	Suffix string
	Class  field.Class
}

// A Codec encodes a logical value into one or more physical key/value pairs
// and reconstructs it from a result row. Decode returns nil when the
// physical value(s) are NULL or absent; it never returns a zero-valued
// primitive for an absent read.
type Codec struct {
	Columns []Column
	Encode  func(dst map[string]any, name string, v any) error
	Decode  func(src map[string]any, name string) (any, error)
}

// ErrNotFound is the sentinel matched by all NotFoundError values.
var ErrNotFound = errors.New("strata: codec not found")

// NotFoundError indicates a model property has no supported codec. It is
// unrecoverable and surfaces at table-creation or first-query time.
type NotFoundError struct {
	Property string
	GoType   reflect.Type
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("strata: no codec for property %q (type %s)", e.Property, e.GoType)
}

// Is reports whether the target error matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// IsNotFound returns true if the error is a codec NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// A Registry resolves properties to codecs. Lookup order: built-in codec
// for the exact logical type, then a registered extension codec for the
// exact Go type, then the structural fallbacks (list, enum), else a
// NotFoundError.
type Registry struct {
	mu       sync.RWMutex
	builtin  map[field.Type]*Codec
	byGoType map[reflect.Type]*Codec
	fields   sync.Map // *schema.Field -> *Codec, per-field structural codecs
}

// NewRegistry returns a registry with all built-in codecs installed.
func NewRegistry() *Registry {
	r := &Registry{
		builtin:  make(map[field.Type]*Codec),
		byGoType: make(map[reflect.Type]*Codec),
	}
	r.builtin[field.TypeBool] = boolCodec()
	r.builtin[field.TypeInt] = intCodec()
	r.builtin[field.TypeInt64] = intCodec()
	r.builtin[field.TypeFloat64] = floatCodec()
	r.builtin[field.TypeString] = stringCodec()
	r.builtin[field.TypeBytes] = bytesCodec()
	r.builtin[field.TypeUUID] = uuidCodec()
	r.builtin[field.TypeInstant] = instantCodec()
	r.builtin[field.TypeDate] = dateCodec()
	r.builtin[field.TypeTimeOfDay] = timeOfDayCodec()
	r.builtin[field.TypeOffsetTime] = offsetTimeCodec()
	r.builtin[field.TypeZonedTime] = zonedTimeCodec()
	return r
}

// Register installs or replaces the codec for a logical type.
func (r *Registry) Register(t field.Type, c *Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtin[t] = c
}

// RegisterType installs an extension codec for an exact Go type.
func (r *Registry) RegisterType(rt reflect.Type, c *Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byGoType[rt] = c
}

// Lookup resolves the codec for a property.
func (r *Registry) Lookup(f *schema.Field) (*Codec, error) {
	r.mu.RLock()
	if c, ok := r.builtin[f.Type]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	if c, ok := r.byGoType[f.GoType]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()
	switch f.Type {
	case field.TypeList:
		if c, ok := r.fields.Load(f); ok {
			return c.(*Codec), nil
		}
		c, _ := r.fields.LoadOrStore(f, listCodec(f.GoType))
		return c.(*Codec), nil
	case field.TypeEnum:
		return enumCodecSingleton, nil
	}
	return nil, &NotFoundError{Property: f.Name, GoType: f.GoType}
}

// Columns returns the physical column names backing a property, in codec
// declaration order.
func Columns(f *schema.Field, c *Codec) []string {
	names := make([]string, len(c.Columns))
	for i, col := range c.Columns {
		names[i] = f.Name + col.Suffix
	}
	return names
}

func singleColumn(class field.Class) []Column {
	return []Column{{Class: class}}
}

func boolCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassInteger),
		Encode: func(dst map[string]any, name string, v any) error {
			b, ok := toBool(v)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected bool, got %T", name, v)
			}
			n := int64(0)
			if b {
				n = 1
			}
			dst[name] = n
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			b, ok := toBool(v)
			if !ok {
				return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as bool", name, v)
			}
			return b, nil
		},
	}
}

func intCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassInteger),
		Encode: func(dst map[string]any, name string, v any) error {
			n, ok := toInt64(v)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected integer, got %T", name, v)
			}
			dst[name] = n
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			n, ok := toInt64(v)
			if !ok {
				return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as integer", name, v)
			}
			return n, nil
		},
	}
}

func floatCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassReal),
		Encode: func(dst map[string]any, name string, v any) error {
			f, ok := toFloat64(v)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected float, got %T", name, v)
			}
			dst[name] = f
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			f, ok := toFloat64(v)
			if !ok {
				return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as float", name, v)
			}
			return f, nil
		},
	}
}

func stringCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassText),
		Encode: func(dst map[string]any, name string, v any) error {
			s, ok := toString(v)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected string, got %T", name, v)
			}
			dst[name] = s
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			s, ok := toString(v)
			if !ok {
				return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as string", name, v)
			}
			return s, nil
		},
	}
}

func bytesCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassBlob),
		Encode: func(dst map[string]any, name string, v any) error {
			b, ok := v.([]byte)
			if !ok {
				return fmt.Errorf("strata: codec: %s: expected []byte, got %T", name, v)
			}
			dst[name] = b
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			switch b := v.(type) {
			case []byte:
				return b, nil
			case string:
				return []byte(b), nil
			}
			return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as bytes", name, v)
		},
	}
}

func uuidCodec() *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassText),
		Encode: func(dst map[string]any, name string, v any) error {
			switch u := v.(type) {
			case uuid.UUID:
				dst[name] = u.String()
			case string:
				dst[name] = u
			default:
				return fmt.Errorf("strata: codec: %s: expected uuid, got %T", name, v)
			}
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			s, ok := toString(v)
			if !ok {
				return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as uuid", name, v)
			}
			u, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("strata: codec: %s: %w", name, err)
			}
			return u, nil
		},
	}
}

// present reports whether the physical value exists and is non-NULL. A read
// that indicates absence decodes to nil, never to a zero-valued default.
func present(src map[string]any, name string) (any, bool) {
	v, ok := src[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	}
	return false, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int64:
		return float64(f), true
	case int:
		return float64(f), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}
