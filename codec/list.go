package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/strata/schema/field"
)

// listCodec serializes a slice-valued property as JSON text in a single
// column, letting dialects filter it with their native JSON functions.
func listCodec(goType reflect.Type) *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassText),
		Encode: func(dst map[string]any, name string, v any) error {
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("strata: codec: %s: %w", name, err)
			}
			dst[name] = string(b)
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			s, ok := toString(v)
			if !ok {
				return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as list", name, v)
			}
			ptr := reflect.New(goType)
			if err := json.Unmarshal([]byte(s), ptr.Interface()); err != nil {
				return nil, fmt.Errorf("strata: codec: %s: %w", name, err)
			}
			return ptr.Elem().Interface(), nil
		},
	}
}

// enumCodecSingleton persists enum properties by their string name. The
// schema layer converts the decoded string back to the named type.
var enumCodecSingleton = &Codec{
	Columns: singleColumn(field.ClassText),
	Encode: func(dst map[string]any, name string, v any) error {
		s, ok := toString(v)
		if !ok {
			return fmt.Errorf("strata: codec: %s: expected enum (string kind), got %T", name, v)
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
			return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as enum", name, v)
		}
		return s, nil
	},
}

// Msgpack returns an extension codec storing values of the given Go type as
// a msgpack blob in a single column.
func Msgpack(goType reflect.Type) *Codec {
	return &Codec{
		Columns: singleColumn(field.ClassBlob),
		Encode: func(dst map[string]any, name string, v any) error {
			b, err := msgpack.Marshal(v)
			if err != nil {
				return fmt.Errorf("strata: codec: %s: %w", name, err)
			}
			dst[name] = b
			return nil
		},
		Decode: func(src map[string]any, name string) (any, error) {
			v, ok := present(src, name)
			if !ok {
				return nil, nil
			}
			b, ok := v.([]byte)
			if !ok {
				if s, sok := v.(string); sok {
					b = []byte(s)
				} else {
					return nil, fmt.Errorf("strata: codec: %s: cannot decode %T as blob", name, v)
				}
			}
			ptr := reflect.New(goType)
			if err := msgpack.Unmarshal(b, ptr.Interface()); err != nil {
				return nil, fmt.Errorf("strata: codec: %s: %w", name, err)
			}
			return ptr.Elem().Interface(), nil
		},
	}
}

// RegisterMsgpack installs a msgpack extension codec for T in the registry.
func RegisterMsgpack[T any](r *Registry) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	r.RegisterType(rt, Msgpack(rt))
}
