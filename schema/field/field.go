// Package field defines the logical and physical type vocabulary shared by
// the schema, codec, dialect and query packages.
//
// A logical Type describes what a model property means (a zoned timestamp, a
// list, an enum); a physical Class describes what a single backing column
// stores (integer, real, text, blob). One logical type may expand to more
// than one physical column — see the codec package.
package field

// A Type represents the logical type of a model property.
type Type uint8

// Logical property types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeBytes
	TypeUUID
	TypeEnum
	TypeList
	TypeInstant
	TypeDate
	TypeTimeOfDay
	TypeOffsetTime
	TypeZonedTime
	TypeOther
	endTypes
)

var typeNames = [...]string{
	TypeInvalid:    "invalid",
	TypeBool:       "bool",
	TypeInt:        "int",
	TypeInt64:      "int64",
	TypeFloat64:    "float64",
	TypeString:     "string",
	TypeBytes:      "bytes",
	TypeUUID:       "uuid",
	TypeEnum:       "enum",
	TypeList:       "list",
	TypeInstant:    "instant",
	TypeDate:       "date",
	TypeTimeOfDay:  "timeofday",
	TypeOffsetTime: "offsettime",
	TypeZonedTime:  "zonedtime",
	TypeOther:      "other",
}

// String returns the name of the type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is a known logical type.
func (t Type) Valid() bool { return t > TypeInvalid && t < endTypes }

// Numeric reports if the type is an ordered numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat64
}

// Temporal reports if the type carries a point in time or a calendar value.
func (t Type) Temporal() bool {
	switch t {
	case TypeInstant, TypeDate, TypeTimeOfDay, TypeOffsetTime, TypeZonedTime:
		return true
	}
	return false
}

// A Class represents the physical storage class of one backing column.
// Dialects map classes to their native column type names.
type Class uint8

// Physical column classes.
const (
	ClassInvalid Class = iota
	ClassInteger
	ClassReal
	ClassText
	ClassBlob
)

// String returns the name of the class.
func (c Class) String() string {
	switch c {
	case ClassInteger:
		return "integer"
	case ClassReal:
		return "real"
	case ClassText:
		return "text"
	case ClassBlob:
		return "blob"
	}
	return "invalid"
}
