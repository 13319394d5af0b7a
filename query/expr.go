// Package query builds backend-agnostic query specifications and renders
// them into backend-native filter text.
//
// Predicates are an explicit expression tree of tagged variants (Eq, Lt,
// In, And, ...) constructed directly by the caller or through the typed
// constraint builders. The tree is rendered per dialect into SQL boolean
// expressions, or into native filter documents by the document backend.
//
// Predicate literals are interpolated into the rendered SQL text (escaped,
// not bound); only update/set paths use bound parameters. Values that can
// originate from untrusted input should be validated by the caller before
// they reach a predicate.
package query

// Op tags one expression variant.
type Op uint8

// Expression variants.
const (
	OpInvalid Op = iota
	OpEq
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpNotIn
	OpIsNull
	OpNotNull
	OpContains
	OpHasPrefix
	OpHasSuffix
	OpEqualFold
	OpRegex
	OpStrLen
	OpListContains
	OpListLen
	OpAnd
	OpOr
	OpNot
	OpRaw
)

// Expr is one node of a predicate tree. Field-bearing variants reference a
// resolved property name; composite variants carry sub-expressions.
type Expr struct {
	Op     Op
	Field  string
	Value  any
	Values []any // OpIn, OpNotIn
	Cmp    Op    // comparison for OpStrLen and OpListLen
	Sub    []Expr
	Raw    string // OpRaw: backend-native fragment, passed through verbatim
}

// Eq matches rows whose property equals v.
func Eq(name string, v any) Expr { return Expr{Op: OpEq, Field: name, Value: v} }

// Ne matches rows whose property does not equal v.
func Ne(name string, v any) Expr { return Expr{Op: OpNe, Field: name, Value: v} }

// Lt matches rows whose property is less than v.
func Lt(name string, v any) Expr { return Expr{Op: OpLt, Field: name, Value: v} }

// Lte matches rows whose property is less than or equal to v.
func Lte(name string, v any) Expr { return Expr{Op: OpLte, Field: name, Value: v} }

// Gt matches rows whose property is greater than v.
func Gt(name string, v any) Expr { return Expr{Op: OpGt, Field: name, Value: v} }

// Gte matches rows whose property is greater than or equal to v.
func Gte(name string, v any) Expr { return Expr{Op: OpGte, Field: name, Value: v} }

// In matches rows whose property is one of vs. With zero elements it
// renders the backend's native empty-membership form, which matches
// nothing.
func In(name string, vs ...any) Expr { return Expr{Op: OpIn, Field: name, Values: vs} }

// NotIn matches rows whose property is none of vs.
func NotIn(name string, vs ...any) Expr { return Expr{Op: OpNotIn, Field: name, Values: vs} }

// IsNull matches rows whose property is NULL/absent.
func IsNull(name string) Expr { return Expr{Op: OpIsNull, Field: name} }

// NotNull matches rows whose property is present.
func NotNull(name string) Expr { return Expr{Op: OpNotNull, Field: name} }

// Contains matches string properties containing the substring v.
func Contains(name, v string) Expr { return Expr{Op: OpContains, Field: name, Value: v} }

// HasPrefix matches string properties starting with v.
func HasPrefix(name, v string) Expr { return Expr{Op: OpHasPrefix, Field: name, Value: v} }

// HasSuffix matches string properties ending with v.
func HasSuffix(name, v string) Expr { return Expr{Op: OpHasSuffix, Field: name, Value: v} }

// EqualFold matches string properties equal to v ignoring case.
func EqualFold(name, v string) Expr { return Expr{Op: OpEqualFold, Field: name, Value: v} }

// Regex matches string properties against the backend's regex predicate.
func Regex(name, pattern string) Expr { return Expr{Op: OpRegex, Field: name, Value: pattern} }

// StrLen compares the length of a string property, using the dialect's
// native length function. cmp must be one of OpEq..OpGte.
func StrLen(name string, cmp Op, n int) Expr {
	return Expr{Op: OpStrLen, Field: name, Cmp: cmp, Value: n}
}

// ListContains matches list properties containing the element v.
func ListContains(name string, v any) Expr {
	return Expr{Op: OpListContains, Field: name, Value: v}
}

// ListLen compares the length of a list property. cmp must be one of
// OpEq..OpGte.
func ListLen(name string, cmp Op, n int) Expr {
	return Expr{Op: OpListLen, Field: name, Cmp: cmp, Value: n}
}

// And groups sub-expressions conjunctively.
func And(sub ...Expr) Expr { return Expr{Op: OpAnd, Sub: sub} }

// Or groups sub-expressions disjunctively.
func Or(sub ...Expr) Expr { return Expr{Op: OpOr, Sub: sub} }

// Not negates an expression.
func Not(e Expr) Expr { return Expr{Op: OpNot, Sub: []Expr{e}} }

// Raw passes a backend-native fragment through unmodified.
func Raw(fragment string) Expr { return Expr{Op: OpRaw, Raw: fragment} }
