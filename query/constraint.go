package query

import "time"

// A Constraint is an ordered accumulation of predicate fragments bound to
// one resolved property name. Fragments accumulate as the chainable
// methods are called and are combined conjunctively.
type Constraint interface {
	Exprs() []Expr
}

// pred is the shared accumulator embedded by every typed builder.
type pred struct {
	name string
	list []Expr
}

// Exprs returns the accumulated fragments in call order.
func (p *pred) Exprs() []Expr { return p.list }

func (p *pred) add(e Expr) { p.list = append(p.list, e) }

// AnyField builds generic equality constraints for a property of any type.
type AnyField struct{ pred }

// Field starts a generic constraint against the named property.
func Field(name string) *AnyField {
	return &AnyField{pred{name: name}}
}

// Is constrains the property to equal v.
func (f *AnyField) Is(v any) *AnyField { f.add(Eq(f.name, v)); return f }

// IsNot constrains the property to not equal v.
func (f *AnyField) IsNot(v any) *AnyField { f.add(Ne(f.name, v)); return f }

// OneOf constrains the property to be one of vs. An empty vs matches
// nothing, consistent with the backend's native empty-membership form.
func (f *AnyField) OneOf(vs ...any) *AnyField { f.add(In(f.name, vs...)); return f }

// IsNull constrains the property to be NULL/absent.
func (f *AnyField) IsNull() *AnyField { f.add(IsNull(f.name)); return f }

// NotNull constrains the property to be present.
func (f *AnyField) NotNull() *AnyField { f.add(NotNull(f.name)); return f }

// NumericField builds ordered constraints for numeric properties.
type NumericField struct{ pred }

// Number starts a numeric constraint against the named property.
func Number(name string) *NumericField {
	return &NumericField{pred{name: name}}
}

// Is constrains the property to equal v.
func (f *NumericField) Is(v any) *NumericField { f.add(Eq(f.name, v)); return f }

// IsNot constrains the property to not equal v.
func (f *NumericField) IsNot(v any) *NumericField { f.add(Ne(f.name, v)); return f }

// OneOf constrains the property to be one of vs.
func (f *NumericField) OneOf(vs ...any) *NumericField { f.add(In(f.name, vs...)); return f }

// Lt constrains the property to be less than v.
func (f *NumericField) Lt(v any) *NumericField { f.add(Lt(f.name, v)); return f }

// Lte constrains the property to be at most v.
func (f *NumericField) Lte(v any) *NumericField { f.add(Lte(f.name, v)); return f }

// Gt constrains the property to be greater than v.
func (f *NumericField) Gt(v any) *NumericField { f.add(Gt(f.name, v)); return f }

// Gte constrains the property to be at least v.
func (f *NumericField) Gte(v any) *NumericField { f.add(Gte(f.name, v)); return f }

// Between constrains the property to the closed interval [lo, hi].
func (f *NumericField) Between(lo, hi any) *NumericField {
	f.add(Gte(f.name, lo))
	f.add(Lte(f.name, hi))
	return f
}

// IsNull constrains the property to be NULL/absent.
func (f *NumericField) IsNull() *NumericField { f.add(IsNull(f.name)); return f }

// NotNull constrains the property to be present.
func (f *NumericField) NotNull() *NumericField { f.add(NotNull(f.name)); return f }

// StringField builds string constraints.
type StringField struct{ pred }

// Text starts a string constraint against the named property.
func Text(name string) *StringField {
	return &StringField{pred{name: name}}
}

// Is constrains the property to equal v.
func (f *StringField) Is(v string) *StringField { f.add(Eq(f.name, v)); return f }

// IsNot constrains the property to not equal v.
func (f *StringField) IsNot(v string) *StringField { f.add(Ne(f.name, v)); return f }

// OneOf constrains the property to be one of vs.
func (f *StringField) OneOf(vs ...string) *StringField {
	anyVs := make([]any, len(vs))
	for i, v := range vs {
		anyVs[i] = v
	}
	f.add(In(f.name, anyVs...))
	return f
}

// Contains constrains the property to contain the substring v.
func (f *StringField) Contains(v string) *StringField { f.add(Contains(f.name, v)); return f }

// HasPrefix constrains the property to start with v.
func (f *StringField) HasPrefix(v string) *StringField { f.add(HasPrefix(f.name, v)); return f }

// HasSuffix constrains the property to end with v.
func (f *StringField) HasSuffix(v string) *StringField { f.add(HasSuffix(f.name, v)); return f }

// EqualFold constrains the property to equal v ignoring case.
func (f *StringField) EqualFold(v string) *StringField { f.add(EqualFold(f.name, v)); return f }

// Matches constrains the property against a regular expression, rendered
// with the dialect's native regex predicate.
func (f *StringField) Matches(pattern string) *StringField { f.add(Regex(f.name, pattern)); return f }

// LenEq constrains the property's length to equal n.
func (f *StringField) LenEq(n int) *StringField { f.add(StrLen(f.name, OpEq, n)); return f }

// LenGt constrains the property's length to exceed n.
func (f *StringField) LenGt(n int) *StringField { f.add(StrLen(f.name, OpGt, n)); return f }

// LenLt constrains the property's length to be under n.
func (f *StringField) LenLt(n int) *StringField { f.add(StrLen(f.name, OpLt, n)); return f }

// IsNull constrains the property to be NULL/absent.
func (f *StringField) IsNull() *StringField { f.add(IsNull(f.name)); return f }

// NotNull constrains the property to be present.
func (f *StringField) NotNull() *StringField { f.add(NotNull(f.name)); return f }

// ListField builds list constraints rendered with the dialect's native
// list functions; list contents are never filtered client-side.
type ListField struct{ pred }

// List starts a list constraint against the named property.
func List(name string) *ListField {
	return &ListField{pred{name: name}}
}

// Contains constrains the list to contain the element v.
func (f *ListField) Contains(v any) *ListField { f.add(ListContains(f.name, v)); return f }

// LenEq constrains the list's length to equal n.
func (f *ListField) LenEq(n int) *ListField { f.add(ListLen(f.name, OpEq, n)); return f }

// LenGt constrains the list's length to exceed n.
func (f *ListField) LenGt(n int) *ListField { f.add(ListLen(f.name, OpGt, n)); return f }

// LenLt constrains the list's length to be under n.
func (f *ListField) LenLt(n int) *ListField { f.add(ListLen(f.name, OpLt, n)); return f }

// Empty constrains the list to be empty.
func (f *ListField) Empty() *ListField { f.add(ListLen(f.name, OpEq, 0)); return f }

// IsNull constrains the property to be NULL/absent.
func (f *ListField) IsNull() *ListField { f.add(IsNull(f.name)); return f }

// NotNull constrains the property to be present.
func (f *ListField) NotNull() *ListField { f.add(NotNull(f.name)); return f }

// TimeField builds temporal constraints. Comparisons always target the
// property's instant column after normalizing to a canonical (UTC)
// instant; a stored zone or offset label never affects ordering.
type TimeField struct{ pred }

// Time starts a temporal constraint against the named property.
func Time(name string) *TimeField {
	return &TimeField{pred{name: name}}
}

// Is constrains the property's instant to equal v's.
func (f *TimeField) Is(v time.Time) *TimeField { f.add(Eq(f.name, v)); return f }

// IsNot constrains the property's instant to not equal v's.
func (f *TimeField) IsNot(v time.Time) *TimeField { f.add(Ne(f.name, v)); return f }

// Before constrains the property to instants before v.
func (f *TimeField) Before(v time.Time) *TimeField { f.add(Lt(f.name, v)); return f }

// After constrains the property to instants after v.
func (f *TimeField) After(v time.Time) *TimeField { f.add(Gt(f.name, v)); return f }

// OnOrBefore constrains the property to instants at or before v.
func (f *TimeField) OnOrBefore(v time.Time) *TimeField { f.add(Lte(f.name, v)); return f }

// OnOrAfter constrains the property to instants at or after v.
func (f *TimeField) OnOrAfter(v time.Time) *TimeField { f.add(Gte(f.name, v)); return f }

// OneOf constrains the property's instant to be one of vs.
func (f *TimeField) OneOf(vs ...time.Time) *TimeField {
	anyVs := make([]any, len(vs))
	for i, v := range vs {
		anyVs[i] = v
	}
	f.add(In(f.name, anyVs...))
	return f
}

// IsNull constrains the property to be NULL/absent.
func (f *TimeField) IsNull() *TimeField { f.add(IsNull(f.name)); return f }

// NotNull constrains the property to be present.
func (f *TimeField) NotNull() *TimeField { f.add(NotNull(f.name)); return f }
