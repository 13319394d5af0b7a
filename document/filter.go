package document

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/syssam/strata/codec"
	"github.com/syssam/strata/query"
	"github.com/syssam/strata/schema"
)

// Filter renders a specification's filter groups into a native filter
// document. Groups conjoin; an empty specification matches everything.
func Filter(s *query.Spec, m *schema.Model) (bson.M, error) {
	groups := s.Groups()
	if len(groups) == 0 {
		return bson.M{}, nil
	}
	conds := make([]bson.M, 0, len(groups))
	for _, g := range groups {
		sub := make([]bson.M, 0, len(g))
		for _, e := range g {
			f, err := renderExpr(e, m)
			if err != nil {
				return nil, err
			}
			sub = append(sub, f)
		}
		if len(sub) == 1 {
			conds = append(conds, sub[0])
		} else {
			conds = append(conds, bson.M{"$and": sub})
		}
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return bson.M{"$and": conds}, nil
}

func renderExpr(e query.Expr, m *schema.Model) (bson.M, error) {
	switch e.Op {
	case query.OpAnd, query.OpOr, query.OpNot:
		sub := make([]bson.M, 0, len(e.Sub))
		for _, s := range e.Sub {
			f, err := renderExpr(s, m)
			if err != nil {
				return nil, err
			}
			sub = append(sub, f)
		}
		switch e.Op {
		case query.OpAnd:
			return bson.M{"$and": sub}, nil
		case query.OpOr:
			return bson.M{"$or": sub}, nil
		default:
			return bson.M{"$nor": sub}, nil
		}
	case query.OpRaw:
		var f bson.M
		if err := bson.UnmarshalExtJSON([]byte(e.Raw), true, &f); err != nil {
			return nil, fmt.Errorf("strata: document: raw filter: %w", err)
		}
		return f, nil
	}

	name, f, err := fieldName(e.Field, m)
	if err != nil {
		return nil, err
	}
	value := func(v any) (any, error) {
		if f != nil && f.Type.Temporal() {
			return codec.EncodeComparable(f.Type, v)
		}
		return v, nil
	}
	switch e.Op {
	case query.OpEq:
		v, err := value(e.Value)
		if err != nil {
			return nil, err
		}
		return bson.M{name: v}, nil
	case query.OpNe:
		v, err := value(e.Value)
		if err != nil {
			return nil, err
		}
		return bson.M{name: bson.M{"$ne": v}}, nil
	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		v, err := value(e.Value)
		if err != nil {
			return nil, err
		}
		return bson.M{name: bson.M{cmpOperator(e.Op): v}}, nil
	case query.OpIn, query.OpNotIn:
		vs := make([]any, len(e.Values))
		for i, raw := range e.Values {
			if vs[i], err = value(raw); err != nil {
				return nil, err
			}
		}
		op := "$in"
		if e.Op == query.OpNotIn {
			op = "$nin"
		}
		return bson.M{name: bson.M{op: vs}}, nil
	case query.OpIsNull:
		return bson.M{name: bson.M{"$eq": nil}}, nil
	case query.OpNotNull:
		return bson.M{name: bson.M{"$ne": nil}}, nil
	case query.OpContains:
		return regexFilter(name, regexp.QuoteMeta(stringValue(e.Value)), "")
	case query.OpHasPrefix:
		return regexFilter(name, "^"+regexp.QuoteMeta(stringValue(e.Value)), "")
	case query.OpHasSuffix:
		return regexFilter(name, regexp.QuoteMeta(stringValue(e.Value))+"$", "")
	case query.OpEqualFold:
		return regexFilter(name, "^"+regexp.QuoteMeta(stringValue(e.Value))+"$", "i")
	case query.OpRegex:
		return regexFilter(name, stringValue(e.Value), "")
	case query.OpStrLen:
		return exprCompare(e.Cmp, bson.M{"$strLenCP": bson.M{"$ifNull": bson.A{"$" + name, ""}}}, e.Value), nil
	case query.OpListContains:
		// Array fields match on element membership natively.
		return bson.M{name: e.Value}, nil
	case query.OpListLen:
		return exprCompare(e.Cmp, bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + name, bson.A{}}}}, e.Value), nil
	}
	return nil, fmt.Errorf("strata: document: unsupported expression op %d", e.Op)
}

// fieldName resolves a property name to its stored field name. The id maps
// to the native primary key; temporal properties resolve to their instant
// field.
func fieldName(name string, m *schema.Model) (string, *schema.Field, error) {
	if name == schema.IDColumn {
		return "_id", nil, nil
	}
	f, ok := m.Field(name)
	if !ok {
		return "", nil, fmt.Errorf("strata: document: %s has no property %q", m.Label, name)
	}
	if f.Type.Temporal() {
		return codec.InstantColumn(f.Type, f.Name), f, nil
	}
	return f.Name, f, nil
}

func regexFilter(name, pattern, opts string) (bson.M, error) {
	return bson.M{name: primitive.Regex{Pattern: pattern, Options: opts}}, nil
}

// exprCompare builds an aggregation-expression comparison for computed
// operands such as string or array lengths.
func exprCompare(cmp query.Op, operand bson.M, v any) bson.M {
	return bson.M{"$expr": bson.M{cmpOperator(cmp): bson.A{operand, v}}}
}

func cmpOperator(op query.Op) string {
	switch op {
	case query.OpNe:
		return "$ne"
	case query.OpLt:
		return "$lt"
	case query.OpLte:
		return "$lte"
	case query.OpGt:
		return "$gt"
	case query.OpGte:
		return "$gte"
	}
	return "$eq"
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
