package storage

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Matches reports whether record passes every filter in q. Backends that
// cannot push predicates down to the database evaluate them here.
func (q ContextQuery) Matches(record EntityContext) bool {
	if q.EntityType != "" && record.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && record.EntityID != q.EntityID {
		return false
	}
	if q.BudgetID != "" && record.BudgetID != q.BudgetID {
		return false
	}
	if len(q.Fields) == 0 {
		return true
	}
	raw, err := json.Marshal(record.Context)
	if err != nil {
		return false
	}
	for _, field := range q.Fields {
		if !MatchField(raw, field) {
			return false
		}
	}
	return true
}

// MatchField evaluates one predicate against a JSON object.
func MatchField(doc []byte, predicate FieldPredicate) bool {
	want := gjson.ParseBytes(predicate.Value)
	candidates := resolvePath(gjson.ParseBytes(doc), strings.Split(predicate.Path, "."))
	if len(candidates) == 0 {
		return want.Type == gjson.Null
	}
	for _, candidate := range candidates {
		if ValuesEqual([]byte(candidate.Raw), predicate.Value) {
			return true
		}
		if candidate.IsArray() && !want.IsArray() {
			for _, element := range candidate.Array() {
				if ValuesEqual([]byte(element.Raw), predicate.Value) {
					return true
				}
			}
		}
	}
	return false
}

// resolvePath walks segments from node. Arrays met along the way fan out to
// their elements unless the segment is a numeric index, mirroring how
// document databases traverse embedded arrays.
func resolvePath(node gjson.Result, segments []string) []gjson.Result {
	if len(segments) == 0 {
		return []gjson.Result{node}
	}
	segment, rest := segments[0], segments[1:]
	switch {
	case node.IsObject():
		var out []gjson.Result
		node.ForEach(func(key, value gjson.Result) bool {
			if key.String() == segment {
				out = resolvePath(value, rest)
				return false
			}
			return true
		})
		return out
	case node.IsArray():
		elements := node.Array()
		if index, err := strconv.Atoi(segment); err == nil {
			if index < 0 || index >= len(elements) {
				return nil
			}
			return resolvePath(elements[index], rest)
		}
		var out []gjson.Result
		for _, element := range elements {
			if element.IsObject() {
				out = append(out, resolvePath(element, segments)...)
			}
		}
		return out
	default:
		return nil
	}
}

// ValuesEqual compares two JSON values. Numbers compare by value and object
// key order is ignored; array order is not.
func ValuesEqual(a, b []byte) bool {
	left, ok := decodeValue(a)
	if !ok {
		return false
	}
	right, ok := decodeValue(b)
	if !ok {
		return false
	}
	return treeEqual(left, right)
}

func decodeValue(data []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

func treeEqual(a, b any) bool {
	switch left := a.(type) {
	case map[string]any:
		right, ok := b.(map[string]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for key, value := range left {
			other, ok := right[key]
			if !ok || !treeEqual(value, other) {
				return false
			}
		}
		return true
	case []any:
		right, ok := b.([]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !treeEqual(left[i], right[i]) {
				return false
			}
		}
		return true
	case json.Number:
		right, ok := b.(json.Number)
		if !ok {
			return false
		}
		x, err := decimal.NewFromString(left.String())
		if err != nil {
			return false
		}
		y, err := decimal.NewFromString(right.String())
		if err != nil {
			return false
		}
		return x.Equal(y)
	default:
		return a == b
	}
}
