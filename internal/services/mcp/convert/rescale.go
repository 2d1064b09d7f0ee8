// Package convert rescales ledger minor-unit currency values into major units
// anywhere inside a decoded JSON tree.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorPerMajor is the number of minor units in one major unit.
const minorPerMajor = 100

// CurrencyFields names the object keys the ledger reports in minor units.
var CurrencyFields = []string{"amount", "balance", "budgeted", "spent"}

// Rescaler divides the numeric values of Fields by 100 wherever they occur.
type Rescaler struct {
	fields map[string]struct{}
}

// NewRescaler builds a Rescaler for the given object keys.
func NewRescaler(fields ...string) Rescaler {
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		set[field] = struct{}{}
	}
	return Rescaler{fields: set}
}

// Currency is the Rescaler used for every ledger payload.
var Currency = NewRescaler(CurrencyFields...)

// Apply returns a copy of tree with matching numeric fields rescaled. tree is
// expected to come from a json.Decoder with UseNumber; float64 and integer
// values are accepted too. Non-numeric values under a matching key are left
// alone, and nested objects under a matching key are still walked.
func (r Rescaler) Apply(tree any) any {
	switch node := tree.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for key, value := range node {
			if _, ok := r.fields[key]; ok {
				if scaled, ok := rescale(value); ok {
					out[key] = scaled
					continue
				}
			}
			out[key] = r.Apply(value)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, value := range node {
			out[i] = r.Apply(value)
		}
		return out
	default:
		return tree
	}
}

func rescale(value any) (json.Number, bool) {
	var amount decimal.Decimal
	switch v := value.(type) {
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return "", false
		}
		amount = parsed
	case float64:
		amount = decimal.NewFromFloat(v)
	case int64:
		amount = decimal.NewFromInt(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	default:
		return "", false
	}
	return json.Number(amount.Div(decimal.NewFromInt(minorPerMajor)).String()), true
}

// Normalize encodes v as JSON, decodes it into a generic tree, and rescales
// the currency fields. The result marshals back to JSON unchanged apart from
// the rescaled values.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return Currency.Apply(tree), nil
}

// MinorToMajor converts a single minor-unit amount.
func MinorToMajor(minor int64) float64 {
	value, _ := decimal.New(minor, -2).Float64()
	return value
}
