package alerts

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/hasl-sensors/hasl/pkg/types"
)

// evalCondition evaluates a rule condition string against an entity.
//
// Supported expressions (field operator value):
//
//	state < 5
//	state == unknown
//	api_result == Error
//	api_result != Success
//	success_percent < 80
//	deviations > 0
//
// Any other field is looked up in the entity attributes: numbers compare
// directly and lists compare by length.
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is missing.
func evalCondition(cond string, ent *types.Entity) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	switch field {
	case "state":
		if v, ok := ent.NumericState(); ok {
			if threshold, err := strconv.ParseFloat(rhs, 64); err == nil {
				return compareFloat(v, op, threshold), v
			}
		}
		return compareString(ent.StateString(), op, rhs), 0

	case "api_result":
		s, _ := ent.Attributes["api_result"].(string)
		if s == "" {
			return false, 0
		}
		return compareString(s, op, rhs), 0

	default:
		v, ok := numericAttr(ent.Attributes[field])
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// numericAttr converts an attribute value to a number. Slices yield their
// length.
func numericAttr(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		return float64(rv.Len()), true
	}
	return 0, false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return strings.EqualFold(v, want)
	case "!=":
		return !strings.EqualFold(v, want)
	default:
		return false
	}
}
