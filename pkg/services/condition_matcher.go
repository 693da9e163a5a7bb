package services

import (
	"reflect"
	"strconv"

	"github.com/propline-io/escalation-gateway/pkg/models"
)

// MatchesCondition evaluates a rule predicate against a record.
//
// A condition with an empty field or a nil value is a documented
// pass-through: a rule with no predicate configured watches every record
// of its entity type. Unknown operators never match.
//
// The operators are defined over scalar record fields. A record field that
// is itself a list never equals a scalar, so it fails "equals" and "in"
// closed, and passes "not_in".
func MatchesCondition(record models.TargetRecord, cond *models.Condition) bool {
	if cond == nil || cond.Field == "" || cond.Value == nil {
		return true
	}

	fieldValue, ok := record.Field(cond.Field)
	if !ok {
		// A record lacking the field cannot satisfy a membership or
		// equality check, but it is trivially absent from any exclusion
		// list.
		return cond.Operator == models.OperatorNotIn
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return equalValues(fieldValue, cond.Value)
	case models.OperatorIn:
		return valueInList(fieldValue, cond.Value)
	case models.OperatorNotIn:
		return !valueInList(fieldValue, cond.Value)
	default:
		return false
	}
}

// valueInList reports membership of v in the condition's list value. A
// non-list condition value is treated as a single-element list, matching
// how rule authors commonly write one-value "in" conditions.
func valueInList(v, list interface{}) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return equalValues(v, list)
	}
	for i := 0; i < rv.Len(); i++ {
		if equalValues(v, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// equalValues is deep equality with numeric widening, so an int32 status
// code from a store matches a float64 decoded from rule JSON.
func equalValues(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
