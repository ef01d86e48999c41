// Package match implements the condition matcher shared by scoring and
// trigger evaluation.
package match

import (
	"strconv"
	"strings"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// Matches reports whether value satisfies op against compareTo.
//
// Numeric operators parse both sides as floats; a non-numeric value never
// satisfies a numeric comparison (the rule silently does not match).
// Unknown operators fail closed.
func Matches(value string, op model.Operator, compareTo string) bool {
	switch op {
	case model.OpEquals:
		return value == compareTo
	case model.OpNotEquals:
		return value != compareTo
	case model.OpContains:
		return strings.Contains(strings.ToLower(value), strings.ToLower(compareTo))
	case model.OpGreaterThan:
		v, cv, ok := parseBoth(value, compareTo)
		return ok && v > cv
	case model.OpLessThan:
		v, cv, ok := parseBoth(value, compareTo)
		return ok && v < cv
	case model.OpIsSet:
		return isSet(value)
	case model.OpIsNotSet:
		return !isSet(value)
	}
	return false
}

func parseBoth(value, compareTo string) (float64, float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, 0, false
	}
	cv, err := strconv.ParseFloat(strings.TrimSpace(compareTo), 64)
	if err != nil {
		return 0, 0, false
	}
	return v, cv, true
}

// isSet treats the literal null/undefined strings as unset; they leak in
// from upstream serializers that stringify missing fields.
func isSet(value string) bool {
	return value != "" && value != "null" && value != "undefined"
}
