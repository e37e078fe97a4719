package core

import "strings"

// EvaluateRule applies a single rule to the context. An absent attribute
// never matches, whatever the operator.
func EvaluateRule(rule Rule, evalCtx EvaluationContext) bool {
	if !rule.Enabled {
		return false
	}

	attribute, ok := evalCtx.Attribute(rule.Attribute)
	if !ok || !attribute.IsValid() {
		return false
	}

	return compare(rule.Operator, attribute.String(), rule.Value)
}

func compare(operator Operator, actual string, expected string) bool {
	op, known := ParseOperator(string(operator))
	if !known {
		return false
	}

	switch op {
	case OperatorEquals:
		return actual == expected
	case OperatorNotEquals:
		return actual != expected
	case OperatorEqualsIgnoreCase:
		return strings.EqualFold(actual, expected)
	case OperatorIn:
		return containsFold(parseList(expected), actual)
	case OperatorNotIn:
		return !containsFold(parseList(expected), actual)
	case OperatorContains:
		return containsSubstringFold(actual, expected)
	case OperatorNotContains:
		return !containsSubstringFold(actual, expected)
	case OperatorStartsWith:
		return hasPrefixFold(actual, expected)
	case OperatorEndsWith:
		return hasSuffixFold(actual, expected)
	case OperatorRegex:
		return matchRegex(actual, expected)
	case OperatorGreaterThan:
		cmp, ok := compareNumbers(actual, expected)
		return ok && cmp > 0
	case OperatorGreaterThanOrEqual:
		cmp, ok := compareNumbers(actual, expected)
		return ok && cmp >= 0
	case OperatorLessThan:
		cmp, ok := compareNumbers(actual, expected)
		return ok && cmp < 0
	case OperatorLessThanOrEqual:
		cmp, ok := compareNumbers(actual, expected)
		return ok && cmp <= 0
	case OperatorBefore:
		cmp, ok := compareDateTimes(actual, expected)
		return ok && cmp < 0
	case OperatorAfter:
		cmp, ok := compareDateTimes(actual, expected)
		return ok && cmp > 0
	case OperatorVersionGreaterThan:
		cmp, ok := compareVersions(actual, expected)
		return ok && cmp > 0
	case OperatorVersionLessThan:
		cmp, ok := compareVersions(actual, expected)
		return ok && cmp < 0
	default:
		return false
	}
}
