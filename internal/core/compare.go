package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const regexMatchTimeout = 100 * time.Millisecond

// parseList reads a rule value as a JSON string array, falling back to a
// comma separated list.
func parseList(raw string) []string {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err == nil {
		return values
	}

	parts := strings.Split(raw, ",")
	values = make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

func containsSubstringFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func matchRegex(input, pattern string) bool {
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return false
	}
	re.MatchTimeout = regexMatchTimeout

	matched, err := re.MatchString(input)
	if err != nil {
		return false
	}
	return matched
}

// parseNumber accepts invariant decimal text: surrounding whitespace, a
// leading or trailing sign, ',' group separators and a '.' decimal point.
func parseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}

	sign := ""
	switch s[0] {
	case '+', '-':
		sign, s = s[:1], s[1:]
	}
	if sign == "" && len(s) > 0 {
		switch s[len(s)-1] {
		case '+', '-':
			sign, s = s[len(s)-1:], s[:len(s)-1]
		}
	}

	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "." {
		return 0, false
	}

	seenDot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.' && !seenDot:
			seenDot = true
		default:
			return 0, false
		}
	}

	n, err := strconv.ParseFloat(sign+s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func compareNumbers(left, right string) (int, bool) {
	l, ok := parseNumber(left)
	if !ok {
		return 0, false
	}
	r, ok := parseNumber(right)
	if !ok {
		return 0, false
	}

	switch {
	case l < r:
		return -1, true
	case l > r:
		return 1, true
	default:
		return 0, true
	}
}

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

// parseDateTime reads s as an instant. Text without an offset is UTC.
func parseDateTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func compareDateTimes(left, right string) (int, bool) {
	l, ok := parseDateTime(left)
	if !ok {
		return 0, false
	}
	r, ok := parseDateTime(right)
	if !ok {
		return 0, false
	}
	return l.Compare(r), true
}

// version has two to four components. Absent components are -1 so that
// "1.2" sorts before "1.2.0".
type version [4]int

func parseVersion(raw string) (version, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) < 2 || len(parts) > 4 {
		return version{}, false
	}

	v := version{-1, -1, -1, -1}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil || n < 0 {
			return version{}, false
		}
		v[i] = int(n)
	}
	return v, true
}

func (v version) compare(other version) int {
	for i := range v {
		switch {
		case v[i] < other[i]:
			return -1
		case v[i] > other[i]:
			return 1
		}
	}
	return 0
}

func compareVersions(left, right string) (int, bool) {
	l, ok := parseVersion(left)
	if !ok {
		return 0, false
	}
	r, ok := parseVersion(right)
	if !ok {
		return 0, false
	}
	return l.compare(r), true
}
