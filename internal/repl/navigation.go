package repl

import (
	"strconv"
	"strings"
)

// GenerateNavigationCode maps a natural-language query onto a starter script.
// It is a keyword matcher, not a planner; the output still goes through
// ExecuteCode and its validator like any other script.
func GenerateNavigationCode(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "find") || strings.Contains(q, "search"):
		return "result = find_messages(" + strconv.Quote(lastWord(query)) + ")"
	case strings.Contains(q, "summarize"):
		return "result = summarize_range(0, count_messages())"
	case strings.Contains(q, "facts"):
		return "result = aggregate_facts()"
	case strings.Contains(q, "entities"):
		return "result = extract_entities()"
	case strings.Contains(q, "count"):
		return "result = count_messages()"
	default:
		return "n := count_messages()\nresult = slice_messages(n-10, n)"
	}
}

// GenerateNavigationCode is a convenience wrapper on the manager.
func (m *Manager) GenerateNavigationCode(query string) string {
	return GenerateNavigationCode(query)
}

func lastWord(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[len(fields)-1], `?!.,;:"'`)
}
