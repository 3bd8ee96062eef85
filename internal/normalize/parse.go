package normalize

import (
	"strconv"
	"strings"
)

// parseFloatTolerant parses a locale-tolerant numeric string. It strips
// whitespace and normalizes a decimal comma to a decimal point. Returns nil
// when unparsable; downstream logic treats nil as "unknown", never as zero.
func parseFloatTolerant(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseIntTolerant parses an integer with the same tolerance rules as
// parseFloatTolerant, truncating any fractional part.
func parseIntTolerant(s string) *int {
	f := parseFloatTolerant(s)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// parseBoolTolerant recognizes common affirmative spellings. Anything else,
// including empty, is false.
func parseBoolTolerant(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "oui", "vrai":
		return true
	}
	return false
}

// normalizeCol lowercases and strips spaces, underscores and dashes so that
// "Tree ID", "tree_id" and "TREE-ID" all resolve to the same key.
func normalizeCol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// getCol returns the first non-empty value among the aliased column names.
func getCol(values map[string]string, aliases ...string) string {
	if len(values) == 0 {
		return ""
	}
	// Build the normalized view lazily per lookup; rows are small.
	norm := make(map[string]string, len(values))
	for k, v := range values {
		key := normalizeCol(k)
		if _, exists := norm[key]; !exists || strings.TrimSpace(v) != "" {
			norm[key] = v
		}
	}
	for _, a := range aliases {
		if v, ok := norm[normalizeCol(a)]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
