package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatValue renders a filter value as a SQL literal. Booleans become
// TRUE/FALSE, nil becomes NULL, numbers are stringified, timestamps are
// normalized to UTC, and strings are single-quoted with '' escaping.
func formatValue(value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case nil:
		return "NULL"
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		return "'" + v.UTC().Format("2006-01-02 15:04:05") + "'"
	case string:
		return "'" + escapeString(v) + "'"
	default:
		return "'" + escapeString(fmt.Sprint(v)) + "'"
	}
}

func formatValues(values []any) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = formatValue(value)
	}
	return strings.Join(parts, ", ")
}

func escapeString(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

func escapeIdentifier(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
