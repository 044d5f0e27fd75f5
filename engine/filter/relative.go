package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeGrains = map[string]struct{}{
	"nanosecond":  {},
	"microsecond": {},
	"millisecond": {},
	"second":      {},
	"minute":      {},
	"hour":        {},
	"day":         {},
	"week":        {},
	"month":       {},
	"quarter":     {},
	"year":        {},
}

// timePrecisionUnits emit full timestamps; coarser units emit date literals.
var timePrecisionUnits = map[string]struct{}{
	"hour":        {},
	"minute":      {},
	"second":      {},
	"millisecond": {},
	"microsecond": {},
	"nanosecond":  {},
}

// timeNow is swapped in tests to pin the relative-time window.
var timeNow = time.Now

func buildRelativeTimeSQL(expr string, operator Operator, values []any, settings *Settings) (string, error) {
	var rawUnit string
	if settings != nil {
		rawUnit = settings.UnitOfTime
	}
	unit, err := normalizeUnit(rawUnit)
	if err != nil {
		return "", err
	}
	now := timeNow().UTC()
	switch operator {
	case OpInThePast:
		count, err := normalizeCount(values)
		if err != nil {
			return "", err
		}
		return rangeSQL(expr, shiftTime(now, -count, unit), now, unit), nil
	case OpInTheNext:
		count, err := normalizeCount(values)
		if err != nil {
			return "", err
		}
		return rangeSQL(expr, now, shiftTime(now, count, unit), unit), nil
	}
	start, end := currentPeriodRange(now, unit)
	if operator == OpInTheCurrent {
		return rangeSQL(expr, start, end, unit), nil
	}
	return fmt.Sprintf("(%s < %s OR %s > %s)",
		expr, formatTime(start, unit), expr, formatTime(end, unit)), nil
}

func rangeSQL(expr string, start, end time.Time, unit string) string {
	return fmt.Sprintf("(%s >= %s AND %s <= %s)",
		expr, formatTime(start, unit), expr, formatTime(end, unit))
}

// normalizeUnit lowercases and strips a plural suffix; empty means day.
func normalizeUnit(unit string) (string, error) {
	if unit == "" {
		return "day", nil
	}
	normalized := strings.ToLower(unit)
	normalized = strings.TrimSuffix(normalized, "s")
	if _, ok := timeGrains[normalized]; !ok {
		return "", validationError(fmt.Sprintf("unsupported unitOfTime: %s", unit))
	}
	return normalized, nil
}

func normalizeCount(values []any) (int, error) {
	if len(values) == 0 {
		return 0, missingValuesError("relativeTime")
	}
	count, err := toInt(values[0])
	if err != nil {
		return 0, validationError("relativeTime values must be integers")
	}
	if count <= 0 {
		return 0, validationError("relativeTime values must be greater than 0")
	}
	return count, nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("not an integer: %v", value)
	}
}

// currentPeriodRange returns the inclusive [start, end] window of the unit
// containing now. End is the last whole second of the period.
func currentPeriodRange(now time.Time, unit string) (start, end time.Time) {
	switch unit {
	case "day":
		start = truncateDay(now)
		return start, start.AddDate(0, 0, 1).Add(-time.Second)
	case "week":
		start = startOfWeek(now)
		return start, start.AddDate(0, 0, 7).Add(-time.Second)
	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, addMonths(start, 1).Add(-time.Second)
	case "quarter":
		quarter := (int(now.Month()) - 1) / 3
		start = time.Date(now.Year(), time.Month(quarter*3+1), 1, 0, 0, 0, 0, time.UTC)
		return start, addMonths(start, 3).Add(-time.Second)
	case "year":
		start = time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0).Add(-time.Second)
	case "hour":
		start = now.Truncate(time.Hour)
		return start, start.Add(time.Hour - time.Second)
	case "minute":
		start = now.Truncate(time.Minute)
		return start, start.Add(time.Minute - time.Second)
	case "second":
		start = now.Truncate(time.Second)
		return start, start.Add(time.Second - time.Second)
	default:
		return now, now
	}
}

func shiftTime(now time.Time, count int, unit string) time.Time {
	switch unit {
	case "second":
		return now.Add(time.Duration(count) * time.Second)
	case "minute":
		return now.Add(time.Duration(count) * time.Minute)
	case "hour":
		return now.Add(time.Duration(count) * time.Hour)
	case "day":
		return now.AddDate(0, 0, count)
	case "week":
		return now.AddDate(0, 0, count*7)
	case "month":
		return addMonths(now, count)
	case "quarter":
		return addMonths(now, count*3)
	case "year":
		return addMonths(now, count*12)
	default:
		return now
	}
}

// addMonths performs calendar-aware month addition, clamping the day to the
// target month's last valid day.
func addMonths(t time.Time, months int) time.Time {
	monthIndex := int(t.Month()) - 1 + months
	year := t.Year() + monthIndex/12
	month := monthIndex % 12
	if month < 0 {
		month += 12
		year--
	}
	targetMonth := time.Month(month + 1)
	day := t.Day()
	if last := daysInMonth(year, targetMonth); day > last {
		day = last
	}
	return time.Date(year, targetMonth, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// startOfWeek truncates to the preceding Monday.
func startOfWeek(t time.Time) time.Time {
	weekday := int(t.Weekday())
	// time.Weekday has Sunday=0; shift so Monday=0.
	delta := (weekday + 6) % 7
	return truncateDay(t.AddDate(0, 0, -delta))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatTime(t time.Time, unit string) string {
	if _, ok := timePrecisionUnits[unit]; ok {
		return formatValue(t)
	}
	return "'" + t.Format("2006-01-02") + "'"
}
