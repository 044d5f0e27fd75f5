package semantic

import (
	"strconv"
	"strings"
	"time"
)

var dateGrainSuffixes = []string{"__day", "__week", "__month", "__quarter", "__year"}

// fieldType maps a warehouse column type onto the wire vocabulary. Timestamp
// columns named after a date-level grain are reported as plain dates.
func fieldType(columnName string, columnType ColumnType) string {
	switch columnType {
	case ColumnTimestamp:
		for _, suffix := range dateGrainSuffixes {
			if strings.HasSuffix(columnName, suffix) {
				return "date"
			}
		}
		return "timestamp"
	case ColumnInteger, ColumnFloat, ColumnDecimal:
		return "number"
	case ColumnBoolean:
		return "boolean"
	default:
		return "string"
	}
}

func serializeValue(value any, fieldType string) any {
	if value == nil {
		return nil
	}
	if ts, ok := value.(time.Time); ok {
		if fieldType == "date" {
			return ts.Format("2006-01-02")
		}
		return ts.Format(time.RFC3339)
	}
	switch v := value.(type) {
	case string:
		if fieldType == "number" {
			// Decimals arrive as strings from some drivers; cast to double.
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return v
	default:
		return value
	}
}

// EncodeRowsAndColumns converts a DataTable into the columns/rows shape served
// to clients: columns as [{name, type}] and rows as name→value records.
func EncodeRowsAndColumns(table *DataTable) ([]Column, []map[string]any) {
	if table == nil {
		return []Column{}, []map[string]any{}
	}
	columns := make([]Column, len(table.Columns))
	fieldTypes := make([]string, len(table.Columns))
	for i, desc := range table.Columns {
		fieldTypes[i] = fieldType(desc.Name, desc.Type)
		columns[i] = Column{Name: desc.Name, Type: fieldTypes[i]}
	}
	rows := make([]map[string]any, 0, len(table.Rows))
	for _, row := range table.Rows {
		record := make(map[string]any, len(table.Columns))
		for i, desc := range table.Columns {
			if i < len(row) {
				record[desc.Name] = serializeValue(row[i], fieldTypes[i])
			}
		}
		rows = append(rows, record)
	}
	return columns, rows
}
