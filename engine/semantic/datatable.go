package semantic

// -----------------------------------------------------------------------------
// Column Type
// -----------------------------------------------------------------------------

// ColumnType is the warehouse-level type reported for a result column, before
// the encoder maps it to the wire type vocabulary.
type ColumnType string

const (
	ColumnTimestamp ColumnType = "timestamp"
	ColumnInteger   ColumnType = "integer"
	ColumnFloat     ColumnType = "float"
	ColumnDecimal   ColumnType = "decimal"
	ColumnBoolean   ColumnType = "boolean"
	ColumnString    ColumnType = "string"
)

// ColumnDesc describes one column of a DataTable.
type ColumnDesc struct {
	Name string
	Type ColumnType
}

// DataTable is the tabular result an engine returns from the warehouse.
type DataTable struct {
	Columns []ColumnDesc
	Rows    [][]any
}

// ColumnNames returns the column names in order, nil for a nil table.
func (t *DataTable) ColumnNames() []string {
	if t == nil {
		return nil
	}
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}
