package semantic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldType(t *testing.T) {
	t.Run("Should map warehouse types onto the wire vocabulary", func(t *testing.T) {
		assert.Equal(t, "timestamp", fieldType("created_at", ColumnTimestamp))
		assert.Equal(t, "number", fieldType("total", ColumnInteger))
		assert.Equal(t, "number", fieldType("total", ColumnFloat))
		assert.Equal(t, "number", fieldType("total", ColumnDecimal))
		assert.Equal(t, "boolean", fieldType("is_paid", ColumnBoolean))
		assert.Equal(t, "string", fieldType("status", ColumnString))
	})

	t.Run("Should report date-grained timestamp columns as dates", func(t *testing.T) {
		for _, name := range []string{
			"order_date__day", "order_date__week", "order_date__month",
			"order_date__quarter", "order_date__year",
		} {
			assert.Equal(t, "date", fieldType(name, ColumnTimestamp), name)
		}
		// Finer grains stay timestamps.
		assert.Equal(t, "timestamp", fieldType("order_date__hour", ColumnTimestamp))
	})
}

func TestEncodeRowsAndColumns(t *testing.T) {
	t.Run("Should encode rows as name-keyed records", func(t *testing.T) {
		columns, rows := EncodeRowsAndColumns(&DataTable{
			Columns: []ColumnDesc{
				{Name: "status", Type: ColumnString},
				{Name: "revenue", Type: ColumnFloat},
			},
			Rows: [][]any{
				{"complete", 99.5},
				{"pending", 10.0},
			},
		})
		assert.Equal(t, []Column{
			{Name: "status", Type: "string"},
			{Name: "revenue", Type: "number"},
		}, columns)
		assert.Equal(t, []map[string]any{
			{"status": "complete", "revenue": 99.5},
			{"status": "pending", "revenue": 10.0},
		}, rows)
	})

	t.Run("Should format date-grained timestamps as bare dates", func(t *testing.T) {
		_, rows := EncodeRowsAndColumns(&DataTable{
			Columns: []ColumnDesc{{Name: "order_date__month", Type: ColumnTimestamp}},
			Rows:    [][]any{{time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}},
		})
		assert.Equal(t, "2024-05-01", rows[0]["order_date__month"])
	})

	t.Run("Should format plain timestamps as RFC3339", func(t *testing.T) {
		_, rows := EncodeRowsAndColumns(&DataTable{
			Columns: []ColumnDesc{{Name: "created_at", Type: ColumnTimestamp}},
			Rows:    [][]any{{time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)}},
		})
		assert.Equal(t, "2024-05-01T12:30:00Z", rows[0]["created_at"])
	})

	t.Run("Should cast decimal strings on number columns to floats", func(t *testing.T) {
		_, rows := EncodeRowsAndColumns(&DataTable{
			Columns: []ColumnDesc{{Name: "revenue", Type: ColumnDecimal}},
			Rows:    [][]any{{"123.45"}, {"not-a-number"}},
		})
		assert.Equal(t, 123.45, rows[0]["revenue"])
		assert.Equal(t, "not-a-number", rows[1]["revenue"])
	})

	t.Run("Should keep nulls as nil", func(t *testing.T) {
		_, rows := EncodeRowsAndColumns(&DataTable{
			Columns: []ColumnDesc{{Name: "status", Type: ColumnString}},
			Rows:    [][]any{{nil}},
		})
		require.Len(t, rows, 1)
		assert.Nil(t, rows[0]["status"])
	})

	t.Run("Should return empty shapes for a nil table", func(t *testing.T) {
		columns, rows := EncodeRowsAndColumns(nil)
		assert.Empty(t, columns)
		assert.Empty(t, rows)
	})
}
