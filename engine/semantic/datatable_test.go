package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnNames(t *testing.T) {
	t.Run("Should return the column names in order", func(t *testing.T) {
		table := &DataTable{Columns: []ColumnDesc{
			{Name: "status", Type: ColumnString},
			{Name: "revenue", Type: ColumnDecimal},
		}}
		assert.Equal(t, []string{"status", "revenue"}, table.ColumnNames())
	})

	t.Run("Should return nil for a nil table", func(t *testing.T) {
		var table *DataTable
		assert.Nil(t, table.ColumnNames())
	})
}
