package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightdash/metricflow-service/engine/core"
)

func dimensionFilter(rule Rule) *Filters {
	return &Filters{Dimensions: &Group{ID: "root", And: []Item{{Rule: &rule}}}}
}

func compileOne(t *testing.T, filters *Filters) string {
	t.Helper()
	out, err := Compile(filters, nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestCompile(t *testing.T) {
	t.Run("Should return empty slice for nil filters", func(t *testing.T) {
		out, err := Compile(nil, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Should lower single equals rule to dimension marker", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			ID:       "r1",
			Target:   Target{FieldID: "region"},
			Operator: OpEquals,
			Values:   []any{"APAC"},
		}))
		assert.Equal(t, "({{ Dimension('region') }} = 'APAC')", sql)
	})

	t.Run("Should lower multi-value equals to IN", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target:   Target{FieldID: "region"},
			Operator: OpEquals,
			Values:   []any{"APAC", "EMEA"},
		}))
		assert.Equal(t, "({{ Dimension('region') }} IN ('APAC', 'EMEA'))", sql)
	})

	t.Run("Should include NULL escape hatch on notEquals", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target:   Target{FieldID: "region"},
			Operator: OpNotEquals,
			Values:   []any{"APAC"},
		}))
		assert.Equal(t,
			"(({{ Dimension('region') }} != 'APAC' OR {{ Dimension('region') }} IS NULL))", sql)
	})

	t.Run("Should lower grained field id to TimeDimension marker", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target:   Target{FieldID: "order_date__month"},
			Operator: OpInBetween,
			Values:   []any{"2024-01-01", "2024-03-31"},
		}))
		assert.Equal(t,
			"(({{ TimeDimension('order_date', 'month') }} >= '2024-01-01'"+
				" AND {{ TimeDimension('order_date', 'month') }} <= '2024-03-31'))", sql)
	})

	t.Run("Should keep double underscore names without grain suffix intact", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target:   Target{FieldID: "customer__segment"},
			Operator: OpIsNull,
		}))
		assert.Equal(t, "({{ Dimension('customer__segment') }} IS NULL)", sql)
	})

	t.Run("Should lower metric rule with groupBy override", func(t *testing.T) {
		filters := &Filters{Metrics: &Group{And: []Item{{Rule: &Rule{
			Target:   Target{FieldID: "revenue"},
			Operator: OpGreaterThan,
			Values:   []any{1000},
			Settings: &Settings{GroupBy: []string{"customer"}},
		}}}}}
		out, err := Compile(filters, nil, map[string]struct{}{"customer": {}})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "({{ Metric('revenue', group_by=['customer']) }} > 1000)", out[0])
	})

	t.Run("Should drop metric rule without groupBy", func(t *testing.T) {
		filters := &Filters{Metrics: &Group{And: []Item{{Rule: &Rule{
			Target:   Target{FieldID: "revenue"},
			Operator: OpGreaterThan,
			Values:   []any{1000},
		}}}}}
		out, err := Compile(filters, nil, map[string]struct{}{"customer": {}})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Should reject metric groupBy outside entity names", func(t *testing.T) {
		filters := &Filters{Metrics: &Group{And: []Item{{Rule: &Rule{
			ID:       "r9",
			Target:   Target{FieldID: "revenue"},
			Operator: OpGreaterThan,
			Values:   []any{1000},
			Settings: &Settings{GroupBy: []string{"nope"}},
		}}}}}
		_, err := Compile(filters, nil, map[string]struct{}{"customer": {}, "order": {}})
		require.Error(t, err)
		coreErr := core.AsError(err)
		assert.Equal(t, core.CodeValidationError, coreErr.Code)
		assert.Equal(t, []string{"nope"}, coreErr.Details["invalid"])
		assert.Equal(t, []string{"customer", "order"}, coreErr.Details["allowed"])
		assert.Equal(t, "r9", coreErr.Details["ruleId"])
	})

	t.Run("Should drop disabled rules", func(t *testing.T) {
		out, err := Compile(dimensionFilter(Rule{
			Target:   Target{FieldID: "region"},
			Operator: OpEquals,
			Values:   []any{"APAC"},
			Disabled: true,
		}), nil, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Should drop table calculation rules", func(t *testing.T) {
		filters := &Filters{TableCalculations: &Group{And: []Item{{Rule: &Rule{
			Target:   Target{FieldID: "running_total"},
			Operator: OpGreaterThan,
			Values:   []any{5},
		}}}}}
		out, err := Compile(filters, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Should reject group carrying both and and or", func(t *testing.T) {
		filters := &Filters{Dimensions: &Group{
			ID:  "g1",
			And: []Item{{Rule: &Rule{Target: Target{FieldID: "a"}, Operator: OpIsNull}}},
			Or:  []Item{{Rule: &Rule{Target: Target{FieldID: "b"}, Operator: OpIsNull}}},
		}}
		_, err := Compile(filters, nil, nil)
		require.Error(t, err)
		assert.True(t, core.IsCode(err, core.CodeValidationError))
	})

	t.Run("Should reject item carrying both rule and group", func(t *testing.T) {
		filters := &Filters{Dimensions: &Group{And: []Item{{
			Rule:  &Rule{Target: Target{FieldID: "a"}, Operator: OpIsNull},
			Group: &Group{},
		}}}}
		_, err := Compile(filters, nil, nil)
		require.Error(t, err)
		assert.True(t, core.IsCode(err, core.CodeValidationError))
	})

	t.Run("Should join nested OR group", func(t *testing.T) {
		filters := &Filters{Dimensions: &Group{Or: []Item{
			{Rule: &Rule{Target: Target{FieldID: "region"}, Operator: OpEquals, Values: []any{"APAC"}}},
			{Rule: &Rule{Target: Target{FieldID: "region"}, Operator: OpIsNull}},
		}}}
		out, err := Compile(filters, nil, nil)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t,
			"(({{ Dimension('region') }} = 'APAC') OR ({{ Dimension('region') }} IS NULL))",
			out[0])
	})

	t.Run("Should AND-join dimension and metric clauses", func(t *testing.T) {
		filters := &Filters{
			Dimensions: &Group{And: []Item{{Rule: &Rule{
				Target: Target{FieldID: "region"}, Operator: OpEquals, Values: []any{"APAC"},
			}}}},
			Metrics: &Group{And: []Item{{Rule: &Rule{
				Target:   Target{FieldID: "revenue"},
				Operator: OpGreaterThan,
				Values:   []any{100},
				Settings: &Settings{GroupBy: []string{"customer"}},
			}}}},
		}
		out, err := Compile(filters, nil, map[string]struct{}{"customer": {}})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t,
			"({{ Dimension('region') }} = 'APAC')"+
				" AND ({{ Metric('revenue', group_by=['customer']) }} > 100)",
			out[0])
	})

	t.Run("Should fall back to query groupBy for metric rules", func(t *testing.T) {
		filters := &Filters{Metrics: &Group{And: []Item{{Rule: &Rule{
			Target:   Target{FieldID: "revenue"},
			Operator: OpLessThan,
			Values:   []any{50},
			Settings: &Settings{GroupBy: []string{"customer"}},
		}}}}}
		out, err := Compile(filters, []string{"customer"}, map[string]struct{}{"customer": {}})
		require.NoError(t, err)
		assert.Contains(t, out[0], "group_by=['customer']")
	})

	t.Run("Should fail operators that require values", func(t *testing.T) {
		for _, op := range []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpInBetween} {
			_, err := Compile(dimensionFilter(Rule{
				Target: Target{FieldID: "region"}, Operator: op,
			}), nil, nil)
			assert.True(t, core.IsCode(err, core.CodeValidationError), "operator %s", op)
		}
	})

	t.Run("Should reject unknown operators", func(t *testing.T) {
		_, err := Compile(dimensionFilter(Rule{
			Target: Target{FieldID: "region"}, Operator: Operator("bogus"),
		}), nil, nil)
		assert.True(t, core.IsCode(err, core.CodeValidationError))
	})
}

func TestLikeOperators(t *testing.T) {
	t.Run("Should wrap include values with both wildcards", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target: Target{FieldID: "name"}, Operator: OpInclude, Values: []any{"acme"},
		}))
		assert.Equal(t, "({{ Dimension('name') }} LIKE '%acme%')", sql)
	})

	t.Run("Should wrap startsWith with trailing wildcard", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target: Target{FieldID: "name"}, Operator: OpStartsWith, Values: []any{"ac"},
		}))
		assert.Equal(t, "({{ Dimension('name') }} LIKE 'ac%')", sql)
	})

	t.Run("Should wrap endsWith with leading wildcard", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target: Target{FieldID: "name"}, Operator: OpEndsWith, Values: []any{"me"},
		}))
		assert.Equal(t, "({{ Dimension('name') }} LIKE '%me')", sql)
	})

	t.Run("Should AND-join doesNotInclude over multiple values", func(t *testing.T) {
		sql := compileOne(t, dimensionFilter(Rule{
			Target: Target{FieldID: "name"}, Operator: OpDoesNotInclude, Values: []any{"a", "b"},
		}))
		assert.Equal(t,
			"(({{ Dimension('name') }} NOT LIKE '%a%' AND {{ Dimension('name') }} NOT LIKE '%b%'))",
			sql)
	})
}

func TestFormatValue(t *testing.T) {
	t.Run("Should render primitive literals", func(t *testing.T) {
		assert.Equal(t, "TRUE", formatValue(true))
		assert.Equal(t, "FALSE", formatValue(false))
		assert.Equal(t, "NULL", formatValue(nil))
		assert.Equal(t, "42", formatValue(42))
		assert.Equal(t, "3.14", formatValue(3.14))
		assert.Equal(t, "'APAC'", formatValue("APAC"))
	})

	t.Run("Should escape embedded quotes", func(t *testing.T) {
		assert.Equal(t, "'O''Brien'", formatValue("O'Brien"))
		assert.Equal(t, "''''", formatValue("'"))
	})

	t.Run("Should render timestamps in UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*3600)
		ts := time.Date(2024, 5, 15, 12, 30, 45, 0, loc)
		assert.Equal(t, "'2024-05-15 10:30:45'", formatValue(ts))
	})

	t.Run("Should not render exponent notation for large floats", func(t *testing.T) {
		assert.Equal(t, "100000000", formatValue(1e8))
	})
}
