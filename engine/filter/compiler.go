package filter

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/lightdash/metricflow-service/engine/core"
	"github.com/lightdash/metricflow-service/pkg/logger"
)

// Compile lowers a filter tree into WHERE fragments. The result is either
// empty or a single string in which the per-domain clauses are parenthesized
// and joined by AND.
func Compile(filters *Filters, groupByNames []string, entityNames map[string]struct{}) ([]string, error) {
	if filters == nil {
		return []string{}, nil
	}
	var clauses []string
	groups := []struct {
		group  *Group
		domain targetDomain
	}{
		{filters.Dimensions, domainDimension},
		{filters.Metrics, domainMetric},
		{filters.TableCalculations, domainTableCalculation},
	}
	for _, g := range groups {
		clause, err := buildGroupSQL(g.group, g.domain, groupByNames, entityNames)
		if err != nil {
			return nil, err
		}
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	if len(clauses) == 0 {
		return []string{}, nil
	}
	wrapped := make([]string, len(clauses))
	for i, clause := range clauses {
		wrapped[i] = "(" + clause + ")"
	}
	return []string{strings.Join(wrapped, " AND ")}, nil
}

func buildGroupSQL(group *Group, domain targetDomain, groupByNames []string, entityNames map[string]struct{}) (string, error) {
	if group == nil {
		return "", nil
	}
	items, joiner, err := resolveGroupItems(group)
	if err != nil {
		return "", err
	}
	var parts []string
	for i := range items {
		part, err := buildItemSQL(&items[i], domain, groupByNames, entityNames)
		if err != nil {
			return "", err
		}
		if part != "" {
			parts = append(parts, part)
		}
	}
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	}
	wrapped := make([]string, len(parts))
	for i, part := range parts {
		wrapped[i] = "(" + part + ")"
	}
	return strings.Join(wrapped, " "+joiner+" "), nil
}

func resolveGroupItems(group *Group) ([]Item, string, error) {
	if len(group.And) > 0 && len(group.Or) > 0 {
		return nil, "", validationError(
			fmt.Sprintf("FilterGroup(%s) cannot carry both and/or items", group.ID))
	}
	if len(group.And) > 0 {
		return group.And, "AND", nil
	}
	if len(group.Or) > 0 {
		return group.Or, "OR", nil
	}
	return nil, "AND", nil
}

func buildItemSQL(item *Item, domain targetDomain, groupByNames []string, entityNames map[string]struct{}) (string, error) {
	if item.Rule != nil && item.Group != nil {
		return "", validationError("FilterGroupItem can only carry a rule or a group")
	}
	if item.Rule != nil {
		return buildRuleSQL(item.Rule, domain, groupByNames, entityNames)
	}
	if item.Group != nil {
		return buildGroupSQL(item.Group, domain, groupByNames, entityNames)
	}
	return "", validationError("FilterGroupItem must carry a rule or a group")
}

func buildRuleSQL(rule *Rule, domain targetDomain, groupByNames []string, entityNames map[string]struct{}) (string, error) {
	if rule.Disabled {
		return "", nil
	}
	if domain == domainTableCalculation {
		return "", nil
	}
	var groupByOverride []string
	if rule.Settings != nil {
		groupByOverride = rule.Settings.GroupBy
	}
	if domain == domainMetric {
		if len(groupByOverride) == 0 {
			logger.Warn("metrics filter ignored: missing settings.groupBy",
				"rule_id", rule.ID, "field_id", rule.Target.FieldID)
			return "", nil
		}
		if err := validateMetricGroupBy(groupByOverride, entityNames, rule.ID); err != nil {
			return "", err
		}
	}
	expr, err := buildTargetExpression(rule.Target.FieldID, domain, groupByNames, groupByOverride)
	if err != nil {
		return "", err
	}
	if _, ok := relativeOperators[rule.Operator]; ok {
		return buildRelativeTimeSQL(expr, rule.Operator, rule.Values, rule.Settings)
	}
	return buildOperatorSQL(expr, rule.Operator, rule.Values)
}

func validateMetricGroupBy(groupBy []string, entityNames map[string]struct{}, ruleID string) error {
	if len(groupBy) == 0 || len(entityNames) == 0 {
		return nil
	}
	var invalid []string
	for _, name := range groupBy {
		if _, ok := entityNames[name]; !ok {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(entityNames))
	for name := range entityNames {
		allowed = append(allowed, name)
	}
	sort.Strings(allowed)
	return validationError("metrics filters settings.groupBy must reference entity names").
		WithDetails(map[string]any{"invalid": invalid, "allowed": allowed, "ruleId": ruleID})
}

// -----------------------------------------------------------------------------
// Target expression lowering
// -----------------------------------------------------------------------------

func buildTargetExpression(fieldID string, domain targetDomain, groupByNames, groupByOverride []string) (string, error) {
	if domain == domainMetric {
		names := groupByOverride
		if len(names) == 0 {
			names = groupByNames
		}
		groupByList, err := formatGroupByList(names)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("{{ Metric('%s', group_by=%s) }}", escapeIdentifier(fieldID), groupByList), nil
	}
	base, grain := splitTimeGrain(fieldID)
	if grain != "" {
		return fmt.Sprintf("{{ TimeDimension('%s', '%s') }}", escapeIdentifier(base), grain), nil
	}
	return fmt.Sprintf("{{ Dimension('%s') }}", escapeIdentifier(fieldID)), nil
}

func formatGroupByList(names []string) (string, error) {
	if len(names) == 0 {
		return "", validationError("metrics filters require a groupBy")
	}
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = "'" + escapeIdentifier(name) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]", nil
}

func splitTimeGrain(fieldID string) (base, grain string) {
	idx := strings.LastIndex(fieldID, "__")
	if idx < 0 {
		return fieldID, ""
	}
	suffix := strings.ToLower(fieldID[idx+2:])
	if _, ok := timeGrains[suffix]; ok {
		return fieldID[:idx], suffix
	}
	return fieldID, ""
}

// -----------------------------------------------------------------------------
// Operator dispatch
// -----------------------------------------------------------------------------

// operatorTable maps each value operator to its lowering closure.
var operatorTable = map[Operator]func(expr string, values []any) (string, error){
	OpEquals:    equalsSQL,
	OpNotEquals: notEqualsSQL,
	OpInclude: func(expr string, values []any) (string, error) {
		return likeSQL(expr, values, true, wildcardBoth)
	},
	OpDoesNotInclude: func(expr string, values []any) (string, error) {
		return likeSQL(expr, values, false, wildcardBoth)
	},
	OpStartsWith: func(expr string, values []any) (string, error) {
		return likeSQL(expr, values, true, wildcardRight)
	},
	OpEndsWith: func(expr string, values []any) (string, error) {
		return likeSQL(expr, values, true, wildcardLeft)
	},
	OpIsNull: func(expr string, _ []any) (string, error) {
		return expr + " IS NULL", nil
	},
	OpNotNull: func(expr string, _ []any) (string, error) {
		return expr + " IS NOT NULL", nil
	},
	OpGreaterThan: func(expr string, values []any) (string, error) {
		return compareSQL(expr, ">", values)
	},
	OpGreaterThanOrEqual: func(expr string, values []any) (string, error) {
		return compareSQL(expr, ">=", values)
	},
	OpLessThan: func(expr string, values []any) (string, error) {
		return compareSQL(expr, "<", values)
	},
	OpLessThanOrEqual: func(expr string, values []any) (string, error) {
		return compareSQL(expr, "<=", values)
	},
	OpInBetween: func(expr string, values []any) (string, error) {
		return betweenSQL(expr, values, false)
	},
	OpNotInBetween: func(expr string, values []any) (string, error) {
		return betweenSQL(expr, values, true)
	},
}

func buildOperatorSQL(expr string, operator Operator, values []any) (string, error) {
	build, ok := operatorTable[operator]
	if !ok {
		return "", validationError(fmt.Sprintf("unsupported operator: %s", operator))
	}
	return build(expr, values)
}

func equalsSQL(expr string, values []any) (string, error) {
	if len(values) == 0 {
		return "", missingValuesError("equals")
	}
	if len(values) == 1 {
		return fmt.Sprintf("%s = %s", expr, formatValue(values[0])), nil
	}
	return fmt.Sprintf("%s IN (%s)", expr, formatValues(values)), nil
}

func notEqualsSQL(expr string, values []any) (string, error) {
	if len(values) == 0 {
		return "", missingValuesError("notEquals")
	}
	if len(values) == 1 {
		return fmt.Sprintf("(%s != %s OR %s IS NULL)", expr, formatValue(values[0]), expr), nil
	}
	return fmt.Sprintf("(%s NOT IN (%s) OR %s IS NULL)", expr, formatValues(values), expr), nil
}

func compareSQL(expr, op string, values []any) (string, error) {
	if len(values) == 0 {
		return "", missingValuesError(op)
	}
	return fmt.Sprintf("%s %s %s", expr, op, formatValue(values[0])), nil
}

func betweenSQL(expr string, values []any, negate bool) (string, error) {
	if len(values) < 2 {
		return "", missingValuesError("inBetween")
	}
	left := formatValue(values[0])
	right := formatValue(values[1])
	if negate {
		return fmt.Sprintf("(%s < %s OR %s > %s)", expr, left, expr, right), nil
	}
	return fmt.Sprintf("(%s >= %s AND %s <= %s)", expr, left, expr, right), nil
}

type wildcardPosition int

const (
	wildcardBoth wildcardPosition = iota
	wildcardLeft
	wildcardRight
)

func likeSQL(expr string, values []any, include bool, wildcard wildcardPosition) (string, error) {
	if len(values) == 0 {
		return "", missingValuesError("like")
	}
	op := "LIKE"
	joiner := " OR "
	if !include {
		op = "NOT LIKE"
		joiner = " AND "
	}
	clauses := make([]string, len(values))
	for i, value := range values {
		raw := fmt.Sprint(value)
		var pattern string
		switch wildcard {
		case wildcardLeft:
			pattern = "%" + raw
		case wildcardRight:
			pattern = raw + "%"
		default:
			pattern = "%" + raw + "%"
		}
		clauses[i] = fmt.Sprintf("%s %s %s", expr, op, formatValue(pattern))
	}
	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return "(" + strings.Join(clauses, joiner) + ")", nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func validationError(message string) *core.Error {
	return core.NewError(core.CodeValidationError, http.StatusUnprocessableEntity, message)
}

func missingValuesError(operator string) *core.Error {
	return validationError(fmt.Sprintf("operator %s is missing values", operator))
}
