package filter

// -----------------------------------------------------------------------------
// Filter AST
// -----------------------------------------------------------------------------

// Filters is the root of the filter tree, one optional group per target
// domain.
type Filters struct {
	Dimensions        *Group `json:"dimensions,omitempty"`
	Metrics           *Group `json:"metrics,omitempty"`
	TableCalculations *Group `json:"tableCalculations,omitempty"`
}

// Group combines items with exactly one of AND or OR semantics. An empty
// group contributes nothing.
type Group struct {
	ID  string `json:"id"`
	And []Item `json:"and,omitempty"`
	Or  []Item `json:"or,omitempty"`
}

// Item carries exactly one of a rule or a nested group.
type Item struct {
	Rule  *Rule  `json:"rule,omitempty"`
	Group *Group `json:"group,omitempty"`
}

// Rule is a single predicate over a target field.
type Rule struct {
	ID       string    `json:"id"`
	Target   Target    `json:"target"`
	Operator Operator  `json:"operator"`
	Values   []any     `json:"values,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
}

type Target struct {
	FieldID string `json:"fieldId"`
}

type Settings struct {
	UnitOfTime string   `json:"unitOfTime,omitempty"`
	Completed  bool     `json:"completed,omitempty"`
	GroupBy    []string `json:"groupBy,omitempty"`
}

// -----------------------------------------------------------------------------
// Operators
// -----------------------------------------------------------------------------

type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpInclude            Operator = "include"
	OpDoesNotInclude     Operator = "doesNotInclude"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
	OpIsNull             Operator = "isNull"
	OpNotNull            Operator = "notNull"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpInBetween          Operator = "inBetween"
	OpNotInBetween       Operator = "notInBetween"
	OpInThePast          Operator = "inThePast"
	OpInTheNext          Operator = "inTheNext"
	OpInTheCurrent       Operator = "inTheCurrent"
	OpNotInTheCurrent    Operator = "notInTheCurrent"
)

// relativeOperators are handled by the relative-time lowering rather than the
// operator table.
var relativeOperators = map[Operator]struct{}{
	OpInThePast:       {},
	OpInTheNext:       {},
	OpInTheCurrent:    {},
	OpNotInTheCurrent: {},
}

// targetDomain selects the lowering mode for a filter group.
type targetDomain string

const (
	domainDimension        targetDomain = "dimension"
	domainMetric           targetDomain = "metric"
	domainTableCalculation targetDomain = "table_calculation"
)
