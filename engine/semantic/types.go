package semantic

// -----------------------------------------------------------------------------
// Time Granularity
// -----------------------------------------------------------------------------

type TimeGranularity string

const (
	GranularityNanosecond  TimeGranularity = "NANOSECOND"
	GranularityMicrosecond TimeGranularity = "MICROSECOND"
	GranularityMillisecond TimeGranularity = "MILLISECOND"
	GranularitySecond      TimeGranularity = "SECOND"
	GranularityMinute      TimeGranularity = "MINUTE"
	GranularityHour        TimeGranularity = "HOUR"
	GranularityDay         TimeGranularity = "DAY"
	GranularityWeek        TimeGranularity = "WEEK"
	GranularityMonth       TimeGranularity = "MONTH"
	GranularityQuarter     TimeGranularity = "QUARTER"
	GranularityYear        TimeGranularity = "YEAR"
)

func (g TimeGranularity) String() string {
	return string(g)
}

// QueryableGranularities are the grains exposed on time dimensions. Finer
// grains are valid in filters but not offered for grouping.
var QueryableGranularities = []TimeGranularity{
	GranularityDay,
	GranularityWeek,
	GranularityMonth,
	GranularityQuarter,
	GranularityYear,
}

// -----------------------------------------------------------------------------
// Dimension / Metric Types
// -----------------------------------------------------------------------------

type DimensionType string

const (
	DimensionCategorical DimensionType = "CATEGORICAL"
	DimensionTime        DimensionType = "TIME"
)

type MetricType string

const (
	MetricSimple     MetricType = "SIMPLE"
	MetricRatio      MetricType = "RATIO"
	MetricCumulative MetricType = "CUMULATIVE"
	MetricDerived    MetricType = "DERIVED"
	MetricConversion MetricType = "CONVERSION"
)

// -----------------------------------------------------------------------------
// Query Status
// -----------------------------------------------------------------------------

type QueryStatus string

const (
	QueryPending    QueryStatus = "PENDING"
	QueryRunning    QueryStatus = "RUNNING"
	QueryCompiled   QueryStatus = "COMPILED"
	QuerySuccessful QueryStatus = "SUCCESSFUL"
	QueryFailed     QueryStatus = "FAILED"
)

// Terminal reports whether the status admits no further transition.
func (s QueryStatus) Terminal() bool {
	return s == QuerySuccessful || s == QueryFailed
}

// -----------------------------------------------------------------------------
// Catalog DTOs
// -----------------------------------------------------------------------------

type SemanticModelDTO struct {
	Name        string `json:"name"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

type DimensionDTO struct {
	Name                   string            `json:"name"`
	Description            string            `json:"description,omitempty"`
	Label                  string            `json:"label,omitempty"`
	Type                   DimensionType     `json:"type"`
	QueryableGranularities []TimeGranularity `json:"queryableGranularities"`
	SemanticModel          *SemanticModelDTO `json:"semanticModel,omitempty"`
}

type MetricDTO struct {
	Name                   string             `json:"name"`
	Description            string             `json:"description,omitempty"`
	Label                  string             `json:"label,omitempty"`
	Type                   MetricType         `json:"type"`
	QueryableGranularities []TimeGranularity  `json:"queryableGranularities"`
	Dimensions             []DimensionDTO     `json:"dimensions"`
	SemanticModels         []SemanticModelDTO `json:"semanticModels"`
}

type MetricSummaryDTO struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Label       string     `json:"label,omitempty"`
	Type        MetricType `json:"type"`
}

type SemanticModelDetailDTO struct {
	Name        string             `json:"name"`
	Label       string             `json:"label,omitempty"`
	Description string             `json:"description,omitempty"`
	Metrics     []MetricSummaryDTO `json:"metrics"`
	Dimensions  []DimensionDTO     `json:"dimensions"`
}

// Column describes one column of an encoded result set.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResultDTO is the terminal shape returned to clients.
type QueryResultDTO struct {
	Status     QueryStatus      `json:"status"`
	SQL        string           `json:"sql,omitempty"`
	Columns    []Column         `json:"columns,omitempty"`
	Rows       []map[string]any `json:"rows,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	TotalPages int              `json:"totalPages"`
	Error      string           `json:"error,omitempty"`
}
