// Package model holds the data types shared across the analyser, plan
// inspector, statistics provider, and recommender.
package model

// PredicateRole is the closed enumeration of ways a column can participate
// in a predicate.
type PredicateRole string

const (
	RoleEquality PredicateRole = "equality"
	RoleRange    PredicateRole = "range"
	RoleOther    PredicateRole = "other"
	RoleOrderBy  PredicateRole = "order-by"
)

// rolePriority ranks roles so that a later, weaker classification never
// downgrades an earlier, stronger one (equality > range > other).
var rolePriority = map[PredicateRole]int{
	RoleEquality: 3,
	RoleRange:    2,
	RoleOther:    1,
	RoleOrderBy:  0,
}

// Outranks reports whether role r should replace the existing role.
func (r PredicateRole) Outranks(existing PredicateRole) bool {
	if existing == "" {
		return true
	}
	return rolePriority[r] > rolePriority[existing]
}

// ParsedQuery is the structural result of the SQL analyser. It is built once
// and never mutated afterward.
type ParsedQuery struct {
	RawSQL string

	// Tables lists base tables in FROM/JOIN order.
	Tables []string

	// AliasToTable maps every alias (and every unaliased table to itself)
	// to its base table name.
	AliasToTable map[string]string

	WhereColumns   map[string]struct{}
	JoinColumns    map[string]struct{}
	OrderByColumns map[string]struct{}

	// ColumnTable maps a column name to its resolved owning table. Columns
	// that could not be disambiguated are absent from this map.
	ColumnTable map[string]string

	// ColumnRole maps a column name to its predicate role.
	ColumnRole map[string]PredicateRole

	// ConstantFilters maps a column with an equality-against-literal
	// predicate to the literal's SQL text representation (already quoted
	// for string literals).
	ConstantFilters map[string]string

	// ProjectedColumns is the query's top-level SELECT list. A nil slice
	// with Wildcard set to true means SELECT * (covering detection never
	// fires for a wildcard projection).
	ProjectedColumns []string
	Wildcard         bool
}

// NewParsedQuery returns an empty, ready-to-populate ParsedQuery.
func NewParsedQuery(rawSQL string) *ParsedQuery {
	return &ParsedQuery{
		RawSQL:          rawSQL,
		AliasToTable:    make(map[string]string),
		WhereColumns:    make(map[string]struct{}),
		JoinColumns:     make(map[string]struct{}),
		OrderByColumns:  make(map[string]struct{}),
		ColumnTable:     make(map[string]string),
		ColumnRole:      make(map[string]PredicateRole),
		ConstantFilters: make(map[string]string),
	}
}

// ScanRecord is one full-table-scan node extracted from the planner output.
type ScanRecord struct {
	Table              string
	RowsScanned        int64
	RowsRemovedByFilter int64
	TotalCost          float64
	Depth              int
}

// PlanMetrics summarises the top-level plan node.
type PlanMetrics struct {
	TotalCost     float64
	ActualRows    int64
	ExecutionMS   float64
	HasExecution  bool
}

// ColumnStats is the per-(table,column) distribution summary pulled from the
// catalog, cached with a TTL.
type ColumnStats struct {
	DistinctValues int64
	NullFrac       float64
	Correlation    float64
	RowCount       int64
}

// TableHealth is the per-table index/write-activity summary.
type TableHealth struct {
	ExistingIndexCount int
	WriteRatio         float64
}

// IndexType is a closed enumeration of the index access methods the DDL
// builder can emit.
type IndexType string

const (
	IndexTypeBTree IndexType = "btree"
	IndexTypeGIN   IndexType = "gin"
	IndexTypeGIST  IndexType = "gist"
)

// Proposal is one recommended index, ephemeral output of the recommender.
type Proposal struct {
	Table            string
	Columns          []string
	IndexType        IndexType
	FilterPredicate  string
	IncludeColumns   []string
	ColumnRoles      map[string]PredicateRole
	Improvement      float64
	Priority         int
	Rationale        string
	Warning          string
	DDL              string
	Name             string
}

// DedupKey identifies a proposal for deduplication across scans:
// (table, ordered-columns, filter-predicate, include-columns).
func (p *Proposal) DedupKey() string {
	key := p.Table + "|"
	for _, c := range p.Columns {
		key += c + ","
	}
	key += "|" + p.FilterPredicate + "|"
	for _, c := range p.IncludeColumns {
		key += c + ","
	}
	return key
}
