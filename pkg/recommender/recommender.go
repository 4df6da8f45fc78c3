// Package recommender fuses parsed-query, plan-scan, and column-statistics
// data into ranked index proposals, grounded on the reference
// implementation's IndexRecommender (analyse_query,
// _calculate_selectivity_from_stats, _estimate_improvement_from_selectivity,
// _create_recommendation, _prioritize_recommendations, check_over_indexing).
package recommender

import (
	"context"
	"sort"
	"strings"
	"time"

	"indexadvisor/pkg/config"
	"indexadvisor/pkg/ddl"
	"indexadvisor/pkg/logging"
	"indexadvisor/pkg/model"
	"indexadvisor/pkg/statistics"
)

// maxIncludeColumns caps a covering index's INCLUDE list, per the design
// note's guidance to avoid bloated indexes when the projection is wide.
const maxIncludeColumns = 5

// maxCoveringProjection is the largest projected-column count still
// considered "few and small" enough to trigger covering detection.
const maxCoveringProjection = 8

// Recommender runs the pipeline against a statistics provider. It holds no
// per-call state and is safe for concurrent, reentrant use.
type Recommender struct {
	stats *statistics.Provider
	cfg   *config.Config
	log   logging.Logger
}

// New returns a Recommender backed by the given statistics provider.
func New(stats *statistics.Provider, cfg *config.Config, log logging.Logger) *Recommender {
	return &Recommender{stats: stats, cfg: cfg, log: log}
}

// candidate is one column under consideration for a proposal, carrying the
// data needed for selectivity math and column ordering.
type candidate struct {
	name            string
	role            model.PredicateRole
	stats           model.ColumnStats
	baseSelectivity float64
}

// Recommend runs the pipeline for every scan record against pq, returning
// proposals ordered by descending priority then descending improvement.
func (r *Recommender) Recommend(ctx context.Context, pq *model.ParsedQuery, scans []model.ScanRecord) []model.Proposal {
	start := time.Now()
	var proposals []model.Proposal

	tablesSeen := make(map[string]bool)
	whereColumnsUsedByTable := make(map[string]map[string]bool)

	for _, scan := range scans {
		tablesSeen[scan.Table] = true

		candidates := r.gatherCandidates(ctx, pq, scan.Table)
		if len(candidates) == 0 {
			continue
		}

		proposal, used := r.buildWhereProposal(ctx, pq, scan, candidates)
		if proposal != nil {
			proposals = append(proposals, *proposal)
		}
		if whereColumnsUsedByTable[scan.Table] == nil {
			whereColumnsUsedByTable[scan.Table] = make(map[string]bool)
		}
		for col := range used {
			whereColumnsUsedByTable[scan.Table][col] = true
		}
	}

	// JOIN-based proposals cover every table named in a join condition, not
	// only tables with their own sequential scan, since a join column on the
	// inner side of a nested-loop/index join never shows up as a scan.
	joinTableSet := make(map[string]bool)
	for col := range pq.JoinColumns {
		if table := pq.ColumnTable[col]; table != "" {
			joinTableSet[table] = true
		}
	}
	joinTables := make([]string, 0, len(joinTableSet))
	for table := range joinTableSet {
		joinTables = append(joinTables, table)
	}
	sort.Strings(joinTables)
	for _, table := range joinTables {
		if joinProposal := r.buildJoinProposal(pq, table, whereColumnsUsedByTable[table]); joinProposal != nil {
			proposals = append(proposals, *joinProposal)
		}
	}

	proposals = dedupeAndRank(proposals)

	r.log.Info("analyse pass: tables=%d scans=%d proposals=%d elapsed=%s",
		len(tablesSeen), len(scans), len(proposals), time.Since(start))

	return proposals
}

// gatherCandidates collects the union of where/join columns qualifying to
// table, plus order-by columns on that table. A distinct=1 equality column
// can never be selective and is excluded here too, since that is a
// per-column property independent of the scan.
func (r *Recommender) gatherCandidates(ctx context.Context, pq *model.ParsedQuery, table string) []candidate {
	names := make(map[string]bool)
	for col := range pq.WhereColumns {
		if pq.ColumnTable[col] == table {
			names[col] = true
		}
	}
	for col := range pq.JoinColumns {
		if pq.ColumnTable[col] == table {
			names[col] = true
		}
	}
	for col := range pq.OrderByColumns {
		if pq.ColumnTable[col] == table {
			names[col] = true
		}
	}
	if len(names) == 0 {
		return nil
	}

	keys := make([]statistics.ColumnKey, 0, len(names))
	orderedNames := make([]string, 0, len(names))
	for col := range names {
		keys = append(keys, statistics.ColumnKey{Table: table, Column: col})
		orderedNames = append(orderedNames, col)
	}
	sort.Strings(orderedNames)
	statsByCol := r.stats.ColumnStatsBatch(ctx, keys)

	var candidates []candidate
	for _, col := range orderedNames {
		role, ok := pq.ColumnRole[col]
		if !ok {
			role = model.RoleOrderBy
		}
		st := statsByCol[statistics.ColumnKey{Table: table, Column: col}]

		if role == model.RoleEquality && st.DistinctValues <= 1 {
			// A column with a single distinct value can never be selective;
			// per the boundary rule it never appears as a proposal.
			continue
		}

		sel := baseSelectivity(st)
		r.log.Debug("candidate %s.%s: role=%s distinct=%d null_frac=%.4f base selectivity=%.6g",
			table, col, role, st.DistinctValues, st.NullFrac, sel)

		candidates = append(candidates, candidate{
			name:            col,
			role:            role,
			stats:           st,
			baseSelectivity: sel,
		})
	}
	return candidates
}

// baseSelectivity estimates a column's match fraction from its catalog
// statistics alone, before any observed scan data is available. It always
// derives from n_distinct/null_frac; predicate role has no bearing on this
// formula, only on column ordering.
func baseSelectivity(st model.ColumnStats) float64 {
	distinct := st.DistinctValues
	if distinct < 1 {
		distinct = 1
	}
	return (1.0 / float64(distinct)) * (1 - st.NullFrac)
}

// buildWhereProposal turns one scan's candidates into a proposal. Column
// ordering and partial-index extraction run first, so that selectivity is
// computed from the leading retained column's own statistics rather than
// from any column that ends up dropped into the filter predicate. Returns
// nil if no columns survive ordering or partial-index extraction, plus the
// set of candidate column names it consumed so the JOIN pass can skip them.
func (r *Recommender) buildWhereProposal(ctx context.Context, pq *model.ParsedQuery, scan model.ScanRecord, candidates []candidate) (*model.Proposal, map[string]bool) {
	used := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		used[c.name] = true
	}

	whereOrdered, orderByOnly := orderColumns(candidates)
	if len(whereOrdered) == 0 {
		// Only order-by columns qualified: nothing here has an equality,
		// range, or other predicate role, so there is no WHERE-driven index
		// to propose.
		return nil, used
	}
	ordered := append(append([]string{}, whereOrdered...), orderByOnly...)

	ordered, filterPredicate := extractPartialIndex(pq, ordered, candidates)
	if len(ordered) == 0 {
		return nil, used
	}

	byName := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		byName[c.name] = c
	}
	leading := byName[ordered[0]]
	compositeBase := leading.baseSelectivity

	var obsAvailable bool
	var obs float64
	if scan.RowsScanned > 0 {
		obsAvailable = true
		obs = 1 - float64(scan.RowsRemovedByFilter)/float64(maxInt64(scan.RowsScanned, 1))
	}

	final := compositeBase
	if obsAvailable {
		final = 0.6*obs + 0.4*compositeBase
	}
	final = clamp(final, 1e-9, 1.0)

	if filterPredicate != "" {
		final *= 0.8
	}
	final = clamp(final, 1e-9, 1.0)

	improvement := piecewiseImprovement(final)
	improvement = improvement * (1 - 0.15*absFloat(leading.stats.Correlation))
	improvement = clamp(improvement, 0.05, 0.98)

	roles := make(map[string]model.PredicateRole, len(candidates))
	for _, c := range candidates {
		roles[c.name] = c.role
	}

	var includeColumns []string
	if r.cfg.CoveringEnabled && !pq.Wildcard && len(pq.ProjectedColumns) > 0 && len(pq.ProjectedColumns) <= maxCoveringProjection {
		includeColumns = coveringColumns(pq.ProjectedColumns, ordered)
		if len(includeColumns) > 0 {
			improvement = clamp(improvement*1.15, 0.0, 0.98)
		}
	}

	p := &model.Proposal{
		Table:           scan.Table,
		Columns:         ordered,
		IndexType:       model.IndexTypeBTree,
		FilterPredicate: filterPredicate,
		IncludeColumns:  includeColumns,
		ColumnRoles:     roles,
		Improvement:     improvement,
		Priority:        int(scan.TotalCost * improvement),
		Rationale:       rationale(scan.Table, filterPredicate),
	}

	if !r.cfg.PartialEnabled {
		// partial indexes disabled: drop the WHERE clause. The extracted
		// equality columns are not put back into Columns, and the
		// improvement estimate keeps the extraction's cost model.
		if filterPredicate != "" {
			p.FilterPredicate = ""
			p.Rationale = rationale(scan.Table, "")
		}
	}

	health := r.stats.TableHealth(ctx, scan.Table)
	if warn := overIndexingWarning(health); warn != "" {
		p.Warning = warn
	}

	p.Name = ddl.BuildName(p)
	p.DDL = ddl.Build(p)

	return p, used
}

func rationale(table, filterPredicate string) string {
	reason := "Sequential scan on " + table + " with WHERE filter"
	if filterPredicate != "" {
		reason += " (partial index on constant filter)"
	}
	return reason
}

// piecewiseImprovement maps a blended selectivity value to an expected
// fractional cost reduction via a fixed lookup table.
func piecewiseImprovement(selectivity float64) float64 {
	switch {
	case selectivity < 0.001:
		return 0.98
	case selectivity < 0.01:
		return 0.95
	case selectivity < 0.05:
		return 0.85
	case selectivity < 0.10:
		return 0.70
	case selectivity < 0.20:
		return 0.50
	default:
		return 0.20
	}
}

// orderColumns orders indexed columns equality, then range, then other, each
// partition sorted by ascending base selectivity; order-by-only candidates
// are returned separately for the caller to append.
func orderColumns(candidates []candidate) ([]string, []string) {
	var equality, rang, other, orderOnly []candidate
	for _, c := range candidates {
		switch c.role {
		case model.RoleEquality:
			equality = append(equality, c)
		case model.RoleRange:
			rang = append(rang, c)
		case model.RoleOrderBy:
			orderOnly = append(orderOnly, c)
		default:
			other = append(other, c)
		}
	}

	sortBySelectivity(equality)
	sortBySelectivity(rang)
	sortBySelectivity(other)

	ordered := make([]string, 0, len(equality)+len(rang)+len(other))
	for _, c := range equality {
		ordered = append(ordered, c.name)
	}
	for _, c := range rang {
		ordered = append(ordered, c.name)
	}
	for _, c := range other {
		ordered = append(ordered, c.name)
	}

	orderByNames := make([]string, 0, len(orderOnly))
	for _, c := range orderOnly {
		orderByNames = append(orderByNames, c.name)
	}
	return ordered, orderByNames
}

func sortBySelectivity(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].baseSelectivity < cs[j].baseSelectivity })
}

// extractPartialIndex moves equality-against-literal columns out of the
// indexed-column list and into a filter predicate; if that empties the
// list, the most-selective removed column is retained as the sole leading
// indexed column instead.
func extractPartialIndex(pq *model.ParsedQuery, ordered []string, candidates []candidate) ([]string, string) {
	byName := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		byName[c.name] = c
	}

	var kept []string
	var removed []string
	var conjuncts []string

	for _, col := range ordered {
		literal, isConstant := pq.ConstantFilters[col]
		if isConstant && byName[col].role == model.RoleEquality {
			removed = append(removed, col)
			conjuncts = append(conjuncts, col+" = "+literal)
			continue
		}
		kept = append(kept, col)
	}

	if len(kept) == 0 && len(removed) > 0 {
		best := removed[0]
		for _, col := range removed[1:] {
			if byName[col].baseSelectivity < byName[best].baseSelectivity {
				best = col
			}
		}
		kept = []string{best}
		var remainingConjuncts []string
		for _, col := range removed {
			if col == best {
				continue
			}
			remainingConjuncts = append(remainingConjuncts, col+" = "+pq.ConstantFilters[col])
		}
		conjuncts = remainingConjuncts
	}

	return kept, strings.Join(conjuncts, " AND ")
}

// coveringColumns returns the query's projected columns, minus whatever is
// already indexed, capped at maxIncludeColumns.
func coveringColumns(projected, indexed []string) []string {
	indexedSet := make(map[string]bool, len(indexed))
	for _, c := range indexed {
		indexedSet[c] = true
	}

	var include []string
	for _, col := range projected {
		if indexedSet[col] {
			continue
		}
		include = append(include, col)
		if len(include) == maxIncludeColumns {
			break
		}
	}
	return include
}

// overIndexingWarning flags a table that already carries enough indexes, or
// enough write load, that adding another is likely counterproductive.
func overIndexingWarning(health model.TableHealth) string {
	if health.ExistingIndexCount >= 5 {
		return "table already has 5 or more indexes; adding another increases write overhead"
	}
	if health.WriteRatio > 0.5 && float64(health.ExistingIndexCount)*0.15*health.WriteRatio > 0.3 {
		return "table has a high write ratio; additional indexes will slow writes further"
	}
	return ""
}

// buildJoinProposal implements supplemented feature 2: a lower-priority
// proposal per table from join columns not already covered by a
// WHERE-driven proposal, skipping the literal column "id".
func (r *Recommender) buildJoinProposal(pq *model.ParsedQuery, table string, alreadyUsed map[string]bool) *model.Proposal {
	var cols []string
	for col := range pq.JoinColumns {
		if pq.ColumnTable[col] != table {
			continue
		}
		if col == "id" {
			continue
		}
		if alreadyUsed[col] {
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil
	}
	sort.Strings(cols)

	roles := make(map[string]model.PredicateRole, len(cols))
	for _, c := range cols {
		roles[c] = model.RoleOther
	}

	p := &model.Proposal{
		Table:       table,
		Columns:     cols,
		IndexType:   model.IndexTypeBTree,
		ColumnRoles: roles,
		Improvement: 0,
		Priority:    2,
		Rationale:   "JOIN condition on " + table,
	}
	p.Name = ddl.BuildName(p)
	p.DDL = ddl.Build(p)
	return p
}

// dedupeAndRank implements the ranking and deduplication rule: keyed by
// (table, ordered-columns, filter-predicate, include-columns), higher
// priority wins ties, then sorted by priority descending with improvement
// as the tiebreaker (supplemented feature 3).
func dedupeAndRank(proposals []model.Proposal) []model.Proposal {
	best := make(map[string]model.Proposal, len(proposals))
	order := make([]string, 0, len(proposals))

	for _, p := range proposals {
		key := p.DedupKey()
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = p
			continue
		}
		if p.Priority > existing.Priority {
			best[key] = p
		}
	}

	result := make([]model.Proposal, 0, len(order))
	for _, key := range order {
		result = append(result, best[key])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority > result[j].Priority
		}
		return result[i].Improvement > result[j].Improvement
	})

	return result
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
