package recommender

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexadvisor/pkg/config"
	"indexadvisor/pkg/logging"
	"indexadvisor/pkg/model"
	"indexadvisor/pkg/statistics"
)

type fakeGateway struct {
	columnStats map[statistics.ColumnKey]model.ColumnStats
	tableHealth map[string]model.TableHealth
}

func (f *fakeGateway) FetchColumnStats(ctx context.Context, table, column string) (*model.ColumnStats, error) {
	if st, ok := f.columnStats[statistics.ColumnKey{Table: table, Column: column}]; ok {
		return &st, nil
	}
	return &model.ColumnStats{DistinctValues: 100, NullFrac: 0, Correlation: 0}, nil
}

func (f *fakeGateway) FetchTableHealth(ctx context.Context, table string) (*model.TableHealth, error) {
	if h, ok := f.tableHealth[table]; ok {
		return &h, nil
	}
	return &model.TableHealth{}, nil
}

func newRecommender(fg *fakeGateway) *Recommender {
	stats := statistics.New(fg, logging.NoOpLogger{}, 0, 4)
	cfg := config.DefaultConfig()
	return New(stats, cfg, logging.NoOpLogger{})
}

// S1: single equality predicate on a highly selective column.
func TestS1_SingleEqualityHighlySelective(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "users", Column: "email"}: {DistinctValues: 10_000_000, NullFrac: 0, Correlation: 0.05, RowCount: 10_000_000},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM users WHERE email = 'x@y.z'")
	pq.Tables = []string{"users"}
	pq.WhereColumns["email"] = struct{}{}
	pq.ColumnTable["email"] = "users"
	pq.ColumnRole["email"] = model.RoleEquality
	pq.ConstantFilters["email"] = "'x@y.z'"
	pq.Wildcard = true

	scans := []model.ScanRecord{{Table: "users", RowsScanned: 10_000_000, RowsRemovedByFilter: 9_999_999, TotalCost: 1000}}

	proposals := r.Recommend(context.Background(), pq, scans)
	require.Len(t, proposals, 1)
	assert.Equal(t, "users", proposals[0].Table)
	assert.Equal(t, []string{"email"}, proposals[0].Columns)
	assert.GreaterOrEqual(t, proposals[0].Improvement, 0.96)
}

// S2: equality moves into filter predicate, range column remains indexed.
func TestS2_EqualityBecomesPartialFilter(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "orders", Column: "status"}:     {DistinctValues: 5, NullFrac: 0, Correlation: 0.1},
		{Table: "orders", Column: "created_at"}: {DistinctValues: 10_000, NullFrac: 0, Correlation: 0.2},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT o.id FROM orders o WHERE o.status = 'pending' AND o.created_at > '2025-01-01'")
	pq.Tables = []string{"orders"}
	pq.AliasToTable["o"] = "orders"
	pq.WhereColumns["status"] = struct{}{}
	pq.WhereColumns["created_at"] = struct{}{}
	pq.ColumnTable["status"] = "orders"
	pq.ColumnTable["created_at"] = "orders"
	pq.ColumnRole["status"] = model.RoleEquality
	pq.ColumnRole["created_at"] = model.RoleRange
	pq.ConstantFilters["status"] = "'pending'"
	pq.ProjectedColumns = []string{"id"}

	// status is extracted into the filter predicate, so selectivity is driven
	// entirely by created_at's own stats: base 1/10_000 = 0.0001, blended 60/40
	// with the scan's observed selectivity (obs = 1 - 99_500/100_000 = 0.005)
	// gives 0.00304, then the 0.8x partial-index boost brings it to 0.002432,
	// landing in the piecewise table's <0.01 -> 0.95 bracket. status's own
	// distinct count no longer anchors this calculation once it leaves the
	// indexed-column list.
	scans := []model.ScanRecord{{Table: "orders", RowsScanned: 100_000, RowsRemovedByFilter: 99_500, TotalCost: 500}}

	proposals := r.Recommend(context.Background(), pq, scans)
	require.Len(t, proposals, 1)
	assert.Equal(t, []string{"created_at"}, proposals[0].Columns)
	assert.Equal(t, "status = 'pending'", proposals[0].FilterPredicate)
	assert.GreaterOrEqual(t, proposals[0].Improvement, 0.80)
}

// S3: covering index from the projection list.
func TestS3_CoveringIndex(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "t", Column: "k"}: {DistinctValues: 100_000, NullFrac: 0, Correlation: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT a,b FROM t WHERE k = 7")
	pq.Tables = []string{"t"}
	pq.WhereColumns["k"] = struct{}{}
	pq.ColumnTable["k"] = "t"
	pq.ColumnRole["k"] = model.RoleEquality
	pq.ProjectedColumns = []string{"a", "b"}

	scans := []model.ScanRecord{{Table: "t", RowsScanned: 100_000, RowsRemovedByFilter: 99_000, TotalCost: 300}}

	proposals := r.Recommend(context.Background(), pq, scans)
	require.Len(t, proposals, 1)
	assert.Equal(t, []string{"k"}, proposals[0].Columns)
	assert.ElementsMatch(t, []string{"a", "b"}, proposals[0].IncludeColumns)
	assert.LessOrEqual(t, proposals[0].Improvement, 0.98)
}

// S4: two predicates, equality moves to filter, range column remains.
func TestS4_MixedEqualityAndRange(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "t", Column: "k1"}: {DistinctValues: 1_000_000, NullFrac: 0, Correlation: 0},
		{Table: "t", Column: "k2"}: {DistinctValues: 50, NullFrac: 0, Correlation: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM t WHERE k1 = 3 AND k2 > 10")
	pq.Tables = []string{"t"}
	pq.WhereColumns["k1"] = struct{}{}
	pq.WhereColumns["k2"] = struct{}{}
	pq.ColumnTable["k1"] = "t"
	pq.ColumnTable["k2"] = "t"
	pq.ColumnRole["k1"] = model.RoleEquality
	pq.ColumnRole["k2"] = model.RoleRange
	pq.ConstantFilters["k1"] = "3"
	pq.Wildcard = true

	scans := []model.ScanRecord{{Table: "t", RowsScanned: 10_000, RowsRemovedByFilter: 5_000, TotalCost: 200}}

	proposals := r.Recommend(context.Background(), pq, scans)
	require.Len(t, proposals, 1)
	assert.Equal(t, []string{"k2"}, proposals[0].Columns)
	assert.Equal(t, "k1 = 3", proposals[0].FilterPredicate)
}

// S6: heavily-indexed, write-heavy table always carries a warning.
func TestS6_OverIndexingWarning(t *testing.T) {
	fg := &fakeGateway{
		columnStats: map[statistics.ColumnKey]model.ColumnStats{
			{Table: "t", Column: "k"}: {DistinctValues: 1000, NullFrac: 0, Correlation: 0},
		},
		tableHealth: map[string]model.TableHealth{
			"t": {ExistingIndexCount: 7, WriteRatio: 0.7},
		},
	}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM t WHERE k = 1")
	pq.Tables = []string{"t"}
	pq.WhereColumns["k"] = struct{}{}
	pq.ColumnTable["k"] = "t"
	pq.ColumnRole["k"] = model.RoleEquality

	scans := []model.ScanRecord{{Table: "t", RowsScanned: 1000, RowsRemovedByFilter: 500, TotalCost: 100}}

	proposals := r.Recommend(context.Background(), pq, scans)
	require.Len(t, proposals, 1)
	assert.NotEmpty(t, proposals[0].Warning)
}

// An order-by-only candidate can never become the sole leading indexed
// column: its predicate role is neither equality, range, nor other.
func TestOrderByOnlyCandidate_ProducesNoProposal(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "t", Column: "x"}: {DistinctValues: 1000, NullFrac: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM t ORDER BY x")
	pq.Tables = []string{"t"}
	pq.OrderByColumns["x"] = struct{}{}
	pq.ColumnTable["x"] = "t"
	pq.Wildcard = true

	scans := []model.ScanRecord{{Table: "t", RowsScanned: 1000, RowsRemovedByFilter: 0, TotalCost: 20}}
	proposals := r.Recommend(context.Background(), pq, scans)
	assert.Empty(t, proposals)
}

func TestNoScans_ProducesNoProposals(t *testing.T) {
	r := newRecommender(&fakeGateway{})
	pq := model.NewParsedQuery("SELECT 1")
	proposals := r.Recommend(context.Background(), pq, nil)
	assert.Empty(t, proposals)
}

func TestDistinctOneColumn_NeverProposed(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "t", Column: "flag"}: {DistinctValues: 1, NullFrac: 0, Correlation: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM t WHERE flag = true")
	pq.Tables = []string{"t"}
	pq.WhereColumns["flag"] = struct{}{}
	pq.ColumnTable["flag"] = "t"
	pq.ColumnRole["flag"] = model.RoleEquality

	scans := []model.ScanRecord{{Table: "t", RowsScanned: 100, RowsRemovedByFilter: 0, TotalCost: 10}}
	proposals := r.Recommend(context.Background(), pq, scans)
	assert.Empty(t, proposals)
}

func TestColumnOrdering_NoConstantFilter(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "t", Column: "eq"}:    {DistinctValues: 1000, NullFrac: 0},
		{Table: "t", Column: "rng"}:   {DistinctValues: 1000, NullFrac: 0},
		{Table: "t", Column: "other"}: {DistinctValues: 1000, NullFrac: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM t WHERE eq = 1 AND rng > 1 AND other LIKE 'x%'")
	pq.Tables = []string{"t"}
	for _, c := range []string{"eq", "rng", "other"} {
		pq.WhereColumns[c] = struct{}{}
		pq.ColumnTable[c] = "t"
	}
	pq.ColumnRole["eq"] = model.RoleEquality
	pq.ColumnRole["rng"] = model.RoleRange
	pq.ColumnRole["other"] = model.RoleOther

	scans := []model.ScanRecord{{Table: "t", RowsScanned: 1000, RowsRemovedByFilter: 500, TotalCost: 50}}
	proposals := r.Recommend(context.Background(), pq, scans)
	require.Len(t, proposals, 1)
	// No ConstantFilters entry for "eq", so nothing is extracted into a filter
	// predicate; all three columns stay indexed, ordered equality/range/other.
	assert.Equal(t, []string{"eq", "rng", "other"}, proposals[0].Columns)
	assert.Empty(t, proposals[0].FilterPredicate)
}

// A join column on a table with its own sequential scan is already picked up
// by the WHERE-driven pipeline (candidate gathering folds join columns
// qualifying to a scanned table into its candidate set), so the
// fixed-priority-2 JOIN-only path only fires for the far side of the join,
// which has no scan of its own.
// JOIN-only tables are visited in sorted order, not map iteration order, so
// repeated runs against identical input always emit proposals in the same
// sequence.
func TestJoinProposal_MultipleTablesOrderedDeterministically(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "zebras", Column: "zone_id"}: {DistinctValues: 50, NullFrac: 0},
		{Table: "acorns", Column: "acorn_id"}: {DistinctValues: 50, NullFrac: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM zebras z JOIN acorns a ON z.zone_id = a.acorn_id")
	pq.Tables = []string{"zebras", "acorns"}
	pq.JoinColumns["zone_id"] = struct{}{}
	pq.JoinColumns["acorn_id"] = struct{}{}
	pq.ColumnTable["zone_id"] = "zebras"
	pq.ColumnTable["acorn_id"] = "acorns"

	for i := 0; i < 10; i++ {
		proposals := r.Recommend(context.Background(), pq, nil)
		require.Len(t, proposals, 2)
		assert.Equal(t, "acorns", proposals[0].Table)
		assert.Equal(t, "zebras", proposals[1].Table)
	}
}

func TestJoinProposal_FixedPriorityForUnscannedJoinTable(t *testing.T) {
	fg := &fakeGateway{columnStats: map[statistics.ColumnKey]model.ColumnStats{
		{Table: "customers", Column: "region_id"}: {DistinctValues: 50, NullFrac: 0},
	}}
	r := newRecommender(fg)

	pq := model.NewParsedQuery("SELECT * FROM orders o JOIN customers c ON o.region_id = c.region_id AND o.cid = c.id")
	pq.Tables = []string{"orders", "customers"}
	pq.JoinColumns["region_id"] = struct{}{}
	pq.JoinColumns["id"] = struct{}{}
	pq.ColumnTable["region_id"] = "customers"
	pq.ColumnTable["id"] = "customers"

	scans := []model.ScanRecord{{Table: "orders", RowsScanned: 5000, RowsRemovedByFilter: 0, TotalCost: 40}}
	proposals := r.Recommend(context.Background(), pq, scans)

	found := false
	for _, p := range proposals {
		assert.NotEqual(t, "orders", p.Table, "orders has no where/join columns of its own to propose on")
		if p.Table == "customers" {
			found = true
			assert.Equal(t, []string{"region_id"}, p.Columns, "id-only join column should be skipped")
			assert.Equal(t, 2, p.Priority)
			assert.Equal(t, 0.0, p.Improvement)
		}
	}
	assert.True(t, found)
}
