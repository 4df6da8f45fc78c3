package sqlanalyser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "indexadvisor/pkg/errors"
	"indexadvisor/pkg/model"
)

func TestAnalyse_SimpleEquality(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT id, name FROM users WHERE email = 'a@example.com'")
	require.NoError(t, err)

	assert.Equal(t, []string{"users"}, pq.Tables)
	_, hasEmail := pq.WhereColumns["email"]
	assert.True(t, hasEmail)
	assert.Equal(t, model.RoleEquality, pq.ColumnRole["email"])
	assert.Equal(t, "users", pq.ColumnTable["email"])
	assert.Equal(t, "'a@example.com'", pq.ConstantFilters["email"])
	assert.False(t, pq.Wildcard)
	assert.Equal(t, []string{"id", "name"}, pq.ProjectedColumns)
}

func TestAnalyse_Wildcard(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT * FROM orders WHERE status = 'open'")
	require.NoError(t, err)
	assert.True(t, pq.Wildcard)
	assert.Empty(t, pq.ProjectedColumns)
}

func TestAnalyse_RangePredicate(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT id FROM events WHERE created_at > '2024-01-01'")
	require.NoError(t, err)
	assert.Equal(t, model.RoleRange, pq.ColumnRole["created_at"])
}

func TestAnalyse_RoleNeverDowngrades(t *testing.T) {
	a := New()
	// same column appears first in an equality context, then in a weaker
	// `<>` predicate (other role); the equality classification must survive.
	pq, err := a.Analyse("SELECT id FROM events WHERE status = 'active' AND status <> 'archived'")
	require.NoError(t, err)
	assert.Equal(t, model.RoleEquality, pq.ColumnRole["status"])
}

func TestAnalyse_JoinColumns(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT o.id FROM orders o JOIN customers c ON o.customer_id = c.id WHERE c.region = 'west'")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"orders", "customers"}, pq.Tables)
	assert.Equal(t, "orders", pq.AliasToTable["o"])
	assert.Equal(t, "customers", pq.AliasToTable["c"])

	_, hasCustomerID := pq.JoinColumns["customer_id"]
	assert.True(t, hasCustomerID)
	assert.Equal(t, "orders", pq.ColumnTable["customer_id"])

	_, hasRegion := pq.WhereColumns["region"]
	assert.True(t, hasRegion)
	assert.Equal(t, "customers", pq.ColumnTable["region"])
}

func TestAnalyse_OrderBy(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT id FROM events ORDER BY created_at DESC")
	require.NoError(t, err)
	_, hasCreatedAt := pq.OrderByColumns["created_at"]
	assert.True(t, hasCreatedAt)
}

func TestAnalyse_AmbiguousUnqualifiedColumnHasNoTable(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT id FROM orders o, customers c WHERE status = 'open'")
	require.NoError(t, err)
	_, resolved := pq.ColumnTable["status"]
	assert.False(t, resolved)
}

func TestAnalyse_Unparseable(t *testing.T) {
	a := New()
	_, err := a.Analyse("SELECT FROM WHERE (((")
	require.Error(t, err)
	var target *appErrors.ErrUnparseableStatement
	assert.ErrorAs(t, err, &target)
}

func TestAnalyse_DeterministicFingerprint(t *testing.T) {
	sql := "SELECT FROM WHERE ((("
	f1 := Fingerprint(sql)
	f2 := Fingerprint(sql)
	assert.Equal(t, f1, f2)
}

func TestAnalyse_Between(t *testing.T) {
	a := New()
	pq, err := a.Analyse("SELECT id FROM events WHERE created_at BETWEEN '2024-01-01' AND '2024-02-01'")
	require.NoError(t, err)
	assert.Equal(t, model.RoleRange, pq.ColumnRole["created_at"])
}
