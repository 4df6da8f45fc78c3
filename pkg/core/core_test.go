package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexadvisor/pkg/config"
	"indexadvisor/pkg/gateway"
	"indexadvisor/pkg/logging"
	"indexadvisor/pkg/model"
)

type fakeExplainer struct {
	result *gateway.ExplainResult
	err    error
}

func (f *fakeExplainer) RunExplain(ctx context.Context, sqlText string, analyze bool, fingerprint string) (*gateway.ExplainResult, error) {
	return f.result, f.err
}

type fakeAnalyser struct {
	pq  *model.ParsedQuery
	err error
}

func (f *fakeAnalyser) Analyse(sql string) (*model.ParsedQuery, error) {
	return f.pq, f.err
}

type fakeRecommender struct {
	proposals []model.Proposal
}

func (f *fakeRecommender) Recommend(ctx context.Context, pq *model.ParsedQuery, scans []model.ScanRecord) []model.Proposal {
	return f.proposals
}

func newTestCore(exp explainer, ana analyserAPI, rec recommenderAPI) *Core {
	return &Core{gw: exp, analyser: ana, rec: rec, cfg: config.DefaultConfig(), log: logging.NoOpLogger{}}
}

func TestAnalyse_Success(t *testing.T) {
	plan := map[string]interface{}{
		"Node Type":    "Seq Scan",
		"Relation Name": "users",
		"Total Cost":   float64(120),
	}
	c := newTestCore(
		&fakeExplainer{result: &gateway.ExplainResult{Plan: plan}},
		&fakeAnalyser{pq: model.NewParsedQuery("SELECT * FROM users")},
		&fakeRecommender{proposals: []model.Proposal{{Table: "users", Columns: []string{"id"}}}},
	)

	res, err := c.Analyse(context.Background(), "SELECT * FROM users", false)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Scans, 1)
	assert.Equal(t, "users", res.Scans[0].Table)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, "users", res.Proposals[0].Table)
}

func TestAnalyse_ExplainErrorReturnsNoPartialResult(t *testing.T) {
	wantErr := errors.New("explain failed")
	c := newTestCore(
		&fakeExplainer{err: wantErr},
		&fakeAnalyser{pq: model.NewParsedQuery("SELECT 1")},
		&fakeRecommender{},
	)

	res, err := c.Analyse(context.Background(), "SELECT 1", false)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, wantErr)
}

func TestAnalyse_AnalyserErrorReturnsNoPartialResult(t *testing.T) {
	wantErr := errors.New("unparseable")
	c := newTestCore(
		&fakeExplainer{result: &gateway.ExplainResult{Plan: map[string]interface{}{"Node Type": "Seq Scan"}}},
		&fakeAnalyser{err: wantErr},
		&fakeRecommender{},
	)

	res, err := c.Analyse(context.Background(), "not sql", false)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, wantErr)
}

func TestConfigure_PartialUpdateOnlyTouchesGivenFields(t *testing.T) {
	c := newTestCore(&fakeExplainer{}, &fakeAnalyser{}, &fakeRecommender{})
	originalPoolMax := c.cfg.PoolMax

	newTTL := 60
	newCovering := false
	c.Configure(ConfigureOptions{
		StatsCacheTTLS:  &newTTL,
		CoveringEnabled: &newCovering,
	})

	assert.Equal(t, 60, c.cfg.StatsCacheTTLS)
	assert.False(t, c.cfg.CoveringEnabled)
	assert.Equal(t, originalPoolMax, c.cfg.PoolMax, "untouched fields must not change")
}

func TestBatchAnalyse_TolerantOfPerQueryFailures(t *testing.T) {
	goodPlan := map[string]interface{}{"Node Type": "Seq Scan", "Relation Name": "t", "Total Cost": float64(10)}

	callCount := 0
	c := newTestCore(
		&explainerFunc{fn: func(sqlText string) (*gateway.ExplainResult, error) {
			callCount++
			if sqlText == "BAD" {
				return nil, errors.New("boom")
			}
			return &gateway.ExplainResult{Plan: goodPlan}, nil
		}},
		&fakeAnalyser{pq: model.NewParsedQuery("SELECT 1")},
		&fakeRecommender{proposals: []model.Proposal{{Table: "t", Columns: []string{"c"}, Priority: 1, Improvement: 0.5}}},
	)

	result := c.BatchAnalyse(context.Background(), []string{"SELECT 1", "BAD", "SELECT 2"})

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "BAD", result.Failures[0].Query)
	assert.Len(t, result.Results, 2)
	assert.Contains(t, result.ProposalsByTable, "t")
	assert.Greater(t, result.AverageImprovementPct, 0.0)
	assert.Equal(t, 3, callCount)
}

func TestBatchAnalyse_EmptyQueriesProducesEmptyResult(t *testing.T) {
	c := newTestCore(&fakeExplainer{}, &fakeAnalyser{}, &fakeRecommender{})
	result := c.BatchAnalyse(context.Background(), nil)
	assert.Empty(t, result.Results)
	assert.Empty(t, result.Failures)
	assert.Equal(t, 0.0, result.AverageImprovementPct)
}

// explainerFunc lets a test vary its RunExplain response per statement,
// exercising BatchAnalyse's per-query fan-out.
type explainerFunc struct {
	fn func(sqlText string) (*gateway.ExplainResult, error)
}

func (e *explainerFunc) RunExplain(ctx context.Context, sqlText string, analyze bool, fingerprint string) (*gateway.ExplainResult, error) {
	return e.fn(sqlText)
}
