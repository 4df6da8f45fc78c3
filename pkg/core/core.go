// Package core wires the gateway, SQL analyser, statistics provider, and
// recommender behind the invocation boundary the rest of this codebase's
// entry points call: analyse(sql) and configure(opts), plus the batch-mode
// operation supplementing the original's batch_analyser.py driving loop.
package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"indexadvisor/pkg/config"
	"indexadvisor/pkg/gateway"
	"indexadvisor/pkg/logging"
	"indexadvisor/pkg/model"
	"indexadvisor/pkg/planinspector"
	"indexadvisor/pkg/recommender"
	"indexadvisor/pkg/sqlanalyser"
	"indexadvisor/pkg/statistics"
)

// explainer is the subset of *gateway.Gateway that Analyse needs; kept as an
// interface so it can be faked in tests without a live database.
type explainer interface {
	RunExplain(ctx context.Context, sqlText string, analyze bool, fingerprint string) (*gateway.ExplainResult, error)
}

// analyserAPI is the subset of *sqlanalyser.Analyser that Analyse needs.
type analyserAPI interface {
	Analyse(sql string) (*model.ParsedQuery, error)
}

// recommenderAPI is the subset of *recommender.Recommender that Analyse needs.
type recommenderAPI interface {
	Recommend(ctx context.Context, pq *model.ParsedQuery, scans []model.ScanRecord) []model.Proposal
}

// Core is the top-level entry point: one per target database.
type Core struct {
	gw       explainer
	analyser analyserAPI
	rec      recommenderAPI

	mu  sync.RWMutex
	cfg *config.Config
	log logging.Logger
}

// Open constructs a Core backed by a live gateway connection.
func Open(cfg *config.Config, log logging.Logger) (*Core, error) {
	gw, err := gateway.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	stats := statistics.New(gw, log, secondsToDuration(cfg.StatsCacheTTLS), cfg.MaxWorkersPerBatch)
	return &Core{
		gw:       gw,
		analyser: sqlanalyser.New(),
		rec:      recommender.New(stats, cfg, log),
		cfg:      cfg,
		log:      log,
	}, nil
}

// AnalyseResult is the analyse(sql) return shape: plan metrics, the
// full-scan records found in the plan, and the ranked index proposals.
type AnalyseResult struct {
	PlanMetrics model.PlanMetrics
	Scans       []model.ScanRecord
	Proposals   []model.Proposal
}

// Analyse runs a statement through explain, plan inspection, and the
// recommender. Per the propagation policy, a surfaced error carries no
// partial result.
func (c *Core) Analyse(ctx context.Context, sqlText string, analyze bool) (*AnalyseResult, error) {
	fingerprint := sqlanalyser.Fingerprint(sqlText)
	substituted := gateway.SubstitutePlaceholders(sqlText)

	explainResult, err := c.gw.RunExplain(ctx, substituted, analyze, fingerprint)
	if err != nil {
		return nil, err
	}

	scans, metrics := planinspector.Inspect(explainResult.Plan, explainResult.ExecutionMS, explainResult.HasExecution)

	pq, err := c.analyser.Analyse(sqlText)
	if err != nil {
		return nil, err
	}

	proposals := c.rec.Recommend(ctx, pq, scans)

	return &AnalyseResult{PlanMetrics: metrics, Scans: scans, Proposals: proposals}, nil
}

// ConfigureOptions mirrors the recognised configure(opts) fields.
type ConfigureOptions struct {
	PoolMin            *int
	PoolMax            *int
	ExplainTimeoutMS   *int
	StatsCacheTTLS     *int
	MaxWorkersPerBatch *int
	CoveringEnabled    *bool
	PartialEnabled     *bool
}

// Configure applies a partial update to the running configuration. Only
// non-nil fields are changed.
func (c *Core) Configure(opts ConfigureOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts.PoolMin != nil {
		c.cfg.PoolMin = *opts.PoolMin
	}
	if opts.PoolMax != nil {
		c.cfg.PoolMax = *opts.PoolMax
	}
	if opts.ExplainTimeoutMS != nil {
		c.cfg.ExplainTimeoutMS = *opts.ExplainTimeoutMS
	}
	if opts.StatsCacheTTLS != nil {
		c.cfg.StatsCacheTTLS = *opts.StatsCacheTTLS
	}
	if opts.MaxWorkersPerBatch != nil {
		c.cfg.MaxWorkersPerBatch = *opts.MaxWorkersPerBatch
	}
	if opts.CoveringEnabled != nil {
		c.cfg.CoveringEnabled = *opts.CoveringEnabled
	}
	if opts.PartialEnabled != nil {
		c.cfg.PartialEnabled = *opts.PartialEnabled
	}
}

// QueryFailure records one query's failure within a batch, per the
// tolerate-and-collect rule.
type QueryFailure struct {
	Query string
	Err   error
}

// BatchResult is BatchAnalyse's return shape.
type BatchResult struct {
	Results               []AnalyseResult
	Failures              []QueryFailure
	ProposalsByTable      map[string][]model.Proposal
	TotalCurrentCost      float64
	TotalEstimatedCost    float64
	AverageImprovementPct float64
}

// BatchAnalyse runs Analyse over every query, fanned out across at most
// MaxWorkersPerBatch concurrent workers, tolerating per-query failures
// rather than aborting the batch, per supplemented feature 1.
func (c *Core) BatchAnalyse(ctx context.Context, queries []string) *BatchResult {
	c.mu.RLock()
	limit := c.cfg.MaxWorkersPerBatch
	c.mu.RUnlock()
	if limit < 1 {
		limit = 1
	}

	results := make([]*AnalyseResult, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := c.Analyse(gctx, q, false)
			results[i] = res
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{ProposalsByTable: make(map[string][]model.Proposal)}
	var allProposals []model.Proposal
	var totalCurrentCost, totalEstimatedCost, totalImprovementWeight float64
	var improvementCount int

	for i, res := range results {
		if errs[i] != nil {
			batch.Failures = append(batch.Failures, QueryFailure{Query: queries[i], Err: errs[i]})
			continue
		}
		batch.Results = append(batch.Results, *res)
		for _, p := range res.Proposals {
			allProposals = append(allProposals, p)
			totalCurrentCost += res.PlanMetrics.TotalCost
			totalEstimatedCost += res.PlanMetrics.TotalCost * (1 - p.Improvement)
			totalImprovementWeight += p.Improvement
			improvementCount++
		}
	}

	for table, proposals := range groupByTable(allProposals) {
		batch.ProposalsByTable[table] = proposals
	}
	batch.TotalCurrentCost = totalCurrentCost
	batch.TotalEstimatedCost = totalEstimatedCost
	if improvementCount > 0 {
		batch.AverageImprovementPct = (totalImprovementWeight / float64(improvementCount)) * 100
	}

	return batch
}

func groupByTable(proposals []model.Proposal) map[string][]model.Proposal {
	byTable := make(map[string][]model.Proposal)
	indexByKey := make(map[string]int)
	for _, p := range proposals {
		key := p.DedupKey()
		if i, ok := indexByKey[key]; ok {
			if p.Priority > byTable[p.Table][i].Priority {
				byTable[p.Table][i] = p
			}
			continue
		}
		indexByKey[key] = len(byTable[p.Table])
		byTable[p.Table] = append(byTable[p.Table], p)
	}
	for table, ps := range byTable {
		sort.SliceStable(ps, func(i, j int) bool {
			if ps[i].Priority != ps[j].Priority {
				return ps[i].Priority > ps[j].Priority
			}
			return ps[i].Improvement > ps[j].Improvement
		})
		byTable[table] = ps
	}
	return byTable
}

// Close releases the gateway's connection pool.
func (c *Core) Close() error {
	if closer, ok := c.gw.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
