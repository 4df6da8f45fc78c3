// Package statistics provides a process-wide, TTL-based cache of column and
// table statistics fetched through the gateway, so repeated recommender runs
// against the same schema do not re-query the catalog on every call.
package statistics

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"indexadvisor/pkg/logging"
	"indexadvisor/pkg/model"
)

// gatewayClient is the subset of *gateway.Gateway the provider needs; kept
// as an interface so tests can supply a fake without a live database.
type gatewayClient interface {
	FetchColumnStats(ctx context.Context, table, column string) (*model.ColumnStats, error)
	FetchTableHealth(ctx context.Context, table string) (*model.TableHealth, error)
}

// ColumnKey identifies a single column within a table for batch lookups.
type ColumnKey struct {
	Table  string
	Column string
}

type cachedColumnStats struct {
	stats     model.ColumnStats
	expiresAt time.Time
}

type cachedTableHealth struct {
	health    model.TableHealth
	expiresAt time.Time
}

// defaultColumnStats is returned, per the reference connector, when the
// catalog has no pg_stats row for a column: an unknown but not-degenerate
// distribution rather than a hard failure.
var defaultColumnStats = model.ColumnStats{DistinctValues: 100, NullFrac: 0, Correlation: 0, RowCount: 0}

// defaultTableHealth mirrors the reference recommender's 0.3 write-ratio
// assumption when pg_stat_user_tables has no row for the table.
var defaultTableHealth = model.TableHealth{ExistingIndexCount: 0, WriteRatio: 0.3}

// Provider caches statistics with a configurable TTL.
type Provider struct {
	gw  gatewayClient
	log logging.Logger
	ttl time.Duration

	mu      sync.Mutex
	columns map[ColumnKey]cachedColumnStats
	tables  map[string]cachedTableHealth

	maxWorkers int
}

// New returns a Provider backed by gw, caching entries for ttl.
func New(gw gatewayClient, log logging.Logger, ttl time.Duration, maxWorkers int) *Provider {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Provider{
		gw:         gw,
		log:        log,
		ttl:        ttl,
		columns:    make(map[ColumnKey]cachedColumnStats),
		tables:     make(map[string]cachedTableHealth),
		maxWorkers: maxWorkers,
	}
}

// ColumnStats returns cached or freshly-fetched statistics for one column.
// A catalog failure degrades to defaultColumnStats rather than propagating,
// per the error propagation policy for ErrStatisticsUnavailable.
func (p *Provider) ColumnStats(ctx context.Context, table, column string) model.ColumnStats {
	key := ColumnKey{Table: table, Column: column}

	p.mu.Lock()
	if entry, ok := p.columns[key]; ok && time.Now().Before(entry.expiresAt) {
		p.mu.Unlock()
		return entry.stats
	}
	p.mu.Unlock()

	stats, err := p.gw.FetchColumnStats(ctx, table, column)
	if err != nil {
		p.log.Warn("statistics unavailable for %s.%s: %v; using defaults", table, column, err)
		stats = &defaultColumnStats
	}

	p.mu.Lock()
	p.columns[key] = cachedColumnStats{stats: *stats, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return *stats
}

// TableHealth returns cached or freshly-fetched write-ratio/index-count data
// for a table, degrading to defaultTableHealth on failure.
func (p *Provider) TableHealth(ctx context.Context, table string) model.TableHealth {
	p.mu.Lock()
	if entry, ok := p.tables[table]; ok && time.Now().Before(entry.expiresAt) {
		p.mu.Unlock()
		return entry.health
	}
	p.mu.Unlock()

	health, err := p.gw.FetchTableHealth(ctx, table)
	if err != nil {
		p.log.Warn("table health unavailable for %s: %v; using defaults", table, err)
		health = &defaultTableHealth
	}

	p.mu.Lock()
	p.tables[table] = cachedTableHealth{health: *health, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return *health
}

// ColumnStatsBatch fetches statistics for many columns concurrently, bounded
// by maxWorkers, using errgroup.SetLimit the way a bounded worker fan-out is
// expected to behave.
func (p *Provider) ColumnStatsBatch(ctx context.Context, cols []ColumnKey) map[ColumnKey]model.ColumnStats {
	results := make(map[ColumnKey]model.ColumnStats, len(cols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for _, col := range cols {
		col := col
		g.Go(func() error {
			stats := p.ColumnStats(gctx, col.Table, col.Column)
			mu.Lock()
			results[col] = stats
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}
