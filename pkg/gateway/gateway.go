// Package gateway implements the DBMS Gateway: a pooled connection to a
// PostgreSQL-compatible database used only to run EXPLAIN and read catalog
// views, grounded on the reference connector's pooling and safety checks but
// rebuilt on database/sql and lib/pq.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"indexadvisor/pkg/config"
	appErrors "indexadvisor/pkg/errors"
	"indexadvisor/pkg/logging"
	"indexadvisor/pkg/model"
	"indexadvisor/pkg/reliability"
)

// StatementClass is the closed enumeration the safety check dispatches on.
type StatementClass string

const (
	ClassRead   StatementClass = "read"
	ClassInsert StatementClass = "insert"
	ClassUpdate StatementClass = "update"
	ClassDelete StatementClass = "delete"
	ClassDDL    StatementClass = "ddl"
	ClassOther  StatementClass = "other"
)

// ClassifyStatement inspects the leading token of a SQL statement, the same
// prefix test the reference connector uses to decide whether ANALYZE is
// safe to run.
func ClassifyStatement(sql string) StatementClass {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case strings.HasPrefix(upper, "SELECT"), strings.HasPrefix(upper, "WITH"):
		return ClassRead
	case strings.HasPrefix(upper, "INSERT"):
		return ClassInsert
	case strings.HasPrefix(upper, "UPDATE"):
		return ClassUpdate
	case strings.HasPrefix(upper, "DELETE"):
		return ClassDelete
	case strings.HasPrefix(upper, "CREATE"), strings.HasPrefix(upper, "ALTER"),
		strings.HasPrefix(upper, "DROP"), strings.HasPrefix(upper, "TRUNCATE"):
		return ClassDDL
	default:
		return ClassOther
	}
}

// Gateway owns the pooled connection and every catalog/EXPLAIN access.
type Gateway struct {
	db      *sql.DB
	cfg     *config.Config
	log     logging.Logger
	breaker *reliability.CircuitBreaker
	retry   reliability.RetryPolicy
}

// Open establishes the pooled connection per cfg's pool_min/pool_max.
func Open(cfg *config.Config, log logging.Logger) (*Gateway, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, appErrors.NewErrConnectionFailure(err.Error())
	}
	db.SetMaxOpenConns(poolMaxOrDefault(cfg.PoolMax))
	db.SetMaxIdleConns(cfg.PoolMin)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Gateway{
		db:      db,
		cfg:     cfg,
		log:     log,
		breaker: reliability.NewCircuitBreaker(5, 30*time.Second),
		retry:   reliability.DefaultRetryPolicy(),
	}, nil
}

// Close releases the pool.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// withRetry wraps a DBMS round trip with the circuit breaker and retry
// policy, matching the propagation rule that only ConnectionFailure retries.
func (g *Gateway) withRetry(fn func() error) error {
	return reliability.ExecuteWithRetry(g.retry, g.log, func() error {
		return g.breaker.Execute(fn)
	})
}

// ExplainResult is the parsed top-level shape of `EXPLAIN (FORMAT JSON)`.
type ExplainResult struct {
	Plan          map[string]interface{}
	PlanningMS    float64
	ExecutionMS   float64
	HasExecution  bool
}

// RunExplain executes EXPLAIN (or EXPLAIN ANALYZE) on sql and returns the
// decoded plan. analyze=true is refused for any non-read statement.
func (g *Gateway) RunExplain(ctx context.Context, sqlText string, analyze bool, fingerprint string) (*ExplainResult, error) {
	class := ClassifyStatement(sqlText)
	if analyze && class != ClassRead {
		return nil, appErrors.NewErrRefusedMutatingExplain(fingerprint, string(class))
	}

	explainCmd := "EXPLAIN (FORMAT JSON)"
	if analyze {
		explainCmd = "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON)"
	}
	fullQuery := explainCmd + " " + sqlText

	timeoutMS := g.cfg.ExplainTimeoutMS
	var rawJSON string

	err := g.withRetry(func() error {
		conn, connErr := g.db.Conn(ctx)
		if connErr != nil {
			return appErrors.NewErrConnectionFailure(connErr.Error())
		}
		defer conn.Close()

		explainCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()

		if analyze {
			if _, setErr := conn.ExecContext(explainCtx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", timeoutMS)); setErr != nil {
				return appErrors.NewErrConnectionFailure(setErr.Error())
			}
		}

		row := conn.QueryRowContext(explainCtx, fullQuery)
		if scanErr := row.Scan(&rawJSON); scanErr != nil {
			if explainCtx.Err() != nil {
				return appErrors.NewErrExplainTimeout(fingerprint, timeoutMS)
			}
			return appErrors.NewErrConnectionFailure(scanErr.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return parseExplainJSON(rawJSON, fingerprint)
}

// parseExplainJSON decodes the `[{...}]`-wrapped EXPLAIN payload Postgres
// returns for FORMAT JSON into an ExplainResult.
func parseExplainJSON(raw, fingerprint string) (*ExplainResult, error) {
	var decoded []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || len(decoded) == 0 {
		return nil, appErrors.NewErrPlanUnparseable(fingerprint, "explain output was not a JSON array")
	}
	top := decoded[0]

	plan, ok := top["Plan"].(map[string]interface{})
	if !ok {
		return nil, appErrors.NewErrPlanUnparseable(fingerprint, "missing top-level Plan node")
	}

	result := &ExplainResult{Plan: plan}
	if execTime, ok := top["Execution Time"].(float64); ok {
		result.ExecutionMS = execTime
		result.HasExecution = true
	}
	if planTime, ok := top["Planning Time"].(float64); ok {
		result.PlanningMS = planTime
	}
	return result, nil
}

// FetchColumnStats reads pg_stats for a single (table, column), matching
// the reference connector's join across pg_stats/pg_class/pg_namespace.
func (g *Gateway) FetchColumnStats(ctx context.Context, table, column string) (*model.ColumnStats, error) {
	const q = `
		SELECT
			s.n_distinct,
			s.null_frac,
			s.correlation,
			c.reltuples::bigint AS total_rows
		FROM pg_stats s
		JOIN pg_class c ON c.relname = s.tablename
		JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = s.schemaname
		WHERE s.schemaname = 'public' AND s.tablename = $1 AND s.attname = $2
	`

	var nDistinct, correlation, nullFrac float64
	var totalRows int64

	err := g.withRetry(func() error {
		row := g.db.QueryRowContext(ctx, q, table, column)
		scanErr := row.Scan(&nDistinct, &nullFrac, &correlation, &totalRows)
		if scanErr == sql.ErrNoRows {
			return appErrors.NewErrStatisticsUnavailable(table, column, "no pg_stats row")
		}
		if scanErr != nil {
			return appErrors.NewErrConnectionFailure(scanErr.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	distinct := nDistinct
	if distinct < 0 {
		distinct = -distinct * float64(totalRows)
	}
	return &model.ColumnStats{
		DistinctValues: int64(distinct),
		NullFrac:       nullFrac,
		Correlation:    correlation,
		RowCount:       totalRows,
	}, nil
}

// FetchTableHealth reads existing index count and write ratio for a table,
// matching _get_existing_index_count/_get_table_write_ratio.
func (g *Gateway) FetchTableHealth(ctx context.Context, table string) (*model.TableHealth, error) {
	health := &model.TableHealth{}

	err := g.withRetry(func() error {
		row := g.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pg_indexes WHERE schemaname = 'public' AND tablename = $1`, table)
		if scanErr := row.Scan(&health.ExistingIndexCount); scanErr != nil {
			return appErrors.NewErrConnectionFailure(scanErr.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var writes, reads int64
	err = g.withRetry(func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT
				COALESCE(n_tup_ins, 0) + COALESCE(n_tup_upd, 0) + COALESCE(n_tup_del, 0) AS writes,
				COALESCE(seq_scan, 0) + COALESCE(idx_scan, 0) AS reads
			FROM pg_stat_user_tables
			WHERE schemaname = 'public' AND relname = $1
		`, table)
		scanErr := row.Scan(&writes, &reads)
		if scanErr == sql.ErrNoRows {
			health.WriteRatio = 0.3
			return nil
		}
		if scanErr != nil {
			return appErrors.NewErrConnectionFailure(scanErr.Error())
		}
		total := writes + reads
		if total == 0 {
			health.WriteRatio = 0.3
			return nil
		}
		health.WriteRatio = float64(writes) / float64(total)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return health, nil
}

// SubstitutePlaceholders replaces PostgreSQL-style $N positional parameters
// with a typed null literal, inferred from the syntactic context around the
// placeholder, so EXPLAIN can run without the caller supplying bind values.
func SubstitutePlaceholders(sqlText string) string {
	var b strings.Builder
	i := 0
	for i < len(sqlText) {
		if sqlText[i] == '$' && i+1 < len(sqlText) && isDigit(sqlText[i+1]) {
			j := i + 1
			for j < len(sqlText) && isDigit(sqlText[j]) {
				j++
			}
			b.WriteString(typedNullFor(sqlText, i))
			i = j
			continue
		}
		b.WriteByte(sqlText[i])
		i++
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// typedNullFor inspects the operator immediately preceding the placeholder
// at index i to guess whether an integer, text, or boolean null literal
// keeps the statement syntactically valid.
func typedNullFor(sqlText string, i int) string {
	before := strings.TrimRight(sqlText[:i], " \t\n")
	switch {
	case strings.HasSuffix(before, "LIKE"), strings.HasSuffix(before, "ILIKE"):
		return "NULL::text"
	case strings.HasSuffix(before, "IS"):
		return "NULL::boolean"
	case strings.HasSuffix(before, "="), strings.HasSuffix(before, "<"), strings.HasSuffix(before, ">"),
		strings.HasSuffix(before, "<="), strings.HasSuffix(before, ">="), strings.HasSuffix(before, "<>"),
		strings.HasSuffix(before, "+"), strings.HasSuffix(before, "-"), strings.HasSuffix(before, "*"):
		return "NULL::integer"
	default:
		return "NULL::text"
	}
}

// poolMaxOrDefault guards against a zero PoolMax slipping through when a
// caller constructs a Config by hand instead of via config.DefaultConfig.
func poolMaxOrDefault(configured int) int {
	if configured < 1 {
		return 10
	}
	return configured
}

