// Package sqlanalyser implements the SQL Analyser: it parses a statement
// into a structural tree using the tidb parser and performs a
// context-propagating walk to build a model.ParsedQuery, following the same
// parser-embedding technique as the wider codebase's own SQL front end
// (github.com/pingcap/tidb/pkg/parser), but built to the narrower
// analysis contract instead of that codebase's full statement model.
package sqlanalyser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	tidbparser "github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	appErrors "indexadvisor/pkg/errors"
	"indexadvisor/pkg/model"
)

// walkContext is one of the five contexts propagated to column references,
// per the walk contract: root, where, join, order-by, from.
type walkContext string

const (
	ctxRoot    walkContext = "root"
	ctxWhere   walkContext = "where"
	ctxJoin    walkContext = "join"
	ctxOrderBy walkContext = "order-by"
	ctxFrom    walkContext = "from"
)

// Analyser is a stateless front end to the tidb SQL parser. It is safe for
// concurrent use:
// tidb's parser.Parser is not safe for concurrent Parse calls sharing state
// across goroutines using the same instance, so each Analyse call takes a
// fresh parser instance.
type Analyser struct{}

// New returns a ready-to-use Analyser.
func New() *Analyser {
	return &Analyser{}
}

// Fingerprint returns a stable hash of the SQL text, used as the "offending
// SQL fingerprint" the error handling design requires on surfaced errors.
func Fingerprint(sql string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(sql)))
	return hex.EncodeToString(sum[:])[:16]
}

// Analyse parses sql and returns a ParsedQuery, or an
// *errors.ErrUnparseableStatement if the tree could not be built.
func (a *Analyser) Analyse(sql string) (*model.ParsedQuery, error) {
	p := tidbparser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, appErrors.NewErrUnparseableStatement(Fingerprint(sql), err.Error())
	}
	if len(stmtNodes) == 0 {
		return nil, appErrors.NewErrUnparseableStatement(Fingerprint(sql), "no statements found")
	}

	pq := model.NewParsedQuery(sql)

	w := &walker{pq: pq}
	switch stmt := stmtNodes[0].(type) {
	case *ast.SelectStmt:
		w.visitSelect(stmt)
	default:
		// Non-SELECT statements (INSERT, UPDATE, DELETE) register their
		// target table only; they contribute no where/order-by/join columns.
		w.visitOther(stmtNodes[0])
	}

	return pq, nil
}

// walker performs the context-propagating tree walk.
type walker struct {
	pq *model.ParsedQuery
}

func (w *walker) registerTable(name, alias string) {
	if name == "" {
		return
	}
	w.pq.Tables = append(w.pq.Tables, name)
	if alias != "" {
		w.pq.AliasToTable[alias] = name
	} else {
		w.pq.AliasToTable[name] = name
	}
}

// resolveTable follows the alias map exactly one step, per the design
// note that alias resolution is strictly non-recursive.
func (w *walker) resolveTable(qualifier string) (string, bool) {
	table, ok := w.pq.AliasToTable[qualifier]
	return table, ok
}

func (w *walker) visitSelect(stmt *ast.SelectStmt) {
	if stmt.Fields != nil {
		w.visitProjection(stmt.Fields)
	}

	if stmt.From != nil && stmt.From.TableRefs != nil {
		w.visitTableRefs(stmt.From.TableRefs)
	}

	if stmt.Where != nil {
		w.visitExpr(stmt.Where, ctxWhere, "")
	}

	if stmt.OrderBy != nil {
		for _, item := range stmt.OrderBy.Items {
			w.visitExpr(item.Expr, ctxOrderBy, "")
		}
	}
}

func (w *walker) visitProjection(fields *ast.FieldList) {
	for _, f := range fields.Fields {
		if f.WildCard != nil {
			w.pq.Wildcard = true
			continue
		}
		if col, ok := f.Expr.(*ast.ColumnNameExpr); ok {
			w.pq.ProjectedColumns = append(w.pq.ProjectedColumns, col.Name.Name.String())
		} else {
			// A computed projection (function call, arithmetic, ...) is not
			// a plain column and cannot be covered by an INCLUDE list, so
			// its presence forces the same conservative treatment as a
			// wildcard: skip covering detection rather than guess.
			w.pq.Wildcard = true
		}
	}
}

// visitTableRefs walks the FROM clause's join tree. The left-most leaf is
// always a base table (possibly the query's only one); every ast.Join node
// under it, left and right, may itself be another table or a nested join.
func (w *walker) visitTableRefs(node ast.ResultSetNode) {
	switch n := node.(type) {
	case *ast.Join:
		w.visitTableRefs(n.Left)
		w.visitTableRefs(n.Right)
		if n.On != nil && n.On.Expr != nil {
			w.visitExpr(n.On.Expr, ctxJoin, "")
		}
	case *ast.TableSource:
		if tn, ok := n.Source.(*ast.TableName); ok {
			alias := ""
			if n.AsName.L != "" {
				alias = n.AsName.String()
			}
			w.registerTable(tn.Name.String(), alias)
		} else {
			// Subquery or other derived source: nothing to register, but
			// still walk it in the `from` context so nested column refs
			// (none, structurally) are ignored per rule 2.
			w.visitFromNode(n.Source)
		}
	}
}

func (w *walker) visitFromNode(node ast.Node) {
	// Column references never appear directly under a from-context node in
	// the shapes this analyser handles (derived tables are opaque); this
	// exists so future subquery support has an explicit hook.
	_ = node
}

// recordColumn adds a column reference to the set for its walk context and
// records its qualifying table and predicate role. The column name is the
// key in ParsedQuery.ColumnTable, matching the reference implementation's
// per-column (not per-table) map.
func (w *walker) recordColumn(colName, qualifier string, ctx walkContext, role model.PredicateRole) {
	switch ctx {
	case ctxWhere:
		w.pq.WhereColumns[colName] = struct{}{}
	case ctxJoin:
		w.pq.JoinColumns[colName] = struct{}{}
	case ctxOrderBy:
		w.pq.OrderByColumns[colName] = struct{}{}
	default:
		return
	}

	table := w.resolveColumnTable(qualifier)
	if table != "" {
		w.pq.ColumnTable[colName] = table
	}

	if ctx == ctxOrderBy {
		return
	}
	if role != "" && role.Outranks(w.pq.ColumnRole[colName]) {
		w.pq.ColumnRole[colName] = role
	} else if _, exists := w.pq.ColumnRole[colName]; !exists {
		w.pq.ColumnRole[colName] = model.RoleOther
	}
}

// resolveColumnTable implements extraction rule 3: a qualified column
// resolves through the alias map; an unqualified column resolves only when
// exactly one base table is in scope; otherwise it is ambiguous.
func (w *walker) resolveColumnTable(qualifier string) string {
	if qualifier != "" {
		if table, ok := w.resolveTable(qualifier); ok {
			return table
		}
		return ""
	}
	if len(w.pq.Tables) == 1 {
		return w.pq.Tables[0]
	}
	return ""
}

func (w *walker) visitExpr(node ast.ExprNode, ctx walkContext, role model.PredicateRole) {
	if node == nil {
		return
	}

	switch n := node.(type) {
	case *ast.BinaryOperationExpr:
		opRole := classifyOperator(n.Op.String())
		w.visitExpr(n.L, ctx, opRole)
		w.visitExpr(n.R, ctx, opRole)
		w.maybeRecordConstantFilter(n, opRole)

	case *ast.BetweenExpr:
		w.visitExpr(n.Expr, ctx, model.RoleRange)
		w.visitExpr(n.Left, ctx, model.RoleRange)
		w.visitExpr(n.Right, ctx, model.RoleRange)

	case *ast.PatternInExpr:
		w.visitExpr(n.Expr, ctx, model.RoleOther)
		for _, item := range n.List {
			w.visitExpr(item, ctx, model.RoleOther)
		}

	case *ast.PatternLikeOrIlikeExpr:
		w.visitExpr(n.Expr, ctx, model.RoleOther)
		w.visitExpr(n.Pattern, ctx, model.RoleOther)

	case *ast.IsNullExpr:
		w.visitExpr(n.Expr, ctx, model.RoleOther)

	case *ast.ParenthesesExpr:
		w.visitExpr(n.Expr, ctx, role)

	case *ast.ColumnNameExpr:
		colName := n.Name.Name.String()
		qualifier := n.Name.Table.String()
		w.recordColumn(colName, qualifier, ctx, role)

	case *ast.FuncCallExpr:
		for _, arg := range n.Args {
			w.visitExpr(arg, ctx, model.RoleOther)
		}
	}
}

// maybeRecordConstantFilter implements extraction rule 4's second half: an
// equality whose other operand is a literal constant records the literal.
func (w *walker) maybeRecordConstantFilter(n *ast.BinaryOperationExpr, role model.PredicateRole) {
	if role != model.RoleEquality {
		return
	}
	col, colOk := n.L.(*ast.ColumnNameExpr)
	valNode := n.R
	if !colOk {
		if c, ok := n.R.(*ast.ColumnNameExpr); ok {
			col, colOk = c, true
			valNode = n.L
		}
	}
	if !colOk {
		return
	}
	valExpr, ok := valNode.(ast.ValueExpr)
	if !ok {
		return
	}
	literal := formatLiteral(valExpr.GetValue())
	if literal != "" {
		w.pq.ConstantFilters[col.Name.Name.String()] = literal
	}
}

func formatLiteral(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// classifyOperator implements extraction rule 4: `=` is equality;
// `<`,`>`,`<=`,`>=` are range; anything else is other.
func classifyOperator(op string) model.PredicateRole {
	switch op {
	case "=", "eq":
		return model.RoleEquality
	case "<", ">", "<=", ">=", "lt", "gt", "le", "ge":
		return model.RoleRange
	default:
		return model.RoleOther
	}
}

func (w *walker) visitOther(node ast.StmtNode) {
	var tableRefs *ast.TableRefsClause
	switch stmt := node.(type) {
	case *ast.InsertStmt:
		tableRefs = stmt.Table
	case *ast.UpdateStmt:
		tableRefs = stmt.TableRefs
	case *ast.DeleteStmt:
		tableRefs = stmt.TableRefs
	}
	if tableRefs != nil && tableRefs.TableRefs != nil {
		w.visitTableRefs(tableRefs.TableRefs)
	}
}
