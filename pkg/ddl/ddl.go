// Package ddl renders a model.Proposal into the CREATE INDEX statement text
// the recommender's output carries, grounded on the reference
// implementation's IndexRecommendation.get_ddl.
package ddl

import (
	"fmt"
	"strings"

	"indexadvisor/pkg/model"
)

// Build renders the canonical `CREATE INDEX <name> ON <table> (<cols>)
// [INCLUDE (<cover>)] [WHERE <predicate>];` statement for a proposal.
func Build(p *model.Proposal) string {
	var b strings.Builder

	b.WriteString("CREATE INDEX ")
	b.WriteString(p.Name)
	b.WriteString(" ON ")
	b.WriteString(p.Table)

	if p.IndexType != "" && p.IndexType != model.IndexTypeBTree {
		b.WriteString(" USING ")
		b.WriteString(strings.ToUpper(string(p.IndexType)))
	}

	b.WriteString(" (")
	b.WriteString(strings.Join(p.Columns, ", "))
	b.WriteString(")")

	if len(p.IncludeColumns) > 0 {
		b.WriteString(" INCLUDE (")
		b.WriteString(strings.Join(p.IncludeColumns, ", "))
		b.WriteString(")")
	}

	if p.FilterPredicate != "" {
		b.WriteString(" WHERE ")
		b.WriteString(p.FilterPredicate)
	}

	b.WriteString(";")
	return b.String()
}

// maxIdentifierLength is PostgreSQL's default NAMEDATALEN-1 limit.
const maxIdentifierLength = 63

// BuildName renders `idx_<table>_<col1>_<col2>...`, truncated to a
// platform-safe identifier length, with `_partial`/`_covering` suffixes.
func BuildName(p *model.Proposal) string {
	name := fmt.Sprintf("idx_%s_%s", p.Table, strings.Join(p.Columns, "_"))

	suffix := ""
	if p.FilterPredicate != "" {
		suffix += "_partial"
	}
	if len(p.IncludeColumns) > 0 {
		suffix += "_covering"
	}

	if len(name)+len(suffix) > maxIdentifierLength {
		name = name[:maxIdentifierLength-len(suffix)]
	}
	return name + suffix
}
