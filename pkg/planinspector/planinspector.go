// Package planinspector walks the JSON plan tree the gateway returns from
// EXPLAIN, collecting every sequential-scan node, grounded on the reference
// connector's detect_sequential_scans recursive traversal.
package planinspector

import "indexadvisor/pkg/model"

// Inspect walks plan (the top-level "Plan" node of an EXPLAIN result) and
// returns one ScanRecord per Seq Scan node found at any depth, plus the
// top-level plan metrics.
func Inspect(plan map[string]interface{}, executionMS float64, hasExecution bool) ([]model.ScanRecord, model.PlanMetrics) {
	var scans []model.ScanRecord
	walk(plan, 0, &scans)

	metrics := model.PlanMetrics{
		TotalCost:    floatField(plan, "Total Cost"),
		ActualRows:   rowsField(plan),
		ExecutionMS:  executionMS,
		HasExecution: hasExecution,
	}
	return scans, metrics
}

func walk(node map[string]interface{}, depth int, scans *[]model.ScanRecord) {
	if node == nil {
		return
	}

	if nodeType, _ := node["Node Type"].(string); nodeType == "Seq Scan" {
		*scans = append(*scans, model.ScanRecord{
			Table:               relationName(node),
			RowsScanned:         rowsField(node),
			RowsRemovedByFilter: intField(node, "Rows Removed by Filter"),
			TotalCost:           floatField(node, "Total Cost"),
			Depth:               depth,
		})
	}

	children, ok := node["Plans"].([]interface{})
	if !ok {
		return
	}
	for _, child := range children {
		if childNode, ok := child.(map[string]interface{}); ok {
			walk(childNode, depth+1, scans)
		}
	}
}

func relationName(node map[string]interface{}) string {
	if name, ok := node["Relation Name"].(string); ok {
		return name
	}
	return ""
}

func floatField(node map[string]interface{}, key string) float64 {
	if v, ok := node[key].(float64); ok {
		return v
	}
	return 0
}

func intField(node map[string]interface{}, key string) int64 {
	if v, ok := node[key].(float64); ok {
		return int64(v)
	}
	return 0
}

// rowsField reads the plan's actual row count when EXPLAIN ANALYZE ran,
// falling back to the planner's row estimate otherwise.
func rowsField(node map[string]interface{}) int64 {
	if _, ok := node["Actual Rows"]; ok {
		return intField(node, "Actual Rows")
	}
	return intField(node, "Plan Rows")
}
