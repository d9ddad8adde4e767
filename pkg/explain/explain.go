// Package explain extracts execution statistics from the reply of a MongoDB
// explain command run with "executionStats" verbosity.
//
// Three reply shapes are understood: the classic find explain, the slot based
// engine explain (winningPlan.queryPlan), and the aggregate explain where the
// query layer is reported under stages[0].$cursor.
package explain

import (
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

// ErrNoExecutionStats is returned when the reply lacks an executionStats
// section, usually because explain ran with queryPlanner verbosity.
var ErrNoExecutionStats = errors.New("explain output has no executionStats")

var indexStages = map[string]bool{
	"IXSCAN":         true,
	"EXPRESS_IXSCAN": true,
	"COUNT_SCAN":     true,
	"DISTINCT_SCAN":  true,
	"IDHACK":         true,
	"EXPRESS_IDHACK": true,
}

// Parse converts an explain reply into ExecutionStats. WallTime is left for
// the caller to fill in.
func Parse(reply bson.M) (models.ExecutionStats, error) {
	var stats models.ExecutionStats

	root := reply
	if cursor := cursorStage(reply); cursor != nil {
		root = cursor
	}

	execStats := asMap(root["executionStats"])
	if execStats == nil {
		return stats, ErrNoExecutionStats
	}

	stats.KeysExamined = asInt64(execStats["totalKeysExamined"])
	stats.DocsExamined = asInt64(execStats["totalDocsExamined"])
	stats.DocsReturned = asInt64(execStats["nReturned"])
	stats.ExecutionTime = time.Duration(asInt64(execStats["executionTimeMillis"])) * time.Millisecond

	plan := winningPlan(root)
	if plan == nil {
		// Fall back to the executed stage tree when no planner section exists.
		plan = asMap(execStats["executionStages"])
	}
	if plan == nil {
		return stats, fmt.Errorf("explain output has no winning plan")
	}

	walk(plan, func(stage bson.M) {
		name, _ := stage["stage"].(string)
		if name == "" {
			return
		}
		stats.Stages = append(stats.Stages, name)
		if name == "PROJECTION_COVERED" {
			stats.Covered = true
		}
		if idx, ok := stage["indexName"].(string); ok && idx != "" {
			stats.IndexesUsed = appendUnique(stats.IndexesUsed, idx)
		}
	})
	stats.PlanStage = Classify(stats.Stages)

	return stats, nil
}

// Classify reduces a list of stage names to a coarse plan label
func Classify(stages []string) models.PlanStage {
	var collScan, eof bool
	for _, s := range stages {
		switch {
		case indexStages[s]:
			return models.PlanStageIndexScan
		case s == "COLLSCAN":
			collScan = true
		case s == "EOF":
			eof = true
		}
	}
	switch {
	case collScan:
		return models.PlanStageFullScan
	case eof:
		return models.PlanStageEmpty
	default:
		return models.PlanStageUnknown
	}
}

// cursorStage returns the $cursor section of an aggregate explain, or nil.
func cursorStage(reply bson.M) bson.M {
	stages := asSlice(reply["stages"])
	if len(stages) == 0 {
		return nil
	}
	first := asMap(stages[0])
	if first == nil {
		return nil
	}
	return asMap(first["$cursor"])
}

func winningPlan(root bson.M) bson.M {
	planner := asMap(root["queryPlanner"])
	if planner == nil {
		return nil
	}
	plan := asMap(planner["winningPlan"])
	if plan == nil {
		return nil
	}
	if sbe := asMap(plan["queryPlan"]); sbe != nil {
		return sbe
	}
	return plan
}

// walk visits the stage tree in pre-order
func walk(stage bson.M, visit func(bson.M)) {
	if stage == nil {
		return
	}
	visit(stage)
	walk(asMap(stage["inputStage"]), visit)
	for _, child := range asSlice(stage["inputStages"]) {
		walk(asMap(child), visit)
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func asMap(v interface{}) bson.M {
	switch m := v.(type) {
	case bson.M:
		return m
	case map[string]interface{}:
		return bson.M(m)
	case bson.D:
		return m.Map()
	case bson.Raw:
		var out bson.M
		if err := bson.Unmarshal(m, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

func asSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case bson.A:
		return s
	case []interface{}:
		return s
	case []bson.M:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return nil
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
