package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// QueryKind distinguishes find queries from aggregation pipelines
type QueryKind string

const (
	QueryKindFind      QueryKind = "find"
	QueryKindAggregate QueryKind = "aggregate"
)

// QuerySpec describes one query or aggregation to execute. Filter, Pipeline,
// Projection, Sort and Hint are passed through to the server verbatim.
type QuerySpec struct {
	Name       string      `json:"name,omitempty" bson:"name,omitempty"`
	Collection string      `json:"collection" bson:"collection"`
	Filter     interface{} `json:"filter,omitempty" bson:"filter,omitempty"`
	Pipeline   interface{} `json:"pipeline,omitempty" bson:"pipeline,omitempty"`
	Projection interface{} `json:"projection,omitempty" bson:"projection,omitempty"`
	Sort       interface{} `json:"sort,omitempty" bson:"sort,omitempty"`
	Hint       interface{} `json:"hint,omitempty" bson:"hint,omitempty"`
	Limit      int64       `json:"limit,omitempty" bson:"limit,omitempty"`
}

// Kind reports whether the query runs as a find or as an aggregate
func (q QuerySpec) Kind() QueryKind {
	if q.Pipeline != nil {
		return QueryKindAggregate
	}
	return QueryKindFind
}

// Validate checks the structural shape of the query. Payload contents are left
// to the server.
func (q QuerySpec) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return errors.New("query collection is required")
	}
	if q.Filter != nil && q.Pipeline != nil {
		return errors.New("query must set either filter or pipeline, not both")
	}
	if q.Pipeline != nil && (q.Projection != nil || q.Sort != nil || q.Limit != 0) {
		return errors.New("projection, sort and limit apply to find queries only; use pipeline stages instead")
	}
	if q.Limit < 0 {
		return fmt.Errorf("query limit must not be negative, got %d", q.Limit)
	}
	return nil
}

// IndexField is one (field, direction) pair of an index key pattern.
// Direction is 1, -1 or an index type string such as "text" or "hashed".
type IndexField struct {
	Name      string      `json:"name" bson:"name"`
	Direction interface{} `json:"direction" bson:"direction"`
}

// IndexSpec describes the candidate index created between the two measurements
type IndexSpec struct {
	Collection string       `json:"collection" bson:"collection"`
	Fields     []IndexField `json:"fields" bson:"fields"`
	IndexName  string       `json:"name,omitempty" bson:"name,omitempty"`

	// PreExisting is set by the comparator when an equivalent index was
	// already present and got reused instead of created.
	PreExisting bool `json:"preExisting" bson:"-"`
}

// Keys returns the ordered key pattern of the index
func (s IndexSpec) Keys() bson.D {
	keys := make(bson.D, 0, len(s.Fields))
	for _, f := range s.Fields {
		keys = append(keys, bson.E{Key: f.Name, Value: f.Direction})
	}
	return keys
}

// Name returns the explicit index name or the name MongoDB would generate,
// e.g. major_1_name_1_gpa_1.
func (s IndexSpec) Name() string {
	if s.IndexName != "" {
		return s.IndexName
	}
	parts := make([]string, 0, len(s.Fields)*2)
	for _, f := range s.Fields {
		parts = append(parts, f.Name, fmt.Sprint(f.Direction))
	}
	return strings.Join(parts, "_")
}

// Validate checks that the index names a collection and at least one field
func (s IndexSpec) Validate() error {
	if strings.TrimSpace(s.Collection) == "" {
		return errors.New("index collection is required")
	}
	if len(s.Fields) == 0 {
		return errors.New("index must have at least one field")
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("index field %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("index field %q is repeated", f.Name)
		}
		seen[f.Name] = true
		if err := validateDirection(f.Direction); err != nil {
			return fmt.Errorf("index field %q: %w", f.Name, err)
		}
	}
	return nil
}

func validateDirection(d interface{}) error {
	switch v := d.(type) {
	case int:
		if v == 1 || v == -1 {
			return nil
		}
	case int32:
		if v == 1 || v == -1 {
			return nil
		}
	case int64:
		if v == 1 || v == -1 {
			return nil
		}
	case float64:
		if v == 1 || v == -1 {
			return nil
		}
	case string:
		switch v {
		case "text", "hashed", "2d", "2dsphere":
			return nil
		}
	}
	return fmt.Errorf("unsupported direction %v", d)
}

// PlanStage is the coarse label of the winning plan's access path
type PlanStage string

const (
	PlanStageFullScan  PlanStage = "FULL_SCAN"
	PlanStageIndexScan PlanStage = "INDEX_SCAN"
	PlanStageEmpty     PlanStage = "EMPTY"
	PlanStageUnknown   PlanStage = "UNKNOWN"
)

// ExecutionStats is the result of one explained query execution
type ExecutionStats struct {
	PlanStage     PlanStage     `json:"planStage"`
	KeysExamined  int64         `json:"keysExamined"`
	DocsExamined  int64         `json:"docsExamined"`
	DocsReturned  int64         `json:"docsReturned"`
	ExecutionTime time.Duration `json:"executionTime"`
	WallTime      time.Duration `json:"wallTime"`
	Stages        []string      `json:"stages,omitempty"`
	IndexesUsed   []string      `json:"indexesUsed,omitempty"`
	Covered       bool          `json:"covered"`
}

// ComparisonReport pairs the before and after measurements of one query
// around the creation of one index. After is nil when the second
// measurement was not taken.
type ComparisonReport struct {
	ID           string          `json:"id"`
	Query        QuerySpec       `json:"query"`
	Index        IndexSpec       `json:"index"`
	KeepIndex    bool            `json:"keepIndex"`
	Before       *ExecutionStats `json:"before"`
	After        *ExecutionStats `json:"after,omitempty"`
	Error        string          `json:"error,omitempty"`
	Warning      string          `json:"warning,omitempty"`
	CleanupError error           `json:"-"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}

// Complete reports whether both measurements are present
func (r *ComparisonReport) Complete() bool {
	return r != nil && r.Before != nil && r.After != nil
}

// PlanDelta holds after-minus-before differences. Negative values mean the
// indexed run did less work.
type PlanDelta struct {
	KeysExaminedDelta int64         `json:"keysExaminedDelta"`
	DocsExaminedDelta int64         `json:"docsExaminedDelta"`
	ReturnedDelta     int64         `json:"returnedDelta"`
	TimeDelta         time.Duration `json:"timeDelta"`
}

// Improved reports whether the indexed run examined fewer documents, or the
// same documents with fewer keys.
func (d PlanDelta) Improved() bool {
	return d.DocsExaminedDelta < 0 || (d.DocsExaminedDelta == 0 && d.KeysExaminedDelta < 0)
}

// ErrIncompleteReport is returned by Delta for a report missing a measurement
var ErrIncompleteReport = errors.New("report is missing a before or after measurement")

// Delta computes the difference between the two measurements of a report
func Delta(report *ComparisonReport) (PlanDelta, error) {
	if !report.Complete() {
		return PlanDelta{}, ErrIncompleteReport
	}
	return PlanDelta{
		KeysExaminedDelta: report.After.KeysExamined - report.Before.KeysExamined,
		DocsExaminedDelta: report.After.DocsExamined - report.Before.DocsExamined,
		ReturnedDelta:     report.After.DocsReturned - report.Before.DocsReturned,
		TimeDelta:         report.After.ExecutionTime - report.Before.ExecutionTime,
	}, nil
}
