package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func completeReport() *ComparisonReport {
	return &ComparisonReport{
		Before: &ExecutionStats{
			PlanStage:     PlanStageFullScan,
			KeysExamined:  0,
			DocsExamined:  1000,
			DocsReturned:  200,
			ExecutionTime: 12 * time.Millisecond,
		},
		After: &ExecutionStats{
			PlanStage:     PlanStageIndexScan,
			KeysExamined:  200,
			DocsExamined:  200,
			DocsReturned:  200,
			ExecutionTime: 2 * time.Millisecond,
		},
	}
}

func TestDelta(t *testing.T) {
	delta, err := Delta(completeReport())
	require.NoError(t, err)

	assert.Equal(t, int64(200), delta.KeysExaminedDelta)
	assert.Equal(t, int64(-800), delta.DocsExaminedDelta)
	assert.Equal(t, int64(0), delta.ReturnedDelta)
	assert.Equal(t, -10*time.Millisecond, delta.TimeDelta)
	assert.True(t, delta.Improved())
}

func TestDelta_IsPure(t *testing.T) {
	report := completeReport()

	first, err := Delta(report)
	require.NoError(t, err)
	second, err := Delta(report)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, completeReport(), report, "report must not be modified")
}

func TestDelta_EqualDocsExaminedIsExactlyZero(t *testing.T) {
	report := completeReport()
	report.After.DocsExamined = report.Before.DocsExamined

	delta, err := Delta(report)
	require.NoError(t, err)
	assert.Zero(t, delta.DocsExaminedDelta)
}

func TestDelta_IncompleteReport(t *testing.T) {
	report := completeReport()
	report.After = nil

	_, err := Delta(report)
	assert.ErrorIs(t, err, ErrIncompleteReport)

	_, err = Delta(nil)
	assert.ErrorIs(t, err, ErrIncompleteReport)
}

func TestPlanDelta_Improved(t *testing.T) {
	assert.True(t, PlanDelta{DocsExaminedDelta: -1}.Improved())
	assert.True(t, PlanDelta{KeysExaminedDelta: -3}.Improved())
	assert.False(t, PlanDelta{}.Improved())
	assert.False(t, PlanDelta{DocsExaminedDelta: 2, KeysExaminedDelta: -5}.Improved())
}

func TestIndexSpec_Name(t *testing.T) {
	spec := IndexSpec{
		Collection: "students",
		Fields: []IndexField{
			{Name: "major", Direction: 1},
			{Name: "name", Direction: 1},
			{Name: "gpa", Direction: 1},
		},
	}
	assert.Equal(t, "major_1_name_1_gpa_1", spec.Name())
	assert.Equal(t, bson.D{{Key: "major", Value: 1}, {Key: "name", Value: 1}, {Key: "gpa", Value: 1}}, spec.Keys())

	spec.IndexName = "custom"
	assert.Equal(t, "custom", spec.Name())

	desc := IndexSpec{Collection: "students", Fields: []IndexField{{Name: "gpa", Direction: int32(-1)}, {Name: "bio", Direction: "text"}}}
	assert.Equal(t, "gpa_-1_bio_text", desc.Name())
}

func TestIndexSpec_Validate(t *testing.T) {
	valid := IndexSpec{Collection: "students", Fields: []IndexField{{Name: "gpa", Direction: -1}}}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		spec IndexSpec
		want string
	}{
		{"no collection", IndexSpec{Fields: valid.Fields}, "collection is required"},
		{"no fields", IndexSpec{Collection: "students"}, "at least one field"},
		{"unnamed field", IndexSpec{Collection: "students", Fields: []IndexField{{Direction: 1}}}, "has no name"},
		{"repeated field", IndexSpec{Collection: "students", Fields: []IndexField{{Name: "a", Direction: 1}, {Name: "a", Direction: -1}}}, "repeated"},
		{"bad direction", IndexSpec{Collection: "students", Fields: []IndexField{{Name: "a", Direction: 0}}}, "unsupported direction"},
		{"bad type", IndexSpec{Collection: "students", Fields: []IndexField{{Name: "a", Direction: "btree"}}}, "unsupported direction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, tt.spec.Validate(), tt.want)
		})
	}
}

func TestQuerySpec_Validate(t *testing.T) {
	assert.NoError(t, QuerySpec{Collection: "students"}.Validate())
	assert.NoError(t, QuerySpec{Collection: "students", Pipeline: bson.A{}}.Validate())

	assert.Error(t, QuerySpec{Collection: " "}.Validate())
	assert.Error(t, QuerySpec{Collection: "students", Filter: bson.D{}, Pipeline: bson.A{}}.Validate())
	assert.Error(t, QuerySpec{Collection: "students", Pipeline: bson.A{}, Limit: 5}.Validate())
	assert.Error(t, QuerySpec{Collection: "students", Limit: -1}.Validate())
}

func TestQuerySpec_Kind(t *testing.T) {
	assert.Equal(t, QueryKindFind, QuerySpec{Collection: "students"}.Kind())
	assert.Equal(t, QueryKindAggregate, QuerySpec{Collection: "students", Pipeline: bson.A{}}.Kind())
}
