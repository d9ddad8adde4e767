package specfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

func TestParseQuery_Find(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"collection": "students",
		"filter": {"major": "Computer Science"},
		"projection": {"name": 1, "gpa": 1},
		"sort": {"gpa": -1},
		"limit": 10
	}`))
	require.NoError(t, err)

	assert.Equal(t, "students", q.Collection)
	assert.Equal(t, models.QueryKindFind, q.Kind())
	assert.Equal(t, bson.D{{Key: "major", Value: "Computer Science"}}, q.Filter)
	assert.Equal(t, bson.D{{Key: "name", Value: int32(1)}, {Key: "gpa", Value: int32(1)}}, q.Projection)
	assert.Equal(t, int64(10), q.Limit)
}

func TestParseQuery_Pipeline(t *testing.T) {
	q, err := ParseQuery([]byte(`{
		"collection": "students",
		"pipeline": [
			{"$match": {"gpa": {"$gte": 3.5}}},
			{"$sort": {"gpa": -1}}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, models.QueryKindAggregate, q.Kind())
	pipeline, ok := q.Pipeline.(bson.A)
	require.True(t, ok, "pipeline should decode as an array, got %T", q.Pipeline)
	assert.Len(t, pipeline, 2)
}

func TestParseQuery_Invalid(t *testing.T) {
	_, err := ParseQuery([]byte(`{"filter": {}}`))
	assert.ErrorContains(t, err, "collection is required")

	_, err = ParseQuery([]byte(`{"collection": "students", "filter": {}, "pipeline": []}`))
	assert.ErrorContains(t, err, "either filter or pipeline")

	_, err = ParseQuery([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseIndex_Keys(t *testing.T) {
	idx, err := ParseIndex([]byte(`{
		"collection": "students",
		"keys": {"major": 1, "name": 1, "gpa": -1}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "major_1_name_1_gpa_-1", idx.Name())
	assert.Equal(t, []string{"major", "name", "gpa"}, []string{idx.Fields[0].Name, idx.Fields[1].Name, idx.Fields[2].Name})
}

func TestParseIndex_Fields(t *testing.T) {
	idx, err := ParseIndex([]byte(`{
		"collection": "enrollments",
		"name": "by_course",
		"fields": [{"name": "courseId", "direction": 1}, {"name": "studentName", "direction": 1}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "by_course", idx.Name())
	assert.Equal(t, bson.D{{Key: "courseId", Value: int32(1)}, {Key: "studentName", Value: int32(1)}}, idx.Keys())
}

func TestParseIndex_Invalid(t *testing.T) {
	_, err := ParseIndex([]byte(`{"collection": "students"}`))
	assert.ErrorContains(t, err, "at least one field")

	_, err = ParseIndex([]byte(`{"collection": "students", "keys": {"gpa": 2}}`))
	assert.ErrorContains(t, err, "unsupported direction")

	_, err = ParseIndex([]byte(`{"collection": "students", "keys": {"gpa": 1}, "fields": [{"name": "gpa", "direction": 1}]}`))
	assert.ErrorContains(t, err, "either keys or fields")
}

func TestLoadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"comparisons": [
			{
				"query": {"collection": "students", "filter": {"major": "Computer Science"}},
				"index": {"collection": "students", "keys": {"major": 1}}
			},
			{
				"query": {"collection": "enrollments", "filter": {"courseId": "CS101"}},
				"index": {"collection": "enrollments", "keys": {"courseId": 1}},
				"keepIndex": true
			}
		]
	}`), 0o600))

	items, err := LoadBatch(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "students", items[0].Query.Collection)
	assert.False(t, items[0].KeepIndex)
	assert.Equal(t, "courseId_1", items[1].Index.Name())
	assert.True(t, items[1].KeepIndex)
}

func TestLoadBatch_Empty(t *testing.T) {
	_, err := ParseBatch([]byte(`{"comparisons": []}`))
	assert.ErrorContains(t, err, "no comparisons")
}

func TestLoadQuery_MissingFile(t *testing.T) {
	_, err := LoadQuery(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read query file")
}
