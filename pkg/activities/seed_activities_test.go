package activities

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func field(t *testing.T, doc interface{}, key string) interface{} {
	t.Helper()
	d, ok := doc.(bson.D)
	require.True(t, ok)
	return d.Map()[key]
}

func TestSampleEnrollmentsHaveOneOrphan(t *testing.T) {
	courses := map[interface{}]bool{}
	for _, c := range sampleCourses() {
		courses[field(t, c, "_id")] = true
	}

	var orphans []interface{}
	for _, e := range sampleEnrollments() {
		if id := field(t, e, "courseId"); !courses[id] {
			orphans = append(orphans, id)
		}
	}
	assert.Equal(t, []interface{}{"HIST300"}, orphans)
}

func TestSampleStudentsHaveUniqueIDs(t *testing.T) {
	students := sampleStudents()
	for i := 0; i < 50; i++ {
		students = append(students, generatedStudent(i))
	}

	seen := map[interface{}]bool{}
	for _, s := range students {
		id := field(t, s, "_id")
		assert.False(t, seen[id], "duplicate _id %v", id)
		seen[id] = true
	}
}

func TestGeneratedStudentIsDeterministic(t *testing.T) {
	assert.Equal(t, generatedStudent(7), generatedStudent(7))
	assert.Equal(t, 1007, field(t, generatedStudent(7), "_id"))
	assert.Equal(t, "Student 0007", field(t, generatedStudent(7), "name"))
}

func TestInsertedCount(t *testing.T) {
	duplicates := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"}},
			{WriteError: mongo.WriteError{Index: 3, Code: 11000, Message: "E11000 duplicate key error"}},
		},
	}
	writeConcern := mongo.BulkWriteException{WriteConcernError: &mongo.WriteConcernError{Code: 64}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no error", nil, 5},
		{"duplicates", duplicates, 3},
		{"wrapped duplicates", fmt.Errorf("insert: %w", duplicates), 3},
		{"write concern", writeConcern, 0},
		{"network", errors.New("connection reset by peer"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, insertedCount(5, tt.err))
		})
	}
}
