package activities

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SeedParams controls how the sample school dataset is loaded
type SeedParams struct {
	// Drop removes the collections before inserting
	Drop bool
	// ExtraStudents adds generated students so that full scans show up in
	// the numbers
	ExtraStudents int
	BatchSize     int
}

var sampleMajors = []string{"Computer Science", "Mathematics", "Physics", "Biology", "History"}

func sampleStudents() []interface{} {
	return []interface{}{
		bson.D{{Key: "_id", Value: 1}, {Key: "name", Value: "Alice"}, {Key: "age", Value: 21}, {Key: "major", Value: "Computer Science"}, {Key: "gpa", Value: 3.7}},
		bson.D{{Key: "_id", Value: 2}, {Key: "name", Value: "Bob"}, {Key: "age", Value: 22}, {Key: "major", Value: "Mathematics"}, {Key: "gpa", Value: 3.4}},
		bson.D{{Key: "_id", Value: 3}, {Key: "name", Value: "Charlie"}, {Key: "age", Value: 20}, {Key: "major", Value: "Physics"}, {Key: "gpa", Value: 3.9}},
		bson.D{{Key: "_id", Value: 4}, {Key: "name", Value: "Eve"}, {Key: "age", Value: 23}, {Key: "major", Value: "Computer Science"}, {Key: "gpa", Value: 3.2},
			{Key: "courses", Value: bson.A{bson.D{{Key: "courseId", Value: "CS101"}, {Key: "title", Value: "Intro to Programming"}}}}},
		bson.D{{Key: "_id", Value: 5}, {Key: "name", Value: "Frank"}, {Key: "age", Value: 21}, {Key: "major", Value: "Mathematics"}, {Key: "gpa", Value: 2.9}},
		bson.D{{Key: "_id", Value: 6}, {Key: "name", Value: "Grace"}, {Key: "age", Value: 22}, {Key: "major", Value: "Physics"}, {Key: "gpa", Value: 3.8}},
	}
}

func sampleCourses() []interface{} {
	return []interface{}{
		bson.D{{Key: "_id", Value: "CS101"}, {Key: "title", Value: "Intro to Programming"}, {Key: "credits", Value: 3}},
		bson.D{{Key: "_id", Value: "MATH201"}, {Key: "title", Value: "Linear Algebra"}, {Key: "credits", Value: 4}},
		bson.D{{Key: "_id", Value: "PHYS110"}, {Key: "title", Value: "Mechanics"}, {Key: "credits", Value: 4}},
	}
}

// sampleEnrollments references courses by id. HIST300 has no course document
// and is the orphaned reference the lookup examples look for.
func sampleEnrollments() []interface{} {
	return []interface{}{
		bson.D{{Key: "studentName", Value: "Frank"}, {Key: "courseId", Value: "CS101"}, {Key: "grade", Value: "B"}},
		bson.D{{Key: "studentName", Value: "Frank"}, {Key: "courseId", Value: "MATH201"}, {Key: "grade", Value: "A"}},
		bson.D{{Key: "studentName", Value: "Grace"}, {Key: "courseId", Value: "PHYS110"}, {Key: "grade", Value: "A"}},
		bson.D{{Key: "studentName", Value: "Grace"}, {Key: "courseId", Value: "HIST300"}, {Key: "grade", Value: "C"}},
		bson.D{{Key: "studentName", Value: "Alice"}, {Key: "courseId", Value: "CS101"}, {Key: "grade", Value: "A"}},
	}
}

// generatedStudent is deterministic in i so repeated seeds produce the same data
func generatedStudent(i int) interface{} {
	return bson.D{
		{Key: "_id", Value: 1000 + i},
		{Key: "name", Value: fmt.Sprintf("Student %04d", i)},
		{Key: "age", Value: 18 + i%10},
		{Key: "major", Value: sampleMajors[i%len(sampleMajors)]},
		{Key: "gpa", Value: 2.0 + float64(i%21)/10},
	}
}

// SeedSampleData loads the students, courses and enrollments collections.
// It returns the number of documents inserted per collection.
func SeedSampleData(ctx context.Context, db *mongo.Database, params SeedParams, logger zerolog.Logger) (map[string]int, error) {
	students := sampleStudents()
	for i := 0; i < params.ExtraStudents; i++ {
		students = append(students, generatedStudent(i))
	}

	datasets := []struct {
		name string
		docs []interface{}
	}{
		{"students", students},
		{"courses", sampleCourses()},
		{"enrollments", sampleEnrollments()},
	}

	counts := make(map[string]int, len(datasets))
	for _, ds := range datasets {
		collection := db.Collection(ds.name)
		if params.Drop {
			logger.Info().Str("collection", ds.name).Msg("Dropping existing collection")
			if err := collection.Drop(ctx); err != nil {
				return counts, fmt.Errorf("failed to drop collection %s: %w", ds.name, err)
			}
		}

		n, err := insertInBatches(ctx, collection, ds.docs, params.BatchSize)
		counts[ds.name] = n
		if err != nil {
			return counts, fmt.Errorf("failed to seed collection %s: %w", ds.name, err)
		}
		logger.Info().Str("collection", ds.name).Int("documents", n).Msg("Seeded collection")
	}

	return counts, nil
}

// insertInBatches inserts docs batchSize at a time and returns how many were
// written. Batches are unordered, so a failing batch still counts the
// documents the server accepted.
func insertInBatches(ctx context.Context, collection *mongo.Collection, docs []interface{}, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100 // Default batch size
	}

	insertOptions := options.InsertMany().SetOrdered(false)

	total := 0
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		_, err := collection.InsertMany(ctx, docs[start:end], insertOptions)
		total += insertedCount(end-start, err)
		if err != nil {
			return total, fmt.Errorf("failed to insert batch: %w", err)
		}
	}
	return total, nil
}

// insertedCount returns how many documents of an unordered batch of size n
// were written given the error InsertMany returned.
func insertedCount(n int, err error) int {
	if err == nil {
		return n
	}
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && bulkErr.WriteConcernError == nil {
		return n - len(bulkErr.WriteErrors)
	}
	return 0
}
