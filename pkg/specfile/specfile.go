// Package specfile reads query, index and batch descriptions written in
// MongoDB Extended JSON, so filters may use $oid, $date and friends exactly
// as they would in the shell.
package specfile

import (
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

// indexDocument accepts either an ordered "keys" document, as passed to
// createIndex in the shell, or an explicit "fields" list.
type indexDocument struct {
	Collection string              `bson:"collection"`
	Name       string              `bson:"name,omitempty"`
	Keys       bson.D              `bson:"keys,omitempty"`
	Fields     []models.IndexField `bson:"fields,omitempty"`
}

func (d indexDocument) toSpec() (models.IndexSpec, error) {
	spec := models.IndexSpec{
		Collection: d.Collection,
		IndexName:  d.Name,
		Fields:     d.Fields,
	}
	if len(d.Keys) > 0 {
		if len(d.Fields) > 0 {
			return spec, fmt.Errorf("index must set either keys or fields, not both")
		}
		for _, e := range d.Keys {
			spec.Fields = append(spec.Fields, models.IndexField{Name: e.Key, Direction: e.Value})
		}
	}
	return spec, spec.Validate()
}

type batchDocument struct {
	Comparisons []struct {
		Query     models.QuerySpec `bson:"query"`
		Index     indexDocument    `bson:"index"`
		KeepIndex bool             `bson:"keepIndex,omitempty"`
	} `bson:"comparisons"`
}

// ParseQuery decodes a query description
func ParseQuery(data []byte) (models.QuerySpec, error) {
	var q models.QuerySpec
	if err := bson.UnmarshalExtJSON(data, false, &q); err != nil {
		return q, fmt.Errorf("failed to decode query spec: %w", err)
	}
	if err := q.Validate(); err != nil {
		return q, fmt.Errorf("invalid query spec: %w", err)
	}
	return q, nil
}

// ParseIndex decodes an index description
func ParseIndex(data []byte) (models.IndexSpec, error) {
	var doc indexDocument
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return models.IndexSpec{}, fmt.Errorf("failed to decode index spec: %w", err)
	}
	spec, err := doc.toSpec()
	if err != nil {
		return spec, fmt.Errorf("invalid index spec: %w", err)
	}
	return spec, nil
}

// ParseBatch decodes a batch document of the form {"comparisons": [...]}
func ParseBatch(data []byte) ([]models.ComparisonRequest, error) {
	var doc batchDocument
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode batch file: %w", err)
	}
	if len(doc.Comparisons) == 0 {
		return nil, fmt.Errorf("batch file has no comparisons")
	}

	items := make([]models.ComparisonRequest, 0, len(doc.Comparisons))
	for i, c := range doc.Comparisons {
		if err := c.Query.Validate(); err != nil {
			return nil, fmt.Errorf("comparison %d: invalid query spec: %w", i, err)
		}
		index, err := c.Index.toSpec()
		if err != nil {
			return nil, fmt.Errorf("comparison %d: invalid index spec: %w", i, err)
		}
		items = append(items, models.ComparisonRequest{Query: c.Query, Index: index, KeepIndex: c.KeepIndex})
	}
	return items, nil
}

// LoadQuery reads and decodes a query file
func LoadQuery(path string) (models.QuerySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.QuerySpec{}, fmt.Errorf("failed to read query file: %w", err)
	}
	return ParseQuery(data)
}

// LoadIndex reads and decodes an index file
func LoadIndex(path string) (models.IndexSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.IndexSpec{}, fmt.Errorf("failed to read index file: %w", err)
	}
	return ParseIndex(data)
}

// LoadBatch reads and decodes a batch file
func LoadBatch(path string) ([]models.ComparisonRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return ParseBatch(data)
}
