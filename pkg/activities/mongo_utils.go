package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	planerrors "github.com/mouradhm/mongo-planbench/pkg/errors"
	"github.com/mouradhm/mongo-planbench/pkg/explain"
	"github.com/mouradhm/mongo-planbench/pkg/models"
)

// Server error codes the driver maps onto the failure taxonomy
const (
	codeUnauthorized          = 13
	codeAuthenticationFailed  = 18
	codeNamespaceNotFound     = 26
	codeIndexNotFound         = 27
	codeMaxTimeMSExpired      = 50
	codeIndexAlreadyExists    = 68
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// MongoDriver runs explained queries and index changes against one database
type MongoDriver struct {
	client *mongo.Client
	db     *mongo.Database
	owned  bool
}

// NewMongoDriver wraps an existing client. The caller keeps ownership of the
// connection; Close does not disconnect it.
func NewMongoDriver(client *mongo.Client, dbName string) *MongoDriver {
	return &MongoDriver{
		client: client,
		db:     client.Database(dbName),
	}
}

// ConnectMongoDriver opens a client for params and returns a driver that
// disconnects it on Close.
func ConnectMongoDriver(ctx context.Context, params models.ConnectionParams) (*MongoDriver, error) {
	client, err := connectToMongoDB(ctx, params)
	if err != nil {
		return nil, err
	}
	d := NewMongoDriver(client, params.Database)
	d.owned = true
	return d, nil
}

// Database returns the database the driver operates on
func (d *MongoDriver) Database() *mongo.Database {
	return d.db
}

// Close disconnects the client if the driver opened it
func (d *MongoDriver) Close(ctx context.Context) error {
	if !d.owned {
		return nil
	}
	return d.client.Disconnect(ctx)
}

// connectToMongoDB establishes a connection to MongoDB with the given params
func connectToMongoDB(ctx context.Context, params models.ConnectionParams) (*mongo.Client, error) {
	connectTimeout := params.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	clientOptions := options.Client().ApplyURI(params.URI)
	clientOptions.SetConnectTimeout(connectTimeout)
	clientOptions.SetServerSelectionTimeout(connectTimeout)
	clientOptions.SetMaxPoolSize(20)
	clientOptions.SetMaxConnIdleTime(30 * time.Second)
	// Measurements must not be repeated behind our back
	clientOptions.SetRetryReads(false)
	clientOptions.SetRetryWrites(false)
	if params.AppName != "" {
		clientOptions.SetAppName(params.AppName)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, planerrors.New(planerrors.KindConnection, fmt.Errorf("failed to connect to MongoDB: %w", err))
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, planerrors.New(planerrors.KindConnection, fmt.Errorf("failed to ping MongoDB: %w", err))
	}

	return client, nil
}

// Ping verifies the server is reachable
func (d *MongoDriver) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, nil); err != nil {
		return driverError(err, planerrors.KindConnection, "")
	}
	return nil
}

// RunQuery executes the query under explain with executionStats verbosity.
// A query against a collection that does not exist is rejected rather than
// reported as an empty plan.
func (d *MongoDriver) RunQuery(ctx context.Context, query models.QuerySpec) (models.ExecutionStats, error) {
	var stats models.ExecutionStats

	exists, err := d.collectionExists(ctx, query.Collection)
	if err != nil {
		return stats, driverError(err, planerrors.KindQuery, query.Collection)
	}
	if !exists {
		return stats, planerrors.New(planerrors.KindQuery,
			fmt.Errorf("collection %s does not exist in database %s", query.Collection, d.db.Name())).
			WithCollection(query.Collection)
	}

	start := time.Now()
	var reply bson.M
	if err := d.db.RunCommand(ctx, explainCommand(query)).Decode(&reply); err != nil {
		return stats, driverError(err, planerrors.KindQuery, query.Collection)
	}
	wall := time.Since(start)

	stats, err = explain.Parse(reply)
	if err != nil {
		return stats, planerrors.New(planerrors.KindQuery, err).WithCollection(query.Collection)
	}
	stats.WallTime = wall

	return stats, nil
}

// explainCommand wraps the find or aggregate command for query in explain
func explainCommand(query models.QuerySpec) bson.D {
	var inner bson.D
	if query.Kind() == models.QueryKindAggregate {
		inner = bson.D{
			{Key: "aggregate", Value: query.Collection},
			{Key: "pipeline", Value: query.Pipeline},
			{Key: "cursor", Value: bson.D{}},
		}
	} else {
		filter := query.Filter
		if filter == nil {
			filter = bson.D{}
		}
		inner = bson.D{
			{Key: "find", Value: query.Collection},
			{Key: "filter", Value: filter},
		}
		if query.Projection != nil {
			inner = append(inner, bson.E{Key: "projection", Value: query.Projection})
		}
		if query.Sort != nil {
			inner = append(inner, bson.E{Key: "sort", Value: query.Sort})
		}
		if query.Limit > 0 {
			inner = append(inner, bson.E{Key: "limit", Value: query.Limit})
		}
	}
	if query.Hint != nil {
		inner = append(inner, bson.E{Key: "hint", Value: query.Hint})
	}

	return bson.D{
		{Key: "explain", Value: inner},
		{Key: "verbosity", Value: "executionStats"},
	}
}

// FindIndex looks for an index with the same name as spec, then for one with
// the same key pattern.
func (d *MongoDriver) FindIndex(ctx context.Context, spec models.IndexSpec) (models.IndexSpec, bool, error) {
	existing, err := getCollectionIndexes(ctx, d.db.Collection(spec.Collection))
	if err != nil {
		return models.IndexSpec{}, false, driverError(err, planerrors.KindIndexCreation, spec.Collection)
	}
	idx, found := matchIndex(existing, spec)
	return idx, found, nil
}

func matchIndex(existing []models.IndexSpec, spec models.IndexSpec) (models.IndexSpec, bool) {
	for _, idx := range existing {
		if idx.Name() == spec.Name() {
			return idx, true
		}
	}
	for _, idx := range existing {
		if sameKeys(idx.Keys(), spec.Keys()) {
			return idx, true
		}
	}
	return models.IndexSpec{}, false
}

// CreateIndex builds the index. The server reports an existing index with the
// same name or an incompatible definition as a conflict.
func (d *MongoDriver) CreateIndex(ctx context.Context, spec models.IndexSpec) error {
	collection := d.db.Collection(spec.Collection)

	model := mongo.IndexModel{
		Keys:    spec.Keys(),
		Options: options.Index().SetName(spec.Name()),
	}
	if _, err := collection.Indexes().CreateOne(ctx, model); err != nil {
		return driverError(err, planerrors.KindIndexCreation, spec.Collection)
	}
	return nil
}

// DropIndex removes the index by name
func (d *MongoDriver) DropIndex(ctx context.Context, spec models.IndexSpec) error {
	if _, err := d.db.Collection(spec.Collection).Indexes().DropOne(ctx, spec.Name()); err != nil {
		return driverError(err, planerrors.KindCleanup, spec.Collection)
	}
	return nil
}

// ListIndexes returns the indexes currently defined on a collection
func (d *MongoDriver) ListIndexes(ctx context.Context, collectionName string) ([]models.IndexSpec, error) {
	indexes, err := getCollectionIndexes(ctx, d.db.Collection(collectionName))
	if err != nil {
		return nil, driverError(err, planerrors.KindQuery, collectionName)
	}
	return indexes, nil
}

func (d *MongoDriver) collectionExists(ctx context.Context, name string) (bool, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	return len(names) > 0, nil
}

// indexDocument is one entry of listIndexes. Key is decoded as bson.D so the
// field order of compound indexes survives.
type indexDocument struct {
	Name string `bson:"name"`
	Key  bson.D `bson:"key"`
}

// getCollectionIndexes retrieves all indexes from a collection, _id_ included
func getCollectionIndexes(ctx context.Context, collection *mongo.Collection) ([]models.IndexSpec, error) {
	cursor, err := collection.Indexes().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer cursor.Close(ctx)

	var indexes []models.IndexSpec
	for cursor.Next(ctx) {
		var doc indexDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode index: %w", err)
		}

		spec := models.IndexSpec{
			Collection: collection.Name(),
			IndexName:  doc.Name,
		}
		for _, e := range doc.Key {
			spec.Fields = append(spec.Fields, models.IndexField{Name: e.Key, Direction: e.Value})
		}
		indexes = append(indexes, spec)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return indexes, nil
}

// sameKeys compares two key patterns field by field. Numeric directions
// compare by value whatever their BSON width.
func sameKeys(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
		if normalizeDirection(a[i].Value) != normalizeDirection(b[i].Value) {
			return false
		}
	}
	return true
}

func normalizeDirection(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return v
}

// driverError tags err with the kind it maps to, falling back to fallback
func driverError(err error, fallback planerrors.Kind, collection string) error {
	return planerrors.New(classifyError(err, fallback), err).WithCollection(collection)
}

// classifyError maps a driver error onto the failure taxonomy
func classifyError(err error, fallback planerrors.Kind) planerrors.Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return planerrors.KindCanceled
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case codeUnauthorized, codeAuthenticationFailed:
			return planerrors.KindConnection
		case codeIndexAlreadyExists, codeIndexOptionsConflict, codeIndexKeySpecsConflict:
			return planerrors.KindIndexConflict
		case codeIndexNotFound:
			return planerrors.KindIndexNotFound
		case codeMaxTimeMSExpired:
			return fallback
		case codeNamespaceNotFound:
			// Dropping from a collection that is gone leaves nothing behind
			if fallback == planerrors.KindCleanup {
				return planerrors.KindIndexNotFound
			}
			return planerrors.KindQuery
		}
	}

	if errors.Is(err, mongo.ErrClientDisconnected) || mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return planerrors.KindConnection
	}

	return fallback
}
