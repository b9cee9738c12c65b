// Package storage persists processed rows in MongoDB, deduplicated by
// content hash.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iwsa-dev/iwsa/internal/types"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 30 * time.Second
)

// Document field names. Extracted data fields sit at the top level;
// pipeline metadata is remapped under the _meta_ prefix except for the
// reserved keys below.
const (
	fieldSourceURL   = "_source_url"
	fieldExtractedAt = "_extracted_at"
	fieldContentHash = "_content_hash"
	fieldProcessedAt = "_processed_at"
	metaPrefix       = "_meta_"
)

// Stats summarizes the collection state.
type Stats struct {
	TotalDocuments int64     `json:"total_documents"`
	DistinctURLs   int       `json:"distinct_urls"`
	OldestRecord   time.Time `json:"oldest_record"`
	NewestRecord   time.Time `json:"newest_record"`
}

// Mongo stores rows in a single MongoDB collection.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
	logger     *slog.Logger
}

// Connect dials MongoDB, verifies the connection, and ensures indexes.
func Connect(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	m := &Mongo{
		client:     client,
		collection: client.Database(database).Collection(collection),
		now:        time.Now,
		logger:     logger.With("component", "storage"),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldContentHash, Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: fieldSourceURL, Value: 1}}},
		{Keys: bson.D{{Key: fieldExtractedAt, Value: -1}}},
		{Keys: bson.D{{Key: fieldSourceURL, Value: 1}, {Key: fieldExtractedAt, Value: -1}}},
		{Keys: bson.D{{Key: "$**", Value: "text"}}, Options: options.Index().SetName("row_text")},
	})
	if err != nil {
		return fmt.Errorf("mongodb indexes: %w", err)
	}
	return nil
}

// Store upserts rows keyed by content hash and returns the number of
// newly inserted documents. Rows already present are refreshed in place,
// so re-running a scrape never duplicates data.
func (m *Mongo) Store(ctx context.Context, rows []*types.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		doc := m.toDocument(row)
		hash, _ := doc[fieldContentHash].(string)
		if hash == "" {
			continue
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{fieldContentHash: hash}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if len(models) == 0 {
		return 0, fmt.Errorf("no rows carry a content hash")
	}

	res, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("mongodb bulk write: %w", err)
	}

	inserted := int(res.UpsertedCount)
	m.logger.Debug("rows stored",
		"rows", len(models),
		"inserted", inserted,
		"refreshed", int(res.ModifiedCount),
	)
	return inserted, nil
}

// toDocument flattens a row into the storage document layout.
func (m *Mongo) toDocument(row *types.Row) bson.M {
	doc := bson.M{fieldProcessedAt: m.now().UTC()}
	for _, key := range row.Keys() {
		value, ok := row.Get(key)
		if !ok {
			continue
		}
		switch key {
		case types.KeySourceURL, types.KeyExtractedAt, types.KeyContentHash:
			doc[key] = value
		default:
			if types.IsMetadataKey(key) {
				doc[metaPrefix+strings.TrimPrefix(key, "_")] = value
			} else {
				doc[key] = value
			}
		}
	}
	return doc
}

// Retrieve returns up to limit documents, newest first, optionally
// filtered by source URL.
func (m *Mongo) Retrieve(ctx context.Context, sourceURL string, limit int64) ([]bson.M, error) {
	filter := bson.M{}
	if sourceURL != "" {
		filter[fieldSourceURL] = sourceURL
	}

	opts := options.Find().SetSort(bson.D{{Key: fieldExtractedAt, Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode: %w", err)
	}
	return docs, nil
}

// Delete removes all documents for a source URL and returns the count.
func (m *Mongo) Delete(ctx context.Context, sourceURL string) (int64, error) {
	res, err := m.collection.DeleteMany(ctx, bson.M{fieldSourceURL: sourceURL})
	if err != nil {
		return 0, fmt.Errorf("mongodb delete: %w", err)
	}
	m.logger.Info("documents deleted", "source_url", sourceURL, "count", res.DeletedCount)
	return res.DeletedCount, nil
}

// CleanupOld removes documents processed before the cutoff age. With
// dryRun set it only reports how many would go.
func (m *Mongo) CleanupOld(ctx context.Context, age time.Duration, dryRun bool) (int64, error) {
	cutoff := m.now().UTC().Add(-age)
	filter := bson.M{fieldProcessedAt: bson.M{"$lt": cutoff}}

	if dryRun {
		count, err := m.collection.CountDocuments(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("mongodb count: %w", err)
		}
		return count, nil
	}

	res, err := m.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongodb cleanup: %w", err)
	}
	m.logger.Info("old documents removed", "cutoff", cutoff, "count", res.DeletedCount)
	return res.DeletedCount, nil
}

// Stats reports collection totals and the record time span.
func (m *Mongo) Stats(ctx context.Context) (*Stats, error) {
	total, err := m.collection.EstimatedDocumentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("mongodb count: %w", err)
	}

	urls, err := m.collection.Distinct(ctx, fieldSourceURL, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb distinct: %w", err)
	}

	stats := &Stats{TotalDocuments: total, DistinctURLs: len(urls)}

	var edge struct {
		ProcessedAt time.Time `bson:"_processed_at"`
	}
	err = m.collection.FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: fieldProcessedAt, Value: 1}})).Decode(&edge)
	if err == nil {
		stats.OldestRecord = edge.ProcessedAt
	} else if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("mongodb find oldest: %w", err)
	}
	err = m.collection.FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: fieldProcessedAt, Value: -1}})).Decode(&edge)
	if err == nil {
		stats.NewestRecord = edge.ProcessedAt
	} else if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("mongodb find newest: %w", err)
	}

	return stats, nil
}

// Ping verifies the connection is alive.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (m *Mongo) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
