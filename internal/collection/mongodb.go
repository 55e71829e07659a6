// internal/collection/mongodb.go
package collection

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MereWhiplash/codex-arbiter/internal/types"
)

// MongoDB implements Collection using MongoDB with Atlas Vector Search.
// The embedding is stored inline in the chunk document, so a chunk and
// its vector cannot exist without each other.
type MongoDB struct {
	client    *mongo.Client
	db        *mongo.Database
	chunks    *mongo.Collection
	dimension int
}

// chunkDoc is the MongoDB document structure
type chunkDoc struct {
	ID         string            `bson:"_id"`
	DocumentID string            `bson:"document_id"`
	Kind       string            `bson:"kind"`
	Text       string            `bson:"text"`
	Order      int               `bson:"order"`
	Attributes map[string]string `bson:"attributes,omitempty"`
	Embedding  []float32         `bson:"embedding"`
}

// NewMongoDB creates a new MongoDB collection. Vector search requires
// an Atlas Vector Search index named "embedding_index" on the chunks
// collection, defined with euclidean similarity.
func NewMongoDB(ctx context.Context, uri, database string, dimension int) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	m := &MongoDB{
		client:    client,
		db:        db,
		chunks:    db.Collection("chunks"),
		dimension: dimension,
	}

	if err := m.initIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return m, nil
}

func (m *MongoDB) initIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}}},
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "order", Value: 1}}},
	}

	_, err := m.chunks.Indexes().CreateMany(ctx, indexes)
	return err
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) AddBatch(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &types.ConsistencyError{Op: "add batch", IndexSize: len(vectors), MetadataCount: len(chunks)}
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(chunks))
	docID := chunks[0].SourceDocumentID
	for i, ch := range chunks {
		if err := ch.Kind.Validate(); err != nil {
			return err
		}
		if len(vectors[i]) != m.dimension {
			return &types.DimensionMismatchError{Want: m.dimension, Got: len(vectors[i])}
		}
		docs = append(docs, chunkDoc{
			ID:         ch.ID,
			DocumentID: ch.SourceDocumentID,
			Kind:       string(ch.Kind),
			Text:       ch.Text,
			Order:      ch.Order,
			Attributes: ch.Attributes,
			Embedding:  vectors[i],
		})
	}

	_, err := m.chunks.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		// An ordered InsertMany stops at the first failure. Roll back
		// anything that landed so the document stays all-or-nothing.
		m.chunks.DeleteMany(ctx, bson.D{{Key: "document_id", Value: docID}, {Key: "_id", Value: bson.D{{Key: "$in", Value: chunkIDs(chunks)}}}})
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func chunkIDs(chunks []types.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	return ids
}

func (m *MongoDB) Search(ctx context.Context, vector []float32, k int) ([]types.ScoredChunk, error) {
	if len(vector) != m.dimension {
		return nil, &types.DimensionMismatchError{Want: m.dimension, Got: len(vector)}
	}
	if k <= 0 {
		return nil, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: "embedding_index"},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: k * 10},
			{Key: "limit", Value: k},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "search_score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}

	cursor, err := m.chunks.Aggregate(ctx, pipeline)
	if err != nil {
		// No silent fallback to a non-vector scan: callers must be able
		// to tell "nothing matched" from "search unavailable".
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []types.ScoredChunk
	for cursor.Next(ctx) {
		var doc struct {
			chunkDoc `bson:",inline"`
			Score    float64 `bson:"search_score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}

		// Atlas reports score = 1/(1+d) for euclidean indexes; invert
		// and square to recover squared L2 distance.
		dist := 0.0
		if doc.Score > 0 {
			dist = 1/doc.Score - 1
		}
		results = append(results, types.ScoredChunk{
			Chunk:    docToChunk(doc.chunkDoc),
			Distance: dist * dist,
		})
	}
	return results, cursor.Err()
}

func (m *MongoDB) Get(ctx context.Context, id string) (types.Chunk, error) {
	var doc chunkDoc
	err := m.chunks.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return types.Chunk{}, types.ErrNotFound
	}
	if err != nil {
		return types.Chunk{}, err
	}
	return docToChunk(doc), nil
}

func (m *MongoDB) ListByDocument(ctx context.Context, docID string) ([]types.Chunk, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "order", Value: 1}})
	cursor, err := m.chunks.Find(ctx, bson.D{{Key: "document_id", Value: docID}}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chunks []types.Chunk
	for cursor.Next(ctx) {
		var doc chunkDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		chunks = append(chunks, docToChunk(doc))
	}
	return chunks, cursor.Err()
}

func (m *MongoDB) RemoveDocument(ctx context.Context, docID string) (int, error) {
	result, err := m.chunks.DeleteMany(ctx, bson.D{{Key: "document_id", Value: docID}})
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}

func (m *MongoDB) Stats(ctx context.Context) (types.CollectionStats, error) {
	count, err := m.chunks.CountDocuments(ctx, bson.D{})
	if err != nil {
		return types.CollectionStats{}, err
	}

	docIDs, err := m.chunks.Distinct(ctx, "document_id", bson.D{})
	if err != nil {
		return types.CollectionStats{}, err
	}

	return types.CollectionStats{
		Driver:    "mongodb",
		Chunks:    int(count),
		Documents: len(docIDs),
		Dimension: m.dimension,
	}, nil
}

func docToChunk(doc chunkDoc) types.Chunk {
	return types.Chunk{
		ID:               doc.ID,
		SourceDocumentID: doc.DocumentID,
		Kind:             types.ChunkKind(doc.Kind),
		Text:             doc.Text,
		Order:            doc.Order,
		Attributes:       doc.Attributes,
	}
}
