package knowledge

import (
	"context"
	"time"
)

// Record is the unit of storage: a piece of knowledge tagged with a topic.
// Records are immutable once stored; there is no update or delete path.
type Record struct {
	// ID is assigned by the store at insert time.
	ID string

	// Topic is a caller-supplied label used for exact-match grouping.
	// Matching is case-sensitive: "DDD" and "ddd" are distinct topics.
	Topic string

	// Content is the raw text payload.
	Content string

	// Embedding is the vector produced by the Embedder at insert time.
	// All records in a store share the same dimensionality.
	Embedding []float32

	// CreatedAt is the insertion timestamp.
	CreatedAt time.Time

	// Metadata holds optional caller-supplied string pairs (source, author...).
	Metadata map[string]string
}

// Result is a single similarity search hit.
type Result struct {
	Record Record

	// Similarity is the cosine similarity to the query embedding [0-1].
	Similarity float32
}

// Store is the vector storage backend interface.
// Implementations: chromem.Store (embedded, persistent).
//
// Implementations must support concurrent readers and serialize writers so
// that no two inserts race on id assignment or corrupt the index.
type Store interface {
	// Insert persists a new record and returns it with id and timestamp set.
	// Fails with *ValidationError for empty topic/content or an embedding
	// whose length differs from the store's established dimensionality
	// (the first insert establishes it).
	Insert(ctx context.Context, topic, content string, embedding []float32, metadata map[string]string) (Record, error)

	// Search scores every stored embedding against the query and returns
	// the topK best hits in descending similarity order. Equal scores are
	// broken by insertion order, earliest first. A non-empty topic
	// restricts the search to records with that exact topic.
	// Returns an empty slice on an empty store.
	Search(ctx context.Context, embedding []float32, topK int, topic string) ([]Result, error)

	// FilterByTopic returns all records whose topic exactly equals the
	// given string, in insertion order. No embedding is involved.
	FilterByTopic(ctx context.Context, topic string) ([]Record, error)

	// Count reports the number of stored records.
	Count() int

	// Close flushes and releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), openai.Embedder (API),
// onnx.Embedder (local model, build tag "onnx").
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
