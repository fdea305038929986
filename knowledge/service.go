package knowledge

import (
	"context"
	"log"
	"strings"

	"github.com/dgraph-io/ristretto"
)

// Service orchestrates Embedder + Store behind the three knowledge
// operations. It holds an explicit store handle passed at construction;
// there are no hidden singletons.
//
// Service is stateless per request and safe for concurrent use.
type Service struct {
	store    Store
	embedder Embedder
	cache    *ristretto.Cache // embedding cache, nil when disabled
	cfg      Config
}

// Config holds Service configuration.
type Config struct {
	// DefaultTopK is the result count used by Search when the caller does
	// not supply one. Default: 5.
	DefaultTopK int

	// CacheEntries caps the embedding cache (query texts are re-embedded
	// often). 0 disables the cache.
	CacheEntries int64
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:  5,
		CacheEntries: 1024,
	}
}

// NewService creates a Service over the given store and embedder.
func NewService(store Store, embedder Embedder, cfg Config) (*Service, error) {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}

	s := &Service{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
	}

	if cfg.CacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: cfg.CacheEntries * 10,
			MaxCost:     cfg.CacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		s.cache = cache
	}

	return s, nil
}

// Learn embeds content and stores it under the given topic, returning the
// new record. Duplicate calls with identical content create duplicate
// records: there is no uniqueness constraint by design.
//
// Errors: *ValidationError for empty topic/content, *EmbeddingError when the
// embedder cannot process the content (nothing is stored in that case),
// *StorageError from the persistence layer.
func (s *Service) Learn(ctx context.Context, topic, content string) (Record, error) {
	if strings.TrimSpace(topic) == "" {
		return Record{}, validationf("topic must not be empty")
	}
	if strings.TrimSpace(content) == "" {
		return Record{}, validationf("content must not be empty")
	}

	embedding, err := s.embed(ctx, content)
	if err != nil {
		return Record{}, &EmbeddingError{Err: err}
	}

	rec, err := s.store.Insert(ctx, topic, content, embedding, nil)
	if err != nil {
		return Record{}, err
	}

	log.Printf("[KNOWLEDGE] Learned: id=%s topic=%q content_len=%d", rec.ID, rec.Topic, len(rec.Content))
	return rec, nil
}

// SearchOption configures Search via functional options.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK  int
	topic string
}

// WithTopK overrides the configured default result count.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithTopic restricts the search to records with that exact topic.
func WithTopic(topic string) SearchOption {
	return func(c *searchConfig) {
		c.topic = topic
	}
}

// Search embeds the query and returns the best-matching records in
// descending similarity order. An empty store yields an empty slice, not an
// error.
func (s *Service) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := searchConfig{topK: s.cfg.DefaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	results, err := s.store.Search(ctx, embedding, cfg.topK, cfg.topic)
	if err != nil {
		return nil, err
	}

	log.Printf("[KNOWLEDGE] Search: query_len=%d top_k=%d hits=%d", len(query), cfg.topK, len(results))
	return results, nil
}

// RetrieveByTopic returns all records stored under the exact topic, in
// insertion order. This is a metadata lookup; no embedding call is made.
func (s *Service) RetrieveByTopic(ctx context.Context, topic string) ([]Record, error) {
	return s.store.FilterByTopic(ctx, topic)
}

// embed runs the embedder with a read-through cache keyed by the raw text.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(text); ok {
			if emb, ok := v.([]float32); ok {
				return emb, nil
			}
		}
	}

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(text, embedding, 1)
		// Sets are buffered; wait so the next identical query hits.
		s.cache.Wait()
	}
	return embedding, nil
}
