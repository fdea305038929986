// Package chromem implements knowledge.Store on top of chromem-go, an
// embedded pure-Go vector database. Opened with a directory path the store
// is persistent and survives restarts; with an empty path it is in-memory.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/knowledgelab/kbmem/knowledge"
)

// Reserved metadata keys. The store owns these; caller metadata using them
// is rejected at insert.
const (
	metaTopic     = "topic"
	metaCreatedAt = "created_at"
	metaSeq       = "seq"
)

const (
	stateFile         = "state.json"
	dbDir             = "db"
	defaultCollection = "kbmem_knowledge"
)

// Config configures the store.
type Config struct {
	// Path is the data directory. Empty means in-memory (no persistence).
	Path string

	// Collection names the chromem collection. Default: "kbmem_knowledge".
	Collection string
}

// state is the sidecar file persisted next to the chromem directory. It
// pins the embedding dimensionality so a reopened store can validate
// inserts and enumerate documents before the first write.
type state struct {
	Dimensions int `json:"dimensions"`
}

// Store implements knowledge.Store. Safe for concurrent use: inserts hold
// the write lock, reads the read lock, so readers always observe a
// consistent snapshot and no two inserts race on sequence assignment.
type Store struct {
	mu      sync.RWMutex
	col     *chromem.Collection
	path    string // empty when in-memory
	dims    int    // 0 until the first insert establishes it
	nextSeq uint64
}

// New opens (or creates) a store. For persistent stores it reloads the
// collection from disk, restores the dimensionality from the sidecar state
// file and recovers the insertion sequence by scanning document metadata.
func New(ctx context.Context, cfg Config) (*Store, error) {
	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}

	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err = os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, &knowledge.StorageError{Op: "create data dir", Err: err}
		}
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.Path, dbDir), false)
		if err != nil {
			return nil, &knowledge.StorageError{Op: "open database", Err: err}
		}
	}

	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, &knowledge.StorageError{Op: "open collection", Err: err}
	}

	s := &Store{
		col:     col,
		path:    cfg.Path,
		nextSeq: 1,
	}

	if cfg.Path != "" {
		if err := s.loadState(); err != nil {
			return nil, err
		}
	}

	if n := col.Count(); n > 0 {
		if s.dims == 0 {
			return nil, &knowledge.StorageError{
				Op:  "open",
				Err: fmt.Errorf("collection holds %d documents but %s is missing or empty", n, stateFile),
			}
		}
		if err := s.recoverSequence(ctx, n); err != nil {
			return nil, err
		}
	}

	log.Printf("[STORE] Opened: collection=%q records=%d dims=%d persistent=%t",
		collection, col.Count(), s.dims, cfg.Path != "")
	return s, nil
}

// Insert persists a new record. The first insert establishes the store's
// embedding dimensionality; later inserts must match it.
func (s *Store) Insert(ctx context.Context, topic, content string, embedding []float32, metadata map[string]string) (knowledge.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(topic) == "" {
		return knowledge.Record{}, &knowledge.ValidationError{Reason: "topic must not be empty"}
	}
	if strings.TrimSpace(content) == "" {
		return knowledge.Record{}, &knowledge.ValidationError{Reason: "content must not be empty"}
	}
	if len(embedding) == 0 {
		return knowledge.Record{}, &knowledge.ValidationError{Reason: "embedding must not be empty"}
	}
	if s.dims > 0 && len(embedding) != s.dims {
		return knowledge.Record{}, &knowledge.ValidationError{
			Reason: fmt.Sprintf("embedding has %d dimensions, store expects %d", len(embedding), s.dims),
		}
	}
	for k := range metadata {
		if k == metaTopic || k == metaCreatedAt || k == metaSeq {
			return knowledge.Record{}, &knowledge.ValidationError{
				Reason: fmt.Sprintf("metadata key %q is reserved", k),
			}
		}
	}

	// Pin dimensionality before the first document is written, so a crash
	// between the two leaves a valid (empty) store rather than documents
	// without a readable state file.
	if s.dims == 0 {
		s.dims = len(embedding)
		if s.path != "" {
			if err := s.writeState(); err != nil {
				s.dims = 0
				return knowledge.Record{}, err
			}
		}
	}

	rec := knowledge.Record{
		ID:        uuid.New().String(),
		Topic:     topic,
		Content:   content,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	docMeta := map[string]string{
		metaTopic:     topic,
		metaCreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		metaSeq:       strconv.FormatUint(s.nextSeq, 10),
	}
	for k, v := range metadata {
		docMeta[k] = v
	}

	err := s.col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   content,
		Embedding: embedding,
		Metadata:  docMeta,
	})
	if err != nil {
		// Roll back so neither access path can observe a half-written
		// record. Best effort: the document may not have made it in at all.
		if delErr := s.col.Delete(ctx, nil, nil, rec.ID); delErr != nil {
			log.Printf("[STORE] Rollback of %s failed: %v", rec.ID, delErr)
		}
		return knowledge.Record{}, &knowledge.StorageError{Op: "add document", Err: err}
	}

	s.nextSeq++
	return rec, nil
}

// Search scores every stored document against the query embedding and
// returns the topK best in descending similarity order. Ties are broken by
// insertion order, earliest first. A non-empty topic restricts the search
// to that exact topic.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, topic string) ([]knowledge.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		return nil, &knowledge.ValidationError{Reason: fmt.Sprintf("top_k must be positive, got %d", topK)}
	}

	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if len(embedding) != s.dims {
		return nil, &knowledge.ValidationError{
			Reason: fmt.Sprintf("query embedding has %d dimensions, store expects %d", len(embedding), s.dims),
		}
	}

	var where map[string]string
	if topic != "" {
		where = map[string]string{metaTopic: topic}
	}

	// Query the full collection so ordering among equal scores is ours to
	// decide; chromem clamps the result count to the filtered set.
	hits, err := s.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, &knowledge.StorageError{Op: "query", Err: err}
	}

	type scored struct {
		result knowledge.Result
		seq    uint64
	}
	results := make([]scored, 0, len(hits))
	for _, hit := range hits {
		rec, seq := recordFromHit(hit)
		results = append(results, scored{
			result: knowledge.Result{Record: rec, Similarity: hit.Similarity},
			seq:    seq,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].result.Similarity != results[j].result.Similarity {
			return results[i].result.Similarity > results[j].result.Similarity
		}
		return results[i].seq < results[j].seq
	})

	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]knowledge.Result, len(results))
	for i, r := range results {
		out[i] = r.result
	}
	return out, nil
}

// FilterByTopic returns all records with that exact topic in insertion
// order. Matching is case-sensitive; the empty topic matches nothing since
// no record can carry one.
func (s *Store) FilterByTopic(ctx context.Context, topic string) ([]knowledge.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.col.Count()
	if n == 0 || topic == "" {
		return nil, nil
	}

	// chromem enumerates via similarity queries only; the probe vector is
	// irrelevant because scores are discarded here.
	hits, err := s.col.QueryEmbedding(ctx, probeVector(s.dims), n, map[string]string{metaTopic: topic}, nil)
	if err != nil {
		return nil, &knowledge.StorageError{Op: "filter by topic", Err: err}
	}

	type ordered struct {
		rec knowledge.Record
		seq uint64
	}
	records := make([]ordered, 0, len(hits))
	for _, hit := range hits {
		rec, seq := recordFromHit(hit)
		records = append(records, ordered{rec: rec, seq: seq})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })

	out := make([]knowledge.Record, len(records))
	for i, r := range records {
		out[i] = r.rec
	}
	return out, nil
}

// Count reports the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count()
}

// Close releases resources. chromem persists each document at write time,
// so there is nothing to flush.
func (*Store) Close() error {
	return nil
}

// recordFromHit rebuilds a Record from a chromem result, splitting the
// store's reserved metadata keys back out into struct fields.
func recordFromHit(hit chromem.Result) (knowledge.Record, uint64) {
	createdAt, err := time.Parse(time.RFC3339Nano, hit.Metadata[metaCreatedAt])
	if err != nil {
		log.Printf("[STORE] Bad created_at on %s: %v", hit.ID, err)
	}

	seq, err := strconv.ParseUint(hit.Metadata[metaSeq], 10, 64)
	if err != nil {
		log.Printf("[STORE] Bad seq on %s: %v", hit.ID, err)
	}

	var metadata map[string]string
	for k, v := range hit.Metadata {
		if k == metaTopic || k == metaCreatedAt || k == metaSeq {
			continue
		}
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata[k] = v
	}

	return knowledge.Record{
		ID:        hit.ID,
		Topic:     hit.Metadata[metaTopic],
		Content:   hit.Content,
		Embedding: hit.Embedding,
		CreatedAt: createdAt,
		Metadata:  metadata,
	}, seq
}

// recoverSequence scans document metadata to restore the next insertion
// sequence number after a reopen.
func (s *Store) recoverSequence(ctx context.Context, count int) error {
	hits, err := s.col.QueryEmbedding(ctx, probeVector(s.dims), count, nil, nil)
	if err != nil {
		return &knowledge.StorageError{Op: "recover sequence", Err: err}
	}

	var maxSeq uint64
	for _, hit := range hits {
		seq, err := strconv.ParseUint(hit.Metadata[metaSeq], 10, 64)
		if err != nil {
			return &knowledge.StorageError{
				Op:  "recover sequence",
				Err: fmt.Errorf("document %s has invalid seq %q", hit.ID, hit.Metadata[metaSeq]),
			}
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	s.nextSeq = maxSeq + 1
	return nil
}

func (s *Store) statePath() string {
	return filepath.Join(s.path, stateFile)
}

func (s *Store) loadState() error {
	data, err := os.ReadFile(s.statePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &knowledge.StorageError{Op: "read state", Err: err}
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return &knowledge.StorageError{Op: "parse state", Err: err}
	}
	s.dims = st.Dimensions
	return nil
}

// writeState persists the sidecar atomically: write to a temp file in the
// same directory, then rename over the target.
func (s *Store) writeState() error {
	data, err := json.Marshal(state{Dimensions: s.dims})
	if err != nil {
		return &knowledge.StorageError{Op: "encode state", Err: err}
	}

	tmp, err := os.CreateTemp(s.path, stateFile+".tmp-*")
	if err != nil {
		return &knowledge.StorageError{Op: "write state", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &knowledge.StorageError{Op: "write state", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &knowledge.StorageError{Op: "write state", Err: err}
	}
	if err := os.Rename(tmpName, s.statePath()); err != nil {
		os.Remove(tmpName)
		return &knowledge.StorageError{Op: "write state", Err: err}
	}
	return nil
}

// probeVector is a fixed unit vector used where chromem requires a query
// embedding but similarity scores are discarded.
func probeVector(dims int) []float32 {
	v := make([]float32, dims)
	v[0] = 1
	return v
}
