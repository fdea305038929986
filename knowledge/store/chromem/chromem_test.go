package chromem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/knowledgelab/kbmem/knowledge"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// vec builds a padded test embedding. All test vectors share dimensionality 4.
func vec(values ...float32) []float32 {
	v := make([]float32, 4)
	copy(v, values)
	return v
}

func TestStore_InsertAssignsIdentity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.Insert(ctx, "DDD", "aggregates guard invariants", vec(1), nil)
	if err != nil {
		t.Fatalf("Insert() unexpected error: %v", err)
	}

	if rec.ID == "" {
		t.Error("Insert() returned empty id")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Insert() returned zero CreatedAt")
	}
	if rec.Topic != "DDD" || rec.Content != "aggregates guard invariants" {
		t.Errorf("Insert() returned wrong record: %+v", rec)
	}
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}
}

func TestStore_InsertValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		topic    string
		content  string
		vector   []float32
		metadata map[string]string
	}{
		{name: "empty topic", topic: "", content: "content", vector: vec(1)},
		{name: "blank topic", topic: "   ", content: "content", vector: vec(1)},
		{name: "empty content", topic: "topic", content: "", vector: vec(1)},
		{name: "empty embedding", topic: "topic", content: "content", vector: nil},
		{name: "reserved metadata key", topic: "topic", content: "content", vector: vec(1),
			metadata: map[string]string{"topic": "sneaky"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			_, err := store.Insert(ctx, tt.topic, tt.content, tt.vector, tt.metadata)

			var vErr *knowledge.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Insert() error = %v, want *ValidationError", err)
			}
			if store.Count() != 0 {
				t.Errorf("failed insert left %d records behind", store.Count())
			}
		})
	}
}

func TestStore_DimensionalityEstablishedByFirstInsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Insert(ctx, "a", "first", vec(1), nil); err != nil {
		t.Fatalf("Insert() unexpected error: %v", err)
	}

	_, err := store.Insert(ctx, "a", "second", []float32{1, 2}, nil)
	var vErr *knowledge.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("mismatched insert error = %v, want *ValidationError", err)
	}

	_, err = store.Search(ctx, []float32{1, 2, 3}, 1, "")
	if !errors.As(err, &vErr) {
		t.Fatalf("mismatched search error = %v, want *ValidationError", err)
	}
}

func TestStore_SearchRanking(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Cosine similarity against the query [1,0,0,0]: far 0, near ~0.71, exact 1.
	far, _ := store.Insert(ctx, "t", "far", vec(0, 1), nil)
	near, _ := store.Insert(ctx, "t", "near", vec(1, 1), nil)
	exact, _ := store.Insert(ctx, "t", "exact", vec(1), nil)

	results, err := store.Search(ctx, vec(1), 3, "")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() returned %d results, want 3", len(results))
	}

	wantOrder := []string{exact.ID, near.ID, far.ID}
	for i, want := range wantOrder {
		if results[i].Record.ID != want {
			t.Errorf("results[%d].ID = %s, want %s (content %q)", i, results[i].Record.ID, want, results[i].Record.Content)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not in descending score order at %d: %v > %v",
				i, results[i].Similarity, results[i-1].Similarity)
		}
	}
}

func TestStore_SearchTiesBrokenByInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, _ := store.Insert(ctx, "a", "first in", vec(1, 1), nil)
	second, _ := store.Insert(ctx, "b", "second in", vec(1, 1), nil)
	third, _ := store.Insert(ctx, "c", "third in", vec(1, 1), nil)

	results, err := store.Search(ctx, vec(1), 3, "")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() returned %d results, want 3", len(results))
	}

	for i, want := range []string{first.ID, second.ID, third.ID} {
		if results[i].Record.ID != want {
			t.Errorf("tied results[%d].ID = %s, want %s", i, results[i].Record.ID, want)
		}
	}
}

func TestStore_SearchTopKBound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := store.Insert(ctx, "t", fmt.Sprintf("content %d", i), vec(1, float32(i)), nil); err != nil {
			t.Fatalf("Insert() unexpected error: %v", err)
		}
	}

	results, err := store.Search(ctx, vec(1), 3, "")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Search(topK=3) returned %d results", len(results))
	}

	results, err = store.Search(ctx, vec(1), 50, "")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("Search(topK=50) returned %d results, want all 5", len(results))
	}
}

func TestStore_SearchTopKValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, topK := range []int{0, -1} {
		_, err := store.Search(ctx, vec(1), topK, "")
		var vErr *knowledge.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("Search(topK=%d) error = %v, want *ValidationError", topK, err)
		}
	}
}

func TestStore_SearchEmptyStore(t *testing.T) {
	store := newTestStore(t)

	results, err := store.Search(context.Background(), vec(1), 5, "")
	if err != nil {
		t.Fatalf("Search() on empty store: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Search() on empty store returned %d results", len(results))
	}
}

func TestStore_SearchWithTopicFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Insert(ctx, "go", "interfaces are satisfied implicitly", vec(1), nil)
	store.Insert(ctx, "java", "interfaces are declared explicitly", vec(1, 0.1), nil)

	results, err := store.Search(ctx, vec(1), 5, "java")
	if err != nil {
		t.Fatalf("Search() unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("filtered search returned %d results, want 1", len(results))
	}
	if results[0].Record.Topic != "java" {
		t.Errorf("filtered search returned topic %q", results[0].Record.Topic)
	}
}

func TestStore_FilterByTopicExactMatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	store.Insert(ctx, "DDD", "bounded contexts", vec(1), nil)
	store.Insert(ctx, "ddd", "lowercase cousin", vec(0, 1), nil)
	store.Insert(ctx, "DDD2", "partial match bait", vec(0, 0, 1), nil)
	store.Insert(ctx, "DDD", "ubiquitous language", vec(1, 1), nil)

	records, err := store.FilterByTopic(ctx, "DDD")
	if err != nil {
		t.Fatalf("FilterByTopic() unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("FilterByTopic(DDD) returned %d records, want 2", len(records))
	}

	// Insertion order, and no case-insensitive or prefix bleed.
	if records[0].Content != "bounded contexts" || records[1].Content != "ubiquitous language" {
		t.Errorf("FilterByTopic(DDD) order wrong: %q, %q", records[0].Content, records[1].Content)
	}

	if records, _ := store.FilterByTopic(ctx, "NotATopic"); len(records) != 0 {
		t.Errorf("FilterByTopic(NotATopic) returned %d records", len(records))
	}
	if records, _ := store.FilterByTopic(ctx, ""); len(records) != 0 {
		t.Errorf("FilterByTopic(\"\") returned %d records", len(records))
	}
}

func TestStore_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	meta := map[string]string{"source": "handbook", "author": "jane"}
	if _, err := store.Insert(ctx, "go", "errors are values", vec(1), meta); err != nil {
		t.Fatalf("Insert() unexpected error: %v", err)
	}

	records, err := store.FilterByTopic(ctx, "go")
	if err != nil {
		t.Fatalf("FilterByTopic() unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("FilterByTopic() returned %d records, want 1", len(records))
	}
	got := records[0].Metadata
	if got["source"] != "handbook" || got["author"] != "jane" {
		t.Errorf("metadata round trip lost values: %v", got)
	}
	if _, ok := got["topic"]; ok {
		t.Error("reserved key leaked into caller metadata")
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(ctx, Config{Path: dir})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	store.Insert(ctx, "DDD", "first", vec(1), nil)
	store.Insert(ctx, "DDD", "second", vec(1, 1), nil)
	if err := store.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	reopened, err := New(ctx, Config{Path: dir})
	if err != nil {
		t.Fatalf("reopen New() unexpected error: %v", err)
	}
	defer reopened.Close()

	if reopened.Count() != 2 {
		t.Fatalf("reopened Count() = %d, want 2", reopened.Count())
	}

	// Dimensionality is enforced after the reopen.
	_, err = reopened.Insert(ctx, "DDD", "bad dims", []float32{1}, nil)
	var vErr *knowledge.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("post-reopen mismatched insert error = %v, want *ValidationError", err)
	}

	// The insertion sequence continues, keeping ordering stable.
	if _, err := reopened.Insert(ctx, "DDD", "third", vec(0, 1), nil); err != nil {
		t.Fatalf("post-reopen Insert() unexpected error: %v", err)
	}
	records, err := reopened.FilterByTopic(ctx, "DDD")
	if err != nil {
		t.Fatalf("FilterByTopic() unexpected error: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(records) != len(want) {
		t.Fatalf("FilterByTopic() returned %d records, want %d", len(records), len(want))
	}
	for i, w := range want {
		if records[i].Content != w {
			t.Errorf("records[%d].Content = %q, want %q", i, records[i].Content, w)
		}
	}
}

func TestStore_MissingStateFileIsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(ctx, Config{Path: dir})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	store.Insert(ctx, "t", "content", vec(1), nil)
	store.Close()

	if err := os.Remove(filepath.Join(dir, stateFile)); err != nil {
		t.Fatalf("removing state file: %v", err)
	}

	_, err = New(ctx, Config{Path: dir})
	var sErr *knowledge.StorageError
	if !errors.As(err, &sErr) {
		t.Fatalf("New() on corrupted dir error = %v, want *StorageError", err)
	}
}

func TestStore_ConcurrentInsertsAndReads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Seed so concurrent readers always have something to score.
	store.Insert(ctx, "seed", "seed record", vec(1), nil)

	const writers, readers = 4, 4
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.Insert(ctx, "concurrent",
					fmt.Sprintf("writer %d item %d", w, i), vec(1, float32(i)), nil)
				if err != nil {
					t.Errorf("concurrent Insert() error: %v", err)
				}
			}
		}(w)
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Search(ctx, vec(1), 5, ""); err != nil {
					t.Errorf("concurrent Search() error: %v", err)
				}
				if _, err := store.FilterByTopic(ctx, "concurrent"); err != nil {
					t.Errorf("concurrent FilterByTopic() error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if got := store.Count(); got != 1+writers*perWriter {
		t.Errorf("Count() = %d, want %d", got, 1+writers*perWriter)
	}

	// Every record got a distinct id.
	records, err := store.FilterByTopic(ctx, "concurrent")
	if err != nil {
		t.Fatalf("FilterByTopic() unexpected error: %v", err)
	}
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			t.Errorf("duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
	}
}
