package store

import (
	"context"
	"maps"
	"math"
	"slices"
	"sync"
)

// Memory is an in-process VectorStore using exact cosine similarity. It
// keeps nothing on disk.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]IndexEntry
	meta        map[string]string
	writes      int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]IndexEntry),
		meta:        make(map[string]string),
	}
}

// Writes returns how many entries have been upserted or deleted.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *Memory) EnsureCollection(_ context.Context, name string) error {
	if !ValidCollectionName(name) {
		return invalidRequest("collection name %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]IndexEntry)
	}
	return nil
}

func (m *Memory) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *Memory) DropCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, entries []IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := m.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collections[collection]
	for _, e := range entries {
		e.Embedding = slices.Clone(e.Embedding)
		e.Metadata = maps.Clone(e.Metadata)
		c[e.ID] = e
		m.writes++
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if _, ok := c[id]; ok {
			delete(c, id)
			m.writes++
		}
	}
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.collections[collection]
	results := make([]SearchResult, 0, len(c))
	for _, e := range c {
		results = append(results, SearchResult{Chunk: e.Chunk, Score: cosine(embedding, e.Embedding)})
	}
	SortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *Memory) ChunksForFile(_ context.Context, collection, path string) ([]Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chunks []Chunk
	for _, e := range m.collections[collection] {
		if e.FilePath == path {
			chunks = append(chunks, e.Chunk)
		}
	}
	slices.SortFunc(chunks, func(a, b Chunk) int {
		if a.StartLine != b.StartLine {
			return a.StartLine - b.StartLine
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return chunks, nil
}

func (m *Memory) ListFiles(_ context.Context, collection string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range m.collections[collection] {
		seen[e.FilePath] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (m *Memory) GetMeta(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta[key], nil
}

func (m *Memory) SetMeta(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[key] = value
	return nil
}

func (m *Memory) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
