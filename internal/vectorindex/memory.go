package vectorindex

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// MemoryIndex is an in-memory Index, used by tests and as a fallback
// corpus store when no Postgres/pgvector connection is configured (e.g.
// local development, demo scope).
type MemoryIndex struct {
	mu   sync.RWMutex
	data map[string]map[string]model.Chunk // tenantID -> "source#chunk_index" -> chunk
}

// NewMemoryIndex constructs an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{data: make(map[string]map[string]model.Chunk)}
}

var _ Index = (*MemoryIndex)(nil)

func chunkKey(source string, index int) string {
	return source + "#" + strconv.Itoa(index)
}

func (m *MemoryIndex) Upsert(ctx context.Context, tenantID string, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.data[tenantID]
	if !ok {
		tenant = make(map[string]model.Chunk)
		m.data[tenantID] = tenant
	}
	for _, c := range chunks {
		c.Metadata.TenantID = tenantID
		tenant[chunkKey(c.Metadata.Source, c.Metadata.ChunkIndex)] = c
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, tenantID string, queryEmbedding []float32, k int, filter *Filter) ([]Result, error) {
	if k <= 0 {
		k = 8
	}

	m.mu.RLock()
	tenant := m.data[tenantID]
	chunks := make([]model.Chunk, 0, len(tenant))
	for _, c := range tenant {
		chunks = append(chunks, c)
	}
	m.mu.RUnlock()

	var results []Result
	for _, c := range chunks {
		if filter != nil {
			if filter.ContentType != "" && c.Metadata.ContentType != filter.ContentType {
				continue
			}
			if filter.Source != "" && c.Metadata.Source != filter.Source {
				continue
			}
		}
		results = append(results, Result{Chunk: c, Score: cosineSimilarity(queryEmbedding, c.Embedding)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.Metadata.ChunkIndex != results[j].Chunk.Metadata.ChunkIndex {
			return results[i].Chunk.Metadata.ChunkIndex < results[j].Chunk.Metadata.ChunkIndex
		}
		return results[i].Chunk.Metadata.Source < results[j].Chunk.Metadata.Source
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryIndex) Purge(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, tenantID)
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
