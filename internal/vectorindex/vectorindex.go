// Package vectorindex implements the Vector Index: tenant-scoped storage
// and cosine-similarity search over embedded document chunks.
package vectorindex

import (
	"context"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// Result is one search hit: a stored chunk and its similarity score.
type Result struct {
	Chunk model.Chunk
	Score float64
}

// Filter narrows a search to a subset of a tenant's corpus.
type Filter struct {
	ContentType model.ContentType // zero value = no filter
	Source      string            // zero value = no filter
}

// Index is the Vector Index contract. Implementations MUST restrict
// search to the given tenant's namespace — cross-tenant leakage is a
// correctness failure, not a performance concern.
type Index interface {
	// Upsert writes embeddings atomically per chunk; duplicates on
	// (tenant_id, source, chunk_index) replace the prior value.
	Upsert(ctx context.Context, tenantID string, chunks []model.Chunk) error
	// Search returns the top-k chunks by descending cosine similarity,
	// ties broken by chunk_index ascending then source lexicographic.
	Search(ctx context.Context, tenantID string, queryEmbedding []float32, k int, filter *Filter) ([]Result, error)
	// Purge deletes every chunk in the tenant's namespace. Not exercised
	// by the core pipeline; provided for operational cleanup.
	Purge(ctx context.Context, tenantID string) error
}
