package vectorindex

import (
	"context"
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

func chunkWithEmbedding(source string, index int, embedding []float32) model.Chunk {
	return model.Chunk{
		Text:      source,
		Embedding: embedding,
		Metadata: model.ChunkMetadata{
			Source:     source,
			ChunkIndex: index,
		},
	}
}

func TestMemoryIndex_Search_OrdersByDescendingSimilarity(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	chunks := []model.Chunk{
		chunkWithEmbedding("a.txt", 0, []float32{1, 0}),
		chunkWithEmbedding("b.txt", 0, []float32{0, 1}),
	}
	if err := idx.Upsert(ctx, "tenant-1", chunks); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := idx.Search(ctx, "tenant-1", []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Chunk.Metadata.Source != "a.txt" {
		t.Errorf("results[0].Source = %q, want a.txt (exact match first)", results[0].Chunk.Metadata.Source)
	}
}

func TestMemoryIndex_Search_TiesBreakByChunkIndexThenSource(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	// Identical embeddings -> identical scores; expect chunk_index then source tiebreak.
	chunks := []model.Chunk{
		chunkWithEmbedding("zeta.txt", 2, []float32{1, 0}),
		chunkWithEmbedding("alpha.txt", 1, []float32{1, 0}),
		chunkWithEmbedding("beta.txt", 1, []float32{1, 0}),
	}
	if err := idx.Upsert(ctx, "tenant-1", chunks); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := idx.Search(ctx, "tenant-1", []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	// chunk_index 1 entries come before chunk_index 2, and among the
	// chunk_index 1 ties, alpha.txt < beta.txt lexicographically.
	if results[0].Chunk.Metadata.Source != "alpha.txt" || results[1].Chunk.Metadata.Source != "beta.txt" || results[2].Chunk.Metadata.Source != "zeta.txt" {
		t.Errorf("unexpected tie-break order: %v, %v, %v",
			results[0].Chunk.Metadata.Source, results[1].Chunk.Metadata.Source, results[2].Chunk.Metadata.Source)
	}
}

func TestMemoryIndex_Search_TenantIsolation(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "tenant-1", []model.Chunk{chunkWithEmbedding("secret.txt", 0, []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := idx.Search(ctx, "tenant-2", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("cross-tenant leakage: tenant-2 search returned %d results from tenant-1's corpus", len(results))
	}
}

func TestMemoryIndex_Upsert_ReplacesOnTenantSourceChunkIndex(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "tenant-1", []model.Chunk{{Text: "v1", Metadata: model.ChunkMetadata{Source: "doc.txt", ChunkIndex: 0}}}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if err := idx.Upsert(ctx, "tenant-1", []model.Chunk{{Text: "v2", Metadata: model.ChunkMetadata{Source: "doc.txt", ChunkIndex: 0}}}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := idx.Search(ctx, "tenant-1", []float32{1}, 10, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Text != "v2" {
		t.Errorf("expected replace semantics, got %+v", results)
	}
}

func TestMemoryIndex_Search_FilterByContentType(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	chunks := []model.Chunk{
		{Text: "pdf chunk", Embedding: []float32{1, 0}, Metadata: model.ChunkMetadata{Source: "a.pdf", ChunkIndex: 0, ContentType: model.ContentPDF}},
		{Text: "text chunk", Embedding: []float32{1, 0}, Metadata: model.ChunkMetadata{Source: "b.txt", ChunkIndex: 0, ContentType: model.ContentText}},
	}
	if err := idx.Upsert(ctx, "tenant-1", chunks); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	results, err := idx.Search(ctx, "tenant-1", []float32{1, 0}, 10, &Filter{ContentType: model.ContentPDF})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.Metadata.ContentType != model.ContentPDF {
		t.Errorf("filter did not restrict to pdf: %+v", results)
	}
}

func TestMemoryIndex_Purge_RemovesTenantNamespace(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, "tenant-1", []model.Chunk{chunkWithEmbedding("doc.txt", 0, []float32{1, 0})}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if err := idx.Purge(ctx, "tenant-1"); err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	results, err := idx.Search(ctx, "tenant-1", []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results after purge, got %d", len(results))
	}
}
