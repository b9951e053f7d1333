// Package ingest implements the Ingestion Coordinator: it accepts raw
// bytes, runs the Document Processor, embeds chunks via the Model
// Gateway, writes them to the Vector Index, and tracks the upload
// record's lifecycle per §4.8.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// maxConcurrentBatches bounds how many embed+upsert batches run at once;
// batches are independent (each upserts its own chunk_index range), so
// the limit only exists to cap concurrent Gateway/Index load.
const maxConcurrentBatches = 4

// Processor is the Document Processor's contract as consumed here.
type Processor interface {
	Process(ctx context.Context, data []byte, declaredType model.ContentType, filename, title, tenantID string) ([]model.Chunk, error)
}

// Embedder is the Model Gateway's embed operation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the Vector Index's write path.
type Index interface {
	Upsert(ctx context.Context, tenantID string, chunks []model.Chunk) error
}

// UploadStore is the persistence contract's upload-record surface.
type UploadStore interface {
	Insert(ctx context.Context, rec *model.UploadRecord) error
	UpdateStatus(ctx context.Context, id string, status model.UploadStatus, chunkCount *int, reason string) error
}

// CacheInvalidator bumps a tenant's semantic-cache generation counter so
// stale pre-ingestion answers stop matching lookups (§4.6, §5).
type CacheInvalidator interface {
	BumpGeneration(tenantID string)
}

// embedBatchSize bounds how many chunk texts are embedded per Gateway
// call; §4.8 step 3 requires partial-batch failure to retry only the
// failing batch, which this batching makes possible.
const embedBatchSize = 64

// Coordinator runs the §4.8 ingestion pipeline.
type Coordinator struct {
	processor Processor
	embedder  Embedder
	index     Index
	uploads   UploadStore
	cache     CacheInvalidator
}

// New builds a Coordinator.
func New(processor Processor, embedder Embedder, index Index, uploads UploadStore, cache CacheInvalidator) *Coordinator {
	return &Coordinator{processor: processor, embedder: embedder, index: index, uploads: uploads, cache: cache}
}

// Ingest runs the full pipeline and returns the final UploadRecord. On
// processing failure the record is marked failed and returned alongside
// the error; callers surface the record's FailReason without leaking
// internals per §7.
func (c *Coordinator) Ingest(ctx context.Context, tenantID, filename string, declaredType model.ContentType, title string, data []byte) (*model.UploadRecord, error) {
	rec := &model.UploadRecord{
		TenantID:     tenantID,
		Filename:     filename,
		DeclaredType: declaredType,
		ByteSize:     len(data),
		Status:       model.UploadPending,
	}
	if err := c.uploads.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("ingest.Ingest: insert upload record: %w", err)
	}

	if err := c.uploads.UpdateStatus(ctx, rec.ID, model.UploadProcessing, nil, ""); err != nil {
		return nil, fmt.Errorf("ingest.Ingest: mark processing: %w", err)
	}
	rec.Status = model.UploadProcessing

	chunks, err := c.processor.Process(ctx, data, declaredType, filename, title, tenantID)
	if err != nil {
		reason := err.Error()
		if appErr, ok := apperr.As(err); ok {
			reason = string(appErr.Kind)
		}
		if upErr := c.uploads.UpdateStatus(ctx, rec.ID, model.UploadFailed, nil, reason); upErr != nil {
			slog.Error("ingest: failed to persist failure status", "upload_id", rec.ID, "error", upErr)
		}
		rec.Status = model.UploadFailed
		rec.FailReason = reason
		return rec, fmt.Errorf("ingest.Ingest: process: %w", err)
	}

	if err := c.embedAndUpsert(ctx, tenantID, chunks); err != nil {
		reason := "embedding or storage failed"
		if upErr := c.uploads.UpdateStatus(ctx, rec.ID, model.UploadFailed, nil, reason); upErr != nil {
			slog.Error("ingest: failed to persist failure status", "upload_id", rec.ID, "error", upErr)
		}
		rec.Status = model.UploadFailed
		rec.FailReason = reason
		return rec, fmt.Errorf("ingest.Ingest: embed/upsert: %w", err)
	}

	c.cache.BumpGeneration(tenantID)

	chunkCount := len(chunks)
	if err := c.uploads.UpdateStatus(ctx, rec.ID, model.UploadReady, &chunkCount, ""); err != nil {
		return nil, fmt.Errorf("ingest.Ingest: mark ready: %w", err)
	}
	rec.Status = model.UploadReady
	rec.ChunkCount = chunkCount

	slog.Info("ingestion complete", "tenant_id", tenantID, "upload_id", rec.ID, "chunks", chunkCount)
	return rec, nil
}

// embedAndUpsert embeds chunk texts in batches and upserts each batch
// immediately. Each batch is its own Embed call, so the embedder's retries
// cover that batch alone; a batch that still fails fails the whole call.
// Steps 3-4 are idempotent on (tenant_id, source, chunk_index), so a
// caller re-invoking Ingest (which re-runs every batch) is safe.
func (c *Coordinator) embedAndUpsert(ctx context.Context, tenantID string, chunks []model.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)

	for start := 0; start < len(chunks); start += embedBatchSize {
		start, end := start, min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, ch := range batch {
				texts[i] = ch.Text
			}
			vecs, err := c.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("ingest.embedAndUpsert: batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("ingest.embedAndUpsert: embedder returned %d vectors for %d texts", len(vecs), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vecs[i]
			}

			if err := c.index.Upsert(gctx, tenantID, batch); err != nil {
				return fmt.Errorf("ingest.embedAndUpsert: upsert batch %d-%d: %w", start, end, err)
			}
			return nil
		})
	}
	return g.Wait()
}
