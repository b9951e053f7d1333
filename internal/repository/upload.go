package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// UploadRepo persists UploadRecord rows with pgx, implementing the
// §6 Persistence contract's insert_upload/update_upload_status surface.
type UploadRepo struct {
	pool *pgxpool.Pool
}

// NewUploadRepo creates an UploadRepo.
func NewUploadRepo(pool *pgxpool.Pool) *UploadRepo {
	return &UploadRepo{pool: pool}
}

// Insert creates a new upload record in UploadPending status.
func (r *UploadRepo) Insert(ctx context.Context, rec *model.UploadRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO uploads (id, tenant_id, filename, declared_type, byte_size, status, chunk_count, fail_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.TenantID, rec.Filename, string(rec.DeclaredType), rec.ByteSize,
		string(rec.Status), rec.ChunkCount, rec.FailReason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.UploadRepo.Insert: %w", err)
	}
	return nil
}

// UpdateStatus transitions an upload's status, optionally setting
// chunkCount (on ready) or reason (on failed). chunkCount/reason are
// ignored when nil/empty respectively.
func (r *UploadRepo) UpdateStatus(ctx context.Context, id string, status model.UploadStatus, chunkCount *int, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE uploads
		SET status = $2,
		    chunk_count = COALESCE($3, chunk_count),
		    fail_reason = CASE WHEN $4 <> '' THEN $4 ELSE fail_reason END
		WHERE id = $1`,
		id, string(status), chunkCount, reason,
	)
	if err != nil {
		return fmt.Errorf("repository.UploadRepo.UpdateStatus: %w", err)
	}
	return nil
}

// Get fetches a single upload record by id.
func (r *UploadRepo) Get(ctx context.Context, id string) (*model.UploadRecord, error) {
	rec := &model.UploadRecord{}
	var declared, status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, filename, declared_type, byte_size, status, chunk_count, fail_reason, created_at
		FROM uploads WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.TenantID, &rec.Filename, &declared, &rec.ByteSize, &status, &rec.ChunkCount, &rec.FailReason, &rec.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("repository.UploadRepo.Get: %w", err)
		}
		return nil, fmt.Errorf("repository.UploadRepo.Get: %w", err)
	}
	rec.DeclaredType = model.ContentType(declared)
	rec.Status = model.UploadStatus(status)
	return rec, nil
}
