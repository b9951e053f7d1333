package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// PostgresIndex is the pgvector-backed Vector Index. Schema (see
// migrations): corpus_chunks(tenant_id, source, chunk_index, title,
// content_type, page_index, text, embedding vector, created_at), unique
// on (tenant_id, source, chunk_index).
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex wraps a connection pool.
func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

var _ Index = (*PostgresIndex)(nil)

// Ping reports whether the backing pool can reach Postgres, used by the
// health endpoint.
func (p *PostgresIndex) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresIndex) Upsert(ctx context.Context, tenantID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		batch.Queue(`
			INSERT INTO corpus_chunks
				(tenant_id, source, chunk_index, title, content_type, page_index, text, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tenant_id, source, chunk_index) DO UPDATE SET
				title = EXCLUDED.title,
				content_type = EXCLUDED.content_type,
				page_index = EXCLUDED.page_index,
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding,
				created_at = EXCLUDED.created_at`,
			tenantID, c.Metadata.Source, c.Metadata.ChunkIndex, c.Metadata.Title,
			string(c.Metadata.ContentType), c.Metadata.PageIndex, c.Text, vec, now,
		)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("vectorindex.Upsert: chunk %d: %w", i, err)
		}
	}
	return nil
}

func (p *PostgresIndex) Search(ctx context.Context, tenantID string, queryEmbedding []float32, k int, filter *Filter) ([]Result, error) {
	if k <= 0 {
		k = 8
	}
	vec := pgvector.NewVector(queryEmbedding)

	query := `
		SELECT source, chunk_index, title, content_type, page_index, text, created_at,
			1 - (embedding <=> $1::vector) AS similarity
		FROM corpus_chunks
		WHERE tenant_id = $2`
	args := []interface{}{vec, tenantID}

	if filter != nil && filter.ContentType != "" {
		args = append(args, string(filter.ContentType))
		query += fmt.Sprintf(" AND content_type = $%d", len(args))
	}
	if filter != nil && filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}

	args = append(args, k)
	query += fmt.Sprintf(`
		ORDER BY (embedding <=> $1::vector) ASC, chunk_index ASC, source ASC
		LIMIT $%d`, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex.Search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			source, title, contentType, text string
			chunkIndex                       int
			pageIndex                        *int
			createdAt                        time.Time
			similarity                       float64
		)
		if err := rows.Scan(&source, &chunkIndex, &title, &contentType, &pageIndex, &text, &createdAt, &similarity); err != nil {
			return nil, fmt.Errorf("vectorindex.Search: scan: %w", err)
		}
		results = append(results, Result{
			Chunk: model.Chunk{
				Text: text,
				Metadata: model.ChunkMetadata{
					Source:      source,
					Title:       title,
					ContentType: model.ContentType(contentType),
					ChunkIndex:  chunkIndex,
					TenantID:    tenantID,
					PageIndex:   pageIndex,
					CreatedAt:   createdAt,
				},
			},
			Score: similarity,
		})
	}
	return results, nil
}

// rrfK is the reciprocal-rank-fusion smoothing constant; 60 is the value
// used in the original RRF paper and widely reused unchanged.
const rrfK = 60

// HybridSearch runs the vector similarity path alongside a Postgres
// full-text search over the same tenant's corpus and fuses the two
// rankings with reciprocal rank fusion. A chunk found only by the
// full-text leg can enter the result set alongside the vector hits;
// callers that want the supplemented hybrid retrieval mode use this
// instead of Search, never in place of the τ_no_context/τ_keep filtering
// that happens downstream.
func (p *PostgresIndex) HybridSearch(ctx context.Context, tenantID string, queryEmbedding []float32, queryText string, k int) ([]Result, error) {
	if k <= 0 {
		k = 8
	}
	vectorHits, err := p.Search(ctx, tenantID, queryEmbedding, k*2, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex.HybridSearch: vector leg: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT source, chunk_index, title, content_type, page_index, text, created_at,
			ts_rank_cd(to_tsvector('english', text), plainto_tsquery('english', $1)) AS rank
		FROM corpus_chunks
		WHERE tenant_id = $2 AND to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $3`, queryText, tenantID, k*2,
	)
	if err != nil {
		return nil, fmt.Errorf("vectorindex.HybridSearch: fulltext leg: %w", err)
	}
	defer rows.Close()

	var textHits []Result
	for rows.Next() {
		var (
			source, title, contentType, text string
			chunkIndex                       int
			pageIndex                        *int
			createdAt                        time.Time
			rank                             float64
		)
		if err := rows.Scan(&source, &chunkIndex, &title, &contentType, &pageIndex, &text, &createdAt, &rank); err != nil {
			return nil, fmt.Errorf("vectorindex.HybridSearch: scan: %w", err)
		}
		textHits = append(textHits, Result{
			Chunk: model.Chunk{
				Text: text,
				Metadata: model.ChunkMetadata{
					Source: source, Title: title, ContentType: model.ContentType(contentType),
					ChunkIndex: chunkIndex, TenantID: tenantID, PageIndex: pageIndex, CreatedAt: createdAt,
				},
			},
			Score: rank,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex.HybridSearch: %w", err)
	}

	return fuseRRF(vectorHits, textHits, k), nil
}

func chunkKey(c model.Chunk) string {
	return c.Metadata.Source + "#" + fmt.Sprint(c.Metadata.ChunkIndex)
}

// fuseRRF combines two rankings of the same underlying corpus by
// reciprocal rank, keeping each chunk's vector-path score where the
// vector leg found it (a chunk found only by the full-text leg keeps its
// ts_rank_cd score) but reordering by the fused rank.
func fuseRRF(vectorHits, textHits []Result, k int) []Result {
	fused := make(map[string]float64)
	byKey := make(map[string]Result)
	for rank, r := range vectorHits {
		key := chunkKey(r.Chunk)
		fused[key] += 1.0 / float64(rrfK+rank+1)
		byKey[key] = r
	}
	for rank, r := range textHits {
		key := chunkKey(r.Chunk)
		fused[key] += 1.0 / float64(rrfK+rank+1)
		if _, ok := byKey[key]; !ok {
			byKey[key] = r
		}
	}

	keys := make([]string, 0, len(fused))
	for key := range fused {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return fused[keys[i]] > fused[keys[j]] })

	if len(keys) > k {
		keys = keys[:k]
	}
	out := make([]Result, len(keys))
	for i, key := range keys {
		out[i] = byKey[key]
	}
	return out
}

func (p *PostgresIndex) Purge(ctx context.Context, tenantID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM corpus_chunks WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("vectorindex.Purge: %w", err)
	}
	return nil
}
