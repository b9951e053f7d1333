// Package semcache implements the Semantic Cache: a tenant-scoped lookup
// of past answers by embedding similarity rather than string equality,
// invalidated by a per-tenant generation counter bumped on ingestion.
package semcache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// Embedder is the subset of the Model Gateway the cache needs to embed
// lookup queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry is one stored answer snapshot, per §3's Cache entry shape.
type Entry struct {
	Response   string
	Sources    []model.Citation
	Confidence float64
	CreatedAt  time.Time
	HitCount   int
	generation int64
	embedding  []float32
	expiresAt  time.Time
}

// Cache is the Semantic Cache: one brute-force cosine scan per tenant
// namespace, same approach as vectorindex.MemoryIndex but scoped to
// query->answer entries rather than corpus chunks, and gated by a
// similarity threshold rather than top-k.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string][]*Entry // tenantID -> entries
	generations map[string]int64    // tenantID -> current generation
	embedder    Embedder
	ttl         time.Duration
	tauCache    float64
	tauCacheable float64
	stopCh      chan struct{}
}

// New builds a Cache. tauCache gates lookup hits (§4.6 recommends
// 0.92-0.95); tauCacheable gates which generations Store is willing to
// persist (§4.6: never store low-confidence or escalated responses).
func New(embedder Embedder, ttl time.Duration, tauCache, tauCacheable float64) *Cache {
	c := &Cache{
		entries:      make(map[string][]*Entry),
		generations:  make(map[string]int64),
		embedder:     embedder,
		ttl:          ttl,
		tauCache:     tauCache,
		tauCacheable: tauCacheable,
		stopCh:       make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Stop halts the background expiry sweep.
func (c *Cache) Stop() {
	close(c.stopCh)
}

// Lookup embeds queryText and returns the best tenant-scoped entry whose
// similarity is >= tauCache and whose generation is current. Returns
// (nil, false, nil) on a clean miss.
func (c *Cache) Lookup(ctx context.Context, tenantID, queryText string) (*Entry, bool, error) {
	vecs, err := c.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, false, fmt.Errorf("semcache.Lookup: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, false, fmt.Errorf("semcache.Lookup: embedder returned no vectors")
	}
	queryEmbedding := vecs[0]

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	currentGen := c.generations[tenantID]

	var best *Entry
	bestScore := -1.0
	kept := c.entries[tenantID][:0]
	for _, e := range c.entries[tenantID] {
		if now.After(e.expiresAt) {
			continue // drop expired entries while we're already scanning
		}
		kept = append(kept, e)
		if e.generation < currentGen {
			continue // stale relative to the tenant's corpus; never eligible
		}
		score := cosineSimilarity(queryEmbedding, e.embedding)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	c.entries[tenantID] = kept

	if best == nil || bestScore < c.tauCache {
		return nil, false, nil
	}
	best.HitCount++
	slog.Info("semantic cache hit", "tenant_id", tenantID, "score", bestScore, "hit_count", best.HitCount)
	return best, true, nil
}

// Store embeds queryText and persists a new entry, stamped with the
// tenant's current generation. Callers are expected to have already
// checked confidence >= tauCacheable and !shouldEscalate per §4.6; Store
// re-checks confidence as a safety net and silently no-ops otherwise.
func (c *Cache) Store(ctx context.Context, tenantID, queryText, response string, sources []model.Citation, confidence float64) error {
	if confidence < c.tauCacheable {
		return nil
	}
	vecs, err := c.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return fmt.Errorf("semcache.Store: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("semcache.Store: embedder returned no vectors")
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tenantID] = append(c.entries[tenantID], &Entry{
		Response:   response,
		Sources:    sources,
		Confidence: confidence,
		CreatedAt:  now,
		generation: c.generations[tenantID],
		embedding:  vecs[0],
		expiresAt:  now.Add(c.ttl),
	})
	return nil
}

// BumpGeneration increments tenantID's generation counter. Ingestion calls
// this after a successful upsert (§4.6, §5's "monotonic visibility"
// contract): entries stamped with an older generation are ignored by
// Lookup from this point on, even if not yet expired.
func (c *Cache) BumpGeneration(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[tenantID]++
}

// Generation returns tenantID's current generation counter.
func (c *Cache) Generation(tenantID string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[tenantID]
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for tenantID, entries := range c.entries {
				kept := entries[:0]
				for _, e := range entries {
					if now.Before(e.expiresAt) {
						kept = append(kept, e)
					}
				}
				c.entries[tenantID] = kept
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

func cosineSimilarity(a, b []float32) float64 {
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
