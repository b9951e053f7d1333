package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// TurnRepo persists ConversationTurn rows with pgx, implementing the §6
// Persistence contract's insert_turn/list_turns surface.
type TurnRepo struct {
	pool *pgxpool.Pool
}

// NewTurnRepo creates a TurnRepo.
func NewTurnRepo(pool *pgxpool.Pool) *TurnRepo {
	return &TurnRepo{pool: pool}
}

// Insert persists one conversation turn. Per §4.10 step 6, a failure here
// is logged by the caller and must never fail the user-visible response —
// this method only returns the error; it is the caller's job to swallow
// it on the happy path.
func (r *TurnRepo) Insert(ctx context.Context, turn *model.ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	sourcesJSON, err := json.Marshal(turn.Sources)
	if err != nil {
		return fmt.Errorf("repository.TurnRepo.Insert: marshal sources: %w", err)
	}
	flagsJSON, err := json.Marshal(turn.HallucinationFlags)
	if err != nil {
		return fmt.Errorf("repository.TurnRepo.Insert: marshal flags: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversation_turns
			(id, tenant_id, conversation_id, user_message, assistant_response, sources, confidence, should_escalate, hallucination_flags, reviewed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		turn.ID, turn.TenantID, turn.ConversationID, turn.UserMessage, turn.AssistantResponse,
		sourcesJSON, turn.Confidence, turn.ShouldEscalate, flagsJSON, turn.Reviewed, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.TurnRepo.Insert: %w", err)
	}
	return nil
}

// List returns up to limit turns for tenantID, most recent first.
func (r *TurnRepo) List(ctx context.Context, tenantID string, limit int) ([]model.ConversationTurn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, conversation_id, user_message, assistant_response, sources, confidence, should_escalate, hallucination_flags, reviewed, created_at
		FROM conversation_turns
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, tenantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.TurnRepo.List: %w", err)
	}
	defer rows.Close()

	var turns []model.ConversationTurn
	for rows.Next() {
		var t model.ConversationTurn
		var sourcesJSON, flagsJSON []byte
		if err := rows.Scan(&t.ID, &t.TenantID, &t.ConversationID, &t.UserMessage, &t.AssistantResponse,
			&sourcesJSON, &t.Confidence, &t.ShouldEscalate, &flagsJSON, &t.Reviewed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.TurnRepo.List: scan: %w", err)
		}
		if len(sourcesJSON) > 0 {
			if err := json.Unmarshal(sourcesJSON, &t.Sources); err != nil {
				return nil, fmt.Errorf("repository.TurnRepo.List: unmarshal sources: %w", err)
			}
		}
		if len(flagsJSON) > 0 {
			if err := json.Unmarshal(flagsJSON, &t.HallucinationFlags); err != nil {
				return nil, fmt.Errorf("repository.TurnRepo.List: unmarshal flags: %w", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.TurnRepo.List: %w", err)
	}
	return turns, nil
}
