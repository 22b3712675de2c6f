package database

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

const (
	insertTranscriptQuery = `
        INSERT INTO transcripts (id, campaign_id, turn_number, player_input, text, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	listTranscriptQuery = `
        SELECT id, campaign_id, turn_number, player_input, text, created_at
        FROM transcripts
        WHERE campaign_id = $1 AND turn_number > $2
        ORDER BY turn_number
        LIMIT $3
    `
)

// TranscriptRepository stores the narrative text of committed turns.
// Write once at commit, read-only afterward.
type TranscriptRepository interface {
	Append(ctx context.Context, querier DBTX, entry models.TranscriptEntry) error
	ListAfterTurn(ctx context.Context, querier DBTX, campaignID uuid.UUID, afterTurn, limit int) ([]models.TranscriptEntry, error)
}

var _ TranscriptRepository = (*pgTranscriptRepository)(nil)

type pgTranscriptRepository struct {
	logger *zap.Logger
}

// NewPgTranscriptRepository creates the PostgreSQL transcript repository.
func NewPgTranscriptRepository(logger *zap.Logger) TranscriptRepository {
	return &pgTranscriptRepository{logger: logger.Named("PgTranscriptRepo")}
}

func (r *pgTranscriptRepository) Append(ctx context.Context, querier DBTX, entry models.TranscriptEntry) error {
	_, err := querier.Exec(ctx, insertTranscriptQuery,
		entry.ID, entry.CampaignID, entry.TurnNumber, entry.PlayerInput, entry.Text, entry.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to append transcript entry",
			zap.String("campaignId", entry.CampaignID.String()),
			zap.Int("turn", entry.TurnNumber), zap.Error(err))
		return fmt.Errorf("failed to append transcript entry: %w", err)
	}
	return nil
}

func (r *pgTranscriptRepository) ListAfterTurn(ctx context.Context, querier DBTX, campaignID uuid.UUID, afterTurn, limit int) ([]models.TranscriptEntry, error) {
	entries := make([]models.TranscriptEntry, 0)
	err := pgxscan.Select(ctx, querier, &entries, listTranscriptQuery, campaignID, afterTurn, limit)
	if err != nil {
		r.logger.Error("Failed to list transcript entries",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list transcript entries: %w", err)
	}
	return entries, nil
}
