package database

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

const (
	turnEventFields = `event_id, campaign_id, turn_number, seq, kind, payload, created_at`

	insertTurnEventQuery = `
        INSERT INTO turn_events (event_id, campaign_id, turn_number, seq, kind, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	listEventsByCampaignQuery = `
        SELECT ` + turnEventFields + `
        FROM turn_events
        WHERE campaign_id = $1 AND turn_number > $2
        ORDER BY turn_number, seq
        LIMIT $3
    `
	listEventsByTurnQuery = `
        SELECT ` + turnEventFields + `
        FROM turn_events
        WHERE campaign_id = $1 AND turn_number = $2
        ORDER BY seq
    `
	turnExistsQuery = `
        SELECT EXISTS (
            SELECT 1 FROM turn_events WHERE campaign_id = $1 AND turn_number = $2
        )
    `
)

// EventRepository is the append-only turn event journal. Events are never
// updated or deleted; replay order is (turn_number, seq).
type EventRepository interface {
	Append(ctx context.Context, querier DBTX, events []models.TurnEvent) error
	// ListAfterTurn pages through a campaign's journal for replay.
	ListAfterTurn(ctx context.Context, querier DBTX, campaignID uuid.UUID, afterTurn, limit int) ([]models.TurnEvent, error)
	ListByTurn(ctx context.Context, querier DBTX, campaignID uuid.UUID, turnNumber int) ([]models.TurnEvent, error)
	TurnExists(ctx context.Context, querier DBTX, campaignID uuid.UUID, turnNumber int) (bool, error)
}

var _ EventRepository = (*pgEventRepository)(nil)

type pgEventRepository struct {
	logger *zap.Logger
}

// NewPgEventRepository creates the PostgreSQL event journal repository.
func NewPgEventRepository(logger *zap.Logger) EventRepository {
	return &pgEventRepository{logger: logger.Named("PgEventRepo")}
}

// Append inserts the turn's events in order, batched into one round trip.
func (r *pgEventRepository) Append(ctx context.Context, querier DBTX, events []models.TurnEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertTurnEventQuery,
			ev.EventID, ev.CampaignID, ev.TurnNumber, ev.Seq, ev.Kind, ev.Payload, ev.CreatedAt)
	}

	sender, ok := querier.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return fmt.Errorf("querier does not support batch sends")
	}
	results := sender.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			r.logger.Error("Failed to append turn event", zap.Error(err))
			return fmt.Errorf("failed to append turn events: %w", err)
		}
	}
	return nil
}

func (r *pgEventRepository) ListAfterTurn(ctx context.Context, querier DBTX, campaignID uuid.UUID, afterTurn, limit int) ([]models.TurnEvent, error) {
	events := make([]models.TurnEvent, 0)
	err := pgxscan.Select(ctx, querier, &events, listEventsByCampaignQuery, campaignID, afterTurn, limit)
	if err != nil {
		r.logger.Error("Failed to list turn events",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list turn events: %w", err)
	}
	return events, nil
}

func (r *pgEventRepository) ListByTurn(ctx context.Context, querier DBTX, campaignID uuid.UUID, turnNumber int) ([]models.TurnEvent, error) {
	events := make([]models.TurnEvent, 0)
	err := pgxscan.Select(ctx, querier, &events, listEventsByTurnQuery, campaignID, turnNumber)
	if err != nil {
		r.logger.Error("Failed to list turn events for turn",
			zap.String("campaignId", campaignID.String()), zap.Int("turn", turnNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to list events for turn %d: %w", turnNumber, err)
	}
	return events, nil
}

func (r *pgEventRepository) TurnExists(ctx context.Context, querier DBTX, campaignID uuid.UUID, turnNumber int) (bool, error) {
	var exists bool
	if err := querier.QueryRow(ctx, turnExistsQuery, campaignID, turnNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check turn existence: %w", err)
	}
	return exists, nil
}
