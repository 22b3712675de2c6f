package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

const (
	upsertProjectionQuery = `
        INSERT INTO campaign_projections (campaign_id, turn_number, data, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (campaign_id) DO UPDATE SET
            turn_number = EXCLUDED.turn_number,
            data = EXCLUDED.data,
            updated_at = EXCLUDED.updated_at
    `
	getProjectionQuery = `
        SELECT data FROM campaign_projections WHERE campaign_id = $1
    `
	insertSnapshotQuery = `
        INSERT INTO projection_snapshots (campaign_id, turn_number, data, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (campaign_id, turn_number) DO NOTHING
    `
	getLatestSnapshotQuery = `
        SELECT data FROM projection_snapshots
        WHERE campaign_id = $1
        ORDER BY turn_number DESC
        LIMIT 1
    `
)

// ProjectionRepository stores the derived campaign projection plus periodic
// snapshots. The projection row is a cache: losing it only costs a replay.
type ProjectionRepository interface {
	Save(ctx context.Context, querier DBTX, projection models.Projection) error
	Get(ctx context.Context, querier DBTX, campaignID uuid.UUID) (*models.Projection, error)
	// SaveSnapshot keeps a historical projection for replay-from-snapshot.
	SaveSnapshot(ctx context.Context, querier DBTX, projection models.Projection) error
	// GetLatestSnapshot returns the most recent snapshot, or ErrNotFound when
	// the campaign has none yet and replay must start from the beginning.
	GetLatestSnapshot(ctx context.Context, querier DBTX, campaignID uuid.UUID) (*models.Projection, error)
}

var _ ProjectionRepository = (*pgProjectionRepository)(nil)

type pgProjectionRepository struct {
	logger *zap.Logger
}

// NewPgProjectionRepository creates the PostgreSQL projection repository.
func NewPgProjectionRepository(logger *zap.Logger) ProjectionRepository {
	return &pgProjectionRepository{logger: logger.Named("PgProjectionRepo")}
}

func (r *pgProjectionRepository) Save(ctx context.Context, querier DBTX, projection models.Projection) error {
	data, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	_, err = querier.Exec(ctx, upsertProjectionQuery,
		projection.CampaignID, projection.TurnNumber, data, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to save projection",
			zap.String("campaignId", projection.CampaignID.String()), zap.Error(err))
		return fmt.Errorf("failed to save projection: %w", err)
	}
	return nil
}

func (r *pgProjectionRepository) Get(ctx context.Context, querier DBTX, campaignID uuid.UUID) (*models.Projection, error) {
	return r.getOne(ctx, querier, getProjectionQuery, campaignID)
}

func (r *pgProjectionRepository) SaveSnapshot(ctx context.Context, querier DBTX, projection models.Projection) error {
	data, err := json.Marshal(projection)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = querier.Exec(ctx, insertSnapshotQuery,
		projection.CampaignID, projection.TurnNumber, data, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to save projection snapshot",
			zap.String("campaignId", projection.CampaignID.String()),
			zap.Int("turn", projection.TurnNumber), zap.Error(err))
		return fmt.Errorf("failed to save projection snapshot: %w", err)
	}
	return nil
}

func (r *pgProjectionRepository) GetLatestSnapshot(ctx context.Context, querier DBTX, campaignID uuid.UUID) (*models.Projection, error) {
	return r.getOne(ctx, querier, getLatestSnapshotQuery, campaignID)
}

func (r *pgProjectionRepository) getOne(ctx context.Context, querier DBTX, query string, campaignID uuid.UUID) (*models.Projection, error) {
	var data []byte
	if err := querier.QueryRow(ctx, query, campaignID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		r.logger.Error("Failed to get projection",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to get projection: %w", err)
	}
	var projection models.Projection
	if err := json.Unmarshal(data, &projection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal projection: %w", err)
	}
	return &projection, nil
}
