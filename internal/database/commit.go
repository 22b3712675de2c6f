package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

const advisoryLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

// PgCommitBoundary is the single writer of turn outcomes. One transaction per
// turn: advisory lock on the campaign, conflict check, event append,
// projection refresh, snapshot, transcript. Any failure rolls back the lot.
type PgCommitBoundary struct {
	pool          *pgxpool.Pool
	events        EventRepository
	projections   ProjectionRepository
	transcripts   TranscriptRepository
	snapshotEvery int
	logger        *zap.Logger
}

// NewPgCommitBoundary creates the commit boundary over the given repositories.
func NewPgCommitBoundary(pool *pgxpool.Pool, events EventRepository, projections ProjectionRepository, transcripts TranscriptRepository, snapshotEvery int, logger *zap.Logger) *PgCommitBoundary {
	return &PgCommitBoundary{
		pool:          pool,
		events:        events,
		projections:   projections,
		transcripts:   transcripts,
		snapshotEvery: snapshotEvery,
		logger:        logger.Named("PgCommitBoundary"),
	}
}

// CommitTurn durably applies one turn's outcome. Returns ErrTurnConflict when
// the turn number was already committed by a concurrent writer.
func (b *PgCommitBoundary) CommitTurn(ctx context.Context, campaignID uuid.UUID, turnNumber int,
	events []models.TurnEvent, projection models.Projection,
	playerInput, narration string) (models.CommitResult, error) {

	logFields := []zap.Field{
		zap.String("campaignId", campaignID.String()),
		zap.Int("turn", turnNumber),
		zap.Int("events", len(events)),
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return models.CommitResult{}, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The advisory lock serializes concurrent writers for one campaign within
	// the database; the in-process mutex in the service layer keeps the
	// common case off the lock queue.
	if _, err := tx.Exec(ctx, advisoryLockQuery, campaignID.String()); err != nil {
		return models.CommitResult{}, fmt.Errorf("failed to take campaign lock: %w", err)
	}

	exists, err := b.events.TurnExists(ctx, tx, campaignID, turnNumber)
	if err != nil {
		return models.CommitResult{}, err
	}
	if exists {
		b.logger.Warn("Turn already committed", logFields...)
		return models.CommitResult{}, models.ErrTurnConflict
	}

	if err := b.events.Append(ctx, tx, events); err != nil {
		if isUniqueViolation(err) {
			return models.CommitResult{}, models.ErrTurnConflict
		}
		return models.CommitResult{}, err
	}

	if err := b.projections.Save(ctx, tx, projection); err != nil {
		return models.CommitResult{}, err
	}
	if b.snapshotEvery > 0 && turnNumber%b.snapshotEvery == 0 {
		if err := b.projections.SaveSnapshot(ctx, tx, projection); err != nil {
			return models.CommitResult{}, err
		}
	}

	if err := b.transcripts.Append(ctx, tx, models.TranscriptEntry{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		TurnNumber:  turnNumber,
		PlayerInput: playerInput,
		Text:        narration,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		if isUniqueViolation(err) {
			return models.CommitResult{}, models.ErrTurnConflict
		}
		return models.CommitResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.CommitResult{}, fmt.Errorf("failed to commit turn transaction: %w", err)
	}

	b.logger.Info("Turn committed", logFields...)
	return models.CommitResult{
		Projection: projection,
		TurnNumber: turnNumber,
		EventCount: len(events),
	}, nil
}

// Rebuild replays the journal into a fresh projection, starting from the
// latest snapshot when one exists. Used when the projection row is missing
// or distrusted.
func (b *PgCommitBoundary) Rebuild(ctx context.Context, campaignID uuid.UUID) (*models.Projection, error) {
	seed := models.Projection{CampaignID: campaignID}
	afterTurn := -1

	snapshot, err := b.projections.GetLatestSnapshot(ctx, b.pool, campaignID)
	if err == nil {
		seed = *snapshot
		afterTurn = snapshot.TurnNumber
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	const pageSize = 500
	current := seed
	for {
		events, err := b.events.ListAfterTurn(ctx, b.pool, campaignID, afterTurn, pageSize)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}
		lastPage := len(events) < pageSize
		if !lastPage {
			// A full page may cut a turn in half; drop the trailing turn and
			// re-read it whole on the next page. When the whole page is one
			// turn there is nothing to drop, so fetch that turn complete.
			last := events[len(events)-1].TurnNumber
			cut := len(events)
			for cut > 0 && events[cut-1].TurnNumber == last {
				cut--
			}
			if cut > 0 {
				events = events[:cut]
			} else {
				whole, err := b.events.ListByTurn(ctx, b.pool, campaignID, last)
				if err != nil {
					return nil, err
				}
				events = whole
			}
		}
		current, err = models.Fold(current, events)
		if err != nil {
			return nil, fmt.Errorf("failed to replay campaign %s: %w", campaignID, err)
		}
		afterTurn = events[len(events)-1].TurnNumber
		if lastPage {
			break
		}
	}

	if current.CampaignID == uuid.Nil {
		return nil, models.ErrCampaignNotFound
	}
	return &current, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
