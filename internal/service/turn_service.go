package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"rpg-server/internal/database"
	"rpg-server/internal/engine"
	"rpg-server/internal/messaging"
	"rpg-server/internal/models"
)

// TurnRunner executes one turn against a committed projection.
type TurnRunner interface {
	RunTurn(ctx context.Context, projection models.Projection, playerID uuid.UUID, rawInput string, sink engine.Sink) (*models.TurnResponse, error)
}

// ProjectionRebuilder replays the journal when the projection row is missing.
type ProjectionRebuilder interface {
	Rebuild(ctx context.Context, campaignID uuid.UUID) (*models.Projection, error)
}

// CreateCampaignParams seeds a new campaign.
type CreateCampaignParams struct {
	Name       string
	PlayerID   uuid.UUID
	PlayerName string
	LocationID string
	Stats      map[string]int
}

// defaultStats seeds a fresh character when the caller supplies none.
var defaultStats = map[string]int{
	"hp":       20,
	"strength": 10,
	"charisma": 10,
}

// TurnService is the application service over the turn engine: it owns
// projection loading, the per-campaign single-writer lock, and post-commit
// fan-out. One instance serves all campaigns.
type TurnService struct {
	runner      TurnRunner
	committer   engine.Committer
	rebuilder   ProjectionRebuilder
	pool        *pgxpool.Pool
	projections database.ProjectionRepository
	transcripts database.TranscriptRepository
	cache       database.ProjectionCache
	publisher   messaging.TurnUpdatePublisher
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*campaignLock
}

// campaignLock serializes turns for one campaign. The refcount lets the
// service drop entries once no turn holds or awaits the lock, so the map
// stays proportional to in-flight campaigns.
type campaignLock struct {
	mu   sync.Mutex
	refs int
}

// NewTurnService wires the turn service.
func NewTurnService(runner TurnRunner, committer engine.Committer, rebuilder ProjectionRebuilder,
	pool *pgxpool.Pool, projections database.ProjectionRepository, transcripts database.TranscriptRepository,
	cache database.ProjectionCache, publisher messaging.TurnUpdatePublisher, logger *zap.Logger) *TurnService {
	return &TurnService{
		runner:      runner,
		committer:   committer,
		rebuilder:   rebuilder,
		pool:        pool,
		projections: projections,
		transcripts: transcripts,
		cache:       cache,
		publisher:   publisher,
		logger:      logger.Named("TurnService"),
		locks:       make(map[uuid.UUID]*campaignLock),
	}
}

// CreateCampaign seeds a new campaign as turn 0 of its journal. The created
// event is the first entry every replay folds from.
func (s *TurnService) CreateCampaign(ctx context.Context, params CreateCampaignParams) (*models.Projection, error) {
	if params.PlayerID == uuid.Nil {
		params.PlayerID = uuid.New()
	}
	if len(params.Stats) == 0 {
		params.Stats = defaultStats
	}
	if params.LocationID == "" {
		params.LocationID = "crossroads"
	}

	campaignID := uuid.New()
	created := models.NewTurnEvent(campaignID, 0, models.KindCampaignCreated, models.CampaignCreatedPayload{
		Name:       params.Name,
		PlayerID:   params.PlayerID,
		PlayerName: params.PlayerName,
		LocationID: params.LocationID,
		Stats:      params.Stats,
	})

	projection, err := models.Fold(models.Projection{}, []models.TurnEvent{created})
	if err != nil {
		return nil, fmt.Errorf("failed to seed campaign projection: %w", err)
	}

	if _, err := s.committer.CommitTurn(ctx, campaignID, 0,
		[]models.TurnEvent{created}, projection, "", ""); err != nil {
		return nil, fmt.Errorf("failed to commit campaign creation: %w", err)
	}

	if err := s.cache.Set(ctx, projection); err != nil {
		s.logger.Warn("Failed to prime projection cache",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
	}

	s.logger.Info("Campaign created",
		zap.String("campaignId", campaignID.String()),
		zap.String("playerId", params.PlayerID.String()))
	return &projection, nil
}

// ExecuteTurn runs one player input through the engine under the campaign's
// single-writer lock and fans the committed result out.
func (s *TurnService) ExecuteTurn(ctx context.Context, campaignID, playerID uuid.UUID, rawInput string, sink engine.Sink) (*models.TurnResponse, error) {
	unlock := s.lockCampaign(campaignID)
	defer unlock()

	projection, err := s.loadProjection(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if projection.Player.PlayerID != playerID {
		return nil, models.ErrForbidden
	}

	response, err := s.runner.RunTurn(ctx, *projection, playerID, rawInput, sink)
	if err != nil {
		// A conflict means the cached projection was behind the journal;
		// evict it so the next attempt reloads from postgres.
		if errors.Is(err, models.ErrTurnConflict) {
			s.invalidateCache(ctx, campaignID)
		}
		return nil, err
	}

	refreshed, err := s.projections.Get(ctx, s.pool, campaignID)
	if err != nil {
		s.logger.Warn("Failed to reload projection after commit",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
		s.invalidateCache(ctx, campaignID)
	} else if cacheErr := s.cache.Set(ctx, *refreshed); cacheErr != nil {
		s.logger.Warn("Failed to refresh projection cache",
			zap.String("campaignId", campaignID.String()), zap.Error(cacheErr))
		// The cache still holds the pre-turn projection; drop it rather
		// than serve a stale turn number until the TTL expires.
		s.invalidateCache(ctx, campaignID)
	}

	s.publishUpdate(ctx, playerID, response)
	return response, nil
}

func (s *TurnService) invalidateCache(ctx context.Context, campaignID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, campaignID); err != nil {
		s.logger.Warn("Failed to invalidate projection cache",
			zap.String("campaignId", campaignID.String()), zap.Error(err))
	}
}

// GetProjection returns the campaign's committed projection.
func (s *TurnService) GetProjection(ctx context.Context, campaignID uuid.UUID) (*models.Projection, error) {
	return s.loadProjection(ctx, campaignID)
}

// GetTranscript pages through the campaign's narrative history.
func (s *TurnService) GetTranscript(ctx context.Context, campaignID uuid.UUID, afterTurn, limit int) ([]models.TranscriptEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	// Confirm the campaign exists so a bad ID is a 404, not an empty list.
	if _, err := s.loadProjection(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.transcripts.ListAfterTurn(ctx, s.pool, campaignID, afterTurn, limit)
}

// loadProjection reads the projection cache-first, rebuilding from the
// journal when the projection row itself is gone.
func (s *TurnService) loadProjection(ctx context.Context, campaignID uuid.UUID) (*models.Projection, error) {
	if cached, err := s.cache.Get(ctx, campaignID); err == nil {
		return cached, nil
	}

	projection, err := s.projections.Get(ctx, s.pool, campaignID)
	if err == nil {
		if cacheErr := s.cache.Set(ctx, *projection); cacheErr != nil {
			s.logger.Debug("Failed to backfill projection cache", zap.Error(cacheErr))
		}
		return projection, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	rebuilt, err := s.rebuilder.Rebuild(ctx, campaignID)
	if err != nil {
		if errors.Is(err, models.ErrCampaignNotFound) {
			return nil, models.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to rebuild projection for campaign %s: %w", campaignID, err)
	}
	s.logger.Info("Projection rebuilt from journal",
		zap.String("campaignId", campaignID.String()),
		zap.Int("turn", rebuilt.TurnNumber))
	if err := s.projections.Save(ctx, s.pool, *rebuilt); err != nil {
		s.logger.Warn("Failed to persist rebuilt projection", zap.Error(err))
	}
	return rebuilt, nil
}

// publishUpdate fans the committed turn out; failures are logged, never
// surfaced, since the turn is already durable.
func (s *TurnService) publishUpdate(ctx context.Context, playerID uuid.UUID, response *models.TurnResponse) {
	if s.publisher == nil {
		return
	}
	update := models.TurnUpdate{
		CampaignID:   response.CampaignID,
		PlayerID:     playerID,
		TurnNumber:   response.TurnNumber,
		NarratedText: response.NarratedText,
		Warnings:     response.Warnings,
		CommittedAt:  time.Now().UTC(),
	}
	if err := s.publisher.PublishTurnUpdate(ctx, update); err != nil {
		s.logger.Warn("Failed to publish turn update",
			zap.String("campaignId", response.CampaignID.String()),
			zap.Int("turn", response.TurnNumber), zap.Error(err))
	}
}

// lockCampaign takes the campaign's single-writer lock and returns the
// release func. The last releaser removes the map entry.
func (s *TurnService) lockCampaign(campaignID uuid.UUID) func() {
	s.mu.Lock()
	lock, ok := s.locks[campaignID]
	if !ok {
		lock = &campaignLock{}
		s.locks[campaignID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, campaignID)
		}
		s.mu.Unlock()
	}
}
