package engine

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"rpg-server/internal/clients"
	"rpg-server/internal/models"
)

// Spawn chance in percent, by location danger.
const (
	spawnChanceDangerous = 60
	spawnChanceSafe      = 20
)

// EncounterStage decides whether a new NPC enters the scene this turn. The
// spawn roll is seeded, the candidate pool comes from the content catalog.
// Catalog failures degrade to "nothing happens" rather than aborting the turn.
type EncounterStage struct {
	content clients.ContentReader
	logger  *zap.Logger
}

// NewEncounterStage builds the encounter resolver.
func NewEncounterStage(content clients.ContentReader, logger *zap.Logger) *EncounterStage {
	return &EncounterStage{content: content, logger: logger.Named("encounter")}
}

func (s *EncounterStage) Name() string { return "encounter" }
func (s *EncounterStage) Fatal() bool  { return false }

// Run implements Stage.
func (s *EncounterStage) Run(ctx context.Context, ws *WorkingState) (StageResult, error) {
	if s.content == nil {
		return StageResult{}, nil
	}

	view := ws.View()
	// One encounter at a time; a busy scene spawns nothing.
	if len(view.World.NPCs) > 0 {
		return StageResult{}, nil
	}

	loc, err := s.content.GetLocation(ctx, view.World.LocationID)
	if err != nil {
		s.logger.Warn("Location lookup failed, skipping encounter",
			zap.String("locationId", view.World.LocationID), zap.Error(err))
		return StageResult{Warnings: []string{s.Name() + "_skipped"}}, nil
	}

	chance := spawnChanceSafe
	if loc.Dangerous {
		chance = spawnChanceDangerous
	}

	rng := turnRNG(ws.CampaignID, ws.TurnNumber, s.Name())
	if rng.Intn(100) >= chance {
		return StageResult{}, nil
	}

	candidates, err := s.content.GetNPCCandidates(ctx, loc.ID, loc.Tags)
	if err != nil {
		s.logger.Warn("NPC candidate lookup failed, skipping encounter",
			zap.String("locationId", loc.ID), zap.Error(err))
		return StageResult{Warnings: []string{s.Name() + "_skipped"}}, nil
	}
	if len(candidates) == 0 {
		return StageResult{}, nil
	}

	// Stable candidate order keeps the seeded pick reproducible.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	picked := candidates[rng.Intn(len(candidates))]

	fragment := fmt.Sprintf("A %s appears.", picked.Name)
	if picked.Hostile {
		fragment = fmt.Sprintf("A hostile %s blocks your path.", picked.Name)
	}

	return StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindEncounterSpawned, models.EncounterSpawnedPayload{
				NPCID:     picked.ID,
				NPCName:   picked.Name,
				HP:        picked.HP,
				Defense:   picked.Defense,
				Hostile:   picked.Hostile,
				FactionID: picked.FactionID,
			}),
		},
		Fragments: []string{fragment},
	}, nil
}
