package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rpg-server/internal/models"
)

// WorldSimStage advances the world one tick: clock progression, hostile
// retaliation against the player and threat drift. Fully deterministic;
// errors here are bugs and abort the turn.
type WorldSimStage struct {
	logger *zap.Logger
}

// NewWorldSimStage builds the world simulator stage.
func NewWorldSimStage(logger *zap.Logger) *WorldSimStage {
	return &WorldSimStage{logger: logger.Named("worldsim")}
}

func (s *WorldSimStage) Name() string { return "worldsim" }
func (s *WorldSimStage) Fatal() bool  { return true }

// Run implements Stage.
func (s *WorldSimStage) Run(_ context.Context, ws *WorkingState) (StageResult, error) {
	rng := turnRNG(ws.CampaignID, ws.TurnNumber, s.Name())
	view := ws.View()

	res := StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindClockAdvanced, models.ClockAdvancedPayload{Ticks: 1}),
		},
	}

	// Hostiles still standing after the player's action get their swing in.
	// Resting is already gated on an empty scene, so no special case there.
	for _, id := range sortedKeys(view.World.NPCs) {
		npc := view.World.NPCs[id]
		if !npc.Hostile {
			continue
		}
		damage := rng.Intn(4) + 1
		res.Events = append(res.Events,
			ws.Event(models.KindStatsChanged, models.StatsChangedPayload{
				Deltas: map[string]int{"hp": -damage},
			}))
		res.Fragments = append(res.Fragments,
			fmt.Sprintf("The %s strikes back for %d damage.", npc.Name, damage))
	}

	if delta := threatDrift(ws); delta != 0 {
		res.Events = append(res.Events,
			ws.Event(models.KindThreatChanged, models.ThreatChangedPayload{Delta: delta}))
	}

	return res, nil
}

// threatDrift derives the threat delta from this turn's pending events:
// violence raises it, resting lowers it.
func threatDrift(ws *WorkingState) int {
	delta := 0
	for _, ev := range ws.Events {
		switch ev.Kind {
		case models.KindAttackResolved:
			delta++
		case models.KindRested:
			delta--
		}
	}
	return delta
}
