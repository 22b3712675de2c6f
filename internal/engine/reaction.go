package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"rpg-server/internal/models"
)

// ReactionStage resolves companion reactions to the turn's outcome. Moods and
// loyalty shifts follow fixed rules over this turn's events; no randomness and
// no external calls.
type ReactionStage struct {
	logger *zap.Logger
}

// NewReactionStage builds the party reaction stage.
func NewReactionStage(logger *zap.Logger) *ReactionStage {
	return &ReactionStage{logger: logger.Named("reaction")}
}

func (s *ReactionStage) Name() string { return "reaction" }
func (s *ReactionStage) Fatal() bool  { return true }

// Run implements Stage.
func (s *ReactionStage) Run(_ context.Context, ws *WorkingState) (StageResult, error) {
	if len(ws.Projection.Party) == 0 {
		return StageResult{}, nil
	}

	mood, loyaltyDelta := partyReaction(ws.Events)
	if mood == "" {
		return StageResult{}, nil
	}

	var res StageResult
	for _, companion := range ws.Projection.Party {
		res.Events = append(res.Events,
			ws.Event(models.KindReaction, models.ReactionPayload{
				CompanionID:  companion.ID,
				Mood:         mood,
				LoyaltyDelta: loyaltyDelta,
			}))
	}
	if loyaltyDelta < 0 {
		res.Fragments = append(res.Fragments,
			fmt.Sprintf("Your companions look %s.", mood))
	}
	return res, nil
}

// partyReaction maps the turn's events to a shared party mood. Cruelty weighs
// heavier than heroics, so it is checked first.
func partyReaction(events []models.TurnEvent) (string, int) {
	var defeatedHostile, rested bool
	for _, ev := range events {
		switch ev.Kind {
		case models.KindAlignmentShifted:
			var payload models.AlignmentShiftedPayload
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				continue
			}
			if payload.Delta < 0 {
				return "uneasy", -1
			}
			if payload.Delta > 0 {
				defeatedHostile = true
			}
		case models.KindRested:
			rested = true
		}
	}
	if defeatedHostile {
		return "impressed", 1
	}
	if rested {
		return "rested", 0
	}
	return "", 0
}
