package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

func TestWorldSimStage_Run(t *testing.T) {
	stage := NewWorldSimStage(zap.NewNop())

	t.Run("every turn advances the clock by one", func(t *testing.T) {
		projection := testProjection(uuid.New())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "explore", nil)

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		require.NotEmpty(t, res.Events)
		assert.Equal(t, models.KindClockAdvanced, res.Events[0].Kind)
		assert.Equal(t, 1, decodePayload[models.ClockAdvancedPayload](t, res.Events[0]).Ticks)
	})

	t.Run("standing hostiles retaliate", func(t *testing.T) {
		projection := testProjection(uuid.New())
		projection.World.NPCs["npc-wolf"] = models.NPCState{ID: "npc-wolf", Name: "wolf", HP: 6, Hostile: true}
		ws := NewWorkingState(projection, projection.Player.PlayerID, "explore", nil)

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)

		var hits []models.StatsChangedPayload
		for _, ev := range res.Events {
			if ev.Kind == models.KindStatsChanged {
				hits = append(hits, decodePayload[models.StatsChangedPayload](t, ev))
			}
		}
		require.Len(t, hits, 1)
		damage := -hits[0].Deltas["hp"]
		assert.GreaterOrEqual(t, damage, 1)
		assert.LessOrEqual(t, damage, 4)
		assert.NotEmpty(t, res.Fragments)
	})

	t.Run("defeated hostiles do not retaliate", func(t *testing.T) {
		projection := testProjection(uuid.New())
		projection.World.NPCs["npc-wolf"] = models.NPCState{ID: "npc-wolf", Name: "wolf", HP: 6, Hostile: true}
		ws := NewWorkingState(projection, projection.Player.PlayerID, "attack", nil)
		// The mechanic already felled the wolf this turn; the simulator sees
		// the pending view, not the committed one.
		ws.Events = append(ws.Events, ws.Event(models.KindAttackResolved, models.AttackResolvedPayload{
			TargetID: "npc-wolf", Hit: true, Damage: 6, TargetHPLeft: 0, Defeated: true,
		}))

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		assert.NotContains(t, eventKinds(res.Events), models.KindStatsChanged)
	})

	t.Run("violence raises threat, rest lowers it", func(t *testing.T) {
		projection := testProjection(uuid.New())

		attackTurn := NewWorkingState(projection, projection.Player.PlayerID, "attack", nil)
		attackTurn.Events = append(attackTurn.Events, attackTurn.Event(models.KindAttackResolved, models.AttackResolvedPayload{
			TargetID: "npc-wolf", Hit: false,
		}))
		res, err := stage.Run(context.Background(), attackTurn)
		require.NoError(t, err)
		found := false
		for _, ev := range res.Events {
			if ev.Kind == models.KindThreatChanged {
				found = true
				assert.Equal(t, 1, decodePayload[models.ThreatChangedPayload](t, ev).Delta)
			}
		}
		assert.True(t, found)

		restTurn := NewWorkingState(projection, projection.Player.PlayerID, "rest", nil)
		restTurn.Events = append(restTurn.Events, restTurn.Event(models.KindRested, models.RestedPayload{
			StatDeltas: map[string]int{"hp": 3},
		}))
		res, err = stage.Run(context.Background(), restTurn)
		require.NoError(t, err)
		for _, ev := range res.Events {
			if ev.Kind == models.KindThreatChanged {
				assert.Equal(t, -1, decodePayload[models.ThreatChangedPayload](t, ev).Delta)
			}
		}
	})

	t.Run("quiet turn drifts nothing", func(t *testing.T) {
		projection := testProjection(uuid.New())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "explore", nil)

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		assert.NotContains(t, eventKinds(res.Events), models.KindThreatChanged)
	})
}
