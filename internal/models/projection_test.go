package models_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpg-server/internal/models"
)

func seedProjection(t *testing.T, campaignID uuid.UUID) models.Projection {
	t.Helper()
	created := models.NewTurnEvent(campaignID, 0, models.KindCampaignCreated, models.CampaignCreatedPayload{
		Name:       "Test Campaign",
		PlayerID:   uuid.New(),
		PlayerName: "Arden",
		LocationID: "crossroads",
		Stats:      map[string]int{"hp": 20, "strength": 12, "charisma": 8},
	})
	projection, err := models.Fold(models.Projection{}, []models.TurnEvent{created})
	require.NoError(t, err)
	return projection
}

func TestProjection_Fold(t *testing.T) {
	campaignID := uuid.New()

	t.Run("campaign created seeds player and world", func(t *testing.T) {
		projection := seedProjection(t, campaignID)

		assert.Equal(t, campaignID, projection.CampaignID)
		assert.Equal(t, "Arden", projection.Player.Name)
		assert.Equal(t, 20, projection.Player.Stats["hp"])
		assert.Equal(t, "crossroads", projection.World.LocationID)
		assert.NotNil(t, projection.World.NPCs)
	})

	t.Run("fold is pure and repeatable", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		events := []models.TurnEvent{
			models.NewTurnEvent(campaignID, 1, models.KindEncounterSpawned, models.EncounterSpawnedPayload{
				NPCID: "npc-1", NPCName: "bandit", HP: 8, Defense: 1, Hostile: true,
			}),
			models.NewTurnEvent(campaignID, 1, models.KindStatsChanged, models.StatsChangedPayload{
				Deltas: map[string]int{"hp": -3},
			}),
		}

		first, err := models.Fold(projection, events)
		require.NoError(t, err)
		second, err := models.Fold(projection, events)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		// The seed projection is untouched.
		assert.Empty(t, projection.World.NPCs)
		assert.Equal(t, 20, projection.Player.Stats["hp"])
	})

	t.Run("unknown event kind fails the fold", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		bogus := models.NewTurnEvent(campaignID, 1, models.EventKind("bogus.kind"), struct{}{})

		_, err := models.Fold(projection, []models.TurnEvent{bogus})
		assert.Error(t, err)
	})
}

func TestProjection_Apply(t *testing.T) {
	campaignID := uuid.New()

	t.Run("defeated npc leaves the scene", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		events := []models.TurnEvent{
			models.NewTurnEvent(campaignID, 1, models.KindEncounterSpawned, models.EncounterSpawnedPayload{
				NPCID: "npc-1", NPCName: "bandit", HP: 5, Hostile: true,
			}),
			models.NewTurnEvent(campaignID, 1, models.KindAttackResolved, models.AttackResolvedPayload{
				TargetID: "npc-1", Hit: true, Damage: 5, TargetHPLeft: 0, Defeated: true,
			}),
		}

		out, err := models.Fold(projection, events)
		require.NoError(t, err)
		assert.NotContains(t, out.World.NPCs, "npc-1")
		assert.Equal(t, 1, out.TurnNumber)
	})

	t.Run("moving clears the active scene", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		events := []models.TurnEvent{
			models.NewTurnEvent(campaignID, 1, models.KindEncounterSpawned, models.EncounterSpawnedPayload{
				NPCID: "npc-1", NPCName: "merchant", HP: 5,
			}),
			models.NewTurnEvent(campaignID, 1, models.KindMoved, models.MovedPayload{
				FromLocationID: "crossroads", ToLocationID: "forest",
			}),
		}

		out, err := models.Fold(projection, events)
		require.NoError(t, err)
		assert.Equal(t, "forest", out.World.LocationID)
		assert.Empty(t, out.World.NPCs)
	})

	t.Run("stats never drop below zero", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		ev := models.NewTurnEvent(campaignID, 1, models.KindStatsChanged, models.StatsChangedPayload{
			Deltas: map[string]int{"hp": -100},
		})

		out, err := models.Fold(projection, []models.TurnEvent{ev})
		require.NoError(t, err)
		assert.Equal(t, 0, out.Player.Stats["hp"])
	})

	t.Run("threat floors at zero", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		ev := models.NewTurnEvent(campaignID, 1, models.KindThreatChanged, models.ThreatChangedPayload{Delta: -5})

		out, err := models.Fold(projection, []models.TurnEvent{ev})
		require.NoError(t, err)
		assert.Equal(t, 0, out.World.Threat)
	})

	t.Run("consuming an item removes one copy", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		projection.Player.Inventory = []string{"potion", "potion", "rope"}
		ev := models.NewTurnEvent(campaignID, 1, models.KindItemUsed, models.ItemUsedPayload{
			Item: "potion", Consumed: true, StatDeltas: map[string]int{"hp": 10},
		})

		out, err := models.Fold(projection, []models.TurnEvent{ev})
		require.NoError(t, err)
		assert.Equal(t, []string{"potion", "rope"}, out.Player.Inventory)
		assert.Equal(t, 30, out.Player.Stats["hp"])
	})

	t.Run("reputation accumulates per faction", func(t *testing.T) {
		projection := seedProjection(t, campaignID)
		events := []models.TurnEvent{
			models.NewTurnEvent(campaignID, 1, models.KindReputationChanged, models.ReputationChangedPayload{FactionID: "guild", Delta: 2}),
			models.NewTurnEvent(campaignID, 2, models.KindReputationChanged, models.ReputationChangedPayload{FactionID: "guild", Delta: -3}),
		}

		out, err := models.Fold(projection, events)
		require.NoError(t, err)
		assert.Equal(t, -1, out.Player.Reputation["guild"])
	})
}

func TestProjection_Clone(t *testing.T) {
	projection := seedProjection(t, uuid.New())
	projection.Player.Inventory = []string{"rope"}
	projection.World.NPCs["npc-1"] = models.NPCState{ID: "npc-1", Name: "guard", HP: 10}

	clone := projection.Clone()
	clone.Player.Stats["hp"] = 1
	clone.Player.Inventory[0] = "torch"
	delete(clone.World.NPCs, "npc-1")

	assert.Equal(t, 20, projection.Player.Stats["hp"])
	assert.Equal(t, "rope", projection.Player.Inventory[0])
	assert.Contains(t, projection.World.NPCs, "npc-1")
}
