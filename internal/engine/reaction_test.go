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

func partyOfTwo(projection models.Projection) models.Projection {
	projection.Party = []models.CompanionState{
		{ID: "comp-lyra", Name: "Lyra", Mood: "neutral", Loyalty: 5},
		{ID: "comp-brom", Name: "Brom", Mood: "neutral", Loyalty: 3},
	}
	return projection
}

func TestReactionStage_Run(t *testing.T) {
	stage := NewReactionStage(zap.NewNop())

	t.Run("no party means no reactions", func(t *testing.T) {
		projection := testProjection(uuid.New())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "rest", nil)
		ws.Events = append(ws.Events, ws.Event(models.KindRested, models.RestedPayload{}))

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		assert.Empty(t, res.Events)
	})

	t.Run("cruelty unsettles every companion", func(t *testing.T) {
		projection := partyOfTwo(testProjection(uuid.New()))
		ws := NewWorkingState(projection, projection.Player.PlayerID, "attack merchant", nil)
		ws.Events = append(ws.Events, ws.Event(models.KindAlignmentShifted, models.AlignmentShiftedPayload{Delta: -2}))

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		require.Len(t, res.Events, 2)
		for _, ev := range res.Events {
			payload := decodePayload[models.ReactionPayload](t, ev)
			assert.Equal(t, "uneasy", payload.Mood)
			assert.Equal(t, -1, payload.LoyaltyDelta)
		}
		assert.Contains(t, res.Fragments, "Your companions look uneasy.")
	})

	t.Run("cruelty outweighs heroics in the same turn", func(t *testing.T) {
		projection := partyOfTwo(testProjection(uuid.New()))
		ws := NewWorkingState(projection, projection.Player.PlayerID, "attack", nil)
		ws.Events = append(ws.Events,
			ws.Event(models.KindAlignmentShifted, models.AlignmentShiftedPayload{Delta: 1}),
			ws.Event(models.KindAlignmentShifted, models.AlignmentShiftedPayload{Delta: -2}))

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		require.NotEmpty(t, res.Events)
		assert.Equal(t, "uneasy", decodePayload[models.ReactionPayload](t, res.Events[0]).Mood)
	})

	t.Run("felling a hostile impresses the party", func(t *testing.T) {
		projection := partyOfTwo(testProjection(uuid.New()))
		ws := NewWorkingState(projection, projection.Player.PlayerID, "attack wolf", nil)
		ws.Events = append(ws.Events, ws.Event(models.KindAlignmentShifted, models.AlignmentShiftedPayload{Delta: 1}))

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		require.NotEmpty(t, res.Events)
		payload := decodePayload[models.ReactionPayload](t, res.Events[0])
		assert.Equal(t, "impressed", payload.Mood)
		assert.Equal(t, 1, payload.LoyaltyDelta)
		assert.Empty(t, res.Fragments)
	})

	t.Run("an uneventful turn draws no reaction", func(t *testing.T) {
		projection := partyOfTwo(testProjection(uuid.New()))
		ws := NewWorkingState(projection, projection.Player.PlayerID, "explore", nil)

		res, err := stage.Run(context.Background(), ws)
		require.NoError(t, err)
		assert.Empty(t, res.Events)
	})
}
