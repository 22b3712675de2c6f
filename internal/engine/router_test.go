package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rpg-server/internal/models"
)

func testProjection(campaignID uuid.UUID) models.Projection {
	return models.Projection{
		CampaignID: campaignID,
		TurnNumber: 4,
		Player: models.PlayerState{
			PlayerID:  uuid.New(),
			Name:      "Arden",
			Stats:     map[string]int{"hp": 20, "strength": 12, "charisma": 10},
			Inventory: []string{"potion", "rope"},
		},
		World: models.WorldState{
			LocationID: "crossroads",
			NPCs:       map[string]models.NPCState{},
		},
	}
}

func TestRouterStage_Run(t *testing.T) {
	projection := testProjection(uuid.New())

	t.Run("slash command routes to meta without a model call", func(t *testing.T) {
		gen := &scriptedGenerator{}
		stage := NewRouterStage(NewWrapper("router", gen, 3, time.Second, zap.NewNop()), zap.NewNop())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "/status please", nil)

		res, err := stage.Run(context.Background(), ws)

		require.NoError(t, err)
		require.NotNil(t, res.Intent)
		assert.Equal(t, BranchMeta, res.Intent.Branch)
		assert.Equal(t, "status", res.Intent.Command)
		assert.Zero(t, gen.calls)
	})

	t.Run("model classification is used when valid", func(t *testing.T) {
		gen := &scriptedGenerator{responses: []string{`{"branch":"mechanical","action":"attack","target":"bandit"}`}}
		stage := NewRouterStage(NewWrapper("router", gen, 3, time.Second, zap.NewNop()), zap.NewNop())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "swing my sword at the bandit", nil)

		res, err := stage.Run(context.Background(), ws)

		require.NoError(t, err)
		assert.Equal(t, BranchMechanical, res.Intent.Branch)
		assert.Equal(t, ActionAttack, res.Intent.Action)
		assert.Equal(t, "bandit", res.Intent.Target)
		assert.Empty(t, res.Warnings)
	})

	t.Run("mechanical intent without action defaults to explore", func(t *testing.T) {
		gen := &scriptedGenerator{responses: []string{`{"branch":"mechanical"}`}}
		stage := NewRouterStage(NewWrapper("router", gen, 3, time.Second, zap.NewNop()), zap.NewNop())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "hmm", nil)

		res, err := stage.Run(context.Background(), ws)

		require.NoError(t, err)
		assert.Equal(t, ActionExplore, res.Intent.Action)
	})

	t.Run("degraded routing falls back to the heuristic with a warning", func(t *testing.T) {
		gen := &scriptedGenerator{errs: []error{
			errors.New("down"), errors.New("down"), errors.New("down"),
		}}
		stage := NewRouterStage(NewWrapper("router", gen, 3, time.Second, zap.NewNop()), zap.NewNop())
		ws := NewWorkingState(projection, projection.Player.PlayerID, "attack the bandit", nil)

		res, err := stage.Run(context.Background(), ws)

		require.NoError(t, err)
		assert.Equal(t, BranchMechanical, res.Intent.Branch)
		assert.Equal(t, ActionAttack, res.Intent.Action)
		assert.Equal(t, "bandit", res.Intent.Target)
		assert.Contains(t, res.Warnings, "router_fallback_used")
	})
}

func TestHeuristicIntent(t *testing.T) {
	tests := []struct {
		input string
		want  Intent
	}{
		{"attack the bandit", Intent{Branch: BranchMechanical, Action: ActionAttack, Target: "bandit"}},
		{"kill goblin", Intent{Branch: BranchMechanical, Action: ActionAttack, Target: "goblin"}},
		{"go to the forest", Intent{Branch: BranchMechanical, Action: ActionMove, Target: "forest"}},
		{"north", Intent{Branch: BranchMechanical, Action: ActionMove, Target: "north"}},
		{"talk to the merchant", Intent{Branch: BranchMechanical, Action: ActionTalk, Target: "merchant"}},
		{"drink my potion", Intent{Branch: BranchMechanical, Action: ActionUseItem, Target: "potion"}},
		{"rest for a while", Intent{Branch: BranchMechanical, Action: ActionRest}},
		{"status", Intent{Branch: BranchMeta, Command: "status"}},
		{"look around carefully", Intent{Branch: BranchMechanical, Action: ActionExplore, Target: "around carefully"}},
		{"", Intent{Branch: BranchMechanical, Action: ActionExplore}},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, heuristicIntent(tc.input))
		})
	}
}
