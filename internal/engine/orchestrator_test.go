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

type fakeStage struct {
	name   string
	fatal  bool
	result StageResult
	err    error
	calls  int
}

func (s *fakeStage) Name() string { return s.name }
func (s *fakeStage) Fatal() bool  { return s.fatal }
func (s *fakeStage) Run(_ context.Context, _ *WorkingState) (StageResult, error) {
	s.calls++
	return s.result, s.err
}

type fakeCommitter struct {
	err        error
	campaignID uuid.UUID
	turnNumber int
	events     []models.TurnEvent
	projection models.Projection
	narration  string
	calls      int
}

func (c *fakeCommitter) CommitTurn(_ context.Context, campaignID uuid.UUID, turnNumber int,
	events []models.TurnEvent, projection models.Projection, _, narration string) (models.CommitResult, error) {
	c.calls++
	if c.err != nil {
		return models.CommitResult{}, c.err
	}
	c.campaignID = campaignID
	c.turnNumber = turnNumber
	c.events = events
	c.projection = projection
	c.narration = narration
	return models.CommitResult{Projection: projection, TurnNumber: turnNumber, EventCount: len(events)}, nil
}

func mechanicalRouter() *fakeStage {
	return &fakeStage{name: "router", result: StageResult{
		Intent: &Intent{Branch: BranchMechanical, Action: ActionRest},
	}}
}

func testStages(router *fakeStage) (Stages, map[string]*fakeStage) {
	byName := map[string]*fakeStage{
		"router":    router,
		"mechanic":  {name: "mechanic", fatal: true},
		"encounter": {name: "encounter"},
		"worldsim":  {name: "worldsim", fatal: true},
		"reaction":  {name: "reaction", fatal: true},
		"director":  {name: "director"},
		"narrator":  {name: "narrator"},
		"meta":      {name: "meta", fatal: true},
	}
	return Stages{
		Router:    byName["router"],
		Mechanic:  byName["mechanic"],
		Encounter: byName["encounter"],
		WorldSim:  byName["worldsim"],
		Reaction:  byName["reaction"],
		Director:  byName["director"],
		Narrator:  byName["narrator"],
		Meta:      byName["meta"],
	}, byName
}

func TestOrchestrator_RunTurn(t *testing.T) {
	t.Run("mechanical turn runs the full pipeline and commits", func(t *testing.T) {
		projection := testProjection(uuid.New())
		stages, byName := testStages(mechanicalRouter())
		byName["mechanic"].result = StageResult{Events: []models.TurnEvent{
			models.NewTurnEvent(projection.CampaignID, 5, models.KindRested, models.RestedPayload{StatDeltas: map[string]int{"hp": 3}}),
		}}
		byName["worldsim"].result = StageResult{Events: []models.TurnEvent{
			models.NewTurnEvent(projection.CampaignID, 5, models.KindClockAdvanced, models.ClockAdvancedPayload{Ticks: 1}),
		}}
		byName["director"].result = StageResult{Scene: "The camp settles.", Suggestions: []string{"a", "b", "c"}}
		byName["narrator"].result = StageResult{Narration: "You sleep soundly."}
		committer := &fakeCommitter{}
		o := NewOrchestrator(stages, committer, nil, time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "rest", nil)

		require.NoError(t, err)
		assert.Equal(t, 1, committer.calls)
		assert.Equal(t, projection.CampaignID, committer.campaignID)
		assert.Equal(t, projection.TurnNumber+1, committer.turnNumber)
		require.Len(t, committer.events, 2)
		for i, ev := range committer.events {
			assert.Equal(t, i, ev.Seq)
		}
		assert.Equal(t, projection.TurnNumber+1, committer.projection.TurnNumber)
		assert.Equal(t, "You sleep soundly.", committer.narration)

		assert.Equal(t, projection.TurnNumber+1, resp.TurnNumber)
		assert.Equal(t, "You sleep soundly.", resp.NarratedText)
		assert.Equal(t, []string{"a", "b", "c"}, resp.Suggestions)
		assert.NotNil(t, resp.Warnings)
		assert.Zero(t, byName["meta"].calls)
	})

	t.Run("meta branch bypasses mechanics", func(t *testing.T) {
		projection := testProjection(uuid.New())
		router := &fakeStage{name: "router", result: StageResult{
			Intent: &Intent{Branch: BranchMeta, Command: "status"},
		}}
		stages, byName := testStages(router)
		byName["meta"].result = StageResult{Narration: "HP 20."}
		committer := &fakeCommitter{}
		o := NewOrchestrator(stages, committer, nil, time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "/status", nil)

		require.NoError(t, err)
		assert.Equal(t, "HP 20.", resp.NarratedText)
		assert.Equal(t, 1, byName["meta"].calls)
		for _, name := range []string{"mechanic", "encounter", "worldsim", "reaction", "director", "narrator"} {
			assert.Zerof(t, byName[name].calls, "stage %s should not run on the meta branch", name)
		}
		assert.Equal(t, 1, committer.calls)
	})

	t.Run("fatal stage failure aborts without committing", func(t *testing.T) {
		projection := testProjection(uuid.New())
		stages, byName := testStages(mechanicalRouter())
		byName["mechanic"].err = errors.New("bad action")
		committer := &fakeCommitter{}
		o := NewOrchestrator(stages, committer, nil, time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "rest", nil)

		assert.Nil(t, resp)
		assert.ErrorIs(t, err, models.ErrTurnAborted)
		assert.Zero(t, committer.calls)
		assert.Zero(t, byName["narrator"].calls)
	})

	t.Run("non-fatal stage failure degrades to a warning", func(t *testing.T) {
		projection := testProjection(uuid.New())
		stages, byName := testStages(mechanicalRouter())
		byName["director"].err = errors.New("model down")
		byName["narrator"].result = StageResult{Narration: "You press on."}
		committer := &fakeCommitter{}
		o := NewOrchestrator(stages, committer, nil, time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "rest", nil)

		require.NoError(t, err)
		assert.Equal(t, 1, committer.calls)
		assert.Contains(t, resp.Warnings, "director_skipped")
	})

	t.Run("commit conflict stays detectable through the abort", func(t *testing.T) {
		projection := testProjection(uuid.New())
		stages, _ := testStages(mechanicalRouter())
		committer := &fakeCommitter{err: models.ErrTurnConflict}
		o := NewOrchestrator(stages, committer, nil, time.Minute, zap.NewNop())

		_, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "rest", nil)

		assert.ErrorIs(t, err, models.ErrTurnAborted)
		assert.ErrorIs(t, err, models.ErrTurnConflict)
	})

	t.Run("move validation runs against exits resolved before the stages", func(t *testing.T) {
		projection := testProjection(uuid.New())
		router := &fakeStage{name: "router", result: StageResult{
			Intent: &Intent{Branch: BranchMechanical, Action: ActionMove, Target: "gate"},
		}}
		stages, _ := testStages(router)
		stages.Mechanic = NewMechanicStage(zap.NewNop())
		committer := &fakeCommitter{}
		o := NewOrchestrator(stages, committer, dangerousRoad(), time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "go gate", nil)

		require.NoError(t, err)
		assert.NotContains(t, eventKinds(committer.events), models.KindMoved)
		assert.NotContains(t, resp.Warnings, "exit_check_skipped")
	})

	t.Run("catalog failure leaves the move unvalidated and warns", func(t *testing.T) {
		projection := testProjection(uuid.New())
		router := &fakeStage{name: "router", result: StageResult{
			Intent: &Intent{Branch: BranchMechanical, Action: ActionMove, Target: "gate"},
		}}
		stages, _ := testStages(router)
		stages.Mechanic = NewMechanicStage(zap.NewNop())
		committer := &fakeCommitter{}
		content := &fakeContent{locErr: errors.New("catalog unavailable")}
		o := NewOrchestrator(stages, committer, content, time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "go gate", nil)

		require.NoError(t, err)
		assert.Contains(t, eventKinds(committer.events), models.KindMoved)
		assert.Contains(t, resp.Warnings, "exit_check_skipped")
	})

	t.Run("stage warnings reach the response", func(t *testing.T) {
		projection := testProjection(uuid.New())
		router := &fakeStage{name: "router", result: StageResult{
			Intent:   &Intent{Branch: BranchMechanical, Action: ActionRest},
			Warnings: []string{"router_fallback_used"},
		}}
		stages, _ := testStages(router)
		committer := &fakeCommitter{}
		o := NewOrchestrator(stages, committer, nil, time.Minute, zap.NewNop())

		resp, err := o.RunTurn(context.Background(), projection, projection.Player.PlayerID, "rest", nil)

		require.NoError(t, err)
		assert.Contains(t, resp.Warnings, "router_fallback_used")
	})
}
