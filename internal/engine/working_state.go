package engine

import (
	"fmt"

	"github.com/google/uuid"

	"rpg-server/internal/models"
)

// Phase is the turn lifecycle phase. Transitions follow a fixed table; no
// state between STARTED and COMMITTED/ABORTED is externally observable.
type Phase string

const (
	PhaseStarted          Phase = "STARTED"
	PhaseRouted           Phase = "ROUTED"
	PhaseMechanicsApplied Phase = "MECHANICS_APPLIED"
	PhaseNarrated         Phase = "NARRATED"
	PhaseCommitted        Phase = "COMMITTED"
	PhaseAborted          Phase = "ABORTED"
)

// phaseTransitions is the allowed transition table. The meta branch goes
// straight from ROUTED to NARRATED since it bypasses mechanics.
var phaseTransitions = map[Phase][]Phase{
	PhaseStarted:          {PhaseRouted, PhaseAborted},
	PhaseRouted:           {PhaseMechanicsApplied, PhaseNarrated, PhaseAborted},
	PhaseMechanicsApplied: {PhaseNarrated, PhaseAborted},
	PhaseNarrated:         {PhaseCommitted, PhaseAborted},
}

// Branch selects the stage sequence for a routed turn.
type Branch string

const (
	// BranchMeta handles out-of-world commands, bypassing mechanics.
	BranchMeta Branch = "meta"
	// BranchMechanical runs the full stage sequence.
	BranchMechanical Branch = "mechanical"
)

// ActionType is the classified in-world action of a mechanical turn.
type ActionType string

const (
	ActionAttack  ActionType = "attack"
	ActionMove    ActionType = "move"
	ActionTalk    ActionType = "talk"
	ActionUseItem ActionType = "use_item"
	ActionRest    ActionType = "rest"
	ActionExplore ActionType = "explore"
)

// Intent is the router's classification of the raw player input.
type Intent struct {
	Branch  Branch     `json:"branch"`
	Action  ActionType `json:"action,omitempty"`
	Target  string     `json:"target,omitempty"`
	Command string     `json:"command,omitempty"`
}

// Sink receives narration tokens as they become available. Transport framing
// is the caller's concern.
type Sink interface {
	Emit(token string) error
}

// WorkingState is the ephemeral per-turn aggregate passed between stages.
// It is owned by the orchestrator for the duration of one turn and never
// persisted; only the resulting events are.
type WorkingState struct {
	CampaignID uuid.UUID
	PlayerID   uuid.UUID
	TurnNumber int
	RawInput   string

	Phase  Phase
	Intent Intent

	// Projection is the committed state the turn started from. Read-only;
	// stages express changes as events.
	Projection models.Projection

	// Exits lists the current location's exits, resolved by the orchestrator
	// before the mechanical stages run. ExitsKnown is false when the catalog
	// could not be consulted; moves then go through unvalidated.
	Exits      []string
	ExitsKnown bool

	// Sink, when set, receives narration tokens incrementally.
	Sink Sink

	Events      []models.TurnEvent
	Fragments   []string
	Scene       string
	Suggestions []string
	Narration   string
	Warnings    []string
}

// NewWorkingState seeds the working state for one turn from a committed
// projection.
func NewWorkingState(projection models.Projection, playerID uuid.UUID, rawInput string, sink Sink) *WorkingState {
	return &WorkingState{
		CampaignID: projection.CampaignID,
		PlayerID:   playerID,
		TurnNumber: projection.TurnNumber + 1,
		RawInput:   rawInput,
		Phase:      PhaseStarted,
		Projection: projection,
		Sink:       sink,
	}
}

// advance moves the turn to the next phase, enforcing the transition table.
func (ws *WorkingState) advance(next Phase) error {
	for _, allowed := range phaseTransitions[ws.Phase] {
		if allowed == next {
			ws.Phase = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, ws.Phase, next)
}

// merge folds a stage result into the working state.
func (ws *WorkingState) merge(res StageResult) {
	if res.Intent != nil {
		ws.Intent = *res.Intent
	}
	ws.Events = append(ws.Events, res.Events...)
	ws.Fragments = append(ws.Fragments, res.Fragments...)
	if res.Scene != "" {
		ws.Scene = res.Scene
	}
	if len(res.Suggestions) > 0 {
		ws.Suggestions = res.Suggestions
	}
	if res.Narration != "" {
		ws.Narration = res.Narration
	}
	ws.Warnings = append(ws.Warnings, res.Warnings...)
}

// View returns the projection with this turn's pending events applied.
// Used by later stages that need to see earlier stages' outcomes.
func (ws *WorkingState) View() models.Projection {
	view, err := models.Fold(ws.Projection, ws.Events)
	if err != nil {
		// Pending events come from our own stages; a fold failure is a bug
		// that the commit-path fold will surface as a fatal error.
		return ws.Projection.Clone()
	}
	return view
}

// Event appends a pending event for this turn.
func (ws *WorkingState) Event(kind models.EventKind, payload any) models.TurnEvent {
	return models.NewTurnEvent(ws.CampaignID, ws.TurnNumber, kind, payload)
}
