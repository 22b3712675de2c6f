package engine

import (
	"context"

	"rpg-server/internal/models"
)

// Stage is one unit of the turn pipeline. A stage reads the working state and
// returns a partial update; it never touches persistence directly.
type Stage interface {
	// Name identifies the stage in logs, metrics and warnings.
	Name() string
	// Fatal reports whether an error from this stage aborts the whole turn.
	// Deterministic stages are fatal: their errors are bugs, not transient
	// failures. Model-backed stages are never fatal; they degrade instead.
	Fatal() bool
	// Run executes the stage against the current working state.
	Run(ctx context.Context, ws *WorkingState) (StageResult, error)
}

// StageResult is the output contract of a single stage: a partial update to
// the working state plus zero or more warnings.
type StageResult struct {
	Intent      *Intent
	Events      []models.TurnEvent
	Fragments   []string
	Scene       string
	Suggestions []string
	Narration   string
	Warnings    []string
}
