package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rpg-server/internal/clients"
	"rpg-server/internal/models"
)

// Committer is the commit boundary: it durably appends the turn's events,
// stores the refreshed projection and transcript entry, and enforces the
// single-writer-per-campaign rule. All or nothing.
type Committer interface {
	CommitTurn(ctx context.Context, campaignID uuid.UUID, turnNumber int,
		events []models.TurnEvent, projection models.Projection,
		playerInput, narration string) (models.CommitResult, error)
}

// Stages groups the pipeline stages in execution order.
type Stages struct {
	Router    Stage
	Mechanic  Stage
	Encounter Stage
	WorldSim  Stage
	Reaction  Stage
	Director  Stage
	Narrator  Stage
	Meta      Stage
}

// Orchestrator runs one player input through the stage pipeline and commits
// the result. It owns the working state and the phase machine; stages only
// ever see the state through their Run contract.
type Orchestrator struct {
	stages     Stages
	committer  Committer
	content    clients.ContentReader
	turnBudget time.Duration
	logger     *zap.Logger
}

// NewOrchestrator builds the turn orchestrator.
func NewOrchestrator(stages Stages, committer Committer, content clients.ContentReader, turnBudget time.Duration, logger *zap.Logger) *Orchestrator {
	if turnBudget <= 0 {
		turnBudget = 90 * time.Second
	}
	return &Orchestrator{
		stages:     stages,
		committer:  committer,
		content:    content,
		turnBudget: turnBudget,
		logger:     logger.Named("orchestrator"),
	}
}

// RunTurn executes one turn from the given committed projection. On success
// the turn is committed and the refreshed player state returned; on any fatal
// failure nothing is persisted and the error wraps ErrTurnAborted.
func (o *Orchestrator) RunTurn(ctx context.Context, projection models.Projection, playerID uuid.UUID, rawInput string, sink Sink) (*models.TurnResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.turnBudget)
	defer cancel()

	ws := NewWorkingState(projection, playerID, rawInput, sink)
	o.logger.Info("Turn started",
		zap.String("campaignId", ws.CampaignID.String()),
		zap.Int("turn", ws.TurnNumber))

	if err := o.runStage(ctx, o.stages.Router, ws); err != nil {
		return o.abort(ws, err)
	}
	if err := ws.advance(PhaseRouted); err != nil {
		return o.abort(ws, err)
	}

	if ws.Intent.Branch == BranchMeta {
		if err := o.runStage(ctx, o.stages.Meta, ws); err != nil {
			return o.abort(ws, err)
		}
	} else {
		if ws.Intent.Action == ActionMove {
			o.seedExits(ctx, ws)
		}
		for _, stage := range []Stage{o.stages.Mechanic, o.stages.Encounter, o.stages.WorldSim, o.stages.Reaction} {
			if err := o.runStage(ctx, stage, ws); err != nil {
				return o.abort(ws, err)
			}
		}
		if err := ws.advance(PhaseMechanicsApplied); err != nil {
			return o.abort(ws, err)
		}
		for _, stage := range []Stage{o.stages.Director, o.stages.Narrator} {
			if err := o.runStage(ctx, stage, ws); err != nil {
				return o.abort(ws, err)
			}
		}
	}
	if err := ws.advance(PhaseNarrated); err != nil {
		return o.abort(ws, err)
	}

	// Seq fixes the in-turn order the journal will replay.
	for i := range ws.Events {
		ws.Events[i].Seq = i
	}

	final, err := models.Fold(ws.Projection, ws.Events)
	if err != nil {
		return o.abort(ws, fmt.Errorf("failed to fold turn events: %w", err))
	}
	final.TurnNumber = ws.TurnNumber

	result, err := o.committer.CommitTurn(ctx, ws.CampaignID, ws.TurnNumber, ws.Events, final, ws.RawInput, ws.Narration)
	if err != nil {
		return o.abort(ws, err)
	}
	if err := ws.advance(PhaseCommitted); err != nil {
		return nil, err
	}
	turnsTotal.WithLabelValues("committed").Inc()
	o.logger.Info("Turn committed",
		zap.String("campaignId", ws.CampaignID.String()),
		zap.Int("turn", result.TurnNumber),
		zap.Int("events", result.EventCount),
		zap.Strings("warnings", ws.Warnings))

	return &models.TurnResponse{
		CampaignID:   ws.CampaignID,
		TurnNumber:   result.TurnNumber,
		NarratedText: ws.Narration,
		Suggestions:  nonNil(ws.Suggestions),
		Player:       result.Projection.Player,
		Warnings:     nonNil(ws.Warnings),
	}, nil
}

// seedExits resolves the current location's exits onto the working state so
// the mechanic can validate moves without leaving the process. A catalog
// failure leaves the exits unknown and surfaces a warning; the move itself
// proceeds unvalidated either way.
func (o *Orchestrator) seedExits(ctx context.Context, ws *WorkingState) {
	if o.content == nil {
		return
	}
	loc, err := o.content.GetLocation(ctx, ws.Projection.World.LocationID)
	if err != nil {
		o.logger.Warn("Exit lookup failed, move goes unvalidated",
			zap.String("campaignId", ws.CampaignID.String()),
			zap.String("locationId", ws.Projection.World.LocationID),
			zap.Error(err))
		ws.Warnings = append(ws.Warnings, "exit_check_skipped")
		return
	}
	ws.Exits = loc.Exits
	ws.ExitsKnown = true
}

// runStage executes one stage and merges its result. Non-fatal stage errors
// degrade to a warning; fatal ones propagate and abort the turn.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, ws *WorkingState) error {
	start := time.Now()
	res, err := stage.Run(ctx, ws)
	stageDuration.WithLabelValues(stage.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if stage.Fatal() {
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		o.logger.Warn("Non-fatal stage failed, continuing degraded",
			zap.String("stage", stage.Name()), zap.Error(err))
		ws.Warnings = append(ws.Warnings, stage.Name()+"_skipped")
		return nil
	}
	ws.merge(res)
	return nil
}

// abort marks the turn aborted without persisting anything. The returned
// error chains ErrTurnAborted with the cause, so callers can still detect
// ErrTurnConflict underneath.
func (o *Orchestrator) abort(ws *WorkingState, cause error) (*models.TurnResponse, error) {
	ws.Phase = PhaseAborted
	turnsTotal.WithLabelValues("aborted").Inc()
	o.logger.Error("Turn aborted",
		zap.String("campaignId", ws.CampaignID.String()),
		zap.Int("turn", ws.TurnNumber),
		zap.Error(cause))
	return nil, errors.Join(models.ErrTurnAborted, cause)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
