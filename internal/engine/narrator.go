package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const narratorSystemPrompt = `You are the narrator of a turn-based RPG. Given
the scene frame and the turn's resolved outcomes, write two to four sentences
of second-person prose describing what happened. Never contradict the resolved
outcomes, never invent mechanical results, no lists, no JSON, prose only.`

var narrationSchema = Schema{
	Name:      "narrate_turn",
	PlainText: true,
	MinBytes:  40,
	MaxBytes:  2000,
}

// NarratorStage turns the resolved mechanics into prose. Model-backed through
// the reliability wrapper; the fallback stitches the mechanical fragments into
// serviceable if flat narration. Tokens are pushed to the sink only after the
// full narration validates, so a degraded turn never streams half a failure.
type NarratorStage struct {
	wrapper *Wrapper
	logger  *zap.Logger
}

// NewNarratorStage builds the narrator with its injected wrapper.
func NewNarratorStage(wrapper *Wrapper, logger *zap.Logger) *NarratorStage {
	return &NarratorStage{wrapper: wrapper, logger: logger.Named("narrator")}
}

func (s *NarratorStage) Name() string { return "narrator" }
func (s *NarratorStage) Fatal() bool  { return false }

// Run implements Stage.
func (s *NarratorStage) Run(ctx context.Context, ws *WorkingState) (StageResult, error) {
	userInput := TurnSummary(ws)
	if ws.Scene != "" {
		userInput = "Scene: " + ws.Scene + "\n" + userInput
	}

	outcome := s.wrapper.Invoke(ctx, narrationSchema, narratorSystemPrompt, userInput, func() []byte {
		return []byte(fallbackNarration(ws))
	})

	narration := strings.TrimSpace(string(outcome.Payload))
	s.stream(ws, narration)

	res := StageResult{Narration: narration}
	if outcome.Degraded {
		res.Warnings = append(res.Warnings, outcome.Warning)
	}
	return res, nil
}

// stream pushes the validated narration to the sink word by word. Sink errors
// mean the client went away; narration still commits.
func (s *NarratorStage) stream(ws *WorkingState, narration string) {
	if ws.Sink == nil {
		return
	}
	words := strings.Fields(narration)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		if err := ws.Sink.Emit(word); err != nil {
			s.logger.Debug("Narration sink closed mid-stream", zap.Error(err))
			return
		}
	}
}

// fallbackNarration builds flat but truthful prose from the turn's fragments.
func fallbackNarration(ws *WorkingState) string {
	parts := make([]string, 0, len(ws.Fragments)+2)
	if ws.Scene != "" {
		parts = append(parts, ws.Scene)
	}
	parts = append(parts, ws.Fragments...)
	if len(parts) == 0 {
		parts = append(parts, "You take in your surroundings, and the moment passes without incident.")
	}
	return strings.Join(parts, " ")
}
