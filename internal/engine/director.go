package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

const directorSystemPrompt = `You are the scene director of a turn-based RPG.
Given the turn summary and lore, respond with a single JSON object:
{"scene": "<one or two sentences framing the current scene>",
"suggestions": ["<action>", "<action>", "<action>"]}.
Exactly three short, actionable suggestions. No prose outside the JSON.`

var sceneSchema = Schema{
	Name:     "direct_scene",
	MinBytes: 20,
	MaxBytes: 2048,
	Required: []string{"scene", "suggestions"},
	ExactArrayLens: map[string]int{
		"suggestions": 3,
	},
}

type scenePayload struct {
	Scene       string   `json:"scene"`
	Suggestions []string `json:"suggestions"`
}

// DirectorStage frames the scene and proposes the player's next options.
// Model-backed through the reliability wrapper; the fallback derives a frame
// and suggestions from the post-mechanics view, so the turn always gets
// exactly three suggestions.
type DirectorStage struct {
	wrapper *Wrapper
	prompts *PromptBuilder
	logger  *zap.Logger
}

// NewDirectorStage builds the director with its injected wrapper.
func NewDirectorStage(wrapper *Wrapper, prompts *PromptBuilder, logger *zap.Logger) *DirectorStage {
	return &DirectorStage{wrapper: wrapper, prompts: prompts, logger: logger.Named("director")}
}

func (s *DirectorStage) Name() string { return "director" }
func (s *DirectorStage) Fatal() bool  { return false }

// Run implements Stage.
func (s *DirectorStage) Run(ctx context.Context, ws *WorkingState) (StageResult, error) {
	userInput := TurnSummary(ws)
	if s.prompts != nil {
		if lore := s.prompts.LoreContext(ctx, ws.RawInput); lore != "" {
			userInput = "Lore:\n" + lore + "\n" + userInput
		}
	}

	outcome := s.wrapper.Invoke(ctx, sceneSchema, directorSystemPrompt, userInput, func() []byte {
		raw, _ := json.Marshal(fallbackScene(ws))
		return raw
	})

	var payload scenePayload
	if err := json.Unmarshal(outcome.Payload, &payload); err != nil {
		return StageResult{}, fmt.Errorf("failed to unmarshal scene payload: %w", err)
	}

	res := StageResult{Scene: payload.Scene, Suggestions: payload.Suggestions}
	if outcome.Degraded {
		res.Warnings = append(res.Warnings, outcome.Warning)
	}
	return res, nil
}

// fallbackScene frames the scene from the post-mechanics view alone.
func fallbackScene(ws *WorkingState) scenePayload {
	view := ws.View()

	payload := scenePayload{
		Scene:       fmt.Sprintf("You stand at %s.", view.World.LocationID),
		Suggestions: []string{"look around", "rest", "move on"},
	}
	for _, npc := range sortedNPCs(view.World.NPCs) {
		if npc.Hostile {
			payload.Scene = fmt.Sprintf("A hostile %s faces you at %s.", npc.Name, view.World.LocationID)
			payload.Suggestions = []string{
				"attack the " + npc.Name,
				"talk to the " + npc.Name,
				"retreat",
			}
		} else {
			payload.Scene = fmt.Sprintf("%s stands near you at %s.", npc.Name, view.World.LocationID)
			payload.Suggestions = []string{
				"talk to the " + npc.Name,
				"look around",
				"move on",
			}
		}
		break
	}
	return payload
}
