package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const routerSystemPrompt = `You classify a player's input for a turn-based RPG.
Respond with a single JSON object: {"branch": "meta"|"mechanical", "action":
"attack"|"move"|"talk"|"use_item"|"rest"|"explore", "target": "<string>",
"command": "<string>"}. Use branch "meta" only for out-of-game requests such
as asking for status or a recap. No prose, JSON only.`

var intentSchema = Schema{
	Name:     "route_intent",
	MaxBytes: 1024,
	Required: []string{"branch"},
	Enums: map[string][]string{
		"branch": {string(BranchMeta), string(BranchMechanical)},
		"action": {
			string(ActionAttack), string(ActionMove), string(ActionTalk),
			string(ActionUseItem), string(ActionRest), string(ActionExplore),
		},
	},
}

// RouterStage classifies raw input into a routing intent. Classification is
// delegated to a generator through the reliability wrapper; a keyword
// heuristic serves as the deterministic fallback, so routing never fails.
type RouterStage struct {
	wrapper *Wrapper
	logger  *zap.Logger
}

// NewRouterStage builds the router with its injected wrapper.
func NewRouterStage(wrapper *Wrapper, logger *zap.Logger) *RouterStage {
	return &RouterStage{wrapper: wrapper, logger: logger.Named("router")}
}

func (s *RouterStage) Name() string { return "router" }
func (s *RouterStage) Fatal() bool  { return false }

// Run implements Stage.
func (s *RouterStage) Run(ctx context.Context, ws *WorkingState) (StageResult, error) {
	input := strings.TrimSpace(ws.RawInput)

	// Slash commands route to the meta branch without a model call.
	if strings.HasPrefix(input, "/") {
		intent := Intent{Branch: BranchMeta, Command: strings.TrimPrefix(strings.Fields(input)[0], "/")}
		return StageResult{Intent: &intent}, nil
	}

	outcome := s.wrapper.Invoke(ctx, intentSchema, routerSystemPrompt, input, func() []byte {
		raw, _ := json.Marshal(heuristicIntent(input))
		return raw
	})

	var intent Intent
	if err := json.Unmarshal(outcome.Payload, &intent); err != nil {
		// The schema guarantees a JSON object, so this only fires for the
		// (already valid) fallback payload shape changing underneath us.
		return StageResult{}, fmt.Errorf("failed to unmarshal routed intent: %w", err)
	}
	if intent.Branch == BranchMechanical && intent.Action == "" {
		intent.Action = ActionExplore
	}

	res := StageResult{Intent: &intent}
	if outcome.Degraded {
		res.Warnings = append(res.Warnings, outcome.Warning)
	}
	return res, nil
}

// heuristicIntent is the deterministic routing fallback: a small keyword
// table over the first verb of the input.
func heuristicIntent(input string) Intent {
	words := strings.Fields(strings.ToLower(input))
	if len(words) == 0 {
		return Intent{Branch: BranchMechanical, Action: ActionExplore}
	}

	verb := words[0]
	target := extractTarget(words[1:])

	switch verb {
	case "status", "inventory", "recap", "help":
		return Intent{Branch: BranchMeta, Command: verb}
	case "attack", "strike", "hit", "fight", "kill", "shoot", "stab":
		return Intent{Branch: BranchMechanical, Action: ActionAttack, Target: target}
	case "go", "move", "walk", "enter", "leave", "north", "south", "east", "west":
		if target == "" {
			target = verb
		}
		return Intent{Branch: BranchMechanical, Action: ActionMove, Target: target}
	case "talk", "speak", "ask", "say", "greet", "persuade":
		return Intent{Branch: BranchMechanical, Action: ActionTalk, Target: target}
	case "use", "drink", "eat", "equip", "apply":
		return Intent{Branch: BranchMechanical, Action: ActionUseItem, Target: target}
	case "rest", "sleep", "camp", "wait":
		return Intent{Branch: BranchMechanical, Action: ActionRest}
	default:
		return Intent{Branch: BranchMechanical, Action: ActionExplore, Target: target}
	}
}

// extractTarget drops filler words and joins the rest.
func extractTarget(words []string) string {
	var kept []string
	for _, w := range words {
		switch w {
		case "the", "a", "an", "at", "to", "with", "on", "in", "my":
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}
