package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"rpg-server/internal/clients"
	"rpg-server/internal/models"
)

const contextEncoding = "cl100k_base"

// PromptBuilder assembles prompt context for the model-backed stages from the
// retrieval collaborator, trimmed to a token budget. Deterministic stages
// never use it.
type PromptBuilder struct {
	contextReader clients.ContextReader
	tokenBudget   int
	logger        *zap.Logger
}

// NewPromptBuilder creates a prompt builder with the given token budget.
func NewPromptBuilder(contextReader clients.ContextReader, tokenBudget int, logger *zap.Logger) *PromptBuilder {
	return &PromptBuilder{
		contextReader: contextReader,
		tokenBudget:   tokenBudget,
		logger:        logger.Named("prompts"),
	}
}

// LoreContext fetches retrieval passages for the query. Retrieval failures
// degrade to an empty context: prompts still work, just with less flavor.
func (b *PromptBuilder) LoreContext(ctx context.Context, query string) string {
	if b.contextReader == nil {
		return ""
	}
	passages, err := b.contextReader.GetRelevantContext(ctx, query, b.tokenBudget)
	if err != nil {
		b.logger.Warn("Context retrieval failed, continuing without lore", zap.Error(err))
		return ""
	}
	var sb strings.Builder
	for _, p := range passages {
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}
	return truncateToTokens(sb.String(), b.tokenBudget)
}

// TurnSummary renders the turn's pending events as terse prompt lines.
func TurnSummary(ws *WorkingState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Player: %s. Location: %s. Turn %d.\n",
		ws.Projection.Player.Name, ws.Projection.World.LocationID, ws.TurnNumber)
	fmt.Fprintf(&sb, "Input: %s\n", ws.RawInput)
	for _, fragment := range ws.Fragments {
		sb.WriteString(fragment)
		sb.WriteString("\n")
	}
	for _, ev := range ws.Events {
		fmt.Fprintf(&sb, "Event %s: %s\n", ev.Kind, string(ev.Payload))
	}
	view := ws.View()
	for _, npc := range sortedNPCs(view.World.NPCs) {
		fmt.Fprintf(&sb, "Present: %s (hp %d, hostile %v)\n", npc.Name, npc.HP, npc.Hostile)
	}
	return sb.String()
}

func sortedNPCs(npcs map[string]models.NPCState) []models.NPCState {
	out := make([]models.NPCState, 0, len(npcs))
	for _, id := range sortedKeys(npcs) {
		out = append(out, npcs[id])
	}
	return out
}

// truncateToTokens trims text to the token budget using the cl100k encoding.
// When the tokenizer is unavailable it falls back to a rough 4-bytes-per-token
// cut so prompts never blow the window.
func truncateToTokens(text string, budget int) string {
	if budget <= 0 || text == "" {
		return text
	}
	tke, err := tiktoken.GetEncoding(contextEncoding)
	if err != nil {
		limit := budget * 4
		if len(text) > limit {
			return text[:limit]
		}
		return text
	}
	tokens := tke.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return tke.Decode(tokens[:budget])
}
