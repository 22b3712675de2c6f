package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rpg-server/internal/models"
)

const helpText = `Available commands: status, inventory, recap, help.
Anything else is treated as an in-world action.`

// MetaStage answers out-of-world commands (status, inventory, recap, help)
// from the committed projection. Meta turns bypass mechanics entirely and
// never change game state beyond the command-resolved marker event.
type MetaStage struct {
	logger *zap.Logger
}

// NewMetaStage builds the meta command stage.
func NewMetaStage(logger *zap.Logger) *MetaStage {
	return &MetaStage{logger: logger.Named("meta")}
}

func (s *MetaStage) Name() string { return "meta" }
func (s *MetaStage) Fatal() bool  { return true }

// Run implements Stage.
func (s *MetaStage) Run(_ context.Context, ws *WorkingState) (StageResult, error) {
	command := strings.ToLower(strings.TrimSpace(ws.Intent.Command))
	if command == "" {
		command = "help"
	}

	var text string
	switch command {
	case "status":
		text = renderStatus(ws.Projection)
	case "inventory":
		text = renderInventory(ws.Projection)
	case "recap":
		text = renderRecap(ws.Projection)
	case "help":
		text = helpText
	default:
		text = fmt.Sprintf("Unknown command %q.\n%s", command, helpText)
		command = "help"
	}

	return StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindMetaCommandResolved, models.MetaCommandPayload{Command: command}),
		},
		Narration:   text,
		Suggestions: []string{"/status", "/inventory", "/recap"},
	}, nil
}

func renderStatus(p models.Projection) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, turn %d.\n", p.Player.Name, p.TurnNumber)
	for _, stat := range sortedKeys(p.Player.Stats) {
		fmt.Fprintf(&sb, "%s: %d\n", stat, p.Player.Stats[stat])
	}
	fmt.Fprintf(&sb, "Alignment: %d\n", p.Player.Alignment)
	for _, faction := range sortedKeys(p.Player.Reputation) {
		fmt.Fprintf(&sb, "Reputation with %s: %d\n", faction, p.Player.Reputation[faction])
	}
	return strings.TrimSpace(sb.String())
}

func renderInventory(p models.Projection) string {
	if len(p.Player.Inventory) == 0 {
		return "Your pack is empty."
	}
	return "You are carrying: " + strings.Join(p.Player.Inventory, ", ") + "."
}

func renderRecap(p models.Projection) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Campaign %q, turn %d. You are at %s.",
		p.Name, p.TurnNumber, p.World.LocationID)
	if p.World.Threat > 0 {
		fmt.Fprintf(&sb, " Threat level is %d.", p.World.Threat)
	}
	for _, npc := range sortedNPCs(p.World.NPCs) {
		if npc.Hostile {
			fmt.Fprintf(&sb, " A hostile %s is nearby.", npc.Name)
		} else {
			fmt.Fprintf(&sb, " %s is nearby.", npc.Name)
		}
	}
	if len(p.Party) > 0 {
		names := make([]string, 0, len(p.Party))
		for _, companion := range p.Party {
			names = append(names, companion.Name)
		}
		fmt.Fprintf(&sb, " Traveling with you: %s.", strings.Join(names, ", "))
	}
	return sb.String()
}
