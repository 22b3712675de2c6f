package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rpg-server/internal/models"
)

// Attack resolution constants. The roll is a d20 against a base difficulty
// plus the target's defense.
const (
	attackBaseDifficulty = 10
	attackDieSides       = 20
	damageDieSides       = 6
)

// MechanicStage is the pure rules engine: it computes stat deltas, alignment
// and reputation shifts, and success/failure resolution from fixed formulas.
// Where randomness is needed the rolls come from a generator seeded by
// (campaignID, turnNumber), so the same input always reproduces the same
// result. No external calls; errors here are bugs and abort the turn.
type MechanicStage struct {
	logger *zap.Logger
}

// NewMechanicStage builds the rules engine stage.
func NewMechanicStage(logger *zap.Logger) *MechanicStage {
	return &MechanicStage{logger: logger.Named("mechanic")}
}

func (s *MechanicStage) Name() string { return "mechanic" }
func (s *MechanicStage) Fatal() bool  { return true }

// Run implements Stage.
func (s *MechanicStage) Run(_ context.Context, ws *WorkingState) (StageResult, error) {
	rng := turnRNG(ws.CampaignID, ws.TurnNumber, s.Name())

	switch ws.Intent.Action {
	case ActionAttack:
		return s.resolveAttack(ws, rng.Intn(attackDieSides)+1, rng.Intn(damageDieSides)+1)
	case ActionMove:
		return s.resolveMove(ws)
	case ActionUseItem:
		return s.resolveUseItem(ws)
	case ActionRest:
		return s.resolveRest(ws, rng.Intn(4)+2)
	case ActionTalk:
		return s.resolveTalk(ws, rng.Intn(attackDieSides)+1)
	case ActionExplore:
		// Exploration has no direct mechanical effect; the encounter resolver
		// and world simulator own its consequences.
		return StageResult{}, nil
	default:
		return StageResult{}, fmt.Errorf("mechanic: unsupported action %q", ws.Intent.Action)
	}
}

type diceRoll = int

func (s *MechanicStage) resolveAttack(ws *WorkingState, hitRoll, damageRoll diceRoll) (StageResult, error) {
	target, ok := findNPC(ws.Projection.World.NPCs, ws.Intent.Target)
	if !ok {
		return StageResult{Fragments: []string{"There is nothing here to attack."}}, nil
	}

	strength := ws.Projection.Player.Stats["strength"]
	hit := hitRoll+strength/5 >= attackBaseDifficulty+target.Defense

	damage := 0
	hpLeft := target.HP
	if hit {
		damage = damageRoll + strength/10
		hpLeft = target.HP - damage
		if hpLeft < 0 {
			hpLeft = 0
		}
	}
	defeated := hit && hpLeft == 0

	res := StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindAttackResolved, models.AttackResolvedPayload{
				TargetID:     target.ID,
				TargetName:   target.Name,
				Hit:          hit,
				Damage:       damage,
				TargetHPLeft: hpLeft,
				Defeated:     defeated,
			}),
		},
	}

	if hit {
		res.Fragments = append(res.Fragments,
			fmt.Sprintf("You hit the %s for %d damage.", target.Name, damage))
	} else {
		res.Fragments = append(res.Fragments,
			fmt.Sprintf("Your attack misses the %s.", target.Name))
	}

	// Violence against the peaceful costs standing and alignment.
	if !target.Hostile {
		res.Events = append(res.Events,
			ws.Event(models.KindAlignmentShifted, models.AlignmentShiftedPayload{Delta: -2}))
		if target.FactionID != "" {
			res.Events = append(res.Events,
				ws.Event(models.KindReputationChanged, models.ReputationChangedPayload{FactionID: target.FactionID, Delta: -3}))
		}
	} else if defeated {
		res.Events = append(res.Events,
			ws.Event(models.KindAlignmentShifted, models.AlignmentShiftedPayload{Delta: 1}))
	}

	return res, nil
}

func (s *MechanicStage) resolveMove(ws *WorkingState) (StageResult, error) {
	if ws.Intent.Target == "" {
		return StageResult{Fragments: []string{"Move where?"}}, nil
	}
	from := ws.Projection.World.LocationID
	to := ws.Intent.Target

	// Exits are pre-resolved onto the working state; when they are unknown
	// the move goes through so handcrafted campaigns still work.
	if ws.ExitsKnown && !contains(ws.Exits, to) {
		return StageResult{Fragments: []string{"You can't go that way."}}, nil
	}

	return StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindMoved, models.MovedPayload{FromLocationID: from, ToLocationID: to}),
		},
		Fragments: []string{fmt.Sprintf("You travel to %s.", to)},
	}, nil
}

func (s *MechanicStage) resolveUseItem(ws *WorkingState) (StageResult, error) {
	item := ws.Intent.Target
	if item == "" || !contains(ws.Projection.Player.Inventory, item) {
		return StageResult{Fragments: []string{"You don't have that."}}, nil
	}

	payload := models.ItemUsedPayload{Item: item, Consumed: true}
	if strings.Contains(item, "potion") || strings.Contains(item, "elixir") {
		payload.StatDeltas = map[string]int{"hp": 10}
	}

	return StageResult{
		Events:    []models.TurnEvent{ws.Event(models.KindItemUsed, payload)},
		Fragments: []string{fmt.Sprintf("You use the %s.", item)},
	}, nil
}

func (s *MechanicStage) resolveRest(ws *WorkingState, recovery int) (StageResult, error) {
	if hostilesPresent(ws.Projection.World.NPCs) {
		return StageResult{Fragments: []string{"You cannot rest with enemies nearby."}}, nil
	}
	return StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindRested, models.RestedPayload{StatDeltas: map[string]int{"hp": recovery}}),
		},
		Fragments: []string{"You take a moment to rest."},
	}, nil
}

func (s *MechanicStage) resolveTalk(ws *WorkingState, roll diceRoll) (StageResult, error) {
	target, ok := findNPC(ws.Projection.World.NPCs, ws.Intent.Target)
	if !ok {
		return StageResult{Fragments: []string{"There is no one here to talk to."}}, nil
	}

	charisma := ws.Projection.Player.Stats["charisma"]
	success := roll+charisma/5 >= attackBaseDifficulty

	res := StageResult{
		Events: []models.TurnEvent{
			ws.Event(models.KindTalked, models.TalkedPayload{TargetID: target.ID, Success: success}),
		},
	}
	if success {
		res.Fragments = append(res.Fragments, fmt.Sprintf("The %s listens to you.", target.Name))
		if target.FactionID != "" {
			res.Events = append(res.Events,
				ws.Event(models.KindReputationChanged, models.ReputationChangedPayload{FactionID: target.FactionID, Delta: 1}))
		}
	} else {
		res.Fragments = append(res.Fragments, fmt.Sprintf("The %s ignores you.", target.Name))
	}
	return res, nil
}

// findNPC matches an NPC in the active scene by id or name fragment,
// scanning in stable key order.
func findNPC(npcs map[string]models.NPCState, target string) (models.NPCState, bool) {
	target = strings.ToLower(strings.TrimSpace(target))
	for _, id := range sortedKeys(npcs) {
		npc := npcs[id]
		if target == "" ||
			strings.EqualFold(npc.ID, target) ||
			strings.Contains(strings.ToLower(npc.Name), target) {
			return npc, true
		}
	}
	return models.NPCState{}, false
}

func hostilesPresent(npcs map[string]models.NPCState) bool {
	for _, npc := range npcs {
		if npc.Hostile {
			return true
		}
	}
	return false
}
