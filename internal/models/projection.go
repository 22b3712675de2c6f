package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Projection is the derived, read-optimized snapshot of campaign state.
// It is a cache over the turn event journal: always reproducible by folding
// the events in order, never patched outside the commit boundary.
type Projection struct {
	CampaignID uuid.UUID        `json:"campaignId"`
	Name       string           `json:"name"`
	TurnNumber int              `json:"turnNumber"`
	Player     PlayerState      `json:"player"`
	Party      []CompanionState `json:"party"`
	World      WorldState       `json:"world"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// PlayerState is the player slice of the projection.
type PlayerState struct {
	PlayerID   uuid.UUID      `json:"playerId"`
	Name       string         `json:"name"`
	Stats      map[string]int `json:"stats"`
	Alignment  int            `json:"alignment"`
	Inventory  []string       `json:"inventory"`
	Reputation map[string]int `json:"reputation"`
}

// CompanionState is one party member's slice of the projection.
type CompanionState struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Mood    string `json:"mood"`
	Loyalty int    `json:"loyalty"`
}

// WorldState is the world slice of the projection.
type WorldState struct {
	Clock      int                 `json:"clock"`
	LocationID string              `json:"locationId"`
	Threat     int                 `json:"threat"`
	NPCs       map[string]NPCState `json:"npcs"`
}

// NPCState is an NPC currently present in the active scene.
type NPCState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HP        int    `json:"hp"`
	Defense   int    `json:"defense"`
	Hostile   bool   `json:"hostile"`
	FactionID string `json:"factionId,omitempty"`
}

// Clone returns a deep copy. Stages receive copies so the committed
// projection is never mutated outside the commit boundary.
func (p Projection) Clone() Projection {
	out := p
	out.Player.Stats = cloneIntMap(p.Player.Stats)
	out.Player.Reputation = cloneIntMap(p.Player.Reputation)
	out.Player.Inventory = append([]string(nil), p.Player.Inventory...)
	out.Party = append([]CompanionState(nil), p.Party...)
	if p.World.NPCs != nil {
		out.World.NPCs = make(map[string]NPCState, len(p.World.NPCs))
		for k, v := range p.World.NPCs {
			out.World.NPCs[k] = v
		}
	}
	return out
}

// Apply folds a single event into the projection in place.
// Unknown event kinds are programming errors and abort the fold.
func (p *Projection) Apply(ev TurnEvent) error {
	switch ev.Kind {
	case KindCampaignCreated:
		var payload CampaignCreatedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		p.CampaignID = ev.CampaignID
		p.Name = payload.Name
		p.Player = PlayerState{
			PlayerID:   payload.PlayerID,
			Name:       payload.PlayerName,
			Stats:      cloneIntMap(payload.Stats),
			Reputation: map[string]int{},
		}
		p.World = WorldState{LocationID: payload.LocationID, NPCs: map[string]NPCState{}}

	case KindAttackResolved:
		var payload AttackResolvedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		if npc, ok := p.World.NPCs[payload.TargetID]; ok {
			npc.HP = payload.TargetHPLeft
			if payload.Defeated {
				delete(p.World.NPCs, payload.TargetID)
			} else {
				p.World.NPCs[payload.TargetID] = npc
			}
		}

	case KindMoved:
		var payload MovedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		p.World.LocationID = payload.ToLocationID
		// Leaving a location ends its encounters.
		p.World.NPCs = map[string]NPCState{}

	case KindItemUsed:
		var payload ItemUsedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		if payload.Consumed {
			p.Player.Inventory = removeFirst(p.Player.Inventory, payload.Item)
		}
		applyDeltas(p.Player.Stats, payload.StatDeltas)

	case KindRested:
		var payload RestedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		applyDeltas(p.Player.Stats, payload.StatDeltas)

	case KindTalked:
		// Talk outcomes carry no projection change; reputation shifts arrive
		// as separate events.

	case KindStatsChanged:
		var payload StatsChangedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		applyDeltas(p.Player.Stats, payload.Deltas)

	case KindAlignmentShifted:
		var payload AlignmentShiftedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		p.Player.Alignment += payload.Delta

	case KindReputationChanged:
		var payload ReputationChangedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		if p.Player.Reputation == nil {
			p.Player.Reputation = map[string]int{}
		}
		p.Player.Reputation[payload.FactionID] += payload.Delta

	case KindEncounterSpawned:
		var payload EncounterSpawnedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		if p.World.NPCs == nil {
			p.World.NPCs = map[string]NPCState{}
		}
		p.World.NPCs[payload.NPCID] = NPCState{
			ID:        payload.NPCID,
			Name:      payload.NPCName,
			HP:        payload.HP,
			Defense:   payload.Defense,
			Hostile:   payload.Hostile,
			FactionID: payload.FactionID,
		}

	case KindEncounterCleared:
		var payload EncounterClearedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		delete(p.World.NPCs, payload.NPCID)

	case KindReaction:
		var payload ReactionPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		for i := range p.Party {
			if p.Party[i].ID == payload.CompanionID {
				p.Party[i].Mood = payload.Mood
				p.Party[i].Loyalty += payload.LoyaltyDelta
			}
		}

	case KindClockAdvanced:
		var payload ClockAdvancedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		p.World.Clock += payload.Ticks

	case KindThreatChanged:
		var payload ThreatChangedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal %s payload: %w", ev.Kind, err)
		}
		p.World.Threat += payload.Delta
		if p.World.Threat < 0 {
			p.World.Threat = 0
		}

	case KindMetaCommandResolved:
		// Meta commands never change the projection.

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	if ev.TurnNumber > p.TurnNumber {
		p.TurnNumber = ev.TurnNumber
	}
	p.UpdatedAt = ev.CreatedAt
	return nil
}

// Fold replays an ordered event list over an initial projection and returns
// the result. The fold is pure: the same input always yields the same output.
func Fold(initial Projection, events []TurnEvent) (Projection, error) {
	out := initial.Clone()
	for _, ev := range events {
		if err := out.Apply(ev); err != nil {
			return Projection{}, fmt.Errorf("fold event %s (turn %d): %w", ev.EventID, ev.TurnNumber, err)
		}
	}
	return out, nil
}

func applyDeltas(stats map[string]int, deltas map[string]int) {
	for k, d := range deltas {
		stats[k] += d
		if stats[k] < 0 {
			stats[k] = 0
		}
	}
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func removeFirst(items []string, item string) []string {
	for i, v := range items {
		if v == item {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}
