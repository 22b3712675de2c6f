package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the kind of a turn event.
type EventKind string

// Campaign lifecycle events.
const (
	// KindCampaignCreated records the creation of a campaign.
	KindCampaignCreated EventKind = "campaign.created"
)

// Action events. Events record facts that have occurred, never commands.
const (
	// KindAttackResolved records a resolved attack against an NPC.
	KindAttackResolved EventKind = "action.attack_resolved"
	// KindMoved records the player moving between locations.
	KindMoved EventKind = "action.moved"
	// KindItemUsed records consumption or use of an inventory item.
	KindItemUsed EventKind = "action.item_used"
	// KindRested records a rest action.
	KindRested EventKind = "action.rested"
	// KindTalked records a conversation attempt with an NPC.
	KindTalked EventKind = "action.talked"
)

// Player state events.
const (
	// KindStatsChanged records player stat deltas.
	KindStatsChanged EventKind = "player.stats_changed"
	// KindAlignmentShifted records an alignment shift.
	KindAlignmentShifted EventKind = "player.alignment_shifted"
	// KindReputationChanged records a faction reputation change.
	KindReputationChanged EventKind = "faction.reputation_changed"
)

// Encounter and world events.
const (
	// KindEncounterSpawned records an NPC entering the scene.
	KindEncounterSpawned EventKind = "encounter.spawned"
	// KindEncounterCleared records an NPC leaving the scene.
	KindEncounterCleared EventKind = "encounter.cleared"
	// KindReaction records a companion reaction to the turn's outcome.
	KindReaction EventKind = "party.reaction"
	// KindClockAdvanced records world clock progression.
	KindClockAdvanced EventKind = "world.clock_advanced"
	// KindThreatChanged records a world threat level change.
	KindThreatChanged EventKind = "world.threat_changed"
)

// Meta events.
const (
	// KindMetaCommandResolved records an out-of-world command (status, recap, ...).
	KindMetaCommandResolved EventKind = "meta.command_resolved"
)

// TurnEvent is an immutable record in the append-only turn journal.
// Ordering by (campaign_id, turn_number, seq) is the source of truth
// for all derived state.
type TurnEvent struct {
	EventID    uuid.UUID `json:"eventId"`
	CampaignID uuid.UUID `json:"campaignId"`
	TurnNumber int       `json:"turnNumber"`
	// Seq orders events within a single turn.
	Seq       int             `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewTurnEvent builds an event for the given turn with a marshalled payload.
// Marshalling errors here are programming errors; the payload types below
// always marshal.
func NewTurnEvent(campaignID uuid.UUID, turnNumber int, kind EventKind, payload any) TurnEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	return TurnEvent{
		EventID:    uuid.New(),
		CampaignID: campaignID,
		TurnNumber: turnNumber,
		Kind:       kind,
		Payload:    raw,
		CreatedAt:  time.Now().UTC(),
	}
}

// --- Event payloads ---

// CampaignCreatedPayload seeds the initial projection.
type CampaignCreatedPayload struct {
	Name       string         `json:"name"`
	PlayerID   uuid.UUID      `json:"playerId"`
	PlayerName string         `json:"playerName"`
	LocationID string         `json:"locationId"`
	Stats      map[string]int `json:"stats"`
}

// AttackResolvedPayload records the outcome of an attack.
type AttackResolvedPayload struct {
	TargetID     string `json:"targetId"`
	TargetName   string `json:"targetName"`
	Hit          bool   `json:"hit"`
	Damage       int    `json:"damage"`
	TargetHPLeft int    `json:"targetHpLeft"`
	Defeated     bool   `json:"defeated"`
}

// MovedPayload records a location change.
type MovedPayload struct {
	FromLocationID string `json:"fromLocationId"`
	ToLocationID   string `json:"toLocationId"`
}

// ItemUsedPayload records item usage and any resulting stat deltas.
type ItemUsedPayload struct {
	Item       string         `json:"item"`
	Consumed   bool           `json:"consumed"`
	StatDeltas map[string]int `json:"statDeltas,omitempty"`
}

// RestedPayload records recovery from a rest action.
type RestedPayload struct {
	StatDeltas map[string]int `json:"statDeltas"`
}

// TalkedPayload records a conversation attempt.
type TalkedPayload struct {
	TargetID string `json:"targetId"`
	Success  bool   `json:"success"`
}

// StatsChangedPayload records raw player stat deltas.
type StatsChangedPayload struct {
	Deltas map[string]int `json:"deltas"`
}

// AlignmentShiftedPayload records an alignment delta.
type AlignmentShiftedPayload struct {
	Delta int `json:"delta"`
}

// ReputationChangedPayload records a faction reputation delta.
type ReputationChangedPayload struct {
	FactionID string `json:"factionId"`
	Delta     int    `json:"delta"`
}

// EncounterSpawnedPayload records an NPC entering the active scene.
type EncounterSpawnedPayload struct {
	NPCID     string `json:"npcId"`
	NPCName   string `json:"npcName"`
	HP        int    `json:"hp"`
	Defense   int    `json:"defense"`
	Hostile   bool   `json:"hostile"`
	FactionID string `json:"factionId,omitempty"`
}

// EncounterClearedPayload records an NPC removed from the active scene.
type EncounterClearedPayload struct {
	NPCID string `json:"npcId"`
}

// ReactionPayload records a companion mood/loyalty adjustment.
type ReactionPayload struct {
	CompanionID  string `json:"companionId"`
	Mood         string `json:"mood"`
	LoyaltyDelta int    `json:"loyaltyDelta"`
}

// ClockAdvancedPayload records world clock ticks.
type ClockAdvancedPayload struct {
	Ticks int `json:"ticks"`
}

// ThreatChangedPayload records a threat level delta.
type ThreatChangedPayload struct {
	Delta int `json:"delta"`
}

// MetaCommandPayload records an out-of-world command resolution.
type MetaCommandPayload struct {
	Command string `json:"command"`
}
