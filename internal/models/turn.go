package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscriptEntry is the narrative text recorded for one committed turn.
// Written once at commit time, read-only afterward.
type TranscriptEntry struct {
	ID          uuid.UUID `json:"id"`
	CampaignID  uuid.UUID `json:"campaignId"`
	TurnNumber  int       `json:"turnNumber"`
	PlayerInput string    `json:"playerInput"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CommitResult is returned by the commit boundary after a successful turn.
type CommitResult struct {
	Projection Projection `json:"projection"`
	TurnNumber int        `json:"turnNumber"`
	EventCount int        `json:"eventCount"`
}

// TurnResponse is the externally visible result of one executed turn.
// Warnings is always present, possibly empty, and surfaces every degraded stage.
type TurnResponse struct {
	CampaignID   uuid.UUID   `json:"campaignId"`
	TurnNumber   int         `json:"turnNumber"`
	NarratedText string      `json:"narratedText"`
	Suggestions  []string    `json:"suggestions"`
	Player       PlayerState `json:"updatedPlayerState"`
	Warnings     []string    `json:"warnings"`
}

// TurnUpdate is published to the turn updates queue after each commit so the
// presentation layer can fan results out to connected clients.
type TurnUpdate struct {
	CampaignID   uuid.UUID `json:"campaignId"`
	PlayerID     uuid.UUID `json:"playerId"`
	TurnNumber   int       `json:"turnNumber"`
	NarratedText string    `json:"narratedText"`
	Warnings     []string  `json:"warnings"`
	CommittedAt  time.Time `json:"committedAt"`
}
