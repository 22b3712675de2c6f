package models

import "errors"

// Common sentinel errors shared across repositories, services and handlers.
var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrCampaignNotFound indicates the campaign does not exist.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrTurnConflict indicates a commit raced with another turn for the same campaign.
	ErrTurnConflict = errors.New("turn already committed for campaign")
	// ErrTurnAborted indicates the turn was aborted before commit; no state changed.
	ErrTurnAborted = errors.New("turn aborted")
	// ErrInvalidTransition indicates an illegal turn phase transition.
	ErrInvalidTransition = errors.New("invalid turn phase transition")
	// ErrForbidden indicates the player does not own the campaign.
	ErrForbidden = errors.New("forbidden")
	// ErrInternalServer indicates an unexpected internal failure.
	ErrInternalServer = errors.New("internal server error")
)
