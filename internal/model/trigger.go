package model

import "time"

// TriggerStatus is the lifecycle state of a queued @ai mention.
// Transitions are strictly forward: pending -> processing -> done|error.
type TriggerStatus string

const (
	StatusPending    TriggerStatus = "pending"
	StatusProcessing TriggerStatus = "processing"
	StatusDone       TriggerStatus = "done"
	StatusError      TriggerStatus = "error"
)

// Trigger is one queued unit of work, inserted by the database trigger that
// watches conversation comments for @ai mentions.
type Trigger struct {
	ID                string
	ConversationID    string
	CommentID         *string
	CommentBody       string
	AuthorID          *string
	Status            TriggerStatus
	PlaceholderPostID *string
	ResultPostID      *string
	ResultMarkdown    *string
	ErrorMessage      *string
	CreatedAt         time.Time
	ClaimedAt         *time.Time
	ProcessedAt       *time.Time
}

// Terminal reports whether the trigger has reached a final state.
func (t *Trigger) Terminal() bool {
	return t.Status == StatusDone || t.Status == StatusError
}
