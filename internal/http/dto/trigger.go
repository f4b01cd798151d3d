package dto

import "time"

// TriggerSummary is the operator-facing view of a queue row. Large fields
// (the full answer markdown) are reduced to presence flags.
type TriggerSummary struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Status         string     `json:"status"`
	Instruction    string     `json:"instruction,omitempty"`
	HasResult      bool       `json:"has_result"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

type TriggerListResponse struct {
	Triggers []TriggerSummary `json:"triggers"`
	Count    int              `json:"count"`
}
