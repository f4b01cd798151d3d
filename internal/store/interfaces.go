package store

import (
	"context"
	"errors"
	"time"

	"ibhelm.app/agent/internal/model"
)

var ErrNotFound = errors.New("not found")

// ErrConflict signals a terminal write against a row that is not currently
// processing. It points at a logic or concurrency bug upstream, not at
// transient storage trouble.
var ErrConflict = errors.New("trigger not in processing state")

// TriggerStore is the durable queue over ai_triggers. ClaimNext is the sole
// coordination point between poller instances.
type TriggerStore interface {
	// ClaimNext atomically moves the oldest pending trigger to processing
	// and returns it. Returns (nil, nil) when nothing is claimable.
	ClaimNext(ctx context.Context) (*model.Trigger, error)
	// SetPlaceholder records the placeholder post while the row is processing.
	SetPlaceholder(ctx context.Context, id, postID string) error
	// Complete transitions processing -> done. Retrying the same call with
	// identical arguments is a no-op; anything else returns ErrConflict.
	Complete(ctx context.Context, id, resultMarkdown, resultPostID string) error
	// Fail transitions processing -> error, with the same idempotency rule
	// keyed on the error detail.
	Fail(ctx context.Context, id, errorDetail string) error
	// ReclaimStale moves processing rows claimed before the cutoff back to
	// pending and reports how many were reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	// ListRecent returns the newest triggers for operator inspection.
	ListRecent(ctx context.Context, limit int32) ([]model.Trigger, error)
}

// PromptStore reads the operator-maintained system prompt template.
type PromptStore interface {
	// SystemPrompt returns the configured template, or ErrNotFound when the
	// operator has not set one.
	SystemPrompt(ctx context.Context) (string, error)
}
