package poller

import (
	"context"
	"time"

	"ibhelm.app/agent/internal/model"
)

// Narrow views of the collaborators, defined here so the pipeline is
// testable with fakes and free of import cycles.

type TriggerStore interface {
	ClaimNext(ctx context.Context) (*model.Trigger, error)
	SetPlaceholder(ctx context.Context, id, postID string) error
	Complete(ctx context.Context, id, resultMarkdown, resultPostID string) error
	Fail(ctx context.Context, id, errorDetail string) error
}

type StaleReclaimer interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type ContextAssembler interface {
	Assemble(ctx context.Context, trigger *model.Trigger) (*model.ContextBundle, error)
}

type PromptSource interface {
	SystemPrompt(ctx context.Context) (string, error)
}

type Invoker interface {
	Invoke(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error)
}

type Publisher interface {
	PostPlaceholder(ctx context.Context, conversationID, markdown string) (string, error)
	ReplaceWithResult(ctx context.Context, conversationID, placeholderID, markdown string) (string, error)
	PostFailureNotice(ctx context.Context, conversationID, placeholderID, errorSummary string) (string, error)
}
