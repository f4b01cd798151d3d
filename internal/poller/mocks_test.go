package poller_test

import (
	"context"
	"time"

	"ibhelm.app/agent/internal/model"
	"ibhelm.app/agent/internal/store"
)

type mockTriggerStore struct {
	claimNextFn      func(ctx context.Context) (*model.Trigger, error)
	setPlaceholderFn func(ctx context.Context, id, postID string) error
	completeFn       func(ctx context.Context, id, resultMarkdown, resultPostID string) error
	failFn           func(ctx context.Context, id, errorDetail string) error
	reclaimStaleFn   func(ctx context.Context, olderThan time.Duration) (int64, error)
}

func (m *mockTriggerStore) ClaimNext(ctx context.Context) (*model.Trigger, error) {
	if m.claimNextFn != nil {
		return m.claimNextFn(ctx)
	}
	return nil, nil
}

func (m *mockTriggerStore) SetPlaceholder(ctx context.Context, id, postID string) error {
	if m.setPlaceholderFn != nil {
		return m.setPlaceholderFn(ctx, id, postID)
	}
	return nil
}

func (m *mockTriggerStore) Complete(ctx context.Context, id, resultMarkdown, resultPostID string) error {
	if m.completeFn != nil {
		return m.completeFn(ctx, id, resultMarkdown, resultPostID)
	}
	return nil
}

func (m *mockTriggerStore) Fail(ctx context.Context, id, errorDetail string) error {
	if m.failFn != nil {
		return m.failFn(ctx, id, errorDetail)
	}
	return nil
}

func (m *mockTriggerStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if m.reclaimStaleFn != nil {
		return m.reclaimStaleFn(ctx, olderThan)
	}
	return 0, nil
}

type mockAssembler struct {
	assembleFn func(ctx context.Context, trigger *model.Trigger) (*model.ContextBundle, error)
}

func (m *mockAssembler) Assemble(ctx context.Context, trigger *model.Trigger) (*model.ContextBundle, error) {
	if m.assembleFn != nil {
		return m.assembleFn(ctx, trigger)
	}
	return &model.ContextBundle{
		TriggerAuthor:       "Tester",
		ConversationSubject: "Subject",
		ProjectName:         model.ProjectUnassigned,
		Now:                 time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

type mockPromptSource struct {
	systemPromptFn func(ctx context.Context) (string, error)
}

func (m *mockPromptSource) SystemPrompt(ctx context.Context) (string, error) {
	if m.systemPromptFn != nil {
		return m.systemPromptFn(ctx)
	}
	return "", store.ErrNotFound
}

type mockInvoker struct {
	invokeFn func(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error)
}

func (m *mockInvoker) Invoke(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error) {
	if m.invokeFn != nil {
		return m.invokeFn(ctx, systemPrompt, useAuxiliaryTool)
	}
	return "the answer", nil
}

type mockPublisher struct {
	postPlaceholderFn   func(ctx context.Context, conversationID, markdown string) (string, error)
	replaceWithResultFn func(ctx context.Context, conversationID, placeholderID, markdown string) (string, error)
	postFailureNoticeFn func(ctx context.Context, conversationID, placeholderID, errorSummary string) (string, error)
}

func (m *mockPublisher) PostPlaceholder(ctx context.Context, conversationID, markdown string) (string, error) {
	if m.postPlaceholderFn != nil {
		return m.postPlaceholderFn(ctx, conversationID, markdown)
	}
	return "ph-1", nil
}

func (m *mockPublisher) ReplaceWithResult(ctx context.Context, conversationID, placeholderID, markdown string) (string, error) {
	if m.replaceWithResultFn != nil {
		return m.replaceWithResultFn(ctx, conversationID, placeholderID, markdown)
	}
	return "res-1", nil
}

func (m *mockPublisher) PostFailureNotice(ctx context.Context, conversationID, placeholderID, errorSummary string) (string, error) {
	if m.postFailureNoticeFn != nil {
		return m.postFailureNoticeFn(ctx, conversationID, placeholderID, errorSummary)
	}
	return "notice-1", nil
}
