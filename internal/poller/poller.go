// Package poller drives claimed triggers through the pipeline:
// claim -> placeholder -> assemble -> render -> invoke -> publish -> record.
// Every trigger reaches a terminal store write before the loop claims the
// next one; a single trigger's failure never stops the loop.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ibhelm.app/agent/common/logger"
	"ibhelm.app/agent/internal/missive"
	"ibhelm.app/agent/internal/model"
	"ibhelm.app/agent/internal/store"
	"ibhelm.app/agent/internal/template"
)

const placeholderMarkdown = "🤖 *Researching...*"

type Config struct {
	// Interval between empty polls.
	Interval time.Duration
	// TriggerBudget caps one trigger's whole pipeline; on expiry remaining
	// steps are abandoned and the trigger is failed.
	TriggerBudget time.Duration
	// ErrorBackoff after a failed claim poll.
	ErrorBackoff time.Duration
	// TerminalWriteAttempts bounds retries of the Complete/Fail write.
	TerminalWriteAttempts int
	// UseAuxiliaryTool attaches the MCP research capability to invocations.
	UseAuxiliaryTool bool
}

type Poller struct {
	store     TriggerStore
	assembler ContextAssembler
	prompts   PromptSource
	invoker   Invoker
	publisher Publisher
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(triggerStore TriggerStore, assembler ContextAssembler, prompts PromptSource, invoker Invoker, publisher Publisher, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.TriggerBudget <= 0 {
		cfg.TriggerBudget = 8 * time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if cfg.TerminalWriteAttempts <= 0 {
		cfg.TerminalWriteAttempts = 3
	}

	return &Poller{
		store:     triggerStore,
		assembler: assembler,
		prompts:   prompts,
		invoker:   invoker,
		publisher: publisher,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run polls for claimable triggers until Stop is called or the context is
// cancelled. Each claimed trigger is processed to a terminal write before
// the next claim.
func (p *Poller) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "agent.poller"})

	defer close(p.stoppedCh)

	slog.InfoContext(ctx, "poller started",
		"interval", p.cfg.Interval,
		"trigger_budget", p.cfg.TriggerBudget)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			slog.InfoContext(ctx, "poller stopping")
			return nil
		default:
		}

		trigger, err := p.store.ClaimNext(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "claim poll failed", "error", err)
			p.sleep(ctx, p.cfg.ErrorBackoff)
			continue
		}

		if trigger == nil {
			p.sleep(ctx, p.cfg.Interval)
			continue
		}

		p.processSafe(ctx, trigger)
	}
}

// Stop signals the poller and waits for the in-flight trigger to finish.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-p.stopCh:
	case <-time.After(d):
	}
}

// processSafe recovers panics so one broken trigger cannot take the loop
// down; the panic becomes that trigger's error detail.
func (p *Poller) processSafe(ctx context.Context, trigger *model.Trigger) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in trigger processing",
				"panic", r,
				"trigger_id", trigger.ID)
			p.fail(ctx, trigger, "", fmt.Errorf("panic: %v", r))
		}
	}()
	p.process(ctx, trigger)
}

func (p *Poller) process(ctx context.Context, trigger *model.Trigger) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TriggerID:      logger.Ptr(trigger.ID),
		ConversationID: logger.Ptr(trigger.ConversationID),
	})

	slog.InfoContext(ctx, "processing trigger",
		"created_at", trigger.CreatedAt,
		"queue_latency", time.Since(trigger.CreatedAt))

	// The budget covers the pipeline steps only. Terminal writes and the
	// failure notice run on the parent context so an exhausted budget can
	// still be recorded.
	budgetCtx, cancel := context.WithTimeout(ctx, p.cfg.TriggerBudget)
	defer cancel()

	start := time.Now()

	placeholderID, err := p.publisher.PostPlaceholder(budgetCtx, trigger.ConversationID, placeholderMarkdown)
	if err != nil {
		p.fail(ctx, trigger, "", err)
		return
	}

	if err := p.store.SetPlaceholder(budgetCtx, trigger.ID, placeholderID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The row is no longer ours (reclaimed or terminally written
			// elsewhere); back off rather than double-process.
			slog.WarnContext(ctx, "lost claim after posting placeholder", "post_id", placeholderID)
			return
		}
		slog.WarnContext(ctx, "failed to record placeholder post", "error", err)
	}

	bundle, err := p.assembler.Assemble(budgetCtx, trigger)
	if err != nil {
		p.fail(ctx, trigger, placeholderID, err)
		return
	}
	if bundle.ProjectID != nil {
		ctx = logger.WithLogFields(ctx, logger.LogFields{ProjectID: bundle.ProjectID})
	}

	prompt, err := template.Render(p.systemPrompt(budgetCtx), bundle)
	if err != nil {
		p.fail(ctx, trigger, placeholderID, err)
		return
	}

	answer, err := p.invoker.Invoke(budgetCtx, prompt, p.cfg.UseAuxiliaryTool)
	if err != nil {
		p.fail(ctx, trigger, placeholderID, err)
		return
	}

	resultID, err := p.publisher.ReplaceWithResult(budgetCtx, trigger.ConversationID, placeholderID, answer)
	if err != nil {
		p.fail(ctx, trigger, placeholderID, err)
		return
	}

	p.complete(ctx, trigger, answer, resultID)

	slog.InfoContext(ctx, "trigger completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"result_post_id", resultID)
}

// systemPrompt returns the operator-configured template, falling back to the
// built-in default when none is set or the read fails.
func (p *Poller) systemPrompt(ctx context.Context) string {
	prompt, err := p.prompts.SystemPrompt(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "failed to fetch system prompt, using default", "error", err)
		}
		return template.DefaultSystemPrompt
	}
	return prompt
}

func (p *Poller) complete(ctx context.Context, trigger *model.Trigger, answer, resultID string) {
	for attempt := 1; attempt <= p.cfg.TerminalWriteAttempts; attempt++ {
		err := p.store.Complete(ctx, trigger.ID, answer, resultID)
		if err == nil {
			return
		}
		if errors.Is(err, store.ErrConflict) {
			slog.ErrorContext(ctx, "conflicting terminal state on complete", "error", err)
			return
		}
		slog.WarnContext(ctx, "terminal write failed, retrying",
			"attempt", attempt, "error", err)
		p.sleep(ctx, time.Second)
	}
	slog.ErrorContext(ctx, "giving up on terminal write, trigger stuck in processing",
		"result_post_id", resultID)
}

func (p *Poller) fail(ctx context.Context, trigger *model.Trigger, placeholderID string, cause error) {
	detail := failureDetail(placeholderID, cause)

	var tmplErr *template.UnknownVariableError
	if errors.As(cause, &tmplErr) {
		// Operator misconfiguration: every trigger will fail the same way
		// until the template is fixed.
		slog.ErrorContext(ctx, "prompt template rejected, check operator configuration",
			"variable", tmplErr.Name)
	} else {
		slog.ErrorContext(ctx, "trigger failed", "error", logger.Truncate(cause.Error(), 500))
	}

	if placeholderID != "" {
		if _, err := p.publisher.PostFailureNotice(ctx, trigger.ConversationID, placeholderID, cause.Error()); err != nil {
			slog.WarnContext(ctx, "failed to post failure notice", "error", err)
		}
	}

	for attempt := 1; attempt <= p.cfg.TerminalWriteAttempts; attempt++ {
		err := p.store.Fail(ctx, trigger.ID, detail)
		if err == nil {
			return
		}
		if errors.Is(err, store.ErrConflict) {
			slog.ErrorContext(ctx, "conflicting terminal state on fail", "error", err)
			return
		}
		slog.WarnContext(ctx, "terminal write failed, retrying",
			"attempt", attempt, "error", err)
		p.sleep(ctx, time.Second)
	}
	slog.ErrorContext(ctx, "giving up on terminal write, trigger stuck in processing")
}

// failureDetail builds the human-readable error detail recorded on the row.
// Publish failures note the placeholder's fate for operator cleanup.
func failureDetail(placeholderID string, cause error) string {
	detail := cause.Error()

	var pubErr *missive.PublishError
	if errors.As(cause, &pubErr) && placeholderID != "" {
		switch pubErr.Stage {
		case missive.StageDelete:
			detail = fmt.Sprintf("%s (placeholder post %s left dangling)", detail, placeholderID)
		case missive.StageResult:
			detail = fmt.Sprintf("%s (placeholder post %s already deleted, no answer posted)", detail, placeholderID)
		}
	}
	return detail
}
