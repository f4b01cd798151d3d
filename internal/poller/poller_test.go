package poller_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ibhelm.app/agent/internal/llm"
	"ibhelm.app/agent/internal/missive"
	"ibhelm.app/agent/internal/model"
	"ibhelm.app/agent/internal/poller"
	"ibhelm.app/agent/internal/store"
)

// The mocks record their calls instead of asserting inline: the poller
// recovers panics inside trigger processing, which would swallow a failed
// in-mock expectation.
var _ = Describe("Poller", func() {
	var (
		mockStore  *mockTriggerStore
		asm        *mockAssembler
		prompts    *mockPromptSource
		invoker    *mockInvoker
		publisher  *mockPublisher
		trigger    *model.Trigger
		claimCount atomic.Int32
	)

	// claimOnce hands out the trigger on the first poll and nothing after,
	// so each spec processes exactly one trigger.
	claimOnce := func() {
		claimCount.Store(0)
		mockStore.claimNextFn = func(_ context.Context) (*model.Trigger, error) {
			if claimCount.Add(1) == 1 {
				return trigger, nil
			}
			return nil, nil
		}
	}

	// runUntil starts the poller and blocks until done is closed, then stops
	// it. Stop waits for the loop to exit, so everything the mocks recorded
	// is visible afterwards.
	runUntil := func(done chan struct{}, cfg poller.Config) {
		if cfg.Interval == 0 {
			cfg.Interval = time.Millisecond
		}
		p := poller.New(mockStore, asm, prompts, invoker, publisher, cfg)
		go func() {
			defer GinkgoRecover()
			p.Run(context.Background())
		}()
		Eventually(done, time.Second).Should(BeClosed())
		p.Stop()
	}

	BeforeEach(func() {
		mockStore = &mockTriggerStore{}
		asm = &mockAssembler{}
		prompts = &mockPromptSource{}
		invoker = &mockInvoker{}
		publisher = &mockPublisher{}
		trigger = &model.Trigger{
			ID:             "trig-1",
			ConversationID: "conv-1",
			CommentBody:    "@ai summarize the offer",
			Status:         model.StatusProcessing,
			CreatedAt:      time.Now(),
		}
		claimOnce()
	})

	Describe("happy path", func() {
		It("posts a placeholder, invokes the model and completes the trigger", func() {
			var steps []string
			var placeholderConv, placeholderMD string
			var setID, setPostID string
			var invokedPrompt string
			var replacedWith, replacedPlaceholder string
			var completedID, completedMD, completedPostID string
			failCalled := false
			done := make(chan struct{})

			publisher.postPlaceholderFn = func(_ context.Context, conversationID, markdown string) (string, error) {
				placeholderConv, placeholderMD = conversationID, markdown
				steps = append(steps, "placeholder")
				return "ph-1", nil
			}
			mockStore.setPlaceholderFn = func(_ context.Context, id, postID string) error {
				setID, setPostID = id, postID
				steps = append(steps, "set_placeholder")
				return nil
			}
			invoker.invokeFn = func(_ context.Context, systemPrompt string, _ bool) (string, error) {
				invokedPrompt = systemPrompt
				steps = append(steps, "invoke")
				return "## Summary", nil
			}
			publisher.replaceWithResultFn = func(_ context.Context, _, placeholderID, markdown string) (string, error) {
				replacedPlaceholder, replacedWith = placeholderID, markdown
				steps = append(steps, "replace")
				return "res-1", nil
			}
			mockStore.completeFn = func(_ context.Context, id, resultMarkdown, resultPostID string) error {
				completedID, completedMD, completedPostID = id, resultMarkdown, resultPostID
				steps = append(steps, "complete")
				close(done)
				return nil
			}
			mockStore.failFn = func(_ context.Context, _, _ string) error {
				failCalled = true
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(steps).To(Equal([]string{"placeholder", "set_placeholder", "invoke", "replace", "complete"}))
			Expect(placeholderConv).To(Equal("conv-1"))
			Expect(placeholderMD).To(ContainSubstring("Researching"))
			Expect(setID).To(Equal("trig-1"))
			Expect(setPostID).To(Equal("ph-1"))
			// No operator prompt configured, so the built-in default is
			// rendered with the assembled context substituted in.
			Expect(invokedPrompt).To(ContainSubstring("Tester"))
			Expect(invokedPrompt).NotTo(ContainSubstring("{trigger_author}"))
			Expect(replacedPlaceholder).To(Equal("ph-1"))
			Expect(replacedWith).To(Equal("## Summary"))
			Expect(completedID).To(Equal("trig-1"))
			Expect(completedMD).To(Equal("## Summary"))
			Expect(completedPostID).To(Equal("res-1"))
			Expect(failCalled).To(BeFalse())
		})

		It("prefers the operator-configured prompt template", func() {
			done := make(chan struct{})
			var invokedPrompt string
			prompts.systemPromptFn = func(_ context.Context) (string, error) {
				return "Answer for {trigger_author}.", nil
			}
			invoker.invokeFn = func(_ context.Context, systemPrompt string, _ bool) (string, error) {
				invokedPrompt = systemPrompt
				return "ok", nil
			}
			mockStore.completeFn = func(_ context.Context, _, _, _ string) error {
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(invokedPrompt).To(Equal("Answer for Tester."))
		})

		It("passes the auxiliary tool flag through to the invoker", func() {
			done := make(chan struct{})
			var sawTool bool
			invoker.invokeFn = func(_ context.Context, _ string, useAuxiliaryTool bool) (string, error) {
				sawTool = useAuxiliaryTool
				return "ok", nil
			}
			mockStore.completeFn = func(_ context.Context, _, _, _ string) error {
				close(done)
				return nil
			}

			runUntil(done, poller.Config{UseAuxiliaryTool: true})

			Expect(sawTool).To(BeTrue())
		})
	})

	Describe("invocation failure", func() {
		It("replaces the placeholder with a notice and records the error", func() {
			done := make(chan struct{})
			var noticeConv, noticePlaceholder, noticeSummary string
			var recordedDetail string
			completeCalled := false

			invoker.invokeFn = func(_ context.Context, _ string, _ bool) (string, error) {
				return "", fmt.Errorf("invocation failed (permanent): rate limit budget exhausted")
			}
			publisher.postFailureNoticeFn = func(_ context.Context, conversationID, placeholderID, errorSummary string) (string, error) {
				noticeConv, noticePlaceholder, noticeSummary = conversationID, placeholderID, errorSummary
				return "notice-1", nil
			}
			mockStore.failFn = func(_ context.Context, id, detail string) error {
				recordedDetail = id + ": " + detail
				close(done)
				return nil
			}
			mockStore.completeFn = func(_ context.Context, _, _, _ string) error {
				completeCalled = true
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(noticeConv).To(Equal("conv-1"))
			Expect(noticePlaceholder).To(Equal("ph-1"))
			Expect(noticeSummary).To(ContainSubstring("rate limit budget exhausted"))
			Expect(recordedDetail).To(HavePrefix("trig-1:"))
			Expect(recordedDetail).To(ContainSubstring("rate limit budget exhausted"))
			Expect(completeCalled).To(BeFalse())
		})

		It("records typed invocation failures by their message", func() {
			done := make(chan struct{})
			invErr := &llm.InvocationError{Kind: llm.Permanent, Err: fmt.Errorf("model refused")}

			invoker.invokeFn = func(_ context.Context, _ string, _ bool) (string, error) {
				return "", invErr
			}
			var recordedDetail string
			mockStore.failFn = func(_ context.Context, _, detail string) error {
				recordedDetail = detail
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(recordedDetail).To(ContainSubstring("model refused"))
		})
	})

	Describe("assembly failure", func() {
		It("fails the trigger without invoking the model", func() {
			done := make(chan struct{})
			invokeCalled := false
			asm.assembleFn = func(_ context.Context, _ *model.Trigger) (*model.ContextBundle, error) {
				return nil, fmt.Errorf("fetching emails: connection refused")
			}
			invoker.invokeFn = func(_ context.Context, _ string, _ bool) (string, error) {
				invokeCalled = true
				return "", nil
			}
			var recordedDetail string
			mockStore.failFn = func(_ context.Context, _, detail string) error {
				recordedDetail = detail
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(invokeCalled).To(BeFalse())
			Expect(recordedDetail).To(ContainSubstring("fetching emails"))
		})
	})

	Describe("template misconfiguration", func() {
		It("fails closed when the operator template references an unknown variable", func() {
			done := make(chan struct{})
			invokeCalled := false
			prompts.systemPromptFn = func(_ context.Context) (string, error) {
				return "Link tasks as {task_id}", nil
			}
			invoker.invokeFn = func(_ context.Context, _ string, _ bool) (string, error) {
				invokeCalled = true
				return "", nil
			}
			var recordedDetail string
			mockStore.failFn = func(_ context.Context, _, detail string) error {
				recordedDetail = detail
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(invokeCalled).To(BeFalse())
			Expect(recordedDetail).To(ContainSubstring("task_id"))
		})
	})

	Describe("lost claim", func() {
		It("aborts without a terminal write when the row is no longer processing", func() {
			processed := make(chan struct{})
			assembleCalled := false
			failCalled := false
			completeCalled := false

			mockStore.setPlaceholderFn = func(_ context.Context, _, _ string) error {
				defer close(processed)
				return store.ErrConflict
			}
			asm.assembleFn = func(_ context.Context, _ *model.Trigger) (*model.ContextBundle, error) {
				assembleCalled = true
				return &model.ContextBundle{}, nil
			}
			mockStore.failFn = func(_ context.Context, _, _ string) error {
				failCalled = true
				return nil
			}
			mockStore.completeFn = func(_ context.Context, _, _, _ string) error {
				completeCalled = true
				return nil
			}

			runUntil(processed, poller.Config{})

			Expect(assembleCalled).To(BeFalse())
			Expect(failCalled).To(BeFalse())
			Expect(completeCalled).To(BeFalse())
		})
	})

	Describe("publish failure", func() {
		It("records a dangling placeholder when the delete step fails", func() {
			done := make(chan struct{})
			publisher.replaceWithResultFn = func(_ context.Context, _, _, _ string) (string, error) {
				return "", &missive.PublishError{Stage: missive.StageDelete, Err: fmt.Errorf("status 403")}
			}
			var recordedDetail string
			mockStore.failFn = func(_ context.Context, _, detail string) error {
				recordedDetail = detail
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(recordedDetail).To(ContainSubstring("ph-1"))
			Expect(recordedDetail).To(ContainSubstring("left dangling"))
		})

		It("skips the failure notice when no placeholder was ever posted", func() {
			done := make(chan struct{})
			noticeCalled := false
			publisher.postPlaceholderFn = func(_ context.Context, _, _ string) (string, error) {
				return "", &missive.PublishError{Stage: missive.StagePlaceholder, Err: fmt.Errorf("status 500")}
			}
			publisher.postFailureNoticeFn = func(_ context.Context, _, _, _ string) (string, error) {
				noticeCalled = true
				return "", nil
			}
			mockStore.failFn = func(_ context.Context, _, _ string) error {
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(noticeCalled).To(BeFalse())
		})
	})

	Describe("terminal write conflicts", func() {
		It("does not retry a conflicting complete", func() {
			done := make(chan struct{})
			var completeCalls atomic.Int32
			mockStore.completeFn = func(_ context.Context, _, _, _ string) error {
				if completeCalls.Add(1) == 1 {
					defer close(done)
				}
				return store.ErrConflict
			}

			runUntil(done, poller.Config{})

			Expect(completeCalls.Load()).To(Equal(int32(1)))
		})
	})

	Describe("panic recovery", func() {
		It("records the panic as the trigger's failure and keeps polling", func() {
			done := make(chan struct{})
			asm.assembleFn = func(_ context.Context, _ *model.Trigger) (*model.ContextBundle, error) {
				panic("nil map write")
			}
			var recordedDetail string
			mockStore.failFn = func(_ context.Context, _, detail string) error {
				recordedDetail = detail
				close(done)
				return nil
			}

			runUntil(done, poller.Config{})

			Expect(recordedDetail).To(ContainSubstring("panic"))
			Expect(recordedDetail).To(ContainSubstring("nil map write"))
		})
	})

	Describe("empty queue", func() {
		It("keeps polling without touching collaborators", func() {
			var placeholderCalls atomic.Int32
			mockStore.claimNextFn = func(_ context.Context) (*model.Trigger, error) {
				claimCount.Add(1)
				return nil, nil
			}
			publisher.postPlaceholderFn = func(_ context.Context, _, _ string) (string, error) {
				placeholderCalls.Add(1)
				return "", nil
			}

			p := poller.New(mockStore, asm, prompts, invoker, publisher, poller.Config{
				Interval: time.Millisecond,
			})
			go func() {
				defer GinkgoRecover()
				p.Run(context.Background())
			}()
			Eventually(func() int32 { return claimCount.Load() }, time.Second).Should(BeNumerically(">", 3))
			p.Stop()

			Expect(placeholderCalls.Load()).To(BeZero())
		})
	})
})

var _ = Describe("Reclaimer", func() {
	It("sweeps stale claims on the configured cadence", func() {
		var calls atomic.Int32
		var sawAge time.Duration
		mockStore := &mockTriggerStore{
			reclaimStaleFn: func(_ context.Context, olderThan time.Duration) (int64, error) {
				sawAge = olderThan
				calls.Add(1)
				return 2, nil
			},
		}

		r := poller.NewReclaimer(mockStore, 5*time.Millisecond, 10*time.Minute)
		go func() {
			defer GinkgoRecover()
			r.Run(context.Background())
		}()
		Eventually(func() int32 { return calls.Load() }, time.Second).Should(BeNumerically(">=", 2))
		r.Stop()

		Expect(sawAge).To(Equal(10 * time.Minute))
	})

	It("keeps running after a sweep error", func() {
		var calls atomic.Int32
		mockStore := &mockTriggerStore{
			reclaimStaleFn: func(_ context.Context, _ time.Duration) (int64, error) {
				calls.Add(1)
				return 0, fmt.Errorf("connection reset")
			},
		}

		r := poller.NewReclaimer(mockStore, 5*time.Millisecond, time.Minute)
		go func() {
			defer GinkgoRecover()
			r.Run(context.Background())
		}()
		Eventually(func() int32 { return calls.Load() }, time.Second).Should(BeNumerically(">=", 2))
		r.Stop()
	})
})
