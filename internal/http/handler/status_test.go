package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"ibhelm.app/agent/internal/http/handler"
	"ibhelm.app/agent/internal/model"
)

type mockPinger struct {
	pingFn func(ctx context.Context) error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

type mockTriggerLister struct {
	listRecentFn func(ctx context.Context, limit int32) ([]model.Trigger, error)
}

func (m *mockTriggerLister) ListRecent(ctx context.Context, limit int32) ([]model.Trigger, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return nil, nil
}

var _ = Describe("StatusHandler", func() {
	var (
		router   *gin.Engine
		pinger   *mockPinger
		triggers *mockTriggerLister
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		pinger = &mockPinger{}
		triggers = &mockTriggerLister{}
		h := handler.NewStatusHandler(pinger, triggers)
		router.GET("/healthz", h.Health)
		router.GET("/triggers", h.ListTriggers)
	})

	Describe("Health", func() {
		It("returns 200 when the database responds", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("returns 503 when the database is unreachable", func() {
			pinger.pingFn = func(_ context.Context) error {
				return errors.New("connection refused")
			}

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("ListTriggers", func() {
		It("returns recent triggers with the default limit", func() {
			errMsg := "invocation failed"
			processedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			postID := "res-1"
			triggers.listRecentFn = func(_ context.Context, limit int32) ([]model.Trigger, error) {
				Expect(limit).To(Equal(int32(20)))
				return []model.Trigger{
					{
						ID:             "trig-1",
						ConversationID: "conv-1",
						CommentBody:    "@ai summarize the offer",
						Status:         model.StatusDone,
						ResultPostID:   &postID,
						ProcessedAt:    &processedAt,
					},
					{
						ID:             "trig-2",
						ConversationID: "conv-2",
						CommentBody:    "@ai",
						Status:         model.StatusError,
						ErrorMessage:   &errMsg,
					},
				}, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["count"]).To(BeEquivalentTo(2))

			list := resp["triggers"].([]any)
			first := list[0].(map[string]any)
			Expect(first["id"]).To(Equal("trig-1"))
			Expect(first["status"]).To(Equal("done"))
			Expect(first["instruction"]).To(Equal("summarize the offer"))
			Expect(first["has_result"]).To(BeTrue())

			second := list[1].(map[string]any)
			Expect(second["status"]).To(Equal("error"))
			Expect(second["error_message"]).To(Equal("invocation failed"))
			Expect(second["has_result"]).To(BeFalse())
		})

		It("honors an explicit limit", func() {
			var sawLimit int32
			triggers.listRecentFn = func(_ context.Context, limit int32) ([]model.Trigger, error) {
				sawLimit = limit
				return nil, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/triggers?limit=5", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(sawLimit).To(Equal(int32(5)))
		})

		It("rejects an out-of-range limit", func() {
			req := httptest.NewRequest(http.MethodGet, "/triggers?limit=1000", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 when the store fails", func() {
			triggers.listRecentFn = func(_ context.Context, _ int32) ([]model.Trigger, error) {
				return nil, errors.New("boom")
			}

			req := httptest.NewRequest(http.MethodGet, "/triggers", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
