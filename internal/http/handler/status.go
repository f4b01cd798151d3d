package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"ibhelm.app/agent/internal/assembler"
	"ibhelm.app/agent/internal/http/dto"
	"ibhelm.app/agent/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type TriggerLister interface {
	ListRecent(ctx context.Context, limit int32) ([]model.Trigger, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusHandler serves the worker's operational endpoints: liveness and a
// read-only view of the trigger queue.
type StatusHandler struct {
	db       Pinger
	triggers TriggerLister
}

func NewStatusHandler(db Pinger, triggers TriggerLister) *StatusHandler {
	return &StatusHandler{db: db, triggers: triggers}
}

func (h *StatusHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.db.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *StatusHandler) ListTriggers(c *gin.Context) {
	ctx := c.Request.Context()

	limit := int32(defaultListLimit)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 1 || parsed > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = int32(parsed)
	}

	triggers, err := h.triggers.ListRecent(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list triggers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list triggers"})
		return
	}

	resp := dto.TriggerListResponse{
		Triggers: make([]dto.TriggerSummary, 0, len(triggers)),
	}
	for _, t := range triggers {
		resp.Triggers = append(resp.Triggers, toSummary(t))
	}
	resp.Count = len(resp.Triggers)

	c.JSON(http.StatusOK, resp)
}

func toSummary(t model.Trigger) dto.TriggerSummary {
	instruction := assembler.ExtractInstruction(t.CommentBody)
	if len(instruction) > 200 {
		instruction = instruction[:200] + "..."
	}

	return dto.TriggerSummary{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Status:         string(t.Status),
		Instruction:    instruction,
		HasResult:      t.ResultPostID != nil,
		ErrorMessage:   t.ErrorMessage,
		CreatedAt:      t.CreatedAt,
		ClaimedAt:      t.ClaimedAt,
		ProcessedAt:    t.ProcessedAt,
	}
}
