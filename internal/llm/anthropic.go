package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicInvoker struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	mcp       MCPServer
}

func newAnthropicInvoker(cfg Config, mcp MCPServer) (Invoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &anthropicInvoker{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		mcp:       mcp,
	}, nil
}

func (c *anthropicInvoker) Invoke(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System: []anthropic.BetaTextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.BetaMessageParam{
			{
				Role: anthropic.BetaMessageParamRoleUser,
				Content: []anthropic.BetaContentBlockParamUnion{
					anthropic.NewBetaTextBlock(defaultUserTurn),
				},
			},
		},
	}

	// The MCP server descriptor is the whole extension surface: the
	// generation service may call the tool endpoint zero or more times
	// before returning final text, invisible to us.
	if useAuxiliaryTool && c.mcp.URL != "" {
		params.MCPServers = []anthropic.BetaRequestMCPServerURLDefinitionParam{
			{
				URL:                c.mcp.URL,
				Name:               c.mcp.Name,
				AuthorizationToken: anthropic.String(c.mcp.BearerToken),
			},
		}
		params.Betas = []anthropic.AnthropicBeta{anthropic.AnthropicBetaMCPClient2025_04_04}
	}

	start := time.Now()
	resp, err := c.client.Beta.Messages.New(callCtx, params)
	if err != nil {
		return "", c.classify(ctx, err)
	}

	slog.DebugContext(ctx, "model invocation completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "mcp_tool_use":
			slog.DebugContext(ctx, "model called auxiliary tool")
		case "mcp_tool_result":
			slog.DebugContext(ctx, "auxiliary tool result received")
		}
	}

	if text.Len() == 0 {
		return "", permanentErr(fmt.Errorf("no text in response (stop_reason: %s)", resp.StopReason))
	}

	return text.String(), nil
}

// classify maps transport and API failures onto the retry taxonomy. The
// caller's own cancellation is surfaced untouched so the pipeline budget
// stays in charge.
func (c *anthropicInvoker) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return transientErr(fmt.Errorf("invocation timed out after %s", c.timeout))
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return transientErr(err)
		}
		return permanentErr(err)
	}

	// No API response at all: network trouble, worth retrying.
	return transientErr(err)
}
