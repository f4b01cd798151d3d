package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiInvoker is the fallback provider. It has no MCP connector, so the
// auxiliary research capability is unavailable and the flag is ignored with
// a warning.
type openaiInvoker struct {
	client    openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

func newOpenAIInvoker(cfg Config) (Invoker, error) {
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
		model = "gpt-4o-mini"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &openaiInvoker{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
	}, nil
}

func (c *openaiInvoker) Invoke(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error) {
	if useAuxiliaryTool {
		slog.WarnContext(ctx, "auxiliary tool requested but provider has no MCP connector, continuing without it")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(defaultUserTurn),
		},
		MaxTokens: openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}

	slog.DebugContext(ctx, "model invocation completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", permanentErr(fmt.Errorf("no choices in response"))
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", permanentErr(fmt.Errorf("empty response content"))
	}

	return content, nil
}

func (c *openaiInvoker) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return transientErr(fmt.Errorf("invocation timed out after %s", c.timeout))
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return transientErr(err)
		}
		return permanentErr(err)
	}

	return transientErr(err)
}
