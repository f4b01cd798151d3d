// Package llm invokes the generation service. The auxiliary research
// capability (an MCP server the model may call mid-invocation) is passed as
// an opaque descriptor; the agent never interprets intermediate tool traffic.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider constants for invoker selection.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// The fixed user turn; all context travels in the system prompt.
const defaultUserTurn = "Please analyze the context provided and respond according to your instructions."

// Invoker produces the model's markdown answer for a rendered prompt.
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt string, useAuxiliaryTool bool) (string, error)
}

// Config holds invoker configuration.
type Config struct {
	Provider    string // "anthropic" or "openai"
	APIKey      string
	BaseURL     string // Optional: custom API endpoint
	Model       string
	MaxTokens   int
	MaxAttempts int           // total attempts, transient failures only
	Timeout     time.Duration // wall clock per attempt
}

// MCPServer describes the remote research tool endpoint.
type MCPServer struct {
	URL         string
	Name        string
	BearerToken string
}

// ErrorKind separates failures worth retrying from those that are not.
type ErrorKind int

const (
	// Transient covers rate limits, server errors, network trouble and
	// timeouts; eligible for bounded retry.
	Transient ErrorKind = iota
	// Permanent covers auth failures, malformed requests and policy
	// rejections; never retried.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// InvocationError is a classified model-invocation failure.
type InvocationError struct {
	Kind ErrorKind
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (%s): %v", e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func (e *InvocationError) Transient() bool { return e.Kind == Transient }

func transientErr(err error) *InvocationError {
	return &InvocationError{Kind: Transient, Err: err}
}

func permanentErr(err error) *InvocationError {
	return &InvocationError{Kind: Permanent, Err: err}
}

// New creates an Invoker for the configured provider, wrapped with bounded
// retry for transient failures.
func New(cfg Config, mcp MCPServer) (Invoker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderAnthropic
	}

	var inner Invoker
	var err error
	switch provider {
	case ProviderAnthropic:
		inner, err = newAnthropicInvoker(cfg, mcp)
	case ProviderOpenAI:
		inner, err = newOpenAIInvoker(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &retryingInvoker{
		inner:          inner,
		maxAttempts:    maxAttempts,
		initialBackoff: time.Second,
	}, nil
}
