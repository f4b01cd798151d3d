// Package missive posts and retracts conversation posts through the Missive
// Posts API, covering the placeholder lifecycle: an interim "researching"
// post that is replaced by the final answer or annotated with a failure
// notice.
package missive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"
)

// Stage names the publish step that failed, so the pipeline can tell a
// never-posted placeholder from a dangling one.
type Stage string

const (
	StagePlaceholder Stage = "placeholder"
	StageDelete      Stage = "delete_placeholder"
	StageResult      Stage = "post_result"
	StageNotice      Stage = "failure_notice"
)

// PublishError is a failed interaction with the messaging service.
type PublishError struct {
	Stage Stage
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing (%s): %v", e.Stage, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type Config struct {
	APIToken     string
	BaseURL      string
	Organization string
	Username     string
	UsernameIcon string
}

type Client struct {
	httpClient *http.Client
	cfg        Config
}

// New creates a Missive client. The HTTP client is shared with other
// outbound calls; pass one with a sensible timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://public.missiveapp.com/v1"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, cfg: cfg}
}

// PostPlaceholder posts the interim message and returns its post ID.
func (c *Client) PostPlaceholder(ctx context.Context, conversationID, markdown string) (string, error) {
	id, err := c.createPost(ctx, conversationID, markdown)
	if err != nil {
		return "", &PublishError{Stage: StagePlaceholder, Err: err}
	}
	return id, nil
}

// ReplaceWithResult retracts the placeholder and posts the final answer.
// The two steps fail distinctly: a delete failure leaves the placeholder
// dangling, while a post failure after a successful delete leaves no answer
// at all. The caller records which happened.
func (c *Client) ReplaceWithResult(ctx context.Context, conversationID, placeholderID, markdown string) (string, error) {
	if placeholderID != "" {
		if err := c.deletePost(ctx, placeholderID); err != nil {
			return "", &PublishError{Stage: StageDelete, Err: err}
		}
	}

	id, err := c.createPost(ctx, conversationID, markdown)
	if err != nil {
		return "", &PublishError{Stage: StageResult, Err: err}
	}
	return id, nil
}

// PostFailureNotice replaces the placeholder (when one exists) with a short
// notice that the agent is unavailable. Best-effort: the caller logs but
// does not block the terminal write on it.
func (c *Client) PostFailureNotice(ctx context.Context, conversationID, placeholderID, errorSummary string) (string, error) {
	if placeholderID != "" {
		if err := c.deletePost(ctx, placeholderID); err != nil {
			slog.WarnContext(ctx, "failed to delete placeholder before failure notice",
				"post_id", placeholderID,
				"error", err)
		}
	}

	markdown := "❌ AI temporarily unavailable. Please try again later."
	if errorSummary != "" {
		markdown += fmt.Sprintf("\n\n*Error: %s*", truncate(errorSummary, 100))
	}

	id, err := c.createPost(ctx, conversationID, markdown)
	if err != nil {
		return "", &PublishError{Stage: StageNotice, Err: err}
	}
	return id, nil
}

type postRequest struct {
	Posts postBody `json:"posts"`
}

type postBody struct {
	Conversation string        `json:"conversation"`
	Markdown     string        `json:"markdown"`
	Username     string        `json:"username,omitempty"`
	UsernameIcon string        `json:"username_icon,omitempty"`
	Organization string        `json:"organization,omitempty"`
	Notification *notification `json:"notification,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type postResponse struct {
	Posts struct {
		ID string `json:"id"`
	} `json:"posts"`
}

func (c *Client) createPost(ctx context.Context, conversationID, markdown string) (string, error) {
	payload := postRequest{
		Posts: postBody{
			Conversation: conversationID,
			Markdown:     markdown,
			Username:     c.cfg.Username,
			UsernameIcon: c.cfg.UsernameIcon,
			Organization: c.cfg.Organization,
			Notification: &notification{
				Title: c.cfg.Username,
				Body:  truncate(markdown, 100),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/posts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting to conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, detail)
	}

	var parsed postResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Posts.ID == "" {
		return "", fmt.Errorf("response missing post id")
	}

	slog.DebugContext(ctx, "created post", "post_id", parsed.Posts.ID)
	return parsed.Posts.ID, nil
}

func (c *Client) deletePost(ctx context.Context, postID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/posts/"+postID, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		// Already gone; the viewer can't see it either way.
		slog.WarnContext(ctx, "post already deleted", "post_id", postID)
		return nil
	default:
		return fmt.Errorf("unexpected status %d deleting post %s", resp.StatusCode, postID)
	}
}

// truncate cuts at the budget without severing a multibyte character.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
