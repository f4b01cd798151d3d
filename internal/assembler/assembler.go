// Package assembler builds the bounded context bundle the prompt template is
// rendered against. Bundles are all-or-nothing: any source read failure
// aborts assembly so a partially-populated prompt is never rendered.
package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibhelm.app/agent/internal/model"
)

const (
	// Bounds on each list-shaped bundle field. Email metadata is the one
	// unbounded-by-count field; it carries no bodies.
	maxEmailBodies = 3
	maxItems       = 10

	// Character budget per email body.
	maxBodyChars = 2000
)

// FetchError wraps a failed source read with the source that failed, so the
// trigger's error detail names the broken table instead of a bare SQL error.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Assembler struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Assembler {
	return &Assembler{pool: pool}
}

// Assemble gathers every context source for the trigger's conversation and
// project. List fields are bounded and ordered newest-first, except the
// comment thread which stays chronological.
func (a *Assembler) Assemble(ctx context.Context, trigger *model.Trigger) (*model.ContextBundle, error) {
	bundle := &model.ContextBundle{
		ConversationID:     trigger.ConversationID,
		TriggerInstruction: ExtractInstruction(trigger.CommentBody),
		Now:                time.Now(),
	}

	author, err := a.authorName(ctx, trigger.AuthorID)
	if err != nil {
		return nil, &FetchError{Source: "author", Err: err}
	}
	bundle.TriggerAuthor = author

	if err := a.conversationInfo(ctx, trigger.ConversationID, bundle); err != nil {
		return nil, &FetchError{Source: "conversation", Err: err}
	}

	if err := a.projectInfo(ctx, trigger.ConversationID, bundle); err != nil {
		return nil, &FetchError{Source: "project", Err: err}
	}

	if err := a.emails(ctx, trigger.ConversationID, bundle); err != nil {
		return nil, &FetchError{Source: "emails", Err: err}
	}

	comments, err := a.comments(ctx, trigger.ConversationID)
	if err != nil {
		return nil, &FetchError{Source: "comments", Err: err}
	}
	bundle.Comments = comments

	// Project-scoped sources only exist for linked conversations; an
	// unassigned conversation legitimately renders empty lists.
	if bundle.ProjectID != nil {
		if bundle.Tasks, err = a.itemsByType(ctx, bundle.ProjectName, "other"); err != nil {
			return nil, &FetchError{Source: "tasks", Err: err}
		}
		if bundle.Anforderungen, err = a.itemsByType(ctx, bundle.ProjectName, "info"); err != nil {
			return nil, &FetchError{Source: "anforderungen", Err: err}
		}
		if bundle.Hinweise, err = a.itemsByType(ctx, bundle.ProjectName, "todo"); err != nil {
			return nil, &FetchError{Source: "hinweise", Err: err}
		}
		if bundle.Files, err = a.files(ctx, *bundle.ProjectID); err != nil {
			return nil, &FetchError{Source: "files", Err: err}
		}
		if bundle.CraftDocs, err = a.craftDocs(ctx, *bundle.ProjectID); err != nil {
			return nil, &FetchError{Source: "craft_docs", Err: err}
		}
	}

	return bundle, nil
}

func (a *Assembler) authorName(ctx context.Context, authorID *string) (string, error) {
	if authorID == nil || *authorID == "" {
		return "Unknown", nil
	}
	var name *string
	err := a.pool.QueryRow(ctx,
		`SELECT name FROM missive.users WHERE id = $1`, *authorID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "Unknown", nil
		}
		return "", err
	}
	if name == nil || *name == "" {
		return "Unknown", nil
	}
	return *name, nil
}

func (a *Assembler) conversationInfo(ctx context.Context, conversationID string, bundle *model.ContextBundle) error {
	var subject, latestSubject, webURL *string
	err := a.pool.QueryRow(ctx, `
		SELECT subject, latest_message_subject, web_url
		FROM missive.conversations
		WHERE id = $1`, conversationID).
		Scan(&subject, &latestSubject, &webURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			bundle.ConversationSubject = "(No subject)"
			return nil
		}
		return err
	}

	bundle.ConversationSubject = firstNonEmpty(subject, latestSubject, "(No subject)")
	bundle.ConversationURL = firstNonEmpty(webURL, nil, "")
	return nil
}

func (a *Assembler) projectInfo(ctx context.Context, conversationID string, bundle *model.ContextBundle) error {
	var projectID int64
	var projectName *string
	err := a.pool.QueryRow(ctx, `
		SELECT p.id, p.name
		FROM project_conversations pc
		JOIN teamwork.projects p ON pc.tw_project_id = p.id
		WHERE pc.m_conversation_id = $1
		LIMIT 1`, conversationID).
		Scan(&projectID, &projectName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			bundle.ProjectName = model.ProjectUnassigned
			return nil
		}
		return err
	}

	bundle.ProjectID = &projectID
	if projectName != nil && *projectName != "" {
		bundle.ProjectName = *projectName
	} else {
		bundle.ProjectName = model.ProjectUnassigned
	}
	return nil
}

func (a *Assembler) emails(ctx context.Context, conversationID string, bundle *model.ContextBundle) error {
	err := a.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM missive.messages WHERE conversation_id = $1`,
		conversationID).Scan(&bundle.EmailsCount)
	if err != nil {
		return err
	}

	rows, err := a.pool.Query(ctx, `
		SELECT m.id::text, m.subject, c.name, c.email, m.delivered_at,
		       COALESCE(m.body_plain_text, m.body, '')
		FROM missive.messages m
		LEFT JOIN missive.contacts c ON m.from_contact_id = c.id
		WHERE m.conversation_id = $1
		ORDER BY m.delivered_at DESC`, conversationID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var subject, fromName, fromEmail *string
		var deliveredAt *time.Time
		var body string
		if err := rows.Scan(&id, &subject, &fromName, &fromEmail, &deliveredAt, &body); err != nil {
			return err
		}

		appendEmail(bundle, model.EmailMeta{
			ID:          id,
			Subject:     firstNonEmpty(subject, nil, "(No subject)"),
			FromName:    firstNonEmpty(fromName, nil, "Unknown"),
			FromEmail:   firstNonEmpty(fromEmail, nil, ""),
			DeliveredAt: formatTime(deliveredAt),
		}, body)
	}
	return rows.Err()
}

// appendEmail records one message on the bundle, newest-first order assumed.
// Metadata is kept for every message; bodies only for the newest few, and
// truncated, to bound the rendered prompt.
func appendEmail(bundle *model.ContextBundle, meta model.EmailMeta, body string) {
	bundle.EmailsMetadata = append(bundle.EmailsMetadata, meta)

	if len(bundle.Emails) < maxEmailBodies {
		bundle.Emails = append(bundle.Emails, model.Email{
			ID:          meta.ID,
			Subject:     meta.Subject,
			FromName:    meta.FromName,
			FromEmail:   meta.FromEmail,
			DeliveredAt: meta.DeliveredAt,
			Body:        TruncateBody(body, maxBodyChars),
		})
	}
}

func (a *Assembler) comments(ctx context.Context, conversationID string) ([]model.Comment, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT u.name, cc.created_at, cc.body
		FROM missive.conversation_comments cc
		LEFT JOIN missive.users u ON cc.author_id = u.id
		WHERE cc.conversation_id = $1
		ORDER BY cc.created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []model.Comment
	for rows.Next() {
		var name, body *string
		var createdAt *time.Time
		if err := rows.Scan(&name, &createdAt, &body); err != nil {
			return nil, err
		}
		comments = append(comments, model.Comment{
			AuthorName: firstNonEmpty(name, nil, "Unknown"),
			CreatedAt:  formatTime(createdAt),
			Body:       firstNonEmpty(body, nil, ""),
		})
	}
	return comments, rows.Err()
}

func (a *Assembler) itemsByType(ctx context.Context, projectName, typeSlug string) ([]model.TaskItem, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, name, status, assigned_to, updated_at, tasklist
		FROM unified_items_secure
		WHERE type = 'task'
		  AND project = $1
		  AND task_type_slug = $2
		ORDER BY updated_at DESC
		LIMIT $3`, projectName, typeSlug, maxItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.TaskItem
	for rows.Next() {
		var item model.TaskItem
		var name, status, tasklist *string
		var assignedTo []byte
		var updatedAt *time.Time
		if err := rows.Scan(&item.ID, &name, &status, &assignedTo, &updatedAt, &tasklist); err != nil {
			return nil, err
		}
		item.Name = firstNonEmpty(name, nil, "")
		item.Status = firstNonEmpty(status, nil, "")
		item.Tasklist = firstNonEmpty(tasklist, nil, "")
		item.UpdatedAt = formatTime(updatedAt)
		item.AssignedTo = parseAssignees(assignedTo)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (a *Assembler) files(ctx context.Context, projectID int64) ([]model.File, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT regexp_replace(full_path, '^.*/', '') AS filename,
		       full_path,
		       COALESCE(db_updated_at, fs_mtime, db_created_at) AS updated
		FROM files
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY COALESCE(db_updated_at, fs_mtime, db_created_at) DESC
		LIMIT $2`, projectID, maxItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		var name, path *string
		var updated *time.Time
		if err := rows.Scan(&name, &path, &updated); err != nil {
			return nil, err
		}
		files = append(files, model.File{
			Name:      firstNonEmpty(name, nil, ""),
			Path:      firstNonEmpty(path, nil, ""),
			UpdatedAt: formatTime(updated),
		})
	}
	return files, rows.Err()
}

func (a *Assembler) craftDocs(ctx context.Context, projectID int64) ([]model.CraftDoc, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT cd.id::text, cd.title, cd.craft_last_modified_at
		FROM craft_documents cd
		JOIN project_craft_documents pcd ON cd.id = pcd.craft_document_id
		WHERE pcd.tw_project_id = $1 AND cd.is_deleted = FALSE
		ORDER BY cd.craft_last_modified_at DESC
		LIMIT $2`, projectID, maxItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.CraftDoc
	for rows.Next() {
		var id string
		var title *string
		var modifiedAt *time.Time
		if err := rows.Scan(&id, &title, &modifiedAt); err != nil {
			return nil, err
		}
		docs = append(docs, model.CraftDoc{
			ID:         id,
			Title:      firstNonEmpty(title, nil, ""),
			ModifiedAt: formatTime(modifiedAt),
		})
	}
	return docs, rows.Err()
}

type assignee struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func parseAssignees(raw []byte) string {
	if len(raw) == 0 {
		return "Unassigned"
	}
	var assignees []assignee
	if err := json.Unmarshal(raw, &assignees); err != nil {
		return strings.TrimSpace(string(raw))
	}
	var names []string
	for _, a := range assignees {
		name := strings.TrimSpace(a.FirstName + " " + a.LastName)
		if name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "Unassigned"
	}
	return strings.Join(names, ", ")
}

func firstNonEmpty(a, b *string, fallback string) string {
	if a != nil && *a != "" {
		return *a
	}
	if b != nil && *b != "" {
		return *b
	}
	return fallback
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
