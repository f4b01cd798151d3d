package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibhelm.app/agent/internal/model"
)

type triggerStore struct {
	pool *pgxpool.Pool
}

func NewTriggerStore(pool *pgxpool.Pool) TriggerStore {
	return &triggerStore{pool: pool}
}

const triggerColumns = `id::text, conversation_id::text, comment_id::text,
	comment_body, author_id::text, status, placeholder_post_id,
	result_post_id, result_markdown, error_message, created_at, claimed_at,
	processed_at`

// ClaimNext selects and transitions in one statement so two concurrent
// pollers never claim the same row. SKIP LOCKED keeps a second poller from
// blocking on a row the first is mid-claim on.
func (s *triggerStore) ClaimNext(ctx context.Context) (*model.Trigger, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE ai_triggers
		SET status = 'processing', claimed_at = NOW()
		WHERE id = (
			SELECT id FROM ai_triggers
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+triggerColumns)

	trigger, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming trigger: %w", err)
	}
	return trigger, nil
}

func (s *triggerStore) SetPlaceholder(ctx context.Context, id, postID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_triggers
		SET placeholder_post_id = $2
		WHERE id = $1 AND status = 'processing'`,
		id, postID)
	if err != nil {
		return fmt.Errorf("setting placeholder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *triggerStore) Complete(ctx context.Context, id, resultMarkdown, resultPostID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_triggers
		SET status = 'done',
		    result_markdown = $2,
		    result_post_id = $3,
		    processed_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		id, resultMarkdown, resultPostID)
	if err != nil {
		return fmt.Errorf("completing trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkIdempotentRetry(ctx, id, model.StatusDone, resultPostID)
	}
	return nil
}

func (s *triggerStore) Fail(ctx context.Context, id, errorDetail string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_triggers
		SET status = 'error',
		    error_message = $2,
		    processed_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		id, errorDetail)
	if err != nil {
		return fmt.Errorf("failing trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkIdempotentRetry(ctx, id, model.StatusError, errorDetail)
	}
	return nil
}

// checkIdempotentRetry distinguishes a retried terminal write (same status,
// same payload marker) from a genuine state-machine violation.
func (s *triggerStore) checkIdempotentRetry(ctx context.Context, id string, want model.TriggerStatus, marker string) error {
	var status string
	var resultPostID, errorMessage *string
	err := s.pool.QueryRow(ctx, `
		SELECT status, result_post_id, error_message
		FROM ai_triggers WHERE id = $1`, id).
		Scan(&status, &resultPostID, &errorMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("checking trigger state: %w", err)
	}

	if model.TriggerStatus(status) == want {
		switch want {
		case model.StatusDone:
			if resultPostID != nil && *resultPostID == marker {
				return nil
			}
		case model.StatusError:
			if errorMessage != nil && *errorMessage == marker {
				return nil
			}
		}
	}
	return ErrConflict
}

func (s *triggerStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_triggers
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale triggers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *triggerStore) ListRecent(ctx context.Context, limit int32) ([]model.Trigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+triggerColumns+`
		FROM ai_triggers
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing triggers: %w", err)
	}
	defer rows.Close()

	var triggers []model.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trigger: %w", err)
		}
		triggers = append(triggers, *t)
	}
	return triggers, rows.Err()
}

func scanTrigger(row pgx.Row) (*model.Trigger, error) {
	var t model.Trigger
	var commentBody *string
	var status string
	err := row.Scan(
		&t.ID,
		&t.ConversationID,
		&t.CommentID,
		&commentBody,
		&t.AuthorID,
		&status,
		&t.PlaceholderPostID,
		&t.ResultPostID,
		&t.ResultMarkdown,
		&t.ErrorMessage,
		&t.CreatedAt,
		&t.ClaimedAt,
		&t.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if commentBody != nil {
		t.CommentBody = *commentBody
	}
	t.Status = model.TriggerStatus(status)
	return &t, nil
}
