package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type promptStore struct {
	pool *pgxpool.Pool
}

// NewPromptStore reads the operator prompt override from app_settings.
func NewPromptStore(pool *pgxpool.Pool) PromptStore {
	return &promptStore{pool: pool}
}

func (s *promptStore) SystemPrompt(ctx context.Context) (string, error) {
	var prompt *string
	err := s.pool.QueryRow(ctx, `
		SELECT body->>'ai_agent_system_prompt'
		FROM app_settings
		LIMIT 1`).Scan(&prompt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading system prompt: %w", err)
	}
	if prompt == nil || *prompt == "" {
		return "", ErrNotFound
	}
	return *prompt, nil
}
