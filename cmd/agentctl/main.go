// agentctl exercises the agent pipeline against a live database without
// posting anything to Missive: assemble context for a conversation, render
// the prompt, and optionally invoke the model. Useful for debugging prompt
// templates and context assembly before changes hit the worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"ibhelm.app/agent/common/logger"
	"ibhelm.app/agent/core/config"
	"ibhelm.app/agent/core/db"
	"ibhelm.app/agent/internal/assembler"
	"ibhelm.app/agent/internal/llm"
	"ibhelm.app/agent/internal/model"
	"ibhelm.app/agent/internal/store"
	"ibhelm.app/agent/internal/template"
)

func main() {
	var (
		conversationID = flag.String("conversation-id", "", "conversation to assemble context for")
		instruction    = flag.String("instruction", "", "override the trigger instruction (default: latest comment in the conversation)")
		recent         = flag.Int("recent", 0, "list the N most recent triggers and exit")
		dryRun         = flag.Bool("dry-run", false, "assemble and render only, skip the model invocation")
		noMCP          = flag.Bool("no-mcp", false, "invoke without the auxiliary research tool")
		showPrompt     = flag.Bool("show-prompt", false, "print the rendered system prompt")
		output         = flag.String("output", "", "write the model answer to this file instead of stdout")
	)
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if *recent > 0 {
		listRecent(ctx, database, *recent)
		return
	}

	if *conversationID == "" {
		fmt.Fprintln(os.Stderr, "either -conversation-id or -recent is required")
		flag.Usage()
		os.Exit(2)
	}

	trigger, err := synthesizeTrigger(ctx, database, *conversationID, *instruction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building trigger: %v\n", err)
		os.Exit(1)
	}

	bundle, err := assembler.New(database.Pool()).Assemble(ctx, trigger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "assembling context: %v\n", err)
		os.Exit(1)
	}

	printSection("Context")
	fmt.Printf("conversation: %s\nsubject:      %s\nproject:      %s\nemails:       %d\ncomments:     %d\n",
		bundle.ConversationID, bundle.ConversationSubject, bundle.ProjectName, bundle.EmailsCount, len(bundle.Comments))

	prompt, err := renderPrompt(ctx, database, bundle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendering prompt: %v\n", err)
		os.Exit(1)
	}

	if *showPrompt || *dryRun {
		printSection("Rendered prompt")
		fmt.Println(prompt)
	}

	if *dryRun {
		return
	}

	invoker, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxAttempts: cfg.LLM.MaxAttempts,
		Timeout:     cfg.LLM.Timeout,
	}, llm.MCPServer{
		URL:         cfg.MCP.ServerURL,
		Name:        cfg.MCP.ServerName,
		BearerToken: cfg.MCP.BearerToken,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating invoker: %v\n", err)
		os.Exit(1)
	}

	useTool := cfg.MCP.Enabled() && !*noMCP
	fmt.Fprintf(os.Stderr, "invoking %s (auxiliary tool: %v)...\n", cfg.LLM.Model, useTool)

	start := time.Now()
	answer, err := invoker.Invoke(ctx, prompt, useTool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invocation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "done in %s\n", time.Since(start).Round(time.Millisecond))

	if *output != "" {
		if err := os.WriteFile(*output, []byte(answer), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "writing output: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "answer written to %s\n", *output)
		return
	}

	printSection("Answer")
	fmt.Println(answer)
}

// synthesizeTrigger builds an in-memory trigger for the conversation without
// touching the queue table. With no explicit instruction it reuses the latest
// comment, which is what the database trigger would have captured.
func synthesizeTrigger(ctx context.Context, database *db.DB, conversationID, instruction string) (*model.Trigger, error) {
	trigger := &model.Trigger{
		ID:             "agentctl",
		ConversationID: conversationID,
		Status:         model.StatusProcessing,
		CreatedAt:      time.Now(),
	}

	if instruction != "" {
		trigger.CommentBody = "@ai " + instruction
		return trigger, nil
	}

	var body string
	var authorID *string
	err := database.Pool().QueryRow(ctx, `
		SELECT body, author_id
		FROM missive.conversation_comments
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, conversationID).
		Scan(&body, &authorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s has no comments, pass -instruction", conversationID)
		}
		return nil, err
	}

	trigger.CommentBody = body
	trigger.AuthorID = authorID
	return trigger, nil
}

func renderPrompt(ctx context.Context, database *db.DB, bundle *model.ContextBundle) (string, error) {
	tmpl, err := store.NewPromptStore(database.Pool()).SystemPrompt(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "failed to fetch system prompt, using default", "error", err)
		}
		tmpl = template.DefaultSystemPrompt
	}
	return template.Render(tmpl, bundle)
}

func listRecent(ctx context.Context, database *db.DB, limit int) {
	triggers, err := store.NewTriggerStore(database.Pool()).ListRecent(ctx, int32(limit))
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing triggers: %v\n", err)
		os.Exit(1)
	}

	if len(triggers) == 0 {
		fmt.Println("no triggers")
		return
	}

	for _, t := range triggers {
		line := fmt.Sprintf("%s  %-10s  %s  %s",
			t.CreatedAt.Format("2006-01-02 15:04:05"), t.Status, t.ID, t.ConversationID)
		if t.ErrorMessage != nil {
			line += "  error: " + *t.ErrorMessage
		}
		fmt.Println(line)
	}
}

func printSection(title string) {
	fmt.Printf("\n%s\n%s\n", title, strings.Repeat("=", 60))
}
