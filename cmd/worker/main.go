package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"ibhelm.app/agent/common/logger"
	"ibhelm.app/agent/common/otel"
	"ibhelm.app/agent/core/config"
	"ibhelm.app/agent/core/db"
	"ibhelm.app/agent/internal/assembler"
	"ibhelm.app/agent/internal/http/handler"
	"ibhelm.app/agent/internal/http/middleware"
	httprouter "ibhelm.app/agent/internal/http/router"
	"ibhelm.app/agent/internal/llm"
	"ibhelm.app/agent/internal/missive"
	"ibhelm.app/agent/internal/poller"
	"ibhelm.app/agent/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "agent worker starting",
		"env", cfg.Env,
		"provider", cfg.LLM.Provider,
		"auxiliary_tool", cfg.MCP.Enabled())

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	triggerStore := store.NewTriggerStore(database.Pool())
	promptStore := store.NewPromptStore(database.Pool())
	contextAssembler := assembler.New(database.Pool())

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
		slog.ErrorContext(ctx, "failed to create model invoker", "error", err)
		os.Exit(1)
	}

	publisher := missive.New(missive.Config{
		APIToken:     cfg.Missive.APIToken,
		BaseURL:      cfg.Missive.BaseURL,
		Organization: cfg.Missive.Organization,
		Username:     cfg.Missive.Username,
		UsernameIcon: cfg.Missive.UsernameIcon,
	}, &http.Client{Timeout: 30 * time.Second})

	p := poller.New(triggerStore, contextAssembler, promptStore, invoker, publisher, poller.Config{
		Interval:         cfg.Poller.Interval,
		TriggerBudget:    cfg.Poller.TriggerBudget,
		UseAuxiliaryTool: cfg.MCP.Enabled(),
	})

	reclaimer := poller.NewReclaimer(triggerStore, cfg.Poller.ReclaimInterval, cfg.Poller.StaleAfter)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, database, triggerStore),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- p.Run(ctx)
	}()
	go func() {
		errCh <- reclaimer.Run(ctx)
	}()
	go func() {
		slog.InfoContext(ctx, "status server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "status server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Reclaimer first (quick), then the poller which may be mid-trigger.
	reclaimer.Stop()
	p.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "status server shutdown error", "error", err)
	}

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func setupRouter(cfg config.Config, database *db.DB, triggers store.TriggerStore) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span, Recovery catches panics, Logger logs
	// with trace context.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, handler.NewStatusHandler(database, triggers))

	return router
}

const banner = `
██╗██████╗ ██╗  ██╗███████╗██╗     ███╗   ███╗     █████╗  ██████╗ ███████╗███╗   ██╗████████╗
██║██╔══██╗██║  ██║██╔════╝██║     ████╗ ████║    ██╔══██╗██╔════╝ ██╔════╝████╗  ██║╚══██╔══╝
██║██████╔╝███████║█████╗  ██║     ██╔████╔██║    ███████║██║  ███╗█████╗  ██╔██╗ ██║   ██║
██║██╔══██╗██╔══██║██╔══╝  ██║     ██║╚██╔╝██║    ██╔══██║██║   ██║██╔══╝  ██║╚██╗██║   ██║
██║██████╔╝██║  ██║███████╗███████╗██║ ╚═╝ ██║    ██║  ██║╚██████╔╝███████╗██║ ╚████║   ██║
╚═╝╚═════╝ ╚═╝  ╚═╝╚══════╝███████╗╚═╝     ╚═╝    ╚═╝  ╚═╝ ╚═════╝ ╚══════╝╚═╝  ╚═══╝   ╚═╝
`
