package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/comigor/line-relay/internal/audit"
	"github.com/comigor/line-relay/internal/completion"
	"github.com/comigor/line-relay/internal/config"
	"github.com/comigor/line-relay/internal/delivery"
	"github.com/comigor/line-relay/internal/history"
	"github.com/comigor/line-relay/internal/line"
	"github.com/comigor/line-relay/internal/llm"
	"github.com/comigor/line-relay/internal/logger"
	"github.com/comigor/line-relay/internal/prompt"
	"github.com/comigor/line-relay/internal/relay"
	"github.com/comigor/line-relay/internal/webhook"
	"github.com/comigor/line-relay/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	// a missing .env is fine; the environment may already be populated
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Setup(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		logger.L.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	extra := prompt.Discover(ctx, cfg.MCPServers)
	prompts, err := prompt.Build(cfg.Prompt.System, cfg.Prompt.File, extra)
	if err != nil {
		return fmt.Errorf("load system prompts: %w", err)
	}

	lineClient := line.NewClient(cfg.LINE.APIBaseURL, cfg.LINE.AccessToken)
	sink := audit.New(cfg.Audit)
	defer func() {
		if err := audit.Close(sink); err != nil {
			logger.L.Warn("close audit sink", "error", err)
		}
	}()

	svc := relay.New(
		history.New(cfg.History.Length),
		prompts,
		completion.FromConfig(llm.NewClient(cfg.LLM), cfg.LLM),
		delivery.New(lineClient),
		sink,
	)
	exec := worker.NewExecutor(cfg.Worker.Concurrency)
	hook := webhook.NewHandler(cfg.LINE.ChannelSecret, svc, lineClient, cfg.LINE.LoadingSeconds, exec)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           hook.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.L.Info("starting server",
			"address", srv.Addr,
			"model", cfg.LLM.Model,
			"stream", cfg.LLM.Stream,
			"history_length", cfg.History.Length,
			"mcp_prompts", len(extra),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("server failed", "error", err)
			return err
		}
	case <-ctx.Done():
		logger.L.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("http shutdown", "error", err)
	}
	// in-flight relays still deliver their replies
	if err := exec.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("background tasks abandoned", "error", err)
	}
	return nil
}
