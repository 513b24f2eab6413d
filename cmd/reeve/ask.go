package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mwortham/reeve/internal/agent"
	"github.com/mwortham/reeve/internal/fetch"
	"github.com/mwortham/reeve/internal/llm"
	"github.com/mwortham/reeve/internal/session"
	"github.com/mwortham/reeve/internal/tools"
)

// cliUserID keys the session all command-line turns share. Ask runs
// against the real session database, so consecutive asks continue one
// conversation and it shows up in the dashboard like any other.
const cliUserID int64 = 0

// runAsk handles the "reeve ask <question>" subcommand. It boots a
// minimal agent (session store, provider chain, search and fetch
// tools; no Telegram, no scheduler, no dashboard) and processes a
// single question, printing the response to stdout.
// Useful for smoke tests and debugging without a bot token.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dataDir := filepath.Dir(cfg.DatabasePath())
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	store, err := session.NewSQLiteStore(cfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("open session database %s: %w", cfg.DatabasePath(), err)
	}
	defer store.Close()

	registry := session.NewRegistry(store, cfg.Agent.MaxHistory, "", cfg.Location(), logger)
	resolver := llm.NewResolver(cfg.Providers, logger)

	// Reminder tools are absent on purpose: a one-shot process has no
	// way to deliver them.
	toolReg := tools.NewRegistry(logger)
	toolReg.SetFetcher(fetch.New())
	if mgr := newSearchManager(cfg.Search); mgr != nil {
		toolReg.SetSearchManager(mgr)
	}

	loop := agent.NewLoop(logger, cfg.Agent, registry, resolver, toolReg, nil)

	resp, err := loop.Run(ctx, &agent.Request{UserID: cliUserID, Text: question})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Content)
	return nil
}
