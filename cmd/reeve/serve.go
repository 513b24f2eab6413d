package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mwortham/reeve/internal/agent"
	"github.com/mwortham/reeve/internal/buildinfo"
	"github.com/mwortham/reeve/internal/config"
	"github.com/mwortham/reeve/internal/events"
	"github.com/mwortham/reeve/internal/fetch"
	"github.com/mwortham/reeve/internal/llm"
	"github.com/mwortham/reeve/internal/mqtt"
	"github.com/mwortham/reeve/internal/scheduler"
	"github.com/mwortham/reeve/internal/search"
	"github.com/mwortham/reeve/internal/session"
	"github.com/mwortham/reeve/internal/telegram"
	"github.com/mwortham/reeve/internal/tools"
	"github.com/mwortham/reeve/internal/web"
)

// runServe handles the "reeve serve" subcommand. It is the primary
// operating mode: loads config, opens the databases, builds the agent
// loop with its tools and provider chain, starts the Telegram bridge,
// reminder scheduler, MQTT publisher, and dashboard, and blocks until
// a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT availability topic flips to offline
//  3. The dashboard server drains in-flight requests
//  4. The scheduler waits for in-flight deliveries, then the database
//     connections close via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	// Install signal handling before anything starts, so every
	// component below observes SIGINT/SIGTERM through this ctx.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting reeve", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	// --- Environment ---
	// Provider keys may live in a local .env file. It has to load
	// before the config does, because config expansion and lazy key
	// lookup both read the process environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	// --- Configuration ---
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured handler.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			parsed, err := config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				logger.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
			} else {
				level = parsed
			}
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"primary", cfg.Providers.Primary,
		"chain_len", len(cfg.Providers.Chain),
		"allowed_users", len(cfg.Telegram.AllowedUserIDs),
	)

	// --- Data directory ---
	// All persistent state (session and scheduler databases, the MQTT
	// instance id) lives under this directory. DatabasePath expands a
	// leading ~, so derive the real directory from it.
	dataDir := filepath.Dir(cfg.DatabasePath())
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	// --- Event bus ---
	// Lifecycle events from the loop, bridge, and scheduler fan out to
	// dashboard websocket clients. Publishing never blocks.
	bus := events.New()

	// --- Sessions ---
	// SQLite-backed conversation history plus the in-memory registry of
	// live sessions. The registry rebuilds system prompts on activation,
	// so the persona is read first.
	var personaContent string
	if cfg.PersonaFile != "" {
		data, err := os.ReadFile(cfg.PersonaFile)
		if err != nil {
			return fmt.Errorf("load persona %s: %w", cfg.PersonaFile, err)
		}
		personaContent = string(data)
		logger.Info("persona loaded", "path", cfg.PersonaFile, "size", len(personaContent))
	}

	store, err := session.NewSQLiteStore(cfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("open session database %s: %w", cfg.DatabasePath(), err)
	}
	defer store.Close()
	logger.Info("session database opened", "path", cfg.DatabasePath())

	registry := session.NewRegistry(store, cfg.Agent.MaxHistory, personaContent, cfg.Location(), logger)

	// --- Provider chain ---
	// The resolver walks the configured chain at request time, skipping
	// entries whose credentials are absent from the environment.
	resolver := llm.NewResolver(cfg.Providers, logger)
	logger.Info("provider chain resolved", "order", resolver.Order())

	primaryModel := cfg.Providers.Primary
	if p, ok := resolver.Lookup(cfg.Providers.Primary); ok {
		primaryModel = p.Model
	}

	// --- Scheduler ---
	// Persistent reminder store and timer scheduler. The delivery
	// callback closes over a deps struct assigned after the loop and
	// bridge exist below; the scheduler only starts once it is filled,
	// so a firing task never sees a partial struct.
	schedDBPath := filepath.Join(dataDir, "scheduler.db")
	schedStore, err := scheduler.NewStore(schedDBPath)
	if err != nil {
		return fmt.Errorf("open scheduler database %s: %w", schedDBPath, err)
	}
	defer schedStore.Close()

	var delivery reminderDeps
	executeTask := func(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution) error {
		return deliverReminder(ctx, task, exec, delivery)
	}
	sched := scheduler.New(logger, schedStore, executeTask)
	defer sched.Stop()

	// --- Tools ---
	// Tools register only when their backing service is configured, so
	// the model never sees a catalogue entry it cannot use.
	toolReg := tools.NewRegistry(logger)
	toolReg.SetFetcher(fetch.New())
	if mgr := newSearchManager(cfg.Search); mgr != nil {
		toolReg.SetSearchManager(mgr)
	} else {
		logger.Info("web search disabled (no provider configured)")
	}
	toolReg.SetScheduler(sched)
	logger.Info("tools registered", "tools", toolReg.Names())

	// --- Token accounting ---
	// Daily input/output counters, reset at local midnight. Feeds both
	// the MQTT sensors and the dashboard stat cards.
	tokens := mqtt.NewDailyTokens(cfg.Location())

	// --- Agent loop ---
	// The conversation engine. Everything else either feeds it (tools,
	// providers, sessions) or watches it (bus, token counters).
	loop := agent.NewLoop(logger, cfg.Agent, registry, resolver, toolReg, bus)
	loop.SetTokenObserver(tokens)
	loop.SetContextProvider(&reminderContext{sched: sched, loc: cfg.Location()})

	// --- Telegram bridge ---
	// The messaging front end. Without a token reeve still serves the
	// dashboard and scheduler, which is how it runs in development.
	var bridge *telegram.Bridge
	if cfg.Telegram.Token != "" {
		client, err := telegram.NewClient(telegram.ClientConfig{
			Token:          cfg.Telegram.Token,
			PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("telegram client: %w", err)
		}
		bridge = telegram.NewBridge(telegram.BridgeConfig{
			Client:         client,
			Runner:         loop,
			Sessions:       registry,
			Resolver:       resolver,
			Bus:            bus,
			Logger:         logger,
			AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
			RateLimit:      cfg.Telegram.RatePerMinute,
		})
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("start telegram: %w", err)
		}
		go bridge.Start(ctx)
		logger.Info("telegram bridge started",
			"allowed_users", len(cfg.Telegram.AllowedUserIDs),
			"rate_per_minute", cfg.Telegram.RatePerMinute,
		)
	} else {
		logger.Warn("telegram token not set; bot front end disabled")
	}

	// --- Reminder delivery ---
	// Fill the deps the execute closure captures, then arm the timers.
	// Catch-up of deliveries missed while the process was down happens
	// inside Start, so the full stack has to exist first.
	delivery = reminderDeps{
		runner:   loop,
		sessions: registry,
		bus:      bus,
		logger:   logger,
	}
	if bridge != nil {
		delivery.notifier = bridge
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// --- MQTT publisher ---
	// Optional: publishes Home Assistant MQTT discovery messages and
	// periodic sensor states so reeve shows up as a native HA device.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(dataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}

		statsAdapter := &mqttStatsAdapter{
			model:    primaryModel,
			sessions: registry,
			loop:     loop,
		}

		mqttPub = mqtt.New(cfg.MQTT, instanceID, tokens, statsAdapter, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()

		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval_sec", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- Web dashboard ---
	// Optional operator surface: stats, session transcripts, reminders,
	// the live event feed, and a chat endpoint for poking the agent
	// without Telegram. Started last because it is the blocking server.
	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(web.Config{
			Address: cfg.Web.Address,
			Port:    cfg.Web.Port,
			StatsFunc: func() web.StatsSnapshot {
				in, out, turns := tokens.Snapshot()
				return web.StatsSnapshot{
					Version:        buildinfo.Version,
					Uptime:         buildinfo.Uptime(),
					ActiveSessions: registry.ActiveCount(),
					TokensIn:       in,
					TokensOut:      out,
					RequestsToday:  turns,
					LastRequest:    loop.LastRequest(),
				}
			},
			ChainFunc: func() []web.ProviderInfo {
				var infos []web.ProviderInfo
				for i, id := range resolver.Order() {
					p, ok := resolver.Lookup(id)
					if !ok {
						continue
					}
					infos = append(infos, web.ProviderInfo{
						ID:      p.ID,
						Model:   p.Model,
						Family:  p.Family,
						Primary: i == 0,
					})
				}
				return infos
			},
			Sessions: store,
			Tasks:    sched,
			Runner:   loop,
			Locks:    registry,
			Bus:      bus,
			Logger:   logger,
		})
	} else {
		logger.Info("web dashboard disabled")
	}

	// --- Graceful shutdown ---
	// ctx was wrapped with NotifyContext at the top of this function;
	// this goroutine runs the ordered teardown once it fires.
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish the MQTT offline status before disconnecting.
		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		if webServer != nil {
			_ = webServer.Shutdown(context.Background())
		}
	}()

	// Block on the dashboard server when enabled; otherwise wait for
	// the shutdown signal directly.
	if webServer != nil {
		if err := webServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if ctx.Err() == nil {
				return fmt.Errorf("web server failed: %w", err)
			}
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("reeve stopped")
	return nil
}

// newSearchManager wires the configured search providers. Returns nil
// when no provider is configured, so the web_search tool stays out of
// the catalogue instead of failing at call time.
func newSearchManager(cfg config.SearchConfig) *search.Manager {
	mgr := search.NewManager(cfg.Primary)
	if cfg.SearXNGURL != "" {
		mgr.Register(search.NewSearXNG(cfg.SearXNGURL))
	}
	if cfg.BraveAPIKey != "" {
		mgr.Register(search.NewBrave(cfg.BraveAPIKey))
	}
	if !mgr.Configured() {
		return nil
	}
	return mgr
}

// reminderContext surfaces a user's upcoming reminders into the system
// prompt via the loop's [agent.ContextProvider] hook, so the model can
// answer "what's coming up?" without spending a tool round.
type reminderContext struct {
	sched *scheduler.Scheduler
	loc   *time.Location
}

func (r *reminderContext) LiveContext(ctx context.Context, userID int64) (string, error) {
	tasks, err := r.sched.ListTasksForUser(userID, true)
	if err != nil {
		return "", err
	}
	now := time.Now()
	var b strings.Builder
	for _, t := range tasks {
		next, ok := t.NextRun(now)
		if !ok {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Upcoming Reminders\n")
		}
		fmt.Fprintf(&b, "- %s (next: %s)\n", t.Name, next.In(r.loc).Format("Mon Jan 2 15:04"))
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// mqttStatsAdapter bridges the agent loop, session registry, and build
// info to the MQTT publisher's [mqtt.StatsSource] interface. It holds
// only narrow references, not pointers to mutable stats fields.
type mqttStatsAdapter struct {
	model    string
	sessions *session.Registry
	loop     *agent.Loop
}

func (a *mqttStatsAdapter) Uptime() time.Duration      { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string            { return buildinfo.Version }
func (a *mqttStatsAdapter) DefaultModel() string       { return a.model }
func (a *mqttStatsAdapter) ActiveSessions() int        { return a.sessions.ActiveCount() }
func (a *mqttStatsAdapter) LastRequestTime() time.Time { return a.loop.LastRequest() }
