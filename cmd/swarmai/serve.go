// Copyright 2025 NorthPeak Malaysia Sdn Bhd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/approval"
	"github.com/northpeakmalaysia/swarmai/pkg/audit"
	"github.com/northpeakmalaysia/swarmai/pkg/builtin"
	"github.com/northpeakmalaysia/swarmai/pkg/checkpoint"
	"github.com/northpeakmalaysia/swarmai/pkg/config"
	"github.com/northpeakmalaysia/swarmai/pkg/guard"
	"github.com/northpeakmalaysia/swarmai/pkg/heartbeat"
	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/hooks"
	"github.com/northpeakmalaysia/swarmai/pkg/idempotency"
	"github.com/northpeakmalaysia/swarmai/pkg/memory"
	"github.com/northpeakmalaysia/swarmai/pkg/model"
	"github.com/northpeakmalaysia/swarmai/pkg/notify"
	"github.com/northpeakmalaysia/swarmai/pkg/observability"
	"github.com/northpeakmalaysia/swarmai/pkg/orchestrator"
	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/plan"
	"github.com/northpeakmalaysia/swarmai/pkg/recovery"
	"github.com/northpeakmalaysia/swarmai/pkg/registry"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/selfheal"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/supervisor"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
	"github.com/northpeakmalaysia/swarmai/pkg/trigger"
	"github.com/northpeakmalaysia/swarmai/pkg/vector"
)

// ServeCmd starts the full runtime: reasoning runner, orchestrator, plan
// tool, trigger engine, heartbeat monitor, self-heal scan and the
// operational HTTP server.
type ServeCmd struct {
	ConfigSource string `name:"config-source" help:"Config source: file or consul." default:"file"`
	ConsulAddr   string `name:"consul-addr" help:"Consul agent address, for --config-source consul."`
	Watch        bool   `help:"Watch the config source for changes."`

	Router   string `help:"Model router backend." default:"static"`
	Notifier string `help:"Notification backend." default:"log"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := c.loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	vectors, err := vector.New(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer vectors.Close()

	// Pluggable backends. External model routers and messaging transports
	// register here at integration time; the core ships a static router
	// and a log notifier.
	routers := registry.New[model.Router]()
	if err := routers.Register("static", model.NewStaticRouter()); err != nil {
		return err
	}
	router, err := routers.Lookup(c.Router)
	if err != nil {
		return err
	}

	notifiers := registry.New[notify.Notifier]()
	if err := notifiers.Register("log", notify.LogNotifier{}); err != nil {
		return err
	}
	notifyBackend, err := notifiers.Lookup(c.Notifier)
	if err != nil {
		return err
	}
	notifySvc := notify.NewService(notifyBackend, cfg.Notify.DailyCap)

	auditLog, err := audit.NewLog(db)
	if err != nil {
		return err
	}
	profiles, err := hierarchy.NewService(db)
	if err != nil {
		return err
	}
	checkpoints, err := checkpoint.NewSQLService(db)
	if err != nil {
		return err
	}
	idemStore, err := idempotency.NewSQLStore(db)
	if err != nil {
		return err
	}
	cache := idempotency.NewCache(idemStore)
	approvals, err := approval.NewSQLStore(db)
	if err != nil {
		return err
	}
	overrides, err := permission.NewSQLOverrideStore(db)
	if err != nil {
		return err
	}
	memories, err := memory.NewService(db, vectors, nil)
	if err != nil {
		return err
	}
	history, err := selfheal.NewHistory(db)
	if err != nil {
		return err
	}

	catalogue := tool.NewCatalogue()
	checker := permission.NewChecker(permission.DefaultMatrix(), catalogue, overrides)
	executor := recovery.NewExecutor(catalogue, cache)
	g := guard.New(cfg.Guard.MaxConcurrent)
	hookBus := hooks.NewRegistry()

	runner, err := runtime.NewRunner(cfg.Runtime, profiles, router, catalogue, checker, executor, checkpoints, g, runtime.Options{
		Audit:     auditLog,
		Approvals: approvals,
		Hooks:     hookBus,
		Memories:  memories,
		Recorder:  history,
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	orch := orchestrator.New(cfg.Orchestrator, profiles, runner)
	planner := plan.NewExecutor(cfg.Plan, runner, router)

	if err := builtin.RegisterEcho(catalogue); err != nil {
		return err
	}
	if err := builtin.RegisterMemoryTools(catalogue, memories); err != nil {
		return err
	}
	if err := builtin.RegisterOrchestration(catalogue, orch, profiles); err != nil {
		return err
	}
	if err := builtin.RegisterPlanTool(catalogue, planner); err != nil {
		return err
	}

	for _, mcpCfg := range cfg.MCPServers {
		src := tool.NewMCPSource(mcpCfg)
		if err := src.Connect(ctx, catalogue); err != nil {
			slog.Warn("MCP server unavailable, skipping", "name", mcpCfg.Name, "error", err)
			continue
		}
		defer src.Close()
	}

	healer, err := selfheal.NewEngine(db, history, profiles, checker, approvals, notifySvc)
	if err != nil {
		return err
	}

	triggerStore, err := trigger.NewStore(db)
	if err != nil {
		return err
	}
	engine := trigger.NewEngine(triggerStore, profiles, runner, g, healthSignals(healer))
	engine.Start(ctx)
	defer engine.Stop()

	monitor := heartbeat.NewMonitor(profiles, runner, notifySvc)
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}
	defer monitor.Stop()

	auditLog.StartTTLCleanup(ctx)
	defer auditLog.StopTTLCleanup()

	sweeper := supervisor.New(
		supervisor.Task{Name: "checkpoint-sweep", Interval: 10 * time.Minute, Run: func(ctx context.Context) error {
			_, err := checkpoints.CleanupExpired(ctx)
			return err
		}},
		supervisor.Task{Name: "idempotency-sweep", Interval: time.Minute, Run: func(ctx context.Context) error {
			_, err := cache.CleanupExpired(ctx)
			return err
		}},
		supervisor.Task{Name: "memory-maintenance", Interval: 24 * time.Hour, Run: maintainMemories(profiles, memories)},
		supervisor.Task{Name: "self-heal-scan", Interval: 6 * time.Hour, Run: scanAgentHealth(profiles, healer)},
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	if obs.MetricsEnabled() {
		ops := observability.NewOpsServer(obs.MetricsPort(), func(ctx context.Context) error {
			return db.PingContext(ctx)
		})
		ops.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = ops.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("SwarmAI core running",
		"database", cfg.Database.Driver,
		"vector", cfg.Vector.Type,
		"router", c.Router,
		"notifier", c.Notifier,
		"max_concurrent", cfg.Guard.MaxConcurrent)

	<-ctx.Done()
	return nil
}

func (c *ServeCmd) loadConfig(ctx context.Context, path string) (*config.Config, *config.Loader, error) {
	if path == "" {
		slog.Info("No config file given, using defaults")
		return config.Default(), nil, nil
	}

	loader, err := config.NewLoader(config.LoaderOptions{
		Type:    config.SourceType(c.ConfigSource),
		Path:    path,
		Address: c.ConsulAddr,
		Watch:   c.Watch,
		OnChange: func(*config.Config) error {
			slog.Info("Configuration changed; restart to apply structural changes")
			return nil
		},
	})
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load(ctx)
	if err != nil {
		loader.Stop()
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "source", c.ConfigSource, "path", path)
	return cfg, loader, nil
}

// healthSignals feeds the trigger engine's health evaluator from the
// execution history. The remaining signals (inbox, goals, tasks) come
// from stores outside the core and stay zero here.
func healthSignals(healer *selfheal.Engine) trigger.SignalSource {
	return trigger.SignalSourceFunc(func(ctx context.Context, agentID string) (*trigger.Signals, error) {
		report, err := healer.GetHealthReport(ctx, agentID)
		if err != nil {
			return &trigger.Signals{}, nil
		}
		return &trigger.Signals{
			Executions24h:  report.Executions24h,
			ErrorRate24h:   report.ErrorRate24h,
			TrendDegrading: report.TrendDegrading,
		}, nil
	})
}

// maintainMemories consolidates and expires memories for every live agent.
func maintainMemories(profiles *hierarchy.Service, memories *memory.Service) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		agents, err := profiles.ListByStatus(ctx, hierarchy.StatusActive, hierarchy.StatusPaused)
		if err != nil {
			return err
		}
		for _, agent := range agents {
			if _, err := memories.Consolidate(ctx, agent.ID); err != nil {
				slog.Debug("Memory consolidation failed", "agent", agent.ID, "error", err)
			}
			if _, err := memories.CleanupExpired(ctx, agent.ID); err != nil {
				slog.Debug("Memory cleanup failed", "agent", agent.ID, "error", err)
			}
		}
		return nil
	}
}

// scanAgentHealth runs the self-heal diagnosis over every active agent.
func scanAgentHealth(profiles *hierarchy.Service, healer *selfheal.Engine) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		agents, err := profiles.ListByStatus(ctx, hierarchy.StatusActive)
		if err != nil {
			return err
		}
		for _, agent := range agents {
			if _, err := healer.AnalyzeAndHeal(ctx, agent.ID); err != nil {
				slog.Debug("Self-heal scan failed", "agent", agent.ID, "error", err)
			}
		}
		return nil
	}
}
