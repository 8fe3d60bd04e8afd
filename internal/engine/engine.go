// Package engine assembles the running system: store, bus, services,
// worker loops, dispatchers, and the HTTP surface, supervised as one unit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quoroomlabs/quoroom/internal/agent"
	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/cloud"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/executor"
	"github.com/quoroomlabs/quoroom/internal/goals"
	"github.com/quoroomlabs/quoroom/internal/httpapi"
	"github.com/quoroomlabs/quoroom/internal/memory"
	"github.com/quoroomlabs/quoroom/internal/memsearch"
	"github.com/quoroomlabs/quoroom/internal/quorum"
	"github.com/quoroomlabs/quoroom/internal/runner"
	"github.com/quoroomlabs/quoroom/internal/scheduler"
	"github.com/quoroomlabs/quoroom/internal/station"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/telemetry"
	"github.com/quoroomlabs/quoroom/internal/tools"
	"github.com/quoroomlabs/quoroom/internal/update"
	"github.com/quoroomlabs/quoroom/internal/wallet"
	"github.com/quoroomlabs/quoroom/internal/watcher"
)

// Engine owns every long-lived component. Build with New, drive with Run.
type Engine struct {
	cfg     *config.Config
	version string

	store  *store.Store
	events *bus.Bus
	nudges *bus.NudgeRegistry

	goals    *goals.Service
	quorum   *quorum.Service
	memory   *memory.Service
	wallet   *wallet.Service
	stations station.Provider

	registry  *tools.Registry
	exec      executor.Executor
	agents    *agent.Manager
	runner    *runner.Runner
	scheduler *scheduler.Service
	watcher   *watcher.Service
	api       *httpapi.Server
	cloudSync *cloud.Syncer
	updates   *update.Checker

	shutdownTelemetry func(context.Context) error
}

// New opens the store and wires every component. Nothing starts running
// until Run.
func New(ctx context.Context, cfg *config.Config, version string) (*Engine, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		version: version,
		store:   st,
		events:  bus.New(),
		nudges:  bus.NewNudgeRegistry(),
	}

	e.shutdownTelemetry, err = telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		st.Close()
		return nil, err
	}

	var search memsearch.Searcher
	if cfg.Memory.EmbeddingAPIBase != "" {
		idx, err := memsearch.NewChromemIndex(memsearch.Options{
			Path:    cfg.SidecarPath("vectors"),
			APIBase: cfg.Memory.EmbeddingAPIBase,
			APIKey:  cfg.Memory.EmbeddingAPIKey,
			Model:   cfg.Memory.EmbeddingModel,
		})
		if err != nil {
			slog.Warn("engine.vector_index_unavailable", "error", err)
		} else {
			search = idx
		}
	}

	e.goals = goals.New(st, e.events)
	e.quorum = quorum.New(st, e.events, e.nudges)
	e.memory = memory.New(st, search, memory.Options{
		FTSWeight:      cfg.Memory.FTSWeight,
		SemanticWeight: cfg.Memory.SemanticWeight,
		MaxResults:     cfg.Memory.MaxResults,
	})
	e.wallet = wallet.New(st, e.events, cfg.Wallet)
	for network, net := range cfg.Wallet.Networks {
		if net.RPCURL != "" {
			e.wallet.SetChainRPC(network, wallet.NewHTTPChainRPC(net.RPCURL))
		}
	}
	e.stations = station.New(cfg.Station)

	// The registry needs the scheduler, which needs the runner, which needs
	// executors, which need a dispatcher. The proxy breaks that cycle: the
	// executors hold it from the start, the registry lands in it last.
	proxy := &registryProxy{}
	backends, err := e.buildBackends(proxy)
	if err != nil {
		st.Close()
		return nil, err
	}
	e.runner = runner.New(st, e.events, cfg, backends)
	e.scheduler = scheduler.New(st, e.events, e.runner, cfg.Source)
	e.registry = e.buildRegistry()
	proxy.registry = e.registry
	e.exec = backends.Default
	e.agents = agent.NewManager(st, e.events, e.nudges, e.exec, e.registry, cfg)
	e.watcher = watcher.New(st, e.events, e.runner, cfg)
	e.updates = update.New(cfg.Update, version, e.events)
	e.api = httpapi.NewServer(st, cfg, e.scheduler, e.nudges, e.updates, version)

	var relay cloud.Client
	if cfg.Cloud.APIBase != "" {
		relay = cloud.NewHTTPClient(cfg.Cloud.APIBase)
	}
	e.cloudSync = cloud.NewSyncer(st, e.nudges, relay, cfg)

	return e, nil
}

// registryProxy is an executor.Dispatcher whose target registry is bound
// after construction.
type registryProxy struct {
	registry *tools.Registry
}

func (p *registryProxy) Definitions(allowed, disallowed []string) []executor.ToolDefinition {
	if p.registry == nil {
		return nil
	}
	return p.registry.Definitions(allowed, disallowed)
}

func (p *registryProxy) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	if p.registry == nil {
		return "", fmt.Errorf("tool registry not ready")
	}
	return p.registry.Dispatch(ctx, name, args)
}

// buildBackends constructs every configured executor backend plus the
// default one tasks fall back to.
func (e *Engine) buildBackends(dispatcher executor.Dispatcher) (runner.Backends, error) {
	sessions, err := executor.NewSessionStore(e.cfg.SessionsPath())
	if err != nil {
		return runner.Backends{}, fmt.Errorf("session store: %w", err)
	}
	byName := make(map[string]executor.Executor)
	timeout := time.Duration(e.cfg.Executor.TimeoutMinutes) * time.Minute
	if e.cfg.Executor.APIKey != "" {
		byName["api"] = executor.NewAPIExecutor(executor.APIOptions{
			APIKey:    e.cfg.Executor.APIKey,
			Model:     e.cfg.Executor.Model,
			MaxTokens: int64(e.cfg.Executor.MaxTokens),
			Timeout:   timeout,
		}, sessions, dispatcher)
	}
	if e.cfg.Executor.CLI.Command != "" {
		byName["cli"] = executor.NewCLIExecutor(executor.CLIOptions{
			Command: e.cfg.Executor.CLI.Command,
			Args:    e.cfg.Executor.CLI.Args,
			Model:   e.cfg.Executor.Model,
			Timeout: timeout,
		})
	}
	def, err := executor.New(e.cfg, sessions, dispatcher)
	if err != nil {
		return runner.Backends{}, err
	}
	return runner.Backends{Default: def, ByName: byName}, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. Shutdown is ordered: HTTP first so no new work arrives,
// then dispatchers and loops, then the store.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.RecoverStartup(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.api.Run(runCtx) })
	g.Go(func() error { return e.scheduler.Run(runCtx) })
	g.Go(func() error { return e.quorum.Run(runCtx) })
	g.Go(func() error { return e.watcher.Run(runCtx) })
	g.Go(func() error { return e.cloudSync.Run(runCtx) })
	g.Go(func() error { return e.updates.Run(runCtx) })

	if err := e.resumeRooms(runCtx); err != nil {
		slog.Warn("engine.resume_failed", "error", err)
	}
	slog.Info("engine.started", "version", e.version)

	err := g.Wait()

	e.agents.Shutdown()
	e.runner.Shutdown()
	if e.shutdownTelemetry != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		e.shutdownTelemetry(shCtx)
		cancel()
	}
	if cerr := e.store.Close(); cerr != nil {
		slog.Warn("engine.store_close_failed", "error", cerr)
	}
	slog.Info("engine.stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resumeRooms restarts worker loops for every room that was active when the
// engine last stopped.
func (e *Engine) resumeRooms(ctx context.Context) error {
	rooms, err := e.store.ListRooms(ctx, store.RoomActive)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		if err := e.agents.StartRoom(ctx, room.ID); err != nil {
			slog.Warn("engine.room_resume_failed", "room", room.ID, "error", err)
		}
		e.cloudSync.EnsureRegistered(ctx, &room)
	}
	return nil
}

// buildRegistry assembles the closed tool surface the agents act through.
func (e *Engine) buildRegistry() *tools.Registry {
	r := tools.NewRegistry()
	tools.RegisterGoalTools(r, e.goals)
	tools.RegisterQuorumTools(r, e.quorum)
	tools.RegisterCollectiveTools(r, e, e.scheduler, e)
	tools.RegisterMemoryTools(r, e.memory)
	tools.RegisterMessageTools(r, e.store, e.nudges)
	tools.RegisterWalletTools(r, e.wallet)
	if t := tools.NewWebSearchTool(e.cfg.Tools.Web); t != nil {
		r.Register(t)
	}
	r.Register(tools.NewWebFetchTool())
	if t := tools.NewBrowserTool(e.cfg.Tools.Browser); t != nil {
		r.Register(t)
	}
	return r
}

// Close releases resources for an engine that was built but never Run.
// Run performs its own teardown; do not combine the two.
func (e *Engine) Close() error {
	e.agents.Shutdown()
	e.runner.Shutdown()
	if e.shutdownTelemetry != nil {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		e.shutdownTelemetry(shCtx)
		cancel()
	}
	return e.store.Close()
}

// Store exposes the underlying store for the CLI read paths.
func (e *Engine) Store() *store.Store { return e.store }

// Scheduler exposes task control for the CLI.
func (e *Engine) Scheduler() *scheduler.Service { return e.scheduler }

// Watcher exposes watch control for the CLI.
func (e *Engine) Watcher() *watcher.Service { return e.watcher }

// Stations exposes the station provider.
func (e *Engine) Stations() station.Provider { return e.stations }
