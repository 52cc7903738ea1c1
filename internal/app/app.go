// Package app wires the components of one toolmesh process.
package app

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/bobmcallan/toolmesh/internal/cache"
	"github.com/bobmcallan/toolmesh/internal/catalog"
	"github.com/bobmcallan/toolmesh/internal/chat"
	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/handlers"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/bobmcallan/toolmesh/internal/llm"
	"github.com/bobmcallan/toolmesh/internal/mcp"
	"github.com/bobmcallan/toolmesh/internal/ports"
	"github.com/bobmcallan/toolmesh/internal/proc"
	"github.com/bobmcallan/toolmesh/internal/registry"
	"github.com/bobmcallan/toolmesh/internal/schema"
)

// Process names. They double as the tool directory names.
const (
	RegistryToolName = "registry_tool"
	ChatToolName     = chat.ToolName
	SearchToolName   = "search_tool"
)

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger
	Name   string
	Self   *schema.ToolSchema

	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Client     *httpx.Client
	Catalog    *catalog.Catalog

	// HTTP handlers
	HealthHandler   *handlers.HealthHandler
	VersionHandler  *handlers.VersionHandler
	SchemaHandler   *handlers.SchemaHandler
	RegistryHandler *handlers.RegistryHandler
	ChatHandler     *handlers.ChatHandler
	SearchHandler   *handlers.SearchHandler
	MCPHandler      *mcp.Handler
}

// newApp builds the parts every process shares: the outbound client, the
// schema fetcher and the self-description bound to the configured address.
func newApp(name, description string, cfg *config.Config, logger *common.Logger, opts ...registry.Option) *App {
	client := httpx.New(logger,
		httpx.WithConnectRetries(cfg.HTTP.ConnectRetries),
		httpx.WithTimeout(cfg.HTTP.Timeout.Duration),
	)
	fetcher := schema.NewFetcher(client, cache.New(cfg.Cache.SchemaTTL.Duration, cfg.Cache.MaxEntries))

	reg := registry.New(logger, append([]registry.Option{registry.WithFetcher(fetcher)}, opts...)...)

	self := schema.New(name, description, config.GetVersion())
	self.Bind(name, BaseURL(cfg), cfg.Server.Port)

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Name:       name,
		Self:       self,
		Registry:   reg,
		Client:     client,
		Dispatcher: dispatch.New(reg, client, logger),
	}
	a.HealthHandler = handlers.NewHealthHandler(logger)
	a.VersionHandler = handlers.NewVersionHandler(name)
	a.SchemaHandler = handlers.NewSchemaHandler(self)
	return a
}

// BaseURL is the URL a process serves on, as advertised in its self-description.
func BaseURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}

// NewSpawner builds the process launcher for the configured tools directory.
func NewSpawner(cfg *config.Config, logger *common.Logger) *proc.Spawner {
	return proc.NewSpawner(cfg.Tools.Dir, cfg.Tools.Entrypoint, cfg.Tools.TerminateGrace.Duration, ports.NewAllocator(), logger)
}

func newCatalog(cfg *config.Config, logger *common.Logger) (*catalog.Catalog, error) {
	c, err := catalog.New(cfg.Tools.Dir, cfg.Tools.Ignore, logger)
	if err != nil {
		return nil, fmt.Errorf("open tool catalog: %w", err)
	}
	return c, nil
}

// NewRegistryTool wires the registry process: it starts tools on request,
// lists them and exposes every registered operation over MCP. Its own
// self-description is the first registered schema.
func NewRegistryTool(ctx context.Context, cfg *config.Config, logger *common.Logger, boot proc.Boot) (*App, error) {
	cat, err := newCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	probe := httpx.New(logger, httpx.WithConnectRetries(0), httpx.WithTimeout(cfg.HTTP.Timeout.Duration))
	a := newApp(RegistryToolName, "Starts tools and keeps track of the running ones.", cfg, logger,
		registry.WithSpawner(registry.FromProc(NewSpawner(cfg, logger)), probe, cfg.Tools.ReadinessTimeout.Duration),
		registry.WithCatalog(cat),
	)
	a.Catalog = cat

	if err := handlers.DescribeRegistry(a.Self); err != nil {
		return nil, err
	}
	if _, err := a.Registry.RegisterExternal(a.Self); err != nil {
		return nil, fmt.Errorf("register self: %w", err)
	}
	a.Registry.MergeServers(boot.Servers)

	if err := cat.Start(ctx); err != nil {
		// The listing still works by reading the directory on demand.
		logger.Warn().Str("dir", cfg.Tools.Dir).Str("error", err.Error()).Msg("tool catalog not watched")
	}

	a.RegistryHandler = handlers.NewRegistryHandler(a.Registry, logger)
	a.MCPHandler = mcp.NewHandler(RegistryToolName, a.Registry, a.Dispatcher, logger)

	logger.Info().Str("tool", a.Name).Int("boot_servers", len(boot.Servers)).Msg("application initialization complete")
	return a, nil
}

// NewChatTool wires the chat process. Every boot server's self-description
// is fetched so its operations are callable from the first turn.
func NewChatTool(ctx context.Context, cfg *config.Config, logger *common.Logger, boot proc.Boot) (*App, error) {
	a := newApp(ChatToolName, "Chat with a language model that can call the registered tools.", cfg, logger)

	if err := handlers.DescribeChat(a.Self); err != nil {
		return nil, err
	}

	a.Registry.MergeServers(boot.Servers)
	for _, srv := range boot.Servers {
		if srv.Tool == ChatToolName {
			continue
		}
		if _, err := a.Registry.Admit(ctx, srv.URL); err != nil {
			logger.Warn().Str("url", srv.URL).Str("tool", srv.Tool).Str("error", err.Error()).Msg("failed to admit boot server")
		}
	}

	provider, err := llm.New(cfg.Chat, a.Client, logger)
	if err != nil {
		return nil, err
	}
	loop := chat.NewLoop(provider, a.Registry, a.Dispatcher, cfg.Chat, logger)
	a.ChatHandler = handlers.NewChatHandler(loop, a.Registry, logger)

	logger.Info().
		Str("tool", a.Name).
		Str("provider", cfg.Chat.Provider).
		Str("model", cfg.Chat.Model).
		Int("schemas", len(a.Registry.Schemas())).
		Msg("application initialization complete")
	return a, nil
}

// NewSearchTool wires the catalog search process.
func NewSearchTool(ctx context.Context, cfg *config.Config, logger *common.Logger, boot proc.Boot) (*App, error) {
	cat, err := newCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := newApp(SearchToolName, "Search the directory of tools that can be started.", cfg, logger)
	a.Catalog = cat

	if err := handlers.DescribeSearch(a.Self); err != nil {
		return nil, err
	}
	a.Registry.MergeServers(boot.Servers)

	if err := cat.Start(ctx); err != nil {
		logger.Warn().Str("dir", cfg.Tools.Dir).Str("error", err.Error()).Msg("tool catalog not watched")
	}
	a.SearchHandler = handlers.NewSearchHandler(cat, logger)

	logger.Info().Str("tool", a.Name).Msg("application initialization complete")
	return a, nil
}

// Close stops background work and terminates every tool this process started.
func (a *App) Close(ctx context.Context) error {
	if a.Catalog != nil {
		a.Catalog.Stop()
	}
	n, err := a.Registry.ShutdownAll(ctx)
	if n > 0 {
		a.Logger.Info().Str("tool", a.Name).Int("terminated", n).Msg("terminated started tools")
	}
	return err
}
