// Package registry owns the tools known to one process: the ones it started,
// the ones admitted from a URL, and the merged list of their servers that is
// handed to every newly spawned tool.
package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/proc"
	"github.com/bobmcallan/toolmesh/internal/schema"
	"golang.org/x/sync/singleflight"
)

// Process is a running tool started by a Spawner.
type Process interface {
	BaseURL() string
	PID() int
	Done() <-chan struct{}
	Terminate(ctx context.Context) error
}

// Spawner launches a tool and hands it the known servers.
type Spawner interface {
	Spawn(ctx context.Context, name string, servers []schema.Server) (Process, error)
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(ctx context.Context, name string, servers []schema.Server) (Process, error)

// Spawn implements Spawner.
func (f SpawnFunc) Spawn(ctx context.Context, name string, servers []schema.Server) (Process, error) {
	return f(ctx, name, servers)
}

// FromProc adapts a proc.Spawner.
func FromProc(s *proc.Spawner) Spawner {
	return SpawnFunc(func(ctx context.Context, name string, servers []schema.Server) (Process, error) {
		p, err := s.Spawn(ctx, name, servers)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Catalog lists the tools that could be started.
type Catalog interface {
	Names() ([]string, error)
}

// Prober waits for a freshly spawned tool to serve its self-description.
type Prober interface {
	WaitReady(ctx context.Context, url string, timeout time.Duration, abort <-chan struct{}) ([]byte, error)
}

// Fetcher retrieves self-descriptions of tools that were not spawned here.
type Fetcher interface {
	Fetch(ctx context.Context, base string) (*schema.ToolSchema, error)
}

type entry struct {
	name      string
	schema    *schema.ToolSchema
	proc      Process
	startedAt time.Time
	watchDone chan struct{}
}

// Registry maps tool names to schemas and, for spawned tools, their process.
// All mutation happens under mu; starts of one name are collapsed by starts.
type Registry struct {
	spawner   Spawner
	catalog   Catalog
	prober    Prober
	fetcher   Fetcher
	readiness time.Duration
	logger    *common.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	servers []schema.Server
	closed  bool

	starts      singleflight.Group
	shutdown    singleflight.Group
	shutdownReq chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithSpawner enables GetOrStart. readiness bounds the wait for a new tool to serve.
func WithSpawner(s Spawner, p Prober, readiness time.Duration) Option {
	return func(r *Registry) {
		r.spawner = s
		r.prober = p
		r.readiness = readiness
	}
}

// WithCatalog sets the catalog used by List.
func WithCatalog(c Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithFetcher enables Admit.
func WithFetcher(f Fetcher) Option {
	return func(r *Registry) { r.fetcher = f }
}

// New creates an empty Registry.
func New(logger *common.Logger, opts ...Option) *Registry {
	r := &Registry{
		readiness:   15 * time.Second,
		logger:      logger,
		entries:     make(map[string]*entry),
		shutdownReq: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrStart returns the schema of a registered tool, starting it first when
// it is not registered. Concurrent calls for one name launch one process.
func (r *Registry) GetOrStart(ctx context.Context, name string) (*schema.ToolSchema, error) {
	if s, ok := r.Lookup(name); ok {
		return s, nil
	}
	if r.spawner == nil || r.prober == nil {
		return nil, &SpawnError{Tool: name, Err: ErrCannotSpawn}
	}

	v, err, shared := r.starts.Do(name, func() (any, error) {
		if s, ok := r.Lookup(name); ok {
			return s, nil
		}
		return r.start(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.logger.Debug().Str("tool", name).Msg("joined in-flight start")
	}
	return v.(*schema.ToolSchema), nil
}

func (r *Registry) start(ctx context.Context, name string) (*schema.ToolSchema, error) {
	if r.isClosed() {
		return nil, &SpawnError{Tool: name, Err: ErrClosed}
	}
	servers := r.Servers()
	began := time.Now()

	p, err := r.spawner.Spawn(ctx, name, servers)
	if err != nil {
		r.logger.Error().Str("tool", name).Str("error", err.Error()).Msg("failed to launch tool")
		return nil, &SpawnError{Tool: name, Err: err}
	}

	doc, err := r.prober.WaitReady(ctx, schema.DocumentURL(p.BaseURL()), r.readiness, p.Done())
	if err != nil {
		r.logger.Error().Str("tool", name).Str("error", err.Error()).Msg("tool never became ready")
		return nil, r.abandon(ctx, name, p, err)
	}
	s, err := schema.Parse(doc)
	if err != nil {
		r.logger.Error().Str("tool", name).Str("error", err.Error()).Msg("tool served a malformed self-description")
		return nil, r.abandon(ctx, name, p, err)
	}
	if !r.add(name, s, p) {
		r.logger.Warn().Str("tool", name).Int("pid", p.PID()).Msg("registry shut down while tool was starting")
		return nil, r.abandon(ctx, name, p, ErrClosed)
	}

	r.logger.Info().
		Str("tool", name).
		Str("url", p.BaseURL()).
		Int("pid", p.PID()).
		Int("operations", len(s.Operations())).
		Dur("startup", time.Since(began)).
		Msg("tool registered")
	return s, nil
}

// abandon terminates a process that will not be registered.
func (r *Registry) abandon(ctx context.Context, name string, p Process, cause error) error {
	if err := p.Terminate(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn().Str("tool", name).Str("error", err.Error()).Msg("failed to terminate abandoned tool")
	}
	return &SpawnError{Tool: name, Err: cause}
}

// add registers a started tool. It reports false once ShutdownAll has run.
func (r *Registry) add(name string, s *schema.ToolSchema, p Process) bool {
	e := &entry{name: name, schema: s, proc: p, startedAt: time.Now(), watchDone: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.putLocked(e)
	r.mergeLocked(s.Servers)
	r.mu.Unlock()

	go r.watch(e)
	return true
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// watch drops the entry when its process exits on its own.
func (r *Registry) watch(e *entry) {
	defer close(e.watchDone)
	<-e.proc.Done()

	r.mu.Lock()
	current, ok := r.entries[e.name]
	removed := ok && current == e
	if removed {
		r.removeLocked(e.name)
	}
	r.mu.Unlock()

	if removed {
		r.logger.Warn().Str("tool", e.name).Int("pid", e.proc.PID()).Msg("tool process died, removed from registry")
	}
}

// RegisterExternal admits a schema without starting a process. Registering
// a name again replaces its schema and keeps its registration position.
func (r *Registry) RegisterExternal(s *schema.ToolSchema) (string, error) {
	if s == nil {
		return "", &schema.MalformedError{Reasons: []string{"nil schema"}}
	}
	name := s.Name()
	if name == "" || s.BaseURL() == "" {
		return "", &schema.MalformedError{Reasons: []string{"schema has no tool name or server url"}}
	}

	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		e.schema = s
	} else {
		r.putLocked(&entry{name: name, schema: s})
	}
	r.mergeLocked(s.Servers)
	r.mu.Unlock()

	r.logger.Info().Str("tool", name).Str("url", s.BaseURL()).Msg("external tool registered")
	return name, nil
}

// Admit fetches the self-description served at url and registers it.
func (r *Registry) Admit(ctx context.Context, url string) (string, error) {
	if r.fetcher == nil {
		return "", fmt.Errorf("admit %s: no fetcher configured", url)
	}
	s, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return r.RegisterExternal(s)
}

// MergeServers adds servers to the merged list without registering a schema.
func (r *Registry) MergeServers(servers []schema.Server) {
	r.mu.Lock()
	r.mergeLocked(servers)
	r.mu.Unlock()
}

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (*schema.ToolSchema, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.schema, true
}

// Schemas returns every registered schema in registration order.
func (r *Registry) Schemas() []*schema.ToolSchema {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*schema.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].schema)
	}
	return out
}

// SchemasByName returns a name -> schema copy of the registry.
func (r *Registry) SchemasByName() map[string]*schema.ToolSchema {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*schema.ToolSchema, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.schema
	}
	return out
}

// Servers returns a snapshot of the merged server list.
func (r *Registry) Servers() []schema.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.servers)
}

// Running returns how many registered tools have a process.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.proc != nil {
			n++
		}
	}
	return n
}

func (r *Registry) putLocked(e *entry) {
	if _, ok := r.entries[e.name]; !ok {
		r.order = append(r.order, e.name)
	}
	r.entries[e.name] = e
}

func (r *Registry) removeLocked(name string) {
	e, ok := r.entries[name]
	if !ok {
		return
	}
	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })

	owned := make(map[string]bool, len(e.schema.Servers))
	for _, srv := range e.schema.Servers {
		owned[srv.URL] = true
	}
	r.servers = slices.DeleteFunc(r.servers, func(srv schema.Server) bool { return owned[srv.URL] })
}

// mergeLocked appends servers whose URL is not yet known.
func (r *Registry) mergeLocked(servers []schema.Server) {
	for _, srv := range servers {
		if srv.URL == "" {
			continue
		}
		if slices.ContainsFunc(r.servers, func(known schema.Server) bool { return known.URL == srv.URL }) {
			continue
		}
		r.servers = append(r.servers, srv)
	}
}
