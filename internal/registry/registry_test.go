package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/bobmcallan/toolmesh/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

// fakeProcess is a tool served by an httptest server.
type fakeProcess struct {
	srv        *httptest.Server
	done       chan struct{}
	once       sync.Once
	terminated atomic.Int32
}

func (p *fakeProcess) BaseURL() string       { return p.srv.URL }
func (p *fakeProcess) PID() int              { return 4242 }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Terminate(ctx context.Context) error {
	p.terminated.Add(1)
	p.exit()
	return nil
}

// exit simulates the process going away.
func (p *fakeProcess) exit() {
	p.once.Do(func() {
		p.srv.Close()
		close(p.done)
	})
}

type spawnCall struct {
	name    string
	servers []schema.Server
}

// fakeSpawner starts an httptest server per spawn serving a schema named after the tool.
type fakeSpawner struct {
	mu      sync.Mutex
	calls   []spawnCall
	procs   map[string]*fakeProcess
	handler func(name string) http.HandlerFunc
	delay   time.Duration
	err     error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{procs: make(map[string]*fakeProcess)}
}

func selfDescription(name, url string) *schema.ToolSchema {
	s := schema.New(name, name+" tool", "0.0.1")
	s.AddOperation("/run", "post", &schema.Operation{OperationID: name + "_run", Summary: "run " + name})
	s.Servers = []schema.Server{{URL: url, Description: name + " tool", Tool: name}}
	return s
}

func (f *fakeSpawner) Spawn(ctx context.Context, name string, servers []schema.Server) (Process, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spawnCall{name: name, servers: servers})
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	p := &fakeProcess{done: make(chan struct{})}
	var h http.HandlerFunc
	if f.handler != nil {
		h = f.handler(name)
	} else {
		h = func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(selfDescription(name, "http://"+r.Host))
		}
	}
	p.srv = httptest.NewServer(h)

	f.mu.Lock()
	f.procs[name] = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSpawner) call(i int) spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeSpawner) proc(name string) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[name]
}

type fakeCatalog []string

func (c fakeCatalog) Names() ([]string, error) { return c, nil }

func newTestRegistry(sp Spawner, opts ...Option) *Registry {
	client := httpx.New(common.NewSilentLogger(), httpx.WithConnectRetries(0))
	opts = append([]Option{WithSpawner(sp, client, 2*time.Second)}, opts...)
	return New(common.NewSilentLogger(), opts...)
}

func shutdown(t *testing.T, r *Registry) {
	t.Helper()
	_, err := r.ShutdownAll(context.Background())
	require.NoError(t, err)
}

func TestGetOrStart_Idempotent(t *testing.T) {
	sp := newFakeSpawner()
	r := newTestRegistry(sp)
	defer shutdown(t, r)

	first, err := r.GetOrStart(context.Background(), "search_tool")
	require.NoError(t, err)
	second, err := r.GetOrStart(context.Background(), "search_tool")
	require.NoError(t, err)

	assert.Equal(t, 1, sp.spawnCount())
	assert.Same(t, first, second)
	assert.Equal(t, "search_tool", first.Name())
}

func TestGetOrStart_ConcurrentCallsLaunchOnce(t *testing.T) {
	sp := newFakeSpawner()
	sp.delay = 50 * time.Millisecond
	r := newTestRegistry(sp)
	defer shutdown(t, r)

	var wg sync.WaitGroup
	results := make([]*schema.ToolSchema, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrStart(context.Background(), "chat")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, sp.spawnCount())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestGetOrStart_BootPayloadComposition(t *testing.T) {
	sp := newFakeSpawner()
	r := newTestRegistry(sp)
	defer shutdown(t, r)

	a, err := r.GetOrStart(context.Background(), "tool_a")
	require.NoError(t, err)
	_, err = r.GetOrStart(context.Background(), "tool_b")
	require.NoError(t, err)

	require.Equal(t, 2, sp.spawnCount())
	assert.Empty(t, sp.call(0).servers, "first tool sees no servers")
	assert.Equal(t, a.Servers, sp.call(1).servers, "second tool sees exactly the first tool's servers")
	for _, srv := range sp.call(1).servers {
		assert.NotEqual(t, "tool_b", srv.Tool)
	}
	assert.Len(t, r.Servers(), 2)
}

func TestGetOrStart_LaunchFailure(t *testing.T) {
	sp := newFakeSpawner()
	sp.err = errors.New("exec: no such file")
	r := newTestRegistry(sp)

	_, err := r.GetOrStart(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailure)

	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ghost", se.Tool)
	_, ok := r.Lookup("ghost")
	assert.False(t, ok)
}

func TestGetOrStart_NeverReady(t *testing.T) {
	sp := newFakeSpawner()
	sp.handler = func(string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
		}
	}
	client := httpx.New(common.NewSilentLogger(), httpx.WithConnectRetries(0))
	r := New(common.NewSilentLogger(), WithSpawner(sp, client, 200*time.Millisecond))

	_, err := r.GetOrStart(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailure)
	assert.ErrorIs(t, err, httpx.ErrNotReady)
	assert.Equal(t, int32(1), sp.proc("slow").terminated.Load(), "unready process is terminated")
	assert.Equal(t, 0, r.Running())
}

func TestGetOrStart_ProcessExitsEarly(t *testing.T) {
	sp := newFakeSpawner()
	sp.handler = func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			go sp.proc(name).exit()
		}
	}
	r := newTestRegistry(sp)

	_, err := r.GetOrStart(context.Background(), "crashy")
	require.ErrorIs(t, err, ErrSpawnFailure)
	assert.ErrorIs(t, err, httpx.ErrAborted)
}

func TestGetOrStart_MalformedSelfDescription(t *testing.T) {
	sp := newFakeSpawner()
	sp.handler = func(string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"info":{"title":"broken"},"paths":{}}`))
		}
	}
	logger, logs := common.NewCaptureLogger()
	client := httpx.New(common.NewSilentLogger(), httpx.WithConnectRetries(0))
	r := New(logger, WithSpawner(sp, client, 2*time.Second))

	_, err := r.GetOrStart(context.Background(), "broken")
	require.ErrorIs(t, err, ErrSpawnFailure)
	assert.ErrorIs(t, err, schema.ErrMalformedSchema)
	assert.Equal(t, int32(1), sp.proc("broken").terminated.Load())

	ev, ok := logs.Find("tool served a malformed self-description")
	require.True(t, ok)
	assert.Equal(t, "broken", ev.Fields["tool"])
	_, ok = logs.Find("tool never became ready")
	assert.False(t, ok)
}

func TestGetOrStart_WithoutSpawner(t *testing.T) {
	r := New(common.NewSilentLogger())

	_, err := r.GetOrStart(context.Background(), "chat")
	require.ErrorIs(t, err, ErrCannotSpawn)
	assert.ErrorIs(t, err, ErrSpawnFailure)
}

func TestProcessDeathRemovesEntry(t *testing.T) {
	sp := newFakeSpawner()
	r := newTestRegistry(sp)
	defer shutdown(t, r)

	_, err := r.GetOrStart(context.Background(), "fragile")
	require.NoError(t, err)
	require.Len(t, r.Servers(), 1)

	sp.proc("fragile").exit()

	require.Eventually(t, func() bool {
		_, ok := r.Lookup("fragile")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, r.Servers())

	// a later start spawns a fresh process
	_, err = r.GetOrStart(context.Background(), "fragile")
	require.NoError(t, err)
	assert.Equal(t, 2, sp.spawnCount())
}

func TestRegisterExternal(t *testing.T) {
	r := New(common.NewSilentLogger())

	self := selfDescription("registry_tool", "http://127.0.0.1:5000")
	name, err := r.RegisterExternal(self)
	require.NoError(t, err)
	assert.Equal(t, "registry_tool", name)

	other := selfDescription("weather", "http://127.0.0.1:6000")
	_, err = r.RegisterExternal(other)
	require.NoError(t, err)

	// re-registering keeps position and does not duplicate servers
	replacement := selfDescription("registry_tool", "http://127.0.0.1:5000")
	_, err = r.RegisterExternal(replacement)
	require.NoError(t, err)

	schemas := r.Schemas()
	require.Len(t, schemas, 2)
	assert.Same(t, replacement, schemas[0])
	assert.Same(t, other, schemas[1])
	assert.Len(t, r.Servers(), 2)
	assert.Equal(t, 0, r.Running())
}

func TestRegisterExternal_RejectsMalformed(t *testing.T) {
	r := New(common.NewSilentLogger())

	_, err := r.RegisterExternal(nil)
	assert.ErrorIs(t, err, schema.ErrMalformedSchema)

	_, err = r.RegisterExternal(schema.New("nameless", "", ""))
	assert.ErrorIs(t, err, schema.ErrMalformedSchema, "no server url")
	assert.Empty(t, r.Schemas())
}

type fetcherFunc func(ctx context.Context, base string) (*schema.ToolSchema, error)

func (f fetcherFunc) Fetch(ctx context.Context, base string) (*schema.ToolSchema, error) {
	return f(ctx, base)
}

func TestAdmit(t *testing.T) {
	var fetched string
	r := New(common.NewSilentLogger(), WithFetcher(fetcherFunc(func(ctx context.Context, base string) (*schema.ToolSchema, error) {
		fetched = base
		return selfDescription("weather", base), nil
	})))

	name, err := r.Admit(context.Background(), "http://127.0.0.1:6000")
	require.NoError(t, err)
	assert.Equal(t, "weather", name)
	assert.Equal(t, "http://127.0.0.1:6000", fetched)

	_, ok := r.Lookup("weather")
	assert.True(t, ok)
}

func TestAdmit_FetchError(t *testing.T) {
	r := New(common.NewSilentLogger(), WithFetcher(fetcherFunc(func(ctx context.Context, base string) (*schema.ToolSchema, error) {
		return nil, fmt.Errorf("fetch %s: %w", base, schema.ErrMalformedSchema)
	})))

	_, err := r.Admit(context.Background(), "http://bad")
	require.ErrorIs(t, err, schema.ErrMalformedSchema)
	assert.Empty(t, r.Schemas())
}

func TestAdmit_NoFetcher(t *testing.T) {
	_, err := New(common.NewSilentLogger()).Admit(context.Background(), "http://x")
	require.Error(t, err)
}

func TestList(t *testing.T) {
	sp := newFakeSpawner()
	r := newTestRegistry(sp, WithCatalog(fakeCatalog{"chat", "search_tool", "registry_tool"}))
	defer shutdown(t, r)

	_, err := r.RegisterExternal(selfDescription("registry_tool", "http://127.0.0.1:5000"))
	require.NoError(t, err)
	_, err = r.RegisterExternal(selfDescription("weather", "http://127.0.0.1:6000"))
	require.NoError(t, err)
	_, err = r.GetOrStart(context.Background(), "search_tool")
	require.NoError(t, err)

	list, err := r.List()
	require.NoError(t, err)

	data, err := json.Marshal(list)
	require.NoError(t, err)

	var names []string
	for pair := list.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	assert.Equal(t, []string{"chat", "registry_tool", "search_tool", "weather"}, names)

	var decoded map[string]ToolStatus
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, StatusStopped, decoded["chat"].Status)
	assert.Nil(t, decoded["chat"].Info)
	assert.Equal(t, StatusStarted, decoded["search_tool"].Status)
	require.NotNil(t, decoded["search_tool"].Info)
	assert.Equal(t, "search_tool", decoded["search_tool"].Info.Title)
	assert.Equal(t, StatusStarted, decoded["weather"].Status)
}
