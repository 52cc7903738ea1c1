package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startAll(t *testing.T, r *Registry, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := r.GetOrStart(context.Background(), n)
		require.NoError(t, err)
	}
}

func TestShutdownAll_TerminatesEverything(t *testing.T) {
	sp := newFakeSpawner()
	r := newTestRegistry(sp)
	_, err := r.RegisterExternal(selfDescription("registry_tool", "http://127.0.0.1:5000"))
	require.NoError(t, err)
	startAll(t, r, "a", "b", "c")
	require.Equal(t, 3, r.Running())

	n, err := r.ShutdownAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, r.Running())
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, int32(1), sp.proc(name).terminated.Load(), name)
		_, ok := r.Lookup(name)
		assert.False(t, ok, name)
	}

	// external schemas and their servers survive
	_, ok := r.Lookup("registry_tool")
	assert.True(t, ok)
	assert.Len(t, r.Servers(), 1)

	n, err = r.ShutdownAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second shutdown is a no-op")
}

func TestShutdownAll_TerminatesStartInFlight(t *testing.T) {
	sp := newFakeSpawner()
	sp.delay = 300 * time.Millisecond
	r := newTestRegistry(sp)

	started := make(chan error, 1)
	go func() {
		_, err := r.GetOrStart(context.Background(), "slow")
		started <- err
	}()
	require.Eventually(t, func() bool { return sp.spawnCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	n, err := r.ShutdownAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing was registered yet")

	select {
	case err := <-started:
		require.ErrorIs(t, err, ErrSpawnFailure)
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("start did not finish")
	}
	assert.Equal(t, 0, r.Running())
	assert.Equal(t, int32(1), sp.proc("slow").terminated.Load())
	_, ok := r.Lookup("slow")
	assert.False(t, ok)

	_, err = r.GetOrStart(context.Background(), "later")
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, sp.spawnCount(), "no launch after shutdown")
}

func TestShutdownAll_EmptyRegistry(t *testing.T) {
	r := New(common.NewSilentLogger())
	n, err := r.ShutdownAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestShutdownAll_ConcurrentCallsTerminateOnce(t *testing.T) {
	sp := newFakeSpawner()
	r := newTestRegistry(sp)
	startAll(t, r, "a", "b")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ShutdownAll(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sp.proc("a").terminated.Load())
	assert.Equal(t, int32(1), sp.proc("b").terminated.Load())
	assert.Equal(t, 0, r.Running())
}

func TestRequestShutdown_NonBlocking(t *testing.T) {
	r := New(common.NewSilentLogger())

	r.RequestShutdown()
	r.RequestShutdown()

	select {
	case <-r.ShutdownRequested():
	default:
		t.Fatal("expected a pending shutdown request")
	}
	select {
	case <-r.ShutdownRequested():
		t.Fatal("requests coalesce into one")
	default:
	}
}
