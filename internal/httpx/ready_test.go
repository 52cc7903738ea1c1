package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitReady_EventuallyReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"openapi":"3.1.0"}`))
	}))
	defer srv.Close()

	body, err := newTestClient(0).WaitReady(context.Background(), srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"openapi":"3.1.0"}`, string(body))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestWaitReady_Timeout(t *testing.T) {
	addr := closedAddr(t)

	start := time.Now()
	_, err := newTestClient(0).WaitReady(context.Background(), "http://"+addr+"/openapi.json", 200*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestWaitReady_Aborted(t *testing.T) {
	addr := closedAddr(t)

	abort := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(abort)
	}()

	_, err := newTestClient(0).WaitReady(context.Background(), "http://"+addr+"/openapi.json", 10*time.Second, abort)
	require.ErrorIs(t, err, ErrAborted)
}
