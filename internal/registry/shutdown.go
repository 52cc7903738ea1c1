package registry

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// ShutdownAll terminates every process this registry started and removes
// their entries. Concurrent calls share one run; a call on a registry with
// nothing running succeeds with zero terminations. Externally registered
// schemas are kept. Starts still in flight are terminated when they finish
// and later starts fail with ErrClosed.
func (r *Registry) ShutdownAll(ctx context.Context) (int, error) {
	v, err, _ := r.shutdown.Do("shutdown", func() (any, error) {
		return r.terminateAll(ctx)
	})
	return v.(int), err
}

func (r *Registry) terminateAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	r.closed = true
	var victims []*entry
	for _, name := range r.order {
		if e := r.entries[name]; e.proc != nil {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		r.removeLocked(e.name)
	}
	r.mu.Unlock()

	if len(victims) == 0 {
		return 0, nil
	}

	r.logger.Info().Int("tools", len(victims)).Msg("terminating tools")

	p := pool.New().WithErrors()
	for _, e := range victims {
		p.Go(func() error {
			began := time.Now()
			if err := e.proc.Terminate(ctx); err != nil {
				r.logger.Warn().Str("tool", e.name).Str("error", err.Error()).Msg("failed to terminate tool")
				return err
			}
			<-e.watchDone
			r.logger.Info().Str("tool", e.name).Dur("elapsed", time.Since(began)).Msg("tool stopped")
			return nil
		})
	}
	err := p.Wait()
	return len(victims), err
}

// RequestShutdown asks the owner of the registry to run ShutdownAll. It never
// blocks, so it is safe to call from signal handlers and HTTP handlers.
func (r *Registry) RequestShutdown() {
	select {
	case r.shutdownReq <- struct{}{}:
	default:
	}
}

// ShutdownRequested receives once per pending RequestShutdown.
func (r *Registry) ShutdownRequested() <-chan struct{} {
	return r.shutdownReq
}
