// Package catalog lists the tools available under the tools directory.
// Each tool is a subdirectory; entries matching the ignore patterns (and the
// optional .toolignore file in the tools directory) are skipped.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/fsnotify/fsnotify"
	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile is read from the tools directory when present.
const IgnoreFile = ".toolignore"

// Catalog is the tool directory listing.
type Catalog struct {
	dir    string
	ignore *ignore.GitIgnore
	logger *common.Logger

	mu       sync.RWMutex
	names    []string
	watching bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Catalog over dir. patterns use gitignore syntax.
func New(dir string, patterns []string, logger *common.Logger) (*Catalog, error) {
	var (
		gi  *ignore.GitIgnore
		err error
	)
	ignorePath := filepath.Join(dir, IgnoreFile)
	if _, statErr := os.Stat(ignorePath); statErr == nil {
		gi, err = ignore.CompileIgnoreFileAndLines(ignorePath, patterns...)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", ignorePath, err)
		}
	} else {
		gi = ignore.CompileIgnoreLines(patterns...)
	}
	return &Catalog{dir: dir, ignore: gi, logger: logger}, nil
}

// Dir returns the tools directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Names returns the sorted tool names. While watching, the cached listing is
// returned; otherwise the directory is read on every call.
func (c *Catalog) Names() ([]string, error) {
	c.mu.RLock()
	if c.watching {
		names := slices.Clone(c.names)
		c.mu.RUnlock()
		return names, nil
	}
	c.mu.RUnlock()
	return c.scan()
}

// Has reports whether name is a listed tool.
func (c *Catalog) Has(name string) (bool, error) {
	names, err := c.Names()
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(names, name)
	return found, nil
}

// Search returns the tool names containing query, case-insensitively.
// An empty query matches every tool.
func (c *Catalog) Search(query string) ([]string, error) {
	names, err := c.Names()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	matches := make([]string, 0, len(names))
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), q) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

func (c *Catalog) scan() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read tools dir %s: %w", c.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || c.ignore.MatchesPath(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Start loads the listing and keeps it current with filesystem notifications
// until Stop is called or ctx ends.
func (c *Catalog) Start(ctx context.Context) error {
	names, err := c.scan()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(c.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.names = names
	c.watching = true
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.watch(ctx, w)

	c.logger.Info().Str("dir", c.dir).Int("tools", len(names)).Msg("watching tool catalog")
	return nil
}

// Stop ends watching and waits for the watcher to close.
func (c *Catalog) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Catalog) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer close(c.done)
	defer w.Close()
	defer func() {
		c.mu.Lock()
		c.watching = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			names, err := c.scan()
			if err != nil {
				c.logger.Warn().Str("error", err.Error()).Msg("failed to rescan tool catalog")
				continue
			}
			c.mu.Lock()
			c.names = names
			c.mu.Unlock()
			c.logger.Debug().Str("event", ev.String()).Int("tools", len(names)).Msg("tool catalog changed")
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				c.logger.Warn().Str("error", err.Error()).Msg("tool catalog watcher error")
			}
		}
	}
}
