// Package proc launches tool processes and supervises their lifetime.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/schema"
	"github.com/sourcegraph/conc"
)

var (
	// ErrInvalidName is returned for tool names that are not a single path element.
	ErrInvalidName = errors.New("invalid tool name")
	// ErrExecutableNotFound is returned when the tool entrypoint does not exist.
	ErrExecutableNotFound = errors.New("tool executable not found")
)

// PortAllocator hands out ports for new tool processes.
type PortAllocator interface {
	Allocate() (int, error)
}

// Spawner starts tool executables found under a tools directory.
type Spawner struct {
	dir        string
	entrypoint string
	host       string
	grace      time.Duration
	ports      PortAllocator
	logger     *common.Logger
}

// NewSpawner creates a Spawner that runs <dir>/<name>/<entrypoint> <port>.
func NewSpawner(dir, entrypoint string, grace time.Duration, ports PortAllocator, logger *common.Logger) *Spawner {
	return &Spawner{
		dir:        dir,
		entrypoint: entrypoint,
		host:       "127.0.0.1",
		grace:      grace,
		ports:      ports,
		logger:     logger,
	}
}

// Process is a running tool launched by a Spawner.
type Process struct {
	Name string
	Port int
	URL  string

	cmd     *exec.Cmd
	grace   time.Duration
	done    chan struct{}
	waitErr error
	logger  *common.Logger
}

// Spawn launches the tool with its port as the only argument, writes the boot
// payload to its stdin and closes stdin. It returns once the process has
// started; the tool may not be serving yet.
func (s *Spawner) Spawn(ctx context.Context, name string, servers []schema.Server) (*Process, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve tool dir: %w", err)
	}
	exe := filepath.Join(dir, s.entrypoint)
	if fi, err := os.Stat(exe); err != nil || fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, exe)
	}

	port, err := s.ports.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	// Not CommandContext: the tool outlives the request that started it.
	cmd := exec.Command(exe, strconv.Itoa(port))
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = newSysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}

	p := &Process{
		Name:   name,
		Port:   port,
		URL:    fmt.Sprintf("http://%s:%d", s.host, port),
		cmd:    cmd,
		grace:  s.grace,
		done:   make(chan struct{}),
		logger: s.logger,
	}

	var pipes conc.WaitGroup
	pipes.Go(func() { p.pipeLogs("stdout", stdout) })
	pipes.Go(func() { p.pipeLogs("stderr", stderr) })
	go func() {
		// Pipes must be drained before Wait.
		pipes.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
		s.logger.Info().
			Str("tool", name).
			Int("pid", cmd.Process.Pid).
			Str("exit", exitString(p.waitErr)).
			Msg("tool process exited")
	}()

	if err := WriteBoot(stdin, servers); err != nil {
		// A child that dies before reading its payload is caught by the readiness wait.
		s.logger.Warn().Str("tool", name).Str("error", err.Error()).Msg("failed to write boot payload")
	}
	if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn().Str("tool", name).Str("error", err.Error()).Msg("failed to close tool stdin")
	}

	s.logger.Info().
		Str("tool", name).
		Int("port", port).
		Int("pid", cmd.Process.Pid).
		Int("servers", len(servers)).
		Msg("tool process started")

	return p, nil
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err returns the exit error once Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// BaseURL returns the URL the tool was told to serve on.
func (p *Process) BaseURL() string {
	return p.URL
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Terminate asks the process group to stop and waits for exit, killing it
// once the grace period or ctx runs out. A process that already exited is not an error.
func (p *Process) Terminate(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := terminateGroup(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate %s: %w", p.Name, err)
	}

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.logger.Warn().Str("tool", p.Name).Int("pid", p.PID()).Msg("tool did not exit in time, killing")
	if err := killGroup(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", p.Name, err)
	}
	<-p.done
	return nil
}

func (p *Process) pipeLogs(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		// stderr carries crash output such as bind or boot payload failures.
		event := p.logger.Debug()
		if stream == "stderr" {
			event = p.logger.Warn()
		}
		event.Str("tool", p.Name).Str("stream", stream).Msg(line)
	}
}

func exitString(err error) string {
	if err == nil {
		return "0"
	}
	return err.Error()
}
