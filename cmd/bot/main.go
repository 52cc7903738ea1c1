// Command bot is the interactive entry point. It starts registry_tool, has
// it start the requested tool and prints the tool's answer.
//
// Usage: bot [-config file] [request-file]
//
// A request is {"tool":..,"operation":..,"inputs":{..}}; any other input is
// sent to the chat tool as a message. Without a request file, requests are
// read from a "prompt> " line until EOF or "exit".
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bobmcallan/toolmesh/internal/app"
	"github.com/bobmcallan/toolmesh/internal/bot"
	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/bobmcallan/toolmesh/internal/dispatch"
	"github.com/bobmcallan/toolmesh/internal/httpx"
	"github.com/bobmcallan/toolmesh/internal/llm"
	"github.com/bobmcallan/toolmesh/internal/registry"
	"github.com/bobmcallan/toolmesh/internal/toolmain"
)

const prompt = "prompt> "

func main() {
	os.Exit(run())
}

func run() int {
	var opts toolmain.Options
	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	fs.Func("config", "Configuration file path (can be specified multiple times)", func(v string) error {
		opts.ConfigFiles = append(opts.ConfigFiles, v)
		return nil
	})
	fs.BoolVar(&opts.Version, "version", false, "Print version information")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if opts.Version {
		fmt.Printf("bot version %s\n", config.GetFullVersion())
		return 0
	}

	cfg, err := toolmain.LoadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		return 1
	}

	// Tools run in their own directories; give them an absolute tools dir.
	if abs, err := filepath.Abs(cfg.Tools.Dir); err == nil {
		cfg.Tools.Dir = abs
		os.Setenv("TOOLMESH_TOOLS_DIR", abs)
	}

	logger := toolmain.NewLogger(cfg, "bot")
	b, reg := newBot(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			reg.RequestShutdown()
		}
	}()
	go func() {
		select {
		case <-reg.ShutdownRequested():
			logger.Info().Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	var code int
	if fs.NArg() > 0 {
		code = runFile(ctx, b, fs.Arg(0))
	} else {
		code = runREPL(ctx, b, os.Stdin, os.Stdout)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	n, err := b.Shutdown(shutdownCtx)
	if err != nil {
		logger.Error().Str("error", err.Error()).Msg("shutdown failed")
	}
	logger.Info().Int("terminated", n).Msg("bot stopped")
	return code
}

func newBot(cfg *config.Config, logger *common.Logger) (*bot.Bot, *registry.Registry) {
	probe := httpx.New(logger, httpx.WithConnectRetries(0), httpx.WithTimeout(cfg.HTTP.Timeout.Duration))
	reg := registry.New(logger,
		registry.WithSpawner(registry.FromProc(app.NewSpawner(cfg, logger)), probe, cfg.Tools.ReadinessTimeout.Duration),
	)
	client := httpx.New(logger,
		httpx.WithConnectRetries(cfg.HTTP.ConnectRetries),
		httpx.WithTimeout(cfg.HTTP.Timeout.Duration),
	)
	return bot.New(reg, dispatch.New(reg, client, logger), probe, logger), reg
}

func runFile(ctx context.Context, b *bot.Bot, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		return 1
	}
	out, err := b.Handle(ctx, bot.ParseRequest(string(data)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// handler serves one parsed request.
type handler interface {
	Handle(ctx context.Context, req bot.Request) (string, error)
}

// runREPL reads one request per line. A model endpoint failure ends the
// session; so does ctx, even while waiting for input.
func runREPL(ctx context.Context, h handler, in io.Reader, out io.Writer) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := readLines(ctx, in)

	for {
		fmt.Fprint(out, prompt)
		var (
			raw string
			ok  bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return 130
		case raw, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			return 0
		}

		line := strings.TrimSpace(raw)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return 0
		}

		reply, err := h.Handle(ctx, bot.ParseRequest(line))
		switch {
		case errors.Is(err, llm.ErrModelEndpoint):
			fmt.Fprintf(out, "error: %v\n", err)
			return 1
		case ctx.Err() != nil:
			return 130
		case err != nil:
			fmt.Fprintf(out, "error: %v\n", err)
		default:
			fmt.Fprintln(out, reply)
		}
	}
}

// readLines scans in on its own goroutine so a blocked read never holds up
// shutdown. The channel is closed at EOF.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
