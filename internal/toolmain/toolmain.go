// Package toolmain is the shared main of every tool process: it reads the
// port from the command line and the boot payload from stdin, serves the
// app and terminates the tools it started on the way out.
package toolmain

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bobmcallan/toolmesh/internal/app"
	"github.com/bobmcallan/toolmesh/internal/common"
	"github.com/bobmcallan/toolmesh/internal/config"
	"github.com/bobmcallan/toolmesh/internal/proc"
	"github.com/bobmcallan/toolmesh/internal/server"
)

// Builder wires the app of one tool process.
type Builder func(ctx context.Context, cfg *config.Config, logger *common.Logger, boot proc.Boot) (*app.App, error)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// Options is the parsed command line of a tool process.
type Options struct {
	ConfigFiles []string
	Port        int
	Host        string
	Version     bool
}

// ParseArgs parses "[flags] [port]". The positional port wins over -port.
func ParseArgs(binary string, args []string) (Options, error) {
	var (
		opts  Options
		files configPaths
	)
	fs := flag.NewFlagSet(binary, flag.ContinueOnError)
	fs.Var(&files, "config", "Configuration file path (can be specified multiple times)")
	fs.Var(&files, "c", "Configuration file path (shorthand)")
	fs.IntVar(&opts.Port, "port", 0, "Server port (overrides config)")
	fs.StringVar(&opts.Host, "host", "", "Server host (overrides config)")
	fs.BoolVar(&opts.Version, "version", false, "Print version information")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		port, err := strconv.Atoi(fs.Arg(0))
		if err != nil || port <= 0 || port > 65535 {
			return Options{}, fmt.Errorf("invalid port %q", fs.Arg(0))
		}
		opts.Port = port
	}
	opts.ConfigFiles = files
	return opts, nil
}

// LoadConfig loads, overrides and validates the configuration for opts.
func LoadConfig(opts Options) (*config.Config, error) {
	files := opts.ConfigFiles
	if len(files) == 0 {
		files = config.Discover()
	}
	cfg, err := config.LoadFromFiles(files...)
	if err != nil {
		return nil, err
	}
	config.ApplyFlagOverrides(cfg, opts.Port, opts.Host)
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", issues)
	}
	return cfg, nil
}

// NewLogger creates the arbor logger of a binary from config.
func NewLogger(cfg *config.Config, binary string) *common.Logger {
	return common.NewLoggerFromConfig(common.LoggingConfig{
		Level:      cfg.Logging.Level,
		Outputs:    cfg.Logging.Outputs,
		FilePath:   cfg.LogFileFor(binary),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// Run is the main of a tool process. It returns the process exit code.
func Run(binary string, build Builder) int {
	opts, err := ParseArgs(binary, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", binary, err)
		return 2
	}
	if opts.Version {
		fmt.Printf("%s version %s\n", binary, config.GetFullVersion())
		return 0
	}

	cfg, err := LoadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", binary, err)
		return 1
	}
	logger := NewLogger(cfg, binary)

	boot, err := proc.ReadBootFromStdin()
	if err != nil {
		logger.Error().Str("error", err.Error()).Msg("failed to read boot payload")
		return 1
	}

	logger.Info().
		Str("tool", binary).
		Int("port", cfg.Server.Port).
		Str("host", cfg.Server.Host).
		Int("boot_servers", len(boot.Servers)).
		Str("config_files", fmt.Sprintf("%v", opts.ConfigFiles)).
		Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := build(ctx, cfg, logger, boot)
	if err != nil {
		logger.Error().Str("error", err.Error()).Msg("failed to initialize application")
		return 1
	}

	srv := server.New(application)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	// Signals only request shutdown; the work happens below.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			application.Registry.RequestShutdown()
		}
	}()

	code := 0
	select {
	case <-application.Registry.ShutdownRequested():
		logger.Info().Str("tool", binary).Msg("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Str("error", err.Error()).Msg("server failed")
			code = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := application.Close(shutdownCtx); err != nil {
		logger.Error().Str("error", err.Error()).Msg("failed to terminate started tools")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Str("error", err.Error()).Msg("server shutdown failed")
	}

	logger.Info().Str("tool", binary).Msg("stopped")
	return code
}
