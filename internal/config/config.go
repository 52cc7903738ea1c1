package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the configuration shared by the bot and every tool process.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Tools   ToolsConfig   `toml:"tools"`
	HTTP    HTTPConfig    `toml:"http"`
	Chat    ChatConfig    `toml:"chat"`
	Cache   CacheConfig   `toml:"cache"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// ToolsConfig describes where tool executables live and how they are supervised.
type ToolsConfig struct {
	Dir              string   `toml:"dir"`
	Entrypoint       string   `toml:"entrypoint"`
	ReadinessTimeout Duration `toml:"readiness_timeout"`
	TerminateGrace   Duration `toml:"terminate_grace"`
	Ignore           []string `toml:"ignore"`
}

// HTTPConfig controls outbound calls to tools.
type HTTPConfig struct {
	ConnectRetries int      `toml:"connect_retries"`
	Timeout        Duration `toml:"timeout"`
}

// ChatConfig contains language model settings for the chat tool.
type ChatConfig struct {
	Provider    string  `toml:"provider"`
	URL         string  `toml:"url"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	MaxDepth    int     `toml:"max_depth"`
	MaxTurns    int     `toml:"max_turns"`
	APIKeyEnv   string  `toml:"api_key_env"`
	AutoAdmit   bool    `toml:"auto_admit"`
}

// APIKey resolves the model API key from the configured environment variable.
func (c ChatConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// CacheConfig contains cache settings for fetched self-descriptions.
type CacheConfig struct {
	SchemaTTL  Duration `toml:"schema_ttl"`
	MaxEntries int      `toml:"max_entries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// Duration is a time.Duration that reads and writes as a Go duration string ("15s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies TOOLMESH_* environment variable overrides to config.
// Spawned tools inherit the environment, so these reach every process in the tree.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("TOOLMESH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TOOLMESH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if dir := os.Getenv("TOOLMESH_TOOLS_DIR"); dir != "" {
		config.Tools.Dir = dir
	}
	if entry := os.Getenv("TOOLMESH_TOOLS_ENTRYPOINT"); entry != "" {
		config.Tools.Entrypoint = entry
	}
	if timeout := os.Getenv("TOOLMESH_TOOLS_READINESS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Tools.ReadinessTimeout.Duration = d
		}
	}
	if retries := os.Getenv("TOOLMESH_HTTP_CONNECT_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			config.HTTP.ConnectRetries = n
		}
	}
	if provider := os.Getenv("TOOLMESH_CHAT_PROVIDER"); provider != "" {
		config.Chat.Provider = provider
	}
	if url := os.Getenv("TOOLMESH_CHAT_URL"); url != "" {
		config.Chat.URL = url
	}
	if model := os.Getenv("TOOLMESH_CHAT_MODEL"); model != "" {
		config.Chat.Model = model
	}
	if depth := os.Getenv("TOOLMESH_CHAT_MAX_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil {
			config.Chat.MaxDepth = n
		}
	}
	if level := os.Getenv("TOOLMESH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if outputs := os.Getenv("TOOLMESH_LOG_OUTPUTS"); outputs != "" {
		config.Logging.Outputs = splitList(outputs)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate returns a list of problems with the configuration. Empty means valid.
func (c *Config) Validate() []string {
	var issues []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Tools.Dir == "" {
		issues = append(issues, "tools.dir is required")
	}
	if c.Tools.Entrypoint == "" {
		issues = append(issues, "tools.entrypoint is required")
	}
	if c.Tools.ReadinessTimeout.Duration <= 0 {
		issues = append(issues, "tools.readiness_timeout must be positive")
	}
	switch strings.ToLower(c.Chat.Provider) {
	case "openai", "ollama":
	default:
		issues = append(issues, fmt.Sprintf("chat.provider %q must be openai or ollama", c.Chat.Provider))
	}
	if c.Chat.MaxDepth < 1 {
		issues = append(issues, "chat.max_depth must be at least 1")
	}
	if c.HTTP.ConnectRetries < 0 {
		issues = append(issues, "http.connect_retries must not be negative")
	}
	return issues
}

// LogFileFor returns the log file path for a named binary when the
// config does not pin one, keeping each process in its own file.
func (c *Config) LogFileFor(binary string) string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return "logs/" + binary + ".log"
}
