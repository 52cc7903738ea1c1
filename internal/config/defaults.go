package config

import "time"

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 0,
			Host: "127.0.0.1",
		},
		Tools: ToolsConfig{
			Dir:              "tools",
			Entrypoint:       "main",
			ReadinessTimeout: Duration{15 * time.Second},
			TerminateGrace:   Duration{6 * time.Second},
			Ignore:           []string{"__pycache__", ".*"},
		},
		HTTP: HTTPConfig{
			ConnectRetries: 10,
			Timeout:        Duration{300 * time.Second},
		},
		Chat: ChatConfig{
			Provider:    "openai",
			URL:         "https://api.openai.com/v1/chat/completions",
			Model:       "llama3.1:8b",
			Temperature: 0,
			MaxDepth:    4,
			MaxTurns:    25,
			APIKeyEnv:   "OPENAI_API_KEY",
			AutoAdmit:   true,
		},
		Cache: CacheConfig{
			SchemaTTL:  Duration{30 * time.Second},
			MaxEntries: 64,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Outputs: []string{"console", "file"},
		},
	}
}
