// Package config loads and merges the server's static configuration: HTTP
// binding, LLM provider credentials/profiles, checkpoint storage, and
// logging. It is the env/hardcoded-defaults tier the Session Config
// Resolver (internal/sessionconfig) falls back to once a per-user override
// doesn't supply a field.
package config

// Config is the top-level configuration for the agent server.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CheckpointConfig selects and configures the checkpoint store backend.
type CheckpointConfig struct {
	// URL selects the backend: "memory" (default) or a sqlite DSN
	// ("sqlite:///path/to/file.db"). Mirrors CHECKPOINT_STORE_URL.
	URL string `yaml:"url"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the hardcoded fallback configuration, used when no
// config file and no environment variable supplies a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
		},
		Checkpoint: CheckpointConfig{
			URL: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (resolving $include directives) and decodes it into a
// Config seeded with Default()'s fallbacks. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	merged := mergeConfig(*cfg, *decoded)
	return &merged, nil
}

func mergeConfig(base, override Config) Config {
	if override.Server.Host != "" {
		base.Server.Host = override.Server.Host
	}
	if override.Server.Port != 0 {
		base.Server.Port = override.Server.Port
	}
	if override.LLM.DefaultProvider != "" {
		base.LLM.DefaultProvider = override.LLM.DefaultProvider
	}
	if override.LLM.Providers != nil {
		base.LLM.Providers = override.LLM.Providers
	}
	if override.LLM.FallbackChain != nil {
		base.LLM.FallbackChain = override.LLM.FallbackChain
	}
	if override.Checkpoint.URL != "" {
		base.Checkpoint.URL = override.Checkpoint.URL
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	return base
}
