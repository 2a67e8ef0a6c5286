package config

// LLMConfig holds the provider/profile credentials the Session Config
// Resolver falls back to once neither a per-user override nor an
// environment variable supplies a field.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider fails.
	// Providers are tried in order until one succeeds.
	// Example: ["openai", "google"] - try OpenAI first, then Google.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig is the base configuration for one provider, optionally
// overridden per named profile.
type LLMProviderConfig struct {
	APIKey       string                              `yaml:"api_key"`
	DefaultModel string                              `yaml:"default_model"`
	BaseURL      string                              `yaml:"base_url"`
	MaxTokens    int                                 `yaml:"max_tokens"`
	Profiles     map[string]LLMProviderProfileConfig `yaml:"profiles"`
}

// LLMProviderProfileConfig overrides a subset of LLMProviderConfig's fields.
// Only non-zero fields take effect; see ResolveProviderProfile.
type LLMProviderProfileConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// ResolveProviderProfile overlays profileID's fields on top of cfg. An
// empty profileID returns cfg unchanged. Only fields the profile actually
// sets override the base provider config.
func ResolveProviderProfile(cfg LLMProviderConfig, profileID string) (LLMProviderConfig, bool) {
	if profileID == "" {
		return cfg, true
	}
	profile, ok := cfg.Profiles[profileID]
	if !ok {
		return cfg, false
	}
	effective := cfg
	if profile.APIKey != "" {
		effective.APIKey = profile.APIKey
	}
	if profile.DefaultModel != "" {
		effective.DefaultModel = profile.DefaultModel
	}
	if profile.BaseURL != "" {
		effective.BaseURL = profile.BaseURL
	}
	if profile.MaxTokens != 0 {
		effective.MaxTokens = profile.MaxTokens
	}
	return effective, true
}
