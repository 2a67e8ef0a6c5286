package sessionconfig

import (
	"context"
	"os"
	"strconv"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/pkg/models"
)

const defaultRecursionBound = 1000

// Resolver yields a models.SessionConfig for a (user_id, thread_id) turn,
// applying each tier only where the previous one left a field unset:
// UserSettingsStore override -> process environment -> cfg's hardcoded
// LLM defaults. Grounded on config.ResolveProviderProfile's overlay shape
// (internal/gateway/managers/provider_profiles.go in the teacher), applied
// one layer up: resolving a whole SessionConfig rather than one provider's
// credentials.
type Resolver struct {
	cfg   *config.Config
	users *UserSettingsStore
}

// NewResolver builds a Resolver. users may be nil, meaning no per-user
// overrides are ever found and resolution falls straight to env/defaults.
func NewResolver(cfg *config.Config, users *UserSettingsStore) *Resolver {
	return &Resolver{cfg: cfg, users: users}
}

// Resolve produces the SessionConfig for one turn. It never fails on a
// missing override or a missing env var; it only fails if the resolved
// provider has no API key anywhere in the chain.
func (r *Resolver) Resolve(ctx context.Context, userID, threadID string) (models.SessionConfig, error) {
	providerID := r.cfg.LLM.DefaultProvider
	provider := r.cfg.LLM.Providers[providerID]

	var override UserOverride
	if r.users != nil {
		if o, ok := r.users.Get(userID); ok {
			override = o
		}
	}

	if override.ProviderProfile != "" {
		if resolved, ok := config.ResolveProviderProfile(provider, override.ProviderProfile); ok {
			provider = resolved
		}
	}

	out := models.SessionConfig{
		ThreadID:        threadID,
		UserID:          userID,
		LLMModel:        firstNonEmpty(override.LLMModel, provider.DefaultModel, envString("LLM_DEFAULT_MODEL")),
		APIKey:          firstNonEmpty(provider.APIKey, envString("LLM_API_KEY")),
		BaseURL:         firstNonEmpty(provider.BaseURL, envString("LLM_API_BASE")),
		MaxOutputTokens: firstPositive(override.MaxOutputTokens, provider.MaxTokens, 4096),
		RecursionBound:  firstPositive(override.RecursionBound, envInt("RECURSION_LIMIT"), defaultRecursionBound),
		Extra:           override.Extra,
	}
	if out.APIKey == "" {
		return models.SessionConfig{}, errMissingAPIKey(providerID)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func envString(key string) string {
	return os.Getenv(key)
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

type missingAPIKeyError struct {
	provider string
}

func (e *missingAPIKeyError) Error() string {
	return "sessionconfig: no API key configured for provider " + e.provider
}

func errMissingAPIKey(provider string) error {
	return &missingAPIKeyError{provider: provider}
}
