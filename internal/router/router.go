// Package router maps model ids to provider adapters. Routing is by
// longest-prefix match on the canonical model id, with credential probing
// and an OpenRouter fallback for models that have an OpenRouter listing.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
)

// rule maps a model-id prefix to a provider name.
type rule struct {
	prefix   string
	provider string
}

// rules are checked longest-prefix-first, so "claude-code" beats "claude-"
// and "computer-use-preview" beats "gpt-"-style fallthrough.
var rules = []rule{
	{"computer-use-preview", "openai"},
	{"text-embedding-", "openai"},
	{"claude-code", "claude-code"},
	{"deepseek-", "deepseek"},
	{"gemini-", "google"},
	{"claude-", "anthropic"},
	{"grok-", "xai"},
	{"test-", "test"},
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
}

func init() {
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].prefix) > len(rules[j].prefix)
	})
}

// keyless providers work without an API key.
var keyless = map[string]bool{
	"claude-code": true,
	"test":        true,
}

// Route is a resolved dispatch target. Model is the id to send to the
// adapter; it differs from the requested id when the OpenRouter fallback
// rewrote it.
type Route struct {
	Provider     provider.Provider
	ProviderName string
	Model        string
}

// Router resolves model ids to adapter instances. Immutable after
// construction; reads are lock-free.
type Router struct {
	registry  *model.Registry
	keys      map[string]string
	providers map[string]provider.Provider
	logger    *slog.Logger
}

// New builds a Router. keys maps provider name to a shape-valid API key;
// providers maps provider name to its adapter instance.
func New(registry *model.Registry, keys map[string]string, providers map[string]provider.Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, keys: keys, providers: providers, logger: logger}
}

// ProviderNameFor returns the provider name a model id routes to under the
// prefix rules. Falls back to the catalog's provider field when no prefix
// matches.
func (r *Router) ProviderNameFor(modelID string) string {
	for _, rl := range rules {
		if strings.HasPrefix(modelID, rl.prefix) {
			return rl.provider
		}
	}
	if e, ok := r.registry.Find(modelID); ok {
		return string(e.Provider)
	}
	return "openrouter"
}

// HasCredentials reports whether the named provider is usable: either it
// needs no key or a shape-valid key is configured.
func (r *Router) HasCredentials(providerName string) bool {
	if keyless[providerName] {
		return true
	}
	return r.keys[providerName] != ""
}

// Resolve maps a model id or alias to its dispatch route.
//
// When the direct provider has no key but an OpenRouter key is configured
// and the model has an OpenRouter listing, the route is rewritten to
// OpenRouter pinned to that listing. Otherwise the direct adapter is
// returned even without a key, so the stream surfaces a structured
// configuration error instead of the router guessing.
func (r *Router) Resolve(idOrAlias string) (Route, error) {
	entry, ok := r.registry.Find(idOrAlias)
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", provider.ErrUnknownModel, idOrAlias)
	}

	name := r.ProviderNameFor(entry.ID)

	if !r.HasCredentials(name) && r.HasCredentials("openrouter") && entry.OpenRouterID != "" {
		if p, ok := r.providers["openrouter"]; ok {
			r.logger.Debug("routing via openrouter fallback",
				"model", entry.ID, "openrouter_id", entry.OpenRouterID)
			return Route{Provider: p, ProviderName: "openrouter", Model: entry.OpenRouterID}, nil
		}
	}

	p, ok := r.providers[name]
	if !ok {
		return Route{}, fmt.Errorf("%w: no adapter for provider %q (model %q)",
			provider.ErrNoAPIKey, name, entry.ID)
	}
	return Route{Provider: p, ProviderName: name, Model: entry.ID}, nil
}
