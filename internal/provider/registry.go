package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/requestlog"
)

// Options carries everything an adapter factory may need. Adapters read the
// fields relevant to them and ignore the rest.
type Options struct {
	// APIKey is the provider credential. May be empty; adapters return
	// ErrNoAPIKey from Stream when they cannot work without one.
	APIKey string

	// BaseURL overrides the backend endpoint, for compatible gateways and
	// tests.
	BaseURL string

	// Registry resolves model ids to catalog entries.
	Registry *model.Registry

	// Logger receives adapter diagnostics. Nil means slog.Default.
	Logger *slog.Logger

	// RequestLog records outgoing requests. Nil disables request logging.
	RequestLog *requestlog.Logger

	// Binary and Workdir configure subprocess-backed adapters.
	Binary  string
	Workdir string
}

// Factory builds one adapter instance from options.
type Factory func(Options) (Provider, error)

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// Register records an adapter factory under a provider name. It panics on
// duplicates; intended to be called from init() functions in the adapter
// packages.
func Register(name string, f Factory) {
	if name == "" {
		panic("provider: factory name must not be empty")
	}
	if f == nil {
		panic(fmt.Sprintf("provider %s: factory must not be nil", name))
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("provider already registered: %s", name))
	}
	factories[name] = f
}

// New instantiates the adapter registered under name.
func New(name string, opts Options) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider: no adapter registered for %q", name)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return f(opts)
}

// Registered returns whether an adapter factory exists for name.
func Registered(name string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Names returns every registered provider name in sorted order.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
