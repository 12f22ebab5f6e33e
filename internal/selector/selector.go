// Package selector picks a concrete model from a capability class under
// API-key availability and quota constraints.
package selector

import (
	"fmt"
	"log/slog"

	"github.com/magi-ai/magi/internal/model"
	"github.com/magi-ai/magi/internal/provider"
	"github.com/magi-ai/magi/internal/quota"
	"github.com/magi-ai/magi/internal/router"
)

// Selector resolves class ids to model ids.
type Selector struct {
	registry *model.Registry
	router   *router.Router
	quota    *quota.Manager
	logger   *slog.Logger
}

// New builds a Selector. quota may be nil, in which case every model is
// treated as within quota.
func New(registry *model.Registry, r *router.Router, q *quota.Manager, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{registry: registry, router: r, quota: q, logger: logger}
}

// Select picks a model id from class (empty means "standard").
//
// Pass A takes the first member whose provider has a usable key and whose
// quota permits; pass B relaxes the quota constraint, allowing deliberate
// over-quota use. A non-standard class that fails both passes retries
// against "standard". The last resort is the first member of the requested
// class even without a key, so the adapter surfaces a structured
// configuration error rather than selection failing opaquely.
func (s *Selector) Select(class string) (string, error) {
	if class == "" {
		class = model.ClassStandard
	}
	members := s.registry.ClassMembers(class)
	if len(members) == 0 {
		return "", fmt.Errorf("%w: class %q has no members", provider.ErrUnknownModel, class)
	}

	if id, ok := s.pick(members, true); ok {
		return id, nil
	}
	if id, ok := s.pick(members, false); ok {
		s.logger.Debug("selected model over quota", "class", class, "model", id)
		return id, nil
	}

	if class != model.ClassStandard {
		std := s.registry.ClassMembers(model.ClassStandard)
		if id, ok := s.pick(std, true); ok {
			s.logger.Debug("fell back to standard class", "requested", class, "model", id)
			return id, nil
		}
		if id, ok := s.pick(std, false); ok {
			return id, nil
		}
	}

	s.logger.Warn("no provider key for any class member, returning first",
		"class", class, "model", members[0])
	return members[0], nil
}

// pick returns the first member with provider credentials, optionally also
// requiring quota.
func (s *Selector) pick(members []string, needQuota bool) (string, bool) {
	for _, id := range members {
		name := s.router.ProviderNameFor(id)
		if !s.router.HasCredentials(name) {
			continue
		}
		if needQuota && s.quota != nil && !s.quota.HasQuota(name, id) {
			continue
		}
		return id, true
	}
	return "", false
}
