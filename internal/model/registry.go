package model

import (
	_ "embed"
	"fmt"
	"math/rand/v2"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultCatalog []byte

// Registry is the immutable model catalog. Construct with Load or Default;
// all methods are safe for concurrent use without locking.
type Registry struct {
	entries []Entry
	byID    map[string]*Entry
	classes map[string]Class
}

// catalogFile is the YAML shape of a catalog document.
type catalogFile struct {
	Models  []Entry `yaml:"models"`
	Classes []Class `yaml:"classes"`
}

// Default loads the embedded catalog. The embedded data is validated by
// tests, so a failure here is a build defect.
func Default() *Registry {
	r, err := Load(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("model: embedded catalog invalid: %v", err))
	}
	return r
}

// Load parses a YAML catalog and validates it: ids and aliases must be
// globally unique, class members must resolve, clock values must parse.
func Load(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("model: parse catalog: %w", err)
	}

	r := &Registry{
		entries: file.Models,
		byID:    make(map[string]*Entry, len(file.Models)*2),
		classes: make(map[string]Class, len(file.Classes)),
	}

	for i := range r.entries {
		e := &r.entries[i]
		if e.ID == "" {
			return nil, fmt.Errorf("model: entry %d has no id", i)
		}
		if _, dup := r.byID[e.ID]; dup {
			return nil, fmt.Errorf("model: duplicate id %q", e.ID)
		}
		r.byID[e.ID] = e
		for _, alias := range e.Aliases {
			if _, dup := r.byID[alias]; dup {
				return nil, fmt.Errorf("model: alias %q collides with an existing id or alias", alias)
			}
			r.byID[alias] = e
		}
		if err := precomputeClocks(&e.Cost); err != nil {
			return nil, fmt.Errorf("model: %s: %w", e.ID, err)
		}
	}

	for _, c := range file.Classes {
		for _, m := range c.Members {
			if _, ok := r.byID[m]; !ok {
				return nil, fmt.Errorf("model: class %q references unknown model %q", c.ID, m)
			}
		}
		r.classes[c.ID] = c
	}

	return r, nil
}

// precomputeClocks parses the HH:MM peak boundaries once at load time.
func precomputeClocks(c *Cost) error {
	for _, comp := range []*ComponentCost{&c.Input, &c.Output, &c.Cached} {
		tod := comp.TimeOfDay
		if tod == nil {
			continue
		}
		var err error
		if tod.startMin, err = parseClock(tod.PeakStart); err != nil {
			return err
		}
		if tod.endMin, err = parseClock(tod.PeakEnd); err != nil {
			return err
		}
	}
	return nil
}

// Find resolves a model id or alias to its entry.
func (r *Registry) Find(idOrAlias string) (*Entry, bool) {
	e, ok := r.byID[idOrAlias]
	return e, ok
}

// HasClass reports whether a class with the given id exists.
func (r *Registry) HasClass(classID string) bool {
	_, ok := r.classes[classID]
	return ok
}

// ClassMembers returns the member ids of a class in registry order. When the
// class is marked random, members are shuffled per call, weighted by entry
// score (unscored entries weigh 1).
func (r *Registry) ClassMembers(classID string) []string {
	c, ok := r.classes[classID]
	if !ok {
		return nil
	}
	members := make([]string, len(c.Members))
	copy(members, c.Members)
	if c.Random {
		r.weightedShuffle(members)
	}
	return members
}

// weightedShuffle reorders members by repeated weighted sampling without
// replacement, so higher-scoring models tend to appear earlier.
func (r *Registry) weightedShuffle(members []string) {
	weights := make([]float64, len(members))
	for i, id := range members {
		weights[i] = 1
		if e, ok := r.byID[id]; ok && e.Score > 0 {
			weights[i] = e.Score
		}
	}

	for i := 0; i < len(members)-1; i++ {
		total := 0.0
		for _, w := range weights[i:] {
			total += w
		}
		pick := rand.Float64() * total
		j := i
		for ; j < len(members)-1; j++ {
			pick -= weights[j]
			if pick < 0 {
				break
			}
		}
		members[i], members[j] = members[j], members[i]
		weights[i], weights[j] = weights[j], weights[i]
	}
}

// Entries returns all catalog entries in registry order. The returned slice
// must not be mutated.
func (r *Registry) Entries() []Entry {
	return r.entries
}
