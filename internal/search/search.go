// Package search gives the agent a web search tool backed by
// pluggable providers.
//
// Providers register with the [Manager] under a fixed name. The
// manager routes queries to the configured primary backend and lets a
// caller pick a specific backend by name. When the configured primary
// is absent but exactly one backend is registered, that backend
// serves as the default; a half-filled config should degrade to
// "search still works", not to a dead tool.
package search

import (
	"context"
	"fmt"
	"sort"
)

// Result is one search hit in the shape the model consumes.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options tune a single query.
type Options struct {
	// Count caps how many results come back. Providers may return
	// fewer. Zero means the provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code such as "en" or "de".
	Language string `json:"language,omitempty"`
}

// Provider is a search backend.
type Provider interface {
	// Name is the stable identifier the config and the provider
	// tool argument refer to (e.g. "searxng", "brave").
	Name() string

	// Search runs one query.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager routes queries to registered providers.
type Manager struct {
	backends map[string]Provider
	primary  string
}

// NewManager creates a manager whose default backend is the provider
// registered under primary.
func NewManager(primary string) *Manager {
	return &Manager{
		backends: make(map[string]Provider),
		primary:  primary,
	}
}

// Register adds a backend, replacing any previous one with the same
// name.
func (m *Manager) Register(p Provider) {
	m.backends[p.Name()] = p
}

// Search runs a query against the default backend.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	p, err := m.pick(m.primary)
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, query, opts)
}

// SearchWith runs a query against the named backend.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.backends[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured (have: %v)", provider, m.Providers())
	}
	return p.Search(ctx, query, opts)
}

// pick resolves the default backend. A misnamed primary still resolves
// when only one backend exists.
func (m *Manager) pick(name string) (Provider, error) {
	if p, ok := m.backends[name]; ok {
		return p, nil
	}
	if len(m.backends) == 1 {
		for _, p := range m.backends {
			return p, nil
		}
	}
	return nil, fmt.Errorf("search provider %q not configured (have: %v)", name, m.Providers())
}

// Providers lists the registered backend names in stable order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Configured reports whether any backend is registered.
func (m *Manager) Configured() bool {
	return len(m.backends) > 0
}
