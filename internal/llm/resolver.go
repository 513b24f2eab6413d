package llm

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mwortham/reeve/internal/config"
)

// Active is a resolved provider: a constructed client plus the bits
// callers need to drive it for one turn.
type Active struct {
	ID      string
	Model   string
	Client  Client
	Adapter Adapter
}

// Resolver walks the configured provider chain and hands out clients.
// Resolution order is the session's selection first when it names a
// chain entry, then the primary, then the remaining entries in listed
// order with local Ollama entries last. Clients are built once per
// provider id and reused; credentials are looked up fresh on every
// resolution so a provider whose key is absent is skipped quietly
// instead of failing the turn.
type Resolver struct {
	order  []config.ProviderConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Active

	// getenv is swapped out in tests
	getenv func(string) string
}

// NewResolver builds a resolver over the configured chain.
func NewResolver(cfg config.ProvidersConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		order:   resolutionOrder(cfg),
		logger:  logger.With("component", "resolver"),
		clients: make(map[string]*Active),
		getenv:  os.Getenv,
	}
}

// resolutionOrder returns enabled chain entries in fallback order:
// primary first, then the rest as listed, with Ollama entries moved to
// the back so the local last resort really is last.
func resolutionOrder(cfg config.ProvidersConfig) []config.ProviderConfig {
	var head, mid, tail []config.ProviderConfig
	for _, p := range cfg.Chain {
		if !p.Enabled {
			continue
		}
		switch {
		case p.ID == cfg.Primary:
			head = append(head, p)
		case p.Family == config.FamilyOllama:
			tail = append(tail, p)
		default:
			mid = append(mid, p)
		}
	}
	return append(append(head, mid...), tail...)
}

// Resolve returns the first available provider for a turn. The
// selected id, when non-empty, names the session's model choice; an
// unknown or unavailable selection falls through to the normal chain.
func (r *Resolver) Resolve(selected string) (*Active, error) {
	cands := r.Candidates(selected)
	if len(cands) == 0 {
		return nil, fmt.Errorf("no provider available: every chain entry is disabled or missing its credential")
	}
	return cands[0], nil
}

// Candidates returns the full ordered provider list for a turn.
// Entries missing their credential are skipped with a log line, never
// an error: a missing key on one provider should not block the chain.
func (r *Resolver) Candidates(selected string) []*Active {
	var out []*Active
	seen := make(map[string]bool)

	if selected != "" {
		if p, ok := r.lookup(selected); ok {
			if a := r.activate(p); a != nil {
				out = append(out, a)
			}
			seen[p.ID] = true
		} else {
			r.logger.Info("selected model not in provider chain, using default order", "selected", selected)
		}
	}

	for _, p := range r.order {
		if seen[p.ID] {
			continue
		}
		if a := r.activate(p); a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Lookup reports whether id names a usable chain entry. Used by the
// model-selection command to validate input before persisting it.
func (r *Resolver) Lookup(id string) (config.ProviderConfig, bool) {
	return r.lookup(id)
}

// Order returns chain ids in resolution order, for status output.
func (r *Resolver) Order() []string {
	ids := make([]string, len(r.order))
	for i, p := range r.order {
		ids[i] = p.ID
	}
	return ids
}

// lookup matches by entry id first, then by model name, so users can
// select either "claude" or "claude-sonnet-4-20250514".
func (r *Resolver) lookup(selected string) (config.ProviderConfig, bool) {
	for _, p := range r.order {
		if p.ID == selected {
			return p, true
		}
	}
	for _, p := range r.order {
		if p.Model == selected {
			return p, true
		}
	}
	return config.ProviderConfig{}, false
}

// activate returns a ready client for p, or nil when its credential
// is not set.
func (r *Resolver) activate(p config.ProviderConfig) *Active {
	key, ok := r.credential(p)
	if !ok {
		r.logger.Debug("provider skipped, credential not set", "provider", p.ID, "env", p.APIKeyEnv)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.clients[p.ID]; ok {
		return a
	}

	settings := ProviderSettings{
		Name:        p.ID,
		BaseURL:     p.BaseURL,
		APIKey:      key,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     time.Duration(p.TimeoutSec) * time.Second,
	}

	var client Client
	switch p.Family {
	case config.FamilyAnthropic:
		client = NewAnthropicClient(settings, r.logger)
	case config.FamilyOllama:
		client = NewOllamaClient(settings, r.logger)
	default:
		client = NewOpenAIClient(settings, r.logger)
	}

	a := &Active{
		ID:      p.ID,
		Model:   p.Model,
		Client:  client,
		Adapter: NewAdapter(p.Quirks),
	}
	r.clients[p.ID] = a
	return a
}

// credential resolves p's API key. Ollama needs none. A key written
// inline (or expanded from ${VAR} at load) wins; otherwise the named
// environment variable is read now, so keys added after startup are
// picked up without a restart.
func (r *Resolver) credential(p config.ProviderConfig) (string, bool) {
	if p.Family == config.FamilyOllama {
		return "", true
	}
	if p.APIKey != "" {
		return p.APIKey, true
	}
	if p.APIKeyEnv != "" {
		if key := r.getenv(p.APIKeyEnv); key != "" {
			return key, true
		}
	}
	return "", false
}
