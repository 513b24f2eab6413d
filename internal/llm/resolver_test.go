package llm

import (
	"testing"

	"github.com/mwortham/reeve/internal/config"
)

func testChain() config.ProvidersConfig {
	return config.ProvidersConfig{
		Primary: "claude",
		Chain: []config.ProviderConfig{
			{
				ID:        "openrouter",
				Family:    config.FamilyOpenAI,
				BaseURL:   "https://openrouter.ai/api/v1",
				Model:     "qwen/qwen3-235b-a22b",
				APIKeyEnv: "OPENROUTER_API_KEY",
				Enabled:   true,
			},
			{
				ID:        "claude",
				Family:    config.FamilyAnthropic,
				Model:     "claude-sonnet-4-20250514",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Enabled:   true,
			},
			{
				ID:      "local",
				Family:  config.FamilyOllama,
				BaseURL: "http://localhost:11434",
				Model:   "qwen3:8b",
				Enabled: true,
				Quirks:  config.QuirksConfig{ReasoningTag: "think"},
			},
		},
	}
}

func newTestResolver(t *testing.T, cfg config.ProvidersConfig, env map[string]string) *Resolver {
	t.Helper()
	r := NewResolver(cfg, nil)
	r.getenv = func(key string) string { return env[key] }
	return r
}

func ids(cands []*Active) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ID
	}
	return out
}

func TestResolver_PrimaryFirst(t *testing.T) {
	env := map[string]string{
		"ANTHROPIC_API_KEY":  "sk-ant-test",
		"OPENROUTER_API_KEY": "sk-or-test",
	}
	r := newTestResolver(t, testChain(), env)

	active, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID != "claude" {
		t.Errorf("expected primary claude first, got %q", active.ID)
	}
	if active.Model != "claude-sonnet-4-20250514" {
		t.Errorf("Model = %q", active.Model)
	}
	if active.Client == nil || active.Adapter == nil {
		t.Error("Active must carry a client and an adapter")
	}

	got := ids(r.Candidates(""))
	want := []string{"claude", "openrouter", "local"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate order = %v, want %v", got, want)
		}
	}
}

func TestResolver_SkipsMissingCredential(t *testing.T) {
	// Anthropic key absent: the chain should walk past it silently.
	env := map[string]string{
		"OPENROUTER_API_KEY": "sk-or-test",
	}
	r := newTestResolver(t, testChain(), env)

	active, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID != "openrouter" {
		t.Errorf("expected openrouter after skipping claude, got %q", active.ID)
	}
}

func TestResolver_LocalLastResortNeedsNoCredential(t *testing.T) {
	r := newTestResolver(t, testChain(), map[string]string{})

	active, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve with no credentials: %v", err)
	}
	if active.ID != "local" {
		t.Errorf("expected local last resort, got %q", active.ID)
	}
	if _, ok := active.Client.(*OllamaClient); !ok {
		t.Errorf("local provider should use the Ollama client, got %T", active.Client)
	}
}

func TestResolver_SelectionJumpsQueue(t *testing.T) {
	env := map[string]string{
		"ANTHROPIC_API_KEY":  "sk-ant-test",
		"OPENROUTER_API_KEY": "sk-or-test",
	}
	r := newTestResolver(t, testChain(), env)

	got := ids(r.Candidates("openrouter"))
	want := []string{"openrouter", "claude", "local"}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate order = %v, want %v", got, want)
		}
	}
}

func TestResolver_SelectionByModelName(t *testing.T) {
	env := map[string]string{
		"ANTHROPIC_API_KEY":  "sk-ant-test",
		"OPENROUTER_API_KEY": "sk-or-test",
	}
	r := newTestResolver(t, testChain(), env)

	active, err := r.Resolve("qwen/qwen3-235b-a22b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID != "openrouter" {
		t.Errorf("model-name selection should match openrouter, got %q", active.ID)
	}
}

func TestResolver_UnknownSelectionFallsBack(t *testing.T) {
	env := map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test"}
	r := newTestResolver(t, testChain(), env)

	active, err := r.Resolve("gpt-99-ultra")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID != "claude" {
		t.Errorf("unknown selection should fall back to primary, got %q", active.ID)
	}
}

func TestResolver_SelectedProviderMissingCredential(t *testing.T) {
	// Selection is honored only if the provider can actually run.
	env := map[string]string{"OPENROUTER_API_KEY": "sk-or-test"}
	r := newTestResolver(t, testChain(), env)

	active, err := r.Resolve("claude")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID != "openrouter" {
		t.Errorf("expected fallback past uncredentialed selection, got %q", active.ID)
	}
}

func TestResolver_DisabledProviderExcluded(t *testing.T) {
	cfg := testChain()
	for i := range cfg.Chain {
		if cfg.Chain[i].ID == "openrouter" {
			cfg.Chain[i].Enabled = false
		}
	}
	env := map[string]string{"OPENROUTER_API_KEY": "sk-or-test"}
	r := newTestResolver(t, cfg, env)

	for _, c := range r.Candidates("") {
		if c.ID == "openrouter" {
			t.Fatal("disabled provider must not appear in candidates")
		}
	}

	// Even selecting it explicitly does not revive it.
	active, err := r.Resolve("openrouter")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID == "openrouter" {
		t.Error("disabled provider must not be resolvable")
	}
}

func TestResolver_InlineKeyNeedsNoEnv(t *testing.T) {
	cfg := testChain()
	for i := range cfg.Chain {
		if cfg.Chain[i].ID == "claude" {
			cfg.Chain[i].APIKey = "sk-ant-inline"
			cfg.Chain[i].APIKeyEnv = ""
		}
	}
	r := newTestResolver(t, cfg, map[string]string{})

	active, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if active.ID != "claude" {
		t.Errorf("inline key should activate claude, got %q", active.ID)
	}
}

func TestResolver_ClientsCached(t *testing.T) {
	env := map[string]string{"ANTHROPIC_API_KEY": "sk-ant-test"}
	r := newTestResolver(t, testChain(), env)

	a1, err := r.Resolve("")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	a2, err := r.Resolve("")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if a1 != a2 {
		t.Error("expected the same cached Active across resolutions")
	}
}

func TestResolver_CredentialAppearingLater(t *testing.T) {
	env := map[string]string{}
	r := newTestResolver(t, testChain(), env)

	if a, _ := r.Resolve(""); a.ID != "local" {
		t.Fatalf("expected local while keys missing, got %q", a.ID)
	}

	// Key shows up without a restart (e.g. systemd env reload).
	env["ANTHROPIC_API_KEY"] = "sk-ant-test"
	a, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.ID != "claude" {
		t.Errorf("expected claude once its key appears, got %q", a.ID)
	}
}

func TestResolver_OrderAndLookup(t *testing.T) {
	r := newTestResolver(t, testChain(), map[string]string{})

	order := r.Order()
	want := []string{"claude", "openrouter", "local"}
	if len(order) != len(want) {
		t.Fatalf("Order() = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Order() = %v, want %v", order, want)
		}
	}

	if _, ok := r.Lookup("local"); !ok {
		t.Error("Lookup(local) should succeed")
	}
	if _, ok := r.Lookup("nope"); ok {
		t.Error("Lookup(nope) should fail")
	}
}

func TestResolver_NoProvidersAvailable(t *testing.T) {
	cfg := config.ProvidersConfig{
		Chain: []config.ProviderConfig{
			{
				ID:        "claude",
				Family:    config.FamilyAnthropic,
				Model:     "claude-sonnet-4-20250514",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Enabled:   true,
			},
		},
	}
	r := newTestResolver(t, cfg, map[string]string{})

	if _, err := r.Resolve(""); err == nil {
		t.Fatal("expected an error when no provider is available")
	}
}
