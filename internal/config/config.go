// Package config handles reeve configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reeve", "config.yaml"))
	}

	paths = append(paths, "/etc/reeve/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all reeve configuration.
type Config struct {
	Telegram    TelegramConfig  `yaml:"telegram"`
	Providers   ProvidersConfig `yaml:"providers"`
	Agent       AgentConfig     `yaml:"agent"`
	Search      SearchConfig    `yaml:"search"`
	MQTT        MQTTConfig      `yaml:"mqtt"`
	Web         WebConfig       `yaml:"web"`
	DataDir     string          `yaml:"data_dir"`
	PersonaFile string          `yaml:"persona_file"`
	Timezone    string          `yaml:"timezone"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"` // text or json
}

// TelegramConfig defines the Bot API front end.
type TelegramConfig struct {
	// Token is the bot token from @BotFather. Usually written as
	// ${TELEGRAM_BOT_TOKEN} and expanded at load time.
	Token string `yaml:"token"`
	// AllowedUserIDs lists the chat ids permitted to talk to the bot.
	// Messages from anyone else are logged and dropped.
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
	// PollTimeoutSec is the long-poll hold time for getUpdates (default 30).
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
	// RatePerMinute caps messages per sender per minute (default 10).
	RatePerMinute int `yaml:"rate_per_minute"`
}

// Provider families. Family selects the wire protocol a chain entry
// speaks; "openai" covers every OpenAI-compatible gateway.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyOllama    = "ollama"
)

// ProvidersConfig defines the chat-completion fallback chain.
type ProvidersConfig struct {
	// Primary names the chain entry used when a session has no
	// explicit model selection.
	Primary string `yaml:"primary"`
	// Chain is the ordered fallback list. Entries are tried in listed
	// order after the primary; an entry with family "ollama" needs no
	// credential and acts as the local last resort.
	Chain []ProviderConfig `yaml:"chain"`
}

// ProviderConfig defines a single chat-completion backend.
type ProviderConfig struct {
	ID      string `yaml:"id"`
	Family  string `yaml:"family"` // FamilyOpenAI, FamilyAnthropic, FamilyOllama
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKey is a literal key or a ${VAR} reference expanded at load.
	APIKey string `yaml:"api_key"`
	// APIKeyEnv names an environment variable read at resolution time
	// instead. Lets the chain skip providers whose key is absent
	// without failing config load.
	APIKeyEnv   string       `yaml:"api_key_env"`
	Temperature float64      `yaml:"temperature"`
	MaxTokens   int          `yaml:"max_tokens"`
	TimeoutSec  int          `yaml:"timeout_sec"`
	Enabled     bool         `yaml:"enabled"`
	Quirks      QuirksConfig `yaml:"quirks"`
}

// QuirksConfig captures per-provider message-shape deviations.
type QuirksConfig struct {
	// NoSystemRole folds the system prompt into the first user
	// message for backends that reject a system role.
	NoSystemRole bool `yaml:"no_system_role"`
	// ReasoningTag names a delimiter whose <tag>...</tag> block is
	// hidden chain-of-thought to strip from replies (e.g. "think").
	ReasoningTag string `yaml:"reasoning_tag"`
}

// AgentConfig bounds the tool-use loop and session history.
type AgentConfig struct {
	MaxHistory       int `yaml:"max_history"`
	MaxToolRounds    int `yaml:"max_tool_rounds"`
	MaxCallsPerTool  int `yaml:"max_calls_per_tool"`
	RequireTextEvery int `yaml:"require_text_every"`
}

// SearchConfig defines web search providers for the web_search tool.
type SearchConfig struct {
	Primary     string `yaml:"primary"` // searxng or brave
	SearXNGURL  string `yaml:"searxng_url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

// MQTTConfig defines the optional status publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// WebConfig defines the ops dashboard server.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // bind address ("" = all interfaces)
	Port    int    `yaml:"port"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with a local-only provider chain and
// conservative loop bounds. A config file overrides any of it.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxHistory:       40,
			MaxToolRounds:    10,
			MaxCallsPerTool:  3,
			RequireTextEvery: 4,
		},
		Providers: ProvidersConfig{
			Primary: "local",
			Chain: []ProviderConfig{
				{
					ID:      "local",
					Family:  FamilyOllama,
					BaseURL: "http://localhost:11434",
					Model:   "qwen3:8b",
					Enabled: true,
					Quirks:  QuirksConfig{ReasoningTag: "think"},
				},
			},
		},
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
			RatePerMinute:  10,
		},
		MQTT: MQTTConfig{
			DeviceName:         "reeve",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		Web: WebConfig{
			Port: 8090,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate checks cross-field consistency that YAML parsing can't.
func (c *Config) Validate() error {
	if len(c.Providers.Chain) == 0 {
		return fmt.Errorf("providers.chain must list at least one provider")
	}

	seen := make(map[string]bool, len(c.Providers.Chain))
	hasLocal := false
	for i, p := range c.Providers.Chain {
		if p.ID == "" {
			return fmt.Errorf("providers.chain[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers.chain: duplicate id %q", p.ID)
		}
		seen[p.ID] = true

		switch p.Family {
		case FamilyOpenAI, FamilyAnthropic, FamilyOllama:
		default:
			return fmt.Errorf("providers.chain[%d] (%s): unknown family %q", i, p.ID, p.Family)
		}
		if p.Model == "" {
			return fmt.Errorf("providers.chain[%d] (%s): model is required", i, p.ID)
		}
		if p.Family == FamilyOllama && p.Enabled {
			hasLocal = true
		}
	}

	if c.Providers.Primary != "" && !seen[c.Providers.Primary] {
		return fmt.Errorf("providers.primary %q is not in the chain", c.Providers.Primary)
	}
	if !hasLocal {
		return fmt.Errorf("providers.chain needs an enabled ollama entry as the local last resort")
	}

	if c.Agent.MaxHistory < 2 {
		return fmt.Errorf("agent.max_history must be at least 2")
	}
	if c.Agent.MaxToolRounds < 1 || c.Agent.MaxCallsPerTool < 1 || c.Agent.RequireTextEvery < 1 {
		return fmt.Errorf("agent loop bounds must all be at least 1")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	if c.Search.Primary != "" && c.Search.Primary != "searxng" && c.Search.Primary != "brave" {
		return fmt.Errorf("search.primary must be searxng or brave, got %q", c.Search.Primary)
	}

	return nil
}

// Location resolves the configured timezone, defaulting to the
// system's local zone when unset or unparseable.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DatabasePath returns the SQLite file path under the data directory.
func (c *Config) DatabasePath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(expandHome(dir), "reeve.db")
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
