// Package config loads the agent's configuration: a sqlite settings
// store under the agent home, with documented environment-variable
// fallbacks that also work when the store is unavailable.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

// Settings keys in the store.
const (
	KeyAgentID     = "agent_id"
	KeyRelayURL    = "relay_url"
	KeyGithubToken = "github_token"
	KeyAuthMode    = "auth_mode"
	KeyProviderKey = "provider_key"
)

// Environment fallbacks for the five stored settings. They override
// the store and keep the agent usable when the store cannot be opened.
const (
	EnvAgentID     = "CLAUDE_MOBILE_AGENT_ID"
	EnvRelayURL    = "CLAUDE_MOBILE_RELAY_URL"
	EnvGithubToken = "CLAUDE_MOBILE_GITHUB_TOKEN"
	EnvAuthMode    = "CLAUDE_MOBILE_AUTH_MODE"
	EnvProviderKey = "CLAUDE_MOBILE_PROVIDER_KEY"
)

// Config is the agent's resolved configuration.
type Config struct {
	// Home is the directory where the agent stores local state.
	Home string
	// WorkspaceDir is the root for repository working copies.
	WorkspaceDir string
	// ClaudeBin is the code tool binary to spawn.
	ClaudeBin string
	// Debug enables verbose logging.
	Debug bool

	// AgentID is the stable identity presented to the relay.
	AgentID string
	// RelayURL is the relay endpoint.
	RelayURL string
	// GithubToken is the forge access token.
	GithubToken string
	// AuthMode selects how the code tool authenticates (token|oauth).
	AuthMode string
	// ProviderKey is the optional model-provider API key, exported to
	// the code tool's environment when AuthMode is "token".
	ProviderKey string

	// PushoverToken/PushoverUser enable optional task notifications.
	PushoverToken string
	PushoverUser  string

	store *Store
}

// Load resolves the agent configuration: home directory, settings
// store, env fallbacks, and a freshly minted identity on first run.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	home := os.Getenv("CLAUDE_MOBILE_HOME")
	if home == "" {
		home = filepath.Join(homeDir, ".claude-mobile")
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create agent home: %w", err)
	}

	cfg := &Config{
		Home:         home,
		WorkspaceDir: filepath.Join(home, "workspaces"),
		ClaudeBin:    "claude",
	}
	if dir := os.Getenv("CLAUDE_MOBILE_WORKSPACE_DIR"); dir != "" {
		cfg.WorkspaceDir = dir
	}
	if bin := os.Getenv("CLAUDE_MOBILE_CLAUDE_BIN"); bin != "" {
		cfg.ClaudeBin = bin
	}
	cfg.Debug = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	cfg.PushoverToken = os.Getenv("CLAUDE_MOBILE_PUSHOVER_TOKEN")
	cfg.PushoverUser = os.Getenv("CLAUDE_MOBILE_PUSHOVER_USER")

	// The store is best-effort: when it cannot be opened the documented
	// environment variables carry the configuration instead.
	store, err := OpenStore(filepath.Join(home, "agent.db"))
	if err != nil {
		logger.Warnf("[Config] settings store unavailable: %v", err)
	} else {
		cfg.store = store
	}

	cfg.AgentID = cfg.resolve(KeyAgentID, EnvAgentID)
	cfg.RelayURL = cfg.resolve(KeyRelayURL, EnvRelayURL)
	cfg.GithubToken = cfg.resolve(KeyGithubToken, EnvGithubToken)
	cfg.AuthMode = cfg.resolve(KeyAuthMode, EnvAuthMode)
	cfg.ProviderKey = cfg.resolve(KeyProviderKey, EnvProviderKey)

	if cfg.AuthMode == "" {
		cfg.AuthMode = "oauth"
	}

	// Identity is chosen once and persisted; it must survive restarts
	// so the relay can keep the pairing code stable.
	if cfg.AgentID == "" {
		if cfg.store == nil {
			return nil, fmt.Errorf("no agent identity: settings store unavailable and %s unset", EnvAgentID)
		}
		cfg.AgentID = uuid.NewString()
		if err := cfg.store.Set(KeyAgentID, cfg.AgentID); err != nil {
			return nil, fmt.Errorf("failed to persist agent identity: %w", err)
		}
		logger.Infof("[Config] minted agent identity %s", cfg.AgentID)
	}

	return cfg, nil
}

// resolve reads one setting with env-over-store precedence.
func (c *Config) resolve(storeKey, envKey string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if c.store == nil {
		return ""
	}
	value, err := c.store.Get(storeKey)
	if err != nil {
		logger.Warnf("[Config] failed to read %s: %v", storeKey, err)
		return ""
	}
	return value
}

// Validate reports whether the daemon can start.
func (c *Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("relay URL not configured (run setup, or set %s)", EnvRelayURL)
	}
	if c.GithubToken == "" {
		return fmt.Errorf("forge token not configured (run setup, or set %s)", EnvGithubToken)
	}
	return nil
}

// Store exposes the settings store; nil when unavailable.
func (c *Config) Store() *Store {
	return c.store
}

// Close releases the settings store.
func (c *Config) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
