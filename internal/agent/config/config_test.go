package config

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := OpenStore(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	defer store.Close()

	value, err := store.Get("missing")
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, store.Set("relay_url", "wss://relay.example.com"))
	value, err = store.Get("relay_url")
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example.com", value)

	// Upsert overwrites.
	require.NoError(t, store.Set("relay_url", "wss://other.example.com"))
	value, err = store.Get("relay_url")
	require.NoError(t, err)
	require.Equal(t, "wss://other.example.com", value)
}

func TestLoadMintsStableIdentity(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLAUDE_MOBILE_HOME", home)
	t.Setenv("CLAUDE_MOBILE_AGENT_ID", "")
	t.Setenv("CLAUDE_MOBILE_RELAY_URL", "")
	t.Setenv("CLAUDE_MOBILE_GITHUB_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)
	defer cfg.Close()

	_, err = uuid.Parse(cfg.AgentID)
	require.NoError(t, err)

	first := cfg.AgentID
	require.NoError(t, cfg.Close())

	// A second boot reads the same identity back.
	again, err := Load()
	require.NoError(t, err)
	defer again.Close()
	require.Equal(t, first, again.AgentID)
}

func TestLoadEnvOverridesStore(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLAUDE_MOBILE_HOME", home)

	store, err := OpenStore(filepath.Join(home, "agent.db"))
	require.NoError(t, err)
	require.NoError(t, store.Set(KeyRelayURL, "wss://from-store.example.com"))
	require.NoError(t, store.Set(KeyGithubToken, "store-token"))
	require.NoError(t, store.Close())

	t.Setenv(EnvRelayURL, "wss://from-env.example.com")
	t.Setenv(EnvGithubToken, "")
	t.Setenv(EnvAgentID, "")

	cfg, err := Load()
	require.NoError(t, err)
	defer cfg.Close()

	require.Equal(t, "wss://from-env.example.com", cfg.RelayURL)
	require.Equal(t, "store-token", cfg.GithubToken)
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsMissingConfiguration(t *testing.T) {
	t.Setenv("CLAUDE_MOBILE_HOME", t.TempDir())
	t.Setenv(EnvRelayURL, "")
	t.Setenv(EnvGithubToken, "")
	t.Setenv(EnvAgentID, "")

	cfg, err := Load()
	require.NoError(t, err)
	defer cfg.Close()

	require.Error(t, cfg.Validate())

	t.Setenv(EnvRelayURL, "wss://relay.example.com")
	cfgWithRelay, err := Load()
	require.NoError(t, err)
	defer cfgWithRelay.Close()
	require.Error(t, cfgWithRelay.Validate(), "forge token still missing")
}

func TestDefaults(t *testing.T) {
	t.Setenv("CLAUDE_MOBILE_HOME", t.TempDir())
	t.Setenv("CLAUDE_MOBILE_WORKSPACE_DIR", "")
	t.Setenv("CLAUDE_MOBILE_CLAUDE_BIN", "")
	t.Setenv(EnvAgentID, "")

	cfg, err := Load()
	require.NoError(t, err)
	defer cfg.Close()

	require.Equal(t, "claude", cfg.ClaudeBin)
	require.Equal(t, filepath.Join(cfg.Home, "workspaces"), cfg.WorkspaceDir)
	require.Equal(t, "oauth", cfg.AuthMode)
}
