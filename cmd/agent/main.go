package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/vominhhoang308/claude-mobile/internal/agent/client"
	"github.com/vominhhoang308/claude-mobile/internal/agent/config"
	"github.com/vominhhoang308/claude-mobile/internal/agent/forge"
	"github.com/vominhhoang308/claude-mobile/internal/agent/notify"
	"github.com/vominhhoang308/claude-mobile/internal/agent/runner"
	"github.com/vominhhoang308/claude-mobile/internal/agent/task"
	"github.com/vominhhoang308/claude-mobile/internal/agent/workspace"
	"github.com/vominhhoang308/claude-mobile/internal/version"
	"github.com/vominhhoang308/claude-mobile/internal/wire"
	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.Errorf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "setup":
			return setupCommand(args[1:])
		case "help", "--help", "-h":
			printUsage()
			return nil
		case "version", "--version", "-v":
			fmt.Println("claude-mobile-agent v" + versionString())
			return nil
		}
	}

	return daemon()
}

// daemon is the default mode: connect to the relay and serve requests
// until the process is asked to stop.
func daemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer cfg.Close()

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Infof("[Agent] home: %s", cfg.Home)
	logger.Infof("[Agent] relay: %s", cfg.RelayURL)

	// In token auth mode the provider key, when configured, travels to
	// the code tool through its environment.
	if cfg.AuthMode == "token" && cfg.ProviderKey != "" {
		os.Setenv("ANTHROPIC_API_KEY", cfg.ProviderKey)
	}

	forgeClient, err := forge.NewClient(forge.Config{Token: cfg.GithubToken})
	if err != nil {
		return err
	}

	// Agent lifetime: cancelling kills in-flight child processes. No
	// commit rollback is attempted.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayClient := client.New(cfg.RelayURL, cfg.AgentID, versionString())
	pipeline := task.New(ctx,
		relayClient,
		workspace.NewManager(cfg.WorkspaceDir, cfg.GithubToken),
		forgeClient,
		runner.New(cfg.ClaudeBin),
		notifierFor(cfg),
	)

	relayClient.OnFrame(func(frame map[string]any) {
		kind, _ := frame["type"].(string)
		switch kind {
		case wire.TypeRegisterOK:
			code, _ := frame["pairingCode"].(string)
			printPairingCode(code)
		case wire.TypeError:
			message, _ := frame["message"].(string)
			logger.Warnf("[Agent] relay error: %s", message)
		}
	})
	relayClient.OnFrame(pipeline.HandleFrame)

	relayClient.Start()
	logger.Infof("[Agent] running, press Ctrl+C to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("[Agent] shutting down")
	cancel()
	relayClient.Stop()
	return nil
}

// notifierFor returns the optional Pushover notifier. task.New accepts
// a nil interface, so the typed nil must not leak into it.
func notifierFor(cfg *config.Config) task.Notifier {
	if p := notify.NewPushover(cfg.PushoverToken, cfg.PushoverUser); p != nil {
		return p
	}
	return nil
}

// printPairingCode shows the (possibly rotated) pairing code with a
// scannable QR for the mobile app.
func printPairingCode(code string) {
	fmt.Println()
	fmt.Println("  Pairing code:", code)

	qr, err := qrcode.New("claudemobile://pair?code="+code, qrcode.Medium)
	if err != nil {
		logger.Debugf("[Agent] QR render failed: %v", err)
		fmt.Println()
		return
	}
	fmt.Println(qr.ToSmallString(false))
}

// setupCommand writes flag-supplied settings to the store.
func setupCommand(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	relayURL := fs.String("relay-url", "", "Relay endpoint URL")
	githubToken := fs.String("github-token", "", "Forge access token")
	authMode := fs.String("auth-mode", "", "Code tool auth mode (token|oauth)")
	providerKey := fs.String("provider-key", "", "Model provider API key")
	agentID := fs.String("agent-id", "", "Override the agent identity (advanced)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *authMode != "" && *authMode != "token" && *authMode != "oauth" {
		return fmt.Errorf("invalid --auth-mode %q (expected token or oauth)", *authMode)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer cfg.Close()

	store := cfg.Store()
	if store == nil {
		return fmt.Errorf("settings store unavailable; configure through environment variables instead")
	}

	updates := map[string]string{
		config.KeyRelayURL:    *relayURL,
		config.KeyGithubToken: *githubToken,
		config.KeyAuthMode:    *authMode,
		config.KeyProviderKey: *providerKey,
		config.KeyAgentID:     *agentID,
	}
	for key, value := range updates {
		if value == "" {
			continue
		}
		if err := store.Set(key, value); err != nil {
			return err
		}
	}

	fmt.Println("Settings saved.")
	fmt.Println("  Home:      ", cfg.Home)
	if *relayURL != "" {
		fmt.Println("  Relay:     ", *relayURL)
	}
	if *githubToken != "" {
		fmt.Println("  Forge:      token configured")
	}
	if *authMode != "" {
		fmt.Println("  Auth mode: ", *authMode)
	}
	return nil
}

func versionString() string {
	return version.Version
}

func printUsage() {
	fmt.Println(`claude-mobile-agent - drive Claude Code from your phone

Usage:
  claude-mobile-agent          Run the agent daemon (default)
  claude-mobile-agent setup    Write settings to the local store
  claude-mobile-agent version  Show version information
  claude-mobile-agent help     Show this help message

Setup flags:
  --relay-url      Relay endpoint URL
  --github-token   Forge access token used for cloning and pull requests
  --auth-mode      Code tool auth mode (token|oauth)
  --provider-key   Model provider API key (used with --auth-mode token)
  --agent-id       Override the agent identity (advanced)

Environment variables (override the settings store):
  CLAUDE_MOBILE_AGENT_ID       Agent identity
  CLAUDE_MOBILE_RELAY_URL      Relay endpoint URL
  CLAUDE_MOBILE_GITHUB_TOKEN   Forge access token
  CLAUDE_MOBILE_AUTH_MODE      Code tool auth mode (token|oauth)
  CLAUDE_MOBILE_PROVIDER_KEY   Model provider API key

  CLAUDE_MOBILE_HOME           State directory (default: ~/.claude-mobile)
  CLAUDE_MOBILE_WORKSPACE_DIR  Working-copy root (default: ~/.claude-mobile/workspaces)
  CLAUDE_MOBILE_CLAUDE_BIN     Code tool binary (default: claude)
  DEBUG                        Enable debug logging (true/1)

Examples:
  # Configure the agent
  claude-mobile-agent setup --relay-url wss://relay.example.com --github-token ghp_xxx

  # Run against a local relay
  CLAUDE_MOBILE_RELAY_URL=ws://localhost:8080 claude-mobile-agent`)
}
