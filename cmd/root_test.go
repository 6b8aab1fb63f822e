package cmd

import "testing"

func TestResolveConfigPathDefaultsToConfigJSON(t *testing.T) {
	cfgFile = ""
	t.Setenv("GORAL_CONFIG", "")
	if got := resolveConfigPath(); got != "config.json" {
		t.Fatalf("expected default config.json, got %q", got)
	}
}

func TestResolveConfigPathPrefersFlag(t *testing.T) {
	cfgFile = "/tmp/flag-config.json"
	defer func() { cfgFile = "" }()
	t.Setenv("GORAL_CONFIG", "/tmp/env-config.json")

	if got := resolveConfigPath(); got != "/tmp/flag-config.json" {
		t.Fatalf("expected flag to take precedence, got %q", got)
	}
}

func TestResolveConfigPathFallsBackToEnv(t *testing.T) {
	cfgFile = ""
	t.Setenv("GORAL_CONFIG", "/tmp/env-config.json")

	if got := resolveConfigPath(); got != "/tmp/env-config.json" {
		t.Fatalf("expected env var fallback, got %q", got)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"version", "run", "perms", "plugins"} {
		if !names[want] {
			t.Errorf("expected rootCmd to register %q subcommand", want)
		}
	}
}
