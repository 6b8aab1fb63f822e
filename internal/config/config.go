// Package config loads and persists Coral's configuration file, per
// spec.md §6's recognized-keys table. Grounded on the teacher's
// internal/config package: a mutex-guarded struct, Default()/Load()/Save(),
// env var overrides applied after the file, and a Hash() for optimistic
// concurrency — retargeted from GoClaw's gateway/agent keys to Coral's
// websocket/plugin/permission keys, and from strict JSON to JSON5
// (github.com/titanous/json5), matching spec.md's own config file being
// JSON but written leniently by hand.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/titanous/json5"
)

// DashboardConfig is the optional web-dashboard UI, out of core scope per
// spec.md §1 but still a recognized config key (external collaborator,
// referenced by contract only).
type DashboardConfig struct {
	Enable bool   `json:"enable"`
	Listen string `json:"listen"`
	Port   int    `json:"port"`
}

// Config mirrors spec.md §6's configuration file shape. AdapterConfig and
// DriverConfig hold the free-form `<protocol>_adapter` / `<name>_driver`
// per-component maps.
type Config struct {
	mu sync.RWMutex

	WebsocketPort int    `json:"websocket_port"`
	SelfID        string `json:"self_id"`
	PluginDir     string `json:"plugin_dir"`
	PermFile      string `json:"perm_file"`
	IndexURL      string `json:"index_url"`

	CoralVersion         string `json:"coral_version"`
	PluginManagerVersion string `json:"pluginmanager_version"`
	LastInitTime         int64  `json:"last_init_time"`

	Dashboard DashboardConfig `json:"dashboard"`

	AdapterConfig map[string]map[string]any `json:"-"`
	DriverConfig  map[string]map[string]any `json:"-"`
}

// Default returns a Config with Coral's documented defaults.
func Default() *Config {
	return &Config{
		WebsocketPort: 6700,
		SelfID:        "10001",
		PluginDir:     "./plugins",
		PermFile:      "./coral.perms",
		AdapterConfig: make(map[string]map[string]any),
		DriverConfig:  make(map[string]map[string]any),
	}
}

// componentSuffix splits a raw top-level key into (name, "adapter"|"driver")
// when it matches the `<x>_adapter` / `<x>_driver` convention.
func componentSuffix(key string) (name, kind string, ok bool) {
	const adapterSuffix = "_adapter"
	const driverSuffix = "_driver"
	if len(key) > len(adapterSuffix) && key[len(key)-len(adapterSuffix):] == adapterSuffix {
		return key[:len(key)-len(adapterSuffix)], "adapter", true
	}
	if len(key) > len(driverSuffix) && key[len(key)-len(driverSuffix):] == driverSuffix {
		return key[:len(key)-len(driverSuffix)], "driver", true
	}
	return "", "", false
}

// Load reads config from path (JSON5), overlays env var overrides, and
// returns a ready Config. A missing file yields Default() with env
// overrides applied, mirroring the teacher's Load.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var top map[string]json.RawMessage
	if err := json5.Unmarshal(data, &top); err == nil {
		for key, raw := range top {
			name, kind, ok := componentSuffix(key)
			if !ok {
				continue
			}
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				continue
			}
			if kind == "adapter" {
				cfg.AdapterConfig[name] = m
			} else {
				cfg.DriverConfig[name] = m
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays GORAL_-prefixed env vars, taking precedence
// over file values — same override-after-load idiom as the teacher's
// GOCLAW_-prefixed variables.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GORAL_SELF_ID", &c.SelfID)
	envStr("GORAL_PLUGIN_DIR", &c.PluginDir)
	envStr("GORAL_PERM_FILE", &c.PermFile)
	envStr("GORAL_INDEX_URL", &c.IndexURL)
	if v := os.Getenv("GORAL_WEBSOCKET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.WebsocketPort = port
		}
	}
	if v := os.Getenv("GORAL_DASHBOARD_ENABLE"); v != "" {
		c.Dashboard.Enable = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies env var overrides — used after a hot reload
// replaces the in-memory Config, restoring runtime secrets from env.
func (c *Config) ApplyEnvOverrides() { c.applyEnvOverrides() }

// Save persists cfg to path atomically: write to a temp file in the same
// directory, fsync, then rename over the destination — the same pattern
// internal/permission's save() uses for its store.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename config file: %w", err)
	}
	cleanup = false
	return nil
}

// Hash returns a short SHA-256 digest of cfg, for detecting whether a
// reloaded file actually changed before swapping it in.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// AdapterConfigFor returns the free-form config map for the named adapter
// protocol, or an empty map if none was declared.
func (c *Config) AdapterConfigFor(protocol string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.AdapterConfig[protocol]; ok {
		return m
	}
	return map[string]any{}
}

// DriverConfigFor returns the free-form config map for the named driver.
func (c *Config) DriverConfigFor(name string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.DriverConfig[name]; ok {
		return m
	}
	return map[string]any{}
}
