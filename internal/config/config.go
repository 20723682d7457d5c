// Package config loads and hot-reloads the gateway's TOML configuration,
// following the teacher's config_load.go env-override precedence (file then
// env) and cmd/gateway.go's config-watch pattern, rendered in TOML instead
// of JSON per the wider example pack's idiomatic Go CLI convention.
package config

import (
	"sync"

	"github.com/omegahq/gateway/internal/sandbox"
)

// Config is the root configuration for the Omega gateway.
type Config struct {
	Gateway   GatewayConfig   `toml:"gateway"`
	Channels  ChannelsConfig  `toml:"channels"`
	Providers ProvidersConfig `toml:"providers"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Build     BuildConfig     `toml:"build"`
	Webhook   WebhookConfig   `toml:"webhook"`

	mu sync.RWMutex
}

// GatewayConfig controls the core event loop and pipeline.
type GatewayConfig struct {
	OwnerIDs        []string `toml:"owner_ids"`
	MaxMessageChars int      `toml:"max_message_chars"`
	IdleTimeoutMins int      `toml:"idle_timeout_mins"`
	Language        string   `toml:"language"` // fallback language for localized build/discovery messages
	DefaultProvider string   `toml:"default_provider"`
}

// SandboxConfig is the TOML-facing mirror of sandbox.Config.
type SandboxConfig struct {
	Mode            string   `toml:"mode"`             // "off", "non-main", "all"
	WorkspaceAccess string   `toml:"workspace_access"` // "none", "ro", "rw"
	Scope           string   `toml:"scope"`            // "session", "agent", "shared"
	AllowedPaths    []string `toml:"allowed_paths"`
	DeniedPaths     []string `toml:"denied_paths"`
}

// StoreConfig controls the SQLite memory store.
type StoreConfig struct {
	Path string `toml:"path"`
}

// SchedulerConfig controls the due-task poll loop.
type SchedulerConfig struct {
	PollIntervalSecs int `toml:"poll_interval_secs"`
}

// BuildConfig controls the multi-phase build orchestrator.
type BuildConfig struct {
	TopologyPath    string `toml:"topology_path"`
	WorkspaceDir    string `toml:"workspace_dir"`
	FastProvider    string `toml:"fast_provider"`    // provider used by phases 3-7
	ComplexProvider string `toml:"complex_provider"` // provider used by phases 1-2
}

// WebhookConfig controls the HTTP webhook/pairing surface.
type WebhookConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddr    string `toml:"listen_addr"`
	BearerToken   string `toml:"-"` // from env OMEGA_WEBHOOK_TOKEN only, never persisted
	UseTsnet      bool   `toml:"use_tsnet"`
	TsnetHostname string `toml:"tsnet_hostname,omitempty"`
}

// Default returns a Config with sensible defaults, mirroring the teacher's
// config.Default() shape.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			MaxMessageChars: 4096,
			IdleTimeoutMins: 30,
			Language:        "en",
			DefaultProvider: "subprocess",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{RateLimitPerS: 1, RateLimitBurst: 3},
			WhatsApp: WhatsAppConfig{RateLimitPerS: 1, RateLimitBurst: 3},
		},
		Sandbox: SandboxConfig{
			Mode:            "non-main",
			WorkspaceAccess: "rw",
			Scope:           "session",
		},
		Store: StoreConfig{
			Path: "~/.omega/omega.db",
		},
		Scheduler: SchedulerConfig{
			PollIntervalSecs: 60,
		},
		Build: BuildConfig{
			TopologyPath: "~/.omega/build/topology.toml",
			WorkspaceDir: "~/.omega/workspace",
		},
		Webhook: WebhookConfig{
			ListenAddr: "127.0.0.1:18790",
		},
	}
}

// Snapshot returns a copy of the config's data fields safe to read without
// holding the lock afterward.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

// ReplaceFrom swaps in every data field from src under the write lock,
// used by the fsnotify-driven reload path.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Sandbox = src.Sandbox
	c.Store = src.Store
	c.Scheduler = src.Scheduler
	c.Build = src.Build
	webhookToken := c.Webhook.BearerToken
	c.Webhook = src.Webhook
	c.Webhook.BearerToken = webhookToken // env-only secret survives reload
}

// ToSandboxConfig converts the TOML-facing SandboxConfig into sandbox.Config,
// matching the teacher's ToSandboxConfig placement directly beside the
// struct it reads.
func (sc SandboxConfig) ToSandboxConfig() sandbox.Config {
	cfg := sandbox.DefaultConfig()

	switch sc.Mode {
	case "all":
		cfg.Mode = sandbox.ModeAll
	case "non-main":
		cfg.Mode = sandbox.ModeNonMain
	case "off", "":
		cfg.Mode = sandbox.ModeOff
	}
	switch sc.WorkspaceAccess {
	case "none":
		cfg.WorkspaceAccess = sandbox.AccessNone
	case "ro":
		cfg.WorkspaceAccess = sandbox.AccessRO
	case "rw", "":
		cfg.WorkspaceAccess = sandbox.AccessRW
	}
	switch sc.Scope {
	case "agent":
		cfg.Scope = sandbox.ScopeAgent
	case "shared":
		cfg.Scope = sandbox.ScopeShared
	case "session", "":
		cfg.Scope = sandbox.ScopeSession
	}
	cfg.AllowedPaths = sc.AllowedPaths
	cfg.DeniedPaths = sc.DeniedPaths
	return cfg
}
