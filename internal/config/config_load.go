package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// Load reads config from a TOML file, then overlays env vars. A missing
// file is not an error: Default() with env overrides applied is returned,
// matching the teacher's Load() behavior for a missing config.json.
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

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secret and deployment env vars onto the
// config. Env vars take precedence over file values, matching the
// teacher's GOCLAW_* precedence but under the OMEGA_ prefix.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("OMEGA_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("OMEGA_WHATSAPP_BRIDGE_URL", &c.Channels.WhatsApp.BridgeURL)
	envStr("OMEGA_WEBHOOK_TOKEN", &c.Webhook.BearerToken)

	envStr("OMEGA_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("OMEGA_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("OMEGA_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)

	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.WhatsApp.BridgeURL != "" {
		c.Channels.WhatsApp.Enabled = true
	}

	envStr("OMEGA_STORE_PATH", &c.Store.Path)
	envStr("OMEGA_WEBHOOK_LISTEN_ADDR", &c.Webhook.ListenAddr)
	envStr("OMEGA_DEFAULT_PROVIDER", &c.Gateway.DefaultProvider)
	envStr("OMEGA_LANGUAGE", &c.Gateway.Language)

	if v := os.Getenv("OMEGA_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}
	if v := os.Getenv("OMEGA_SANDBOX_MODE"); v != "" {
		c.Sandbox.Mode = v
	}
	if v := os.Getenv("OMEGA_SCHEDULER_POLL_INTERVAL_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Scheduler.PollIntervalSecs = secs
		}
	}

	envStr("OMEGA_BUILD_FAST_PROVIDER", &c.Build.FastProvider)
	envStr("OMEGA_BUILD_COMPLEX_PROVIDER", &c.Build.ComplexProvider)
}

// ApplyEnvOverrides re-applies environment variable overrides, for callers
// that mutate a loaded Config and need secrets restored afterward.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to a TOML file. Env-only secret fields are tagged
// `toml:"-"` so they are never serialized back to disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Hash returns a SHA-256 hash of the config's TOML encoding, for detecting
// whether a reload actually changed anything.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var b strings.Builder
	_ = toml.NewEncoder(&b).Encode(c)
	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// Watcher hot-reloads Config from path whenever the file changes on disk,
// following cmd/gateway.go's config-watch pattern but driven by fsnotify
// instead of a manual poll.
type Watcher struct {
	path    string
	cfg     *Config
	watcher *fsnotify.Watcher
	onErr   func(error)
}

// NewWatcher starts watching path's parent directory (editors often
// replace-then-rename, which fsnotify sees as a Remove on the original
// inode, so the directory is watched rather than the file itself) and
// reloads cfg in place on any Write or Create event matching path.
func NewWatcher(path string, cfg *Config, onErr func(error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	cw := &Watcher{path: path, cfg: cfg, watcher: w, onErr: onErr}
	go cw.loop()
	return cw, nil
}

func (w *Watcher) loop() {
	abs, _ := filepath.Abs(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventAbs, _ := filepath.Abs(event.Name)
			if eventAbs != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := Load(w.path)
			if err != nil {
				if w.onErr != nil {
					w.onErr(fmt.Errorf("reload config: %w", err))
				}
				continue
			}
			w.cfg.ReplaceFrom(next)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.onErr != nil {
				w.onErr(err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
