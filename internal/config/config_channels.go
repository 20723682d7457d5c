package config

// ChannelsConfig contains per-channel configuration. Only Telegram and
// WhatsApp are in scope; Discord/Slack/Zalo/Feishu bridges were dropped
// along with their teacher packages (see DESIGN.md).
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	WhatsApp WhatsAppConfig `toml:"whatsapp"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled        bool     `toml:"enabled"`
	Token          string   `toml:"-"` // from env OMEGA_TELEGRAM_TOKEN only
	Proxy          string   `toml:"proxy,omitempty"`
	AuthEnabled    bool     `toml:"auth_enabled"`
	AllowFrom      []string `toml:"allow_from"`
	RateLimitPerS  float64  `toml:"rate_limit_per_s"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// WhatsAppConfig configures the WhatsApp bridge channel.
type WhatsAppConfig struct {
	Enabled        bool     `toml:"enabled"`
	BridgeURL      string   `toml:"bridge_url"`
	AuthEnabled    bool     `toml:"auth_enabled"`
	AllowFrom      []string `toml:"allow_from"`
	RateLimitPerS  float64  `toml:"rate_limit_per_s"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// ProvidersConfig maps provider name to its config. API keys are always
// env-sourced, never persisted to the TOML file.
type ProvidersConfig struct {
	Subprocess SubprocessProviderConfig `toml:"subprocess"`
	Anthropic  APIProviderConfig        `toml:"anthropic"`
	OpenAI     APIProviderConfig        `toml:"openai"`
	OpenRouter APIProviderConfig        `toml:"openrouter"`
}

// SubprocessProviderConfig configures the bundled sandboxed subprocess
// provider exemplar.
type SubprocessProviderConfig struct {
	Enabled    bool     `toml:"enabled"`
	Executable string   `toml:"executable"`
	Args       []string `toml:"args"`
	TimeoutSec int      `toml:"timeout_sec"`
}

// APIProviderConfig configures a remote API-key-backed provider. No
// concrete implementation ships for these; the shape exists so an operator
// can wire one in without changing the config schema.
type APIProviderConfig struct {
	Enabled bool   `toml:"enabled"`
	APIKey  string `toml:"-"` // from env only, see applyEnvOverrides
	APIBase string `toml:"api_base,omitempty"`
	Model   string `toml:"model,omitempty"`
}

// HasAnyAPIProvider returns true if at least one remote provider has an
// API key configured via env.
func (c *Config) HasAnyAPIProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != "" || p.OpenRouter.APIKey != ""
}
