package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for gitpayd.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	DatabasePath  string         `yaml:"database"`
	Environment   string         `yaml:"environment"`
	Denomination  string         `yaml:"denomination"`
	Forge         ForgeConfig    `yaml:"forge"`
	Treasury      TreasuryConfig `yaml:"treasury"`
	HTTP          HTTPConfig     `yaml:"http"`
}

// ForgeConfig points at the code-hosting platform API.
type ForgeConfig struct {
	APIBaseURL        string `yaml:"api_base_url"`
	Token             string `yaml:"token"`
	TokenEnv          string `yaml:"token_env"`
	TokenFile         string `yaml:"token_file"`
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookSecretEnv  string `yaml:"webhook_secret_env"`
	WebhookSecretFile string `yaml:"webhook_secret_file"`
}

// TreasuryConfig points at the treasury signer's JSON-RPC endpoint.
type TreasuryConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	AuthToken    string   `yaml:"auth_token"`
	AuthTokenEnv string   `yaml:"auth_token_env"`
	Timeout      Duration `yaml:"timeout"`
}

// HTTPConfig tunes the public API surface.
type HTTPConfig struct {
	AllowedOrigins    []string `yaml:"allowed_origins"`
	RequestsPerMinute float64  `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Forge.normalise(); err != nil {
		return cfg, fmt.Errorf("forge: %w", err)
	}
	if err := cfg.Treasury.normalise(); err != nil {
		return cfg, fmt.Errorf("treasury: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "gitpayd.db"
	}
	if cfg.Denomination == "" {
		cfg.Denomination = "SOL"
	}
	if cfg.Treasury.Timeout.Duration == 0 {
		cfg.Treasury.Timeout.Duration = 15 * time.Second
	}
	if cfg.HTTP.RequestsPerMinute <= 0 {
		cfg.HTTP.RequestsPerMinute = 120
	}
	if cfg.HTTP.Burst <= 0 {
		cfg.HTTP.Burst = 30
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Treasury.Endpoint) == "" {
		return fmt.Errorf("treasury endpoint must be configured")
	}
	if strings.TrimSpace(cfg.Forge.Token) == "" {
		return fmt.Errorf("forge token must be configured")
	}
	return nil
}

func (f *ForgeConfig) normalise() error {
	token, err := resolveSecret(f.Token, f.TokenEnv, f.TokenFile)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	f.Token = token
	secret, err := resolveSecret(f.WebhookSecret, f.WebhookSecretEnv, f.WebhookSecretFile)
	if err != nil {
		return fmt.Errorf("webhook secret: %w", err)
	}
	f.WebhookSecret = secret
	return nil
}

func (t *TreasuryConfig) normalise() error {
	token, err := resolveSecret(t.AuthToken, t.AuthTokenEnv, "")
	if err != nil {
		return fmt.Errorf("auth token: %w", err)
	}
	t.AuthToken = token
	return nil
}

// resolveSecret prefers the inline value, then the named environment
// variable, then the file indirection.
func resolveSecret(inline, envName, fileName string) (string, error) {
	if value := strings.TrimSpace(inline); value != "" {
		return value, nil
	}
	if name := strings.TrimSpace(envName); name != "" {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return "", fmt.Errorf("environment variable %s is empty", name)
		}
		return value, nil
	}
	if path := strings.TrimSpace(fileName); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}
