package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultGeminiBaseURL is the Gemini REST endpoint used when none is configured.
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultOpenAIBaseURL is the OpenAI endpoint used when none is configured.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	defaultFastModel    = "gemini-2.5-flash"
	defaultCapableModel = "gemini-2.5-pro"
)

// Config represents the application configuration parsed from YAML and the environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Providers ProvidersConfig `yaml:"providers"`
	Routing   RoutingConfig   `yaml:"routing"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// ProvidersConfig catalogues configured upstream providers.
type ProvidersConfig struct {
	Gemini *ProviderConfig `yaml:"gemini"`
	OpenAI *ProviderConfig `yaml:"openai"`
}

// ProviderConfig captures authentication and model info for a provider.
type ProviderConfig struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Models  []string          `yaml:"models"`
	Headers Headers           `yaml:"headers"`
	Aliases map[string]string `yaml:"aliases"`
	Timeout time.Duration     `yaml:"timeout" validate:"gte=0"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// RoutingConfig names the models used by the router.
type RoutingConfig struct {
	ClassifierModel string `yaml:"classifier_model" validate:"required"`
	FastModel       string `yaml:"fast_model" validate:"required"`
	CapableModel    string `yaml:"capable_model" validate:"required"`
}

// CacheConfig enables the optional classification cache. An empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gte=0"`
}

// Enabled reports whether a cache backend is configured.
func (c CacheConfig) Enabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// TelemetryConfig enables OTLP trace export. An empty Endpoint disables it.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Enabled reports whether trace export is configured.
func (t TelemetryConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

type envOverrides struct {
	Host            string `env:"HOST"`
	Port            int    `env:"PORT"`
	LogLevel        string `env:"LOG_LEVEL"`
	LogFormat       string `env:"LOG_FORMAT"`
	APIKey          string `env:"API_KEY"`
	GeminiAPIKey    string `env:"GEMINI_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	ClassifierModel string `env:"SMART_ROUTER_CLASSIFIER_MODEL"`
	FastModel       string `env:"SMART_ROUTER_FAST_MODEL"`
	CapableModel    string `env:"SMART_ROUTER_CAPABLE_MODEL"`
	RedisAddr       string `env:"REDIS_ADDR"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used when no file is given: a single
// Gemini provider serving both the fast and the capable model.
func Default() Config {
	cfg := base()
	cfg.Providers.Gemini = &ProviderConfig{
		BaseURL: DefaultGeminiBaseURL,
		Models:  []string{defaultFastModel, defaultCapableModel},
	}
	cfg.Routing = RoutingConfig{
		ClassifierModel: defaultFastModel,
		FastModel:       defaultFastModel,
		CapableModel:    defaultCapableModel,
	}
	return cfg
}

func base() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         3000,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Load builds the configuration from an optional YAML file and the
// environment, then validates the result. An empty path yields Default()
// overlaid with the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		cfg = base()
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	cfg.fillProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	setString(&cfg.Server.Host, o.Host)
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	setString(&cfg.Log.Level, strings.ToLower(o.LogLevel))
	setString(&cfg.Log.Format, strings.ToLower(o.LogFormat))

	if cfg.Providers.Gemini != nil {
		setString(&cfg.Providers.Gemini.APIKey, o.APIKey)
		setString(&cfg.Providers.Gemini.APIKey, o.GeminiAPIKey)
	}
	if cfg.Providers.OpenAI != nil {
		setString(&cfg.Providers.OpenAI.APIKey, o.OpenAIAPIKey)
	}

	setString(&cfg.Routing.ClassifierModel, o.ClassifierModel)
	setString(&cfg.Routing.FastModel, o.FastModel)
	setString(&cfg.Routing.CapableModel, o.CapableModel)

	setString(&cfg.Cache.RedisAddr, o.RedisAddr)
	setString(&cfg.Cache.RedisPassword, o.RedisPassword)
	setString(&cfg.Telemetry.Endpoint, o.OTLPEndpoint)
	return nil
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func (c *Config) fillProviderDefaults() {
	if c.Providers.Gemini != nil && strings.TrimSpace(c.Providers.Gemini.BaseURL) == "" {
		c.Providers.Gemini.BaseURL = DefaultGeminiBaseURL
	}
	if c.Providers.OpenAI != nil && strings.TrimSpace(c.Providers.OpenAI.BaseURL) == "" {
		c.Providers.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	providers := c.namedProviders()
	if len(providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	served := make(map[string]struct{})
	for name, provider := range providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
		for _, model := range provider.Models {
			served[model] = struct{}{}
		}
		for alias := range provider.Aliases {
			served[alias] = struct{}{}
		}
	}

	routed := map[string]string{
		"routing.classifier_model": c.Routing.ClassifierModel,
		"routing.fast_model":       c.Routing.FastModel,
		"routing.capable_model":    c.Routing.CapableModel,
	}
	for field, model := range routed {
		if _, ok := served[model]; !ok {
			return fmt.Errorf("%s %q is not served by any configured provider", field, model)
		}
	}

	return nil
}

func (c Config) namedProviders() map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig, 2)
	if c.Providers.Gemini != nil {
		providers["gemini"] = *c.Providers.Gemini
	}
	if c.Providers.OpenAI != nil {
		providers["openai"] = *c.Providers.OpenAI
	}
	return providers
}

func validateProvider(name string, provider ProviderConfig) error {
	if err := validate.Struct(provider); err != nil {
		return fmt.Errorf("provider %s: %w", name, err)
	}
	if strings.TrimSpace(provider.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", name)
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if len(provider.Models) == 0 {
		return fmt.Errorf("provider %s: at least one model must be configured", name)
	}

	for _, model := range provider.Models {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", name)
		}
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	for alias, target := range provider.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("provider %s: alias name must not be empty", name)
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("provider %s: alias %q target must not be empty", name, alias)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
