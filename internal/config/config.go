// Package config provides configuration management for gtd-copilot.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the client
type Config struct {
	// Backend
	APIURL   string `yaml:"api_url"`
	APIToken string `yaml:"api_token"`

	// Assistant, used directly when no backend is configured
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`

	RedisURL         string `yaml:"redis_url"`
	Locale           string `yaml:"locale"`
	ConversationsDir string `yaml:"conversations_dir"`

	// Telemetry config
	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	OTLPEndpoint     string `yaml:"otlp_endpoint"`

	// Offline keeps items in process and talks to no backend
	Offline bool `yaml:"offline"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Locale:           "de",
		ConversationsDir: ".gtd-copilot/conversations",
	}
}

// Load reads the YAML file at path, if path is not empty, and then overlays environment variables. Environment
// variables win over the file.
func Load(path string) (Config, error) {
	config := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file '%s': %w", path, err)
		}
	}

	loadOptionalFromEnv(&config.APIURL, "GTD_API_URL")
	loadOptionalFromEnv(&config.APIToken, "GTD_API_TOKEN")
	loadOptionalFromEnv(&config.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	loadOptionalFromEnv(&config.Model, "GTD_MODEL")
	loadOptionalFromEnv(&config.RedisURL, "GTD_REDIS_URL")
	loadOptionalFromEnv(&config.Locale, "GTD_LOCALE")
	loadOptionalFromEnv(&config.ConversationsDir, "GTD_CONVERSATIONS_DIR")
	loadOptionalFromEnv(&config.OTLPEndpoint, "GTD_OTLP_ENDPOINT")
	if err := parseOptionalFromEnv(&config.TelemetryEnabled, "GTD_TELEMETRY_ENABLED", strconv.ParseBool); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks if the required configuration is present
func (c Config) Validate() error {
	if c.Locale != "de" && c.Locale != "en" {
		return fmt.Errorf("unsupported locale '%s', expected 'de' or 'en'", c.Locale)
	}
	if c.Offline {
		return nil
	}
	if c.APIURL == "" && c.AnthropicAPIKey == "" {
		return fmt.Errorf("missing required environment variable: GTD_API_URL or ANTHROPIC_API_KEY")
	}
	return nil
}

func loadOptionalFromEnv(dest *string, key string) {
	_ = parseOptionalFromEnv(dest, key, func(v string) (string, error) { return v, nil })
}

func parseOptionalFromEnv[T any](dest *T, key string, parseFn func(string) (T, error)) error {
	str := os.Getenv(key)
	if str == "" {
		return nil // Leave default value
	}
	v, err := parseFn(str)
	if err != nil {
		return fmt.Errorf("failed to parse environment variable '%s' value '%s' as '%T': %w", key, str, *dest, err)
	}
	*dest = v
	return nil
}
