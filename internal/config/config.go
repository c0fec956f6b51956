// Package config provides the configuration structure for the voice-model-service.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

var (
	// ErrMissingField is returned by Validate when a required setting is empty.
	ErrMissingField = errors.New("missing required configuration field")
	// ErrInvalidField is returned by Validate when a setting is out of range.
	ErrInvalidField = errors.New("invalid configuration field")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	EvaluateSubject   string `toml:"evaluate_subject"`
	SynthesizeSubject string `toml:"synthesize_subject"`
	ModelBucket       string `toml:"model_object_store_bucket"`
	AudioBucket       string `toml:"audio_object_store_bucket"`
}

// CartConfig holds the decision graph settings.
type CartConfig struct {
	// PreloadKeys names graphs in the model bucket that are loaded at start-up.
	PreloadKeys []string `toml:"preload_keys"`
	// MinData is the minimum number of data items for backtracking evaluation of requests
	// that do not set their own. Zero evaluates such requests to a leaf.
	MinData int `toml:"min_data"`
}

// SynthesisConfig holds the resynthesis and audio output settings.
type SynthesisConfig struct {
	// MaxSampleRate rejects signals above this rate. Zero disables the check.
	MaxSampleRate  int     `toml:"max_sample_rate"`
	BitDepth       int     `toml:"bit_depth"`
	Normalize      bool    `toml:"normalize"`
	Volume         float64 `toml:"volume"`
	FadeInSeconds  float64 `toml:"fade_in_seconds"`
	FadeOutSeconds float64 `toml:"fade_out_seconds"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Cart      CartConfig      `toml:"cart"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the voice-model-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFile reads the configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML configuration data and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks that the settings needed to run the service are present.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{name: "nats.url", value: c.NATS.URL},
		{name: "nats.evaluate_subject", value: c.NATS.EvaluateSubject},
		{name: "nats.synthesize_subject", value: c.NATS.SynthesizeSubject},
		{name: "nats.model_object_store_bucket", value: c.NATS.ModelBucket},
		{name: "nats.audio_object_store_bucket", value: c.NATS.AudioBucket},
		{name: "paths.base_logs_dir", value: c.Paths.BaseLogsDir},
	}

	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, field.name)
		}
	}

	if c.Cart.MinData < 0 {
		return fmt.Errorf("%w: cart.min_data must be non-negative, got %d", ErrInvalidField, c.Cart.MinData)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Synthesis.BitDepth == 0 {
		c.Synthesis.BitDepth = 16
	}

	if c.Synthesis.Volume == 0 {
		c.Synthesis.Volume = 1.0
	}

	if c.Synthesis.TimeoutSeconds == 0 {
		c.Synthesis.TimeoutSeconds = 30
	}
}
