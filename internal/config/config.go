// Package config provides the configuration structure for the narrator service and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/component-narrator/internal/ranking"
)

// Default values applied to unset fields.
const (
	DefaultIdentifySubject    = "narrator.identify"
	DefaultSpeechSubject      = "narrator.speech"
	DefaultObjectStoreBucket  = "NARRATOR_OBJECTS"
	DefaultInferenceURL       = "http://127.0.0.1:8000"
	DefaultClassifierModel    = "Xenova/clip-vit-base-patch16"
	DefaultSynthesizerModel   = "Xenova/mms-tts-eng"
	DefaultTimeoutSeconds     = 60
	DefaultLoadTimeoutSeconds = 300
	DefaultTopN               = 1
	DefaultMaxTextLength      = 1000
	DefaultStreamMaxLength    = 2000
	DefaultCacheTTLMinutes    = 60
	DefaultServerAddress      = ":8080"
	DefaultMaxImageBytes      = 2 * 1024 * 1024
	DefaultRequestTimeout     = 120
	DefaultOutputDir          = "."
)

// ErrInvalidConfig indicates a configuration value out of its allowed range.
var ErrInvalidConfig = errors.New("invalid configuration")

// NATSConfig holds the configuration for NATS. An empty URL disables messaging.
type NATSConfig struct {
	URL               string `toml:"url"`
	IdentifySubject   string `toml:"identify_subject"`
	SpeechSubject     string `toml:"speech_subject"`
	ObjectStoreBucket string `toml:"object_store_bucket"`
}

// Enabled reports whether a NATS server is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// InferenceConfig holds the inference sidecar connection and model names.
type InferenceConfig struct {
	BaseURL            string `toml:"base_url"`
	ClassifierModel    string `toml:"classifier_model"`
	SynthesizerModel   string `toml:"synthesizer_model"`
	Voice              string `toml:"voice"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	LoadTimeoutSeconds int    `toml:"load_timeout_seconds"`
}

// Timeout is the per-request timeout for inference calls.
func (i InferenceConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// LoadTimeout bounds a single model construction.
func (i InferenceConfig) LoadTimeout() time.Duration {
	return time.Duration(i.LoadTimeoutSeconds) * time.Second
}

// RankingConfig holds the acceptance policy. Pointer fields distinguish an explicit
// zero from an unset value.
type RankingConfig struct {
	MinConfidence *float64 `toml:"min_confidence"`
	MinMargin     *float64 `toml:"min_margin"`
	TopN          int      `toml:"top_n"`
	NearMisses    *int     `toml:"near_misses"`
}

// Policy returns the configured acceptance policy.
func (r RankingConfig) Policy() ranking.Policy {
	policy := ranking.DefaultPolicy()

	if r.MinConfidence != nil {
		policy.MinConfidence = *r.MinConfidence
	}

	if r.MinMargin != nil {
		policy.MinMargin = *r.MinMargin
	}

	return policy
}

// SpeechConfig holds narration limits.
type SpeechConfig struct {
	MaxTextLength       int  `toml:"max_text_length"`
	StreamMaxTextLength int  `toml:"stream_max_text_length"`
	NormalizeText       bool `toml:"normalize_text"`
	CacheTTLMinutes     int  `toml:"cache_ttl_minutes"`
}

// CacheTTL is how long synthesized audio stays cached.
func (s SpeechConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLMinutes) * time.Minute
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Address               string `toml:"address"`
	MaxImageBytes         int    `toml:"max_image_bytes"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// RequestTimeout bounds a single identify or speak request.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
	CatalogPath string `toml:"catalog_path"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Inference InferenceConfig `toml:"inference"`
	Ranking   RankingConfig   `toml:"ranking"`
	Speech    SpeechConfig    `toml:"speech"`
	Server    ServerConfig    `toml:"server"`
	Paths     PathsConfig     `toml:"paths"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()

	return cfg
}

// Load loads the service configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML configuration data.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	validationErr := cfg.Validate()
	if validationErr != nil {
		return nil, validationErr
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.IdentifySubject, DefaultIdentifySubject)
	setString(&c.NATS.SpeechSubject, DefaultSpeechSubject)
	setString(&c.NATS.ObjectStoreBucket, DefaultObjectStoreBucket)

	setString(&c.Inference.BaseURL, DefaultInferenceURL)
	setString(&c.Inference.ClassifierModel, DefaultClassifierModel)
	setString(&c.Inference.SynthesizerModel, DefaultSynthesizerModel)
	setInt(&c.Inference.TimeoutSeconds, DefaultTimeoutSeconds)
	setInt(&c.Inference.LoadTimeoutSeconds, DefaultLoadTimeoutSeconds)

	if c.Ranking.MinConfidence == nil {
		value := ranking.DefaultMinConfidence
		c.Ranking.MinConfidence = &value
	}

	if c.Ranking.MinMargin == nil {
		value := ranking.DefaultMinMargin
		c.Ranking.MinMargin = &value
	}

	if c.Ranking.NearMisses == nil {
		value := ranking.DefaultNearMisses
		c.Ranking.NearMisses = &value
	}

	setInt(&c.Ranking.TopN, DefaultTopN)

	setInt(&c.Speech.MaxTextLength, DefaultMaxTextLength)
	setInt(&c.Speech.StreamMaxTextLength, DefaultStreamMaxLength)
	setInt(&c.Speech.CacheTTLMinutes, DefaultCacheTTLMinutes)

	setString(&c.Server.Address, DefaultServerAddress)
	setInt(&c.Server.MaxImageBytes, DefaultMaxImageBytes)
	setInt(&c.Server.RequestTimeoutSeconds, DefaultRequestTimeout)

	setString(&c.Paths.BaseLogsDir, os.TempDir())
	setString(&c.Paths.OutputDir, DefaultOutputDir)
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	policyErr := c.Ranking.Policy().Validate()
	if policyErr != nil {
		return fmt.Errorf("%w: ranking: %w", ErrInvalidConfig, policyErr)
	}

	checks := []struct {
		name  string
		value int
	}{
		{"inference.timeout_seconds", c.Inference.TimeoutSeconds},
		{"inference.load_timeout_seconds", c.Inference.LoadTimeoutSeconds},
		{"ranking.top_n", c.Ranking.TopN},
		{"speech.max_text_length", c.Speech.MaxTextLength},
		{"speech.stream_max_text_length", c.Speech.StreamMaxTextLength},
		{"speech.cache_ttl_minutes", c.Speech.CacheTTLMinutes},
		{"server.max_image_bytes", c.Server.MaxImageBytes},
		{"server.request_timeout_seconds", c.Server.RequestTimeoutSeconds},
	}

	for _, check := range checks {
		if check.value < 1 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, check.name, check.value)
		}
	}

	if c.Ranking.NearMisses != nil && *c.Ranking.NearMisses < 0 {
		return fmt.Errorf("%w: ranking.near_misses must not be negative", ErrInvalidConfig)
	}

	return nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}
