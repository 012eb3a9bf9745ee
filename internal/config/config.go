// Package config loads the resolution core's YAML configuration file into
// a validated struct tree, one section per spec.md §6 configuration group.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" or "24h" parse
// through time.ParseDuration instead of yaml's default numeric decoding.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP facade's listen addresses.
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// StoreConfig configures the Entry Store and Audit Log's Postgres backend.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig configures the Embedder cache and Dispatcher dedup/completion cache.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// EmbeddingConfig is embedding.* from spec.md §6.
type EmbeddingConfig struct {
	Dimension int      `yaml:"dimension"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	ModelID   string   `yaml:"model_id"`
	APIKey    string   `yaml:"api_key"`
}

// RetrieverConfig is retriever.* from spec.md §6.
type RetrieverConfig struct {
	KVector    int     `yaml:"k_vector"`
	KText      int     `yaml:"k_text"`
	Threshold  float64 `yaml:"threshold"`
	MinSources int     `yaml:"min_sources"`
	RRFK       int     `yaml:"rrf_k"`
	Limit      int     `yaml:"limit"`
}

// DispatcherConfig is dispatcher.* from spec.md §6.
type DispatcherConfig struct {
	FallbackOrder  []string `yaml:"fallback_order"`
	DedupTTL       Duration `yaml:"dedup_ttl"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
}

// ProviderConfig is one entry of provider.* from spec.md §6.
type ProviderConfig struct {
	Models        []string `yaml:"models"`
	Capacity      int      `yaml:"capacity"`
	RefillRate    float64  `yaml:"refill_rate"`
	Timeout       Duration `yaml:"timeout"`
	MaxConcurrent int      `yaml:"max_concurrent"`

	// Anthropic/Bedrock-specific; empty fields are ignored by providers that
	// don't need them.
	APIKey string `yaml:"api_key"`
	Region string `yaml:"region"`
}

// BreakerConfig is breaker.* from spec.md §6.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
	CooldownMax      Duration `yaml:"cooldown_max"`
}

// ProposeConfig is propose.* from spec.md §6.
type ProposeConfig struct {
	Deadline Duration `yaml:"deadline"`
}

// SanitizerConfig is sanitizer.* from spec.md §6.
type SanitizerConfig struct {
	MandatoryTypes []string `yaml:"mandatory_types"`
}

// AuditConfig is audit.* from spec.md §6.
type AuditConfig struct {
	Retention map[string]Duration `yaml:"retention"`
}

// NotifierConfig is notifier.* from spec.md §6.
type NotifierConfig struct {
	BufferSize     int      `yaml:"buffer_size"`
	OverflowPolicy string   `yaml:"overflow_policy"`
	GracePeriod    Duration `yaml:"grace_period"`
}

// SlackConfig configures the optional Slack notification sink.
type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// LoggingConfig controls the zap logger built in cmd/resolverd.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration tree loaded from YAML.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Store      StoreConfig               `yaml:"store"`
	Redis      RedisConfig               `yaml:"redis"`
	Embedding  EmbeddingConfig           `yaml:"embedding"`
	Retriever  RetrieverConfig           `yaml:"retriever"`
	Dispatcher DispatcherConfig          `yaml:"dispatcher"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Breaker    BreakerConfig             `yaml:"breaker"`
	Propose    ProposeConfig             `yaml:"propose"`
	Sanitizer  SanitizerConfig           `yaml:"sanitizer"`
	Audit      AuditConfig               `yaml:"audit"`
	Notifier   NotifierConfig            `yaml:"notifier"`
	Slack      SlackConfig               `yaml:"slack"`
	Logging    LoggingConfig             `yaml:"logging"`
}

// applyDefaults mirrors spec.md §6's stated default values, applied to any
// field still at its YAML-absent zero value after parsing.
func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == "" {
		c.Server.HTTPPort = "8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 1536
	}
	if c.Embedding.CacheTTL == 0 {
		c.Embedding.CacheTTL = Duration(24 * time.Hour)
	}
	if c.Embedding.ModelID == "" {
		c.Embedding.ModelID = "text-embedding-3-small"
	}
	if c.Retriever.KVector == 0 {
		c.Retriever.KVector = 20
	}
	if c.Retriever.KText == 0 {
		c.Retriever.KText = 20
	}
	if c.Retriever.Threshold == 0 {
		c.Retriever.Threshold = 0.70
	}
	if c.Retriever.MinSources == 0 {
		c.Retriever.MinSources = 2
	}
	if c.Retriever.RRFK == 0 {
		c.Retriever.RRFK = 60
	}
	if c.Retriever.Limit == 0 {
		c.Retriever.Limit = 5
	}
	if c.Dispatcher.DedupTTL == 0 {
		c.Dispatcher.DedupTTL = Duration(60 * time.Second)
	}
	if c.Dispatcher.AcquireTimeout == 0 {
		c.Dispatcher.AcquireTimeout = Duration(2 * time.Second)
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.Cooldown == 0 {
		c.Breaker.Cooldown = Duration(30 * time.Second)
	}
	if c.Breaker.CooldownMax == 0 {
		c.Breaker.CooldownMax = Duration(5 * time.Minute)
	}
	if c.Propose.Deadline == 0 {
		c.Propose.Deadline = Duration(30 * time.Second)
	}
	if len(c.Sanitizer.MandatoryTypes) == 0 {
		c.Sanitizer.MandatoryTypes = []string{"ApiKey", "Password", "TaxId"}
	}
	if c.Notifier.BufferSize == 0 {
		c.Notifier.BufferSize = 1024
	}
	if c.Notifier.OverflowPolicy == "" {
		c.Notifier.OverflowPolicy = "DropOldest"
	}
	if c.Notifier.GracePeriod == 0 {
		c.Notifier.GracePeriod = Duration(60 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

var validOverflowPolicies = map[string]bool{"DropOldest": true, "DropNewest": true, "Block": true}

// validate checks the invariants Load must enforce before handing a Config
// to the composition root: spec.md §6's enumerated value sets and the
// minimal set of fields every deployment must supply.
func validate(c *Config) error {
	switch {
	case c.Store.DSN == "":
		return fmt.Errorf("store.dsn is required")
	case len(c.Dispatcher.FallbackOrder) == 0:
		return fmt.Errorf("dispatcher.fallback_order must name at least one provider")
	case c.Retriever.Threshold < 0 || c.Retriever.Threshold > 1:
		return fmt.Errorf("retriever.threshold must be in [0,1]")
	case !validOverflowPolicies[c.Notifier.OverflowPolicy]:
		return fmt.Errorf("unsupported notifier overflow policy: %s", c.Notifier.OverflowPolicy)
	}
	for _, providerID := range c.Dispatcher.FallbackOrder {
		if _, ok := c.Providers[providerID]; !ok {
			return fmt.Errorf("dispatcher.fallback_order references unknown provider: %s", providerID)
		}
	}
	return nil
}

// Load reads and parses the YAML file at path, applies spec.md §6 defaults
// to any field left unset, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	c.applyDefaults()
	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}
