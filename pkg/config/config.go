// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for every
// subsystem (Spell, Expand, Safety, Relevance, Pipeline, Redis, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/resilience"
)

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Cache     CacheConfig     `yaml:"cache"`
	Spell     SpellConfig     `yaml:"spell"`
	Expand    ExpandConfig    `yaml:"expand"`
	Safety    SafetyConfig    `yaml:"safety"`
	Relevance RelevanceConfig `yaml:"relevance"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// result cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing and the vocabulary feed.
type KafkaConfig struct {
	Brokers       []string               `yaml:"brokers"`
	ConsumerGroup string                 `yaml:"consumerGroup"`
	Topics        KafkaTopics            `yaml:"topics"`
	BatchSize     int                    `yaml:"batchSize"`
	FlushInterval time.Duration          `yaml:"flushInterval"`
	PublishRetry  resilience.RetryConfig `yaml:"publishRetry"`

	// Compression is none, gzip, snappy, lz4 or zstd.
	Compression      string `yaml:"compression"`
	RequiredAcks     string `yaml:"requiredAcks"`
	AutoCreateTopics bool   `yaml:"autoCreateTopics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	PipelineEvents string `yaml:"pipelineEvents"`
	VocabularyFeed string `yaml:"vocabularyFeed"`
}

// CacheConfig controls the versioned result cache that sits in front of
// query expansion and record classification.
type CacheConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SpellConfig controls the frequency model behind the spell corrector.
type SpellConfig struct {
	Capacity       int    `yaml:"capacity"`
	LearnCorrected bool   `yaml:"learnCorrected"`
	MaxWordLength  int    `yaml:"maxWordLength"`
	VocabularyPath string `yaml:"vocabularyPath"`
}

// ExpandConfig controls query expansion.
type ExpandConfig struct {
	SynonymsPath    string `yaml:"synonymsPath"`
	EnableSynonyms  bool   `yaml:"enableSynonyms"`
	MaxAlternatives int    `yaml:"maxAlternatives"`
}

// SafetyConfig points at the keyword set used by the safety classifier and
// names the default filter mode.
type SafetyConfig struct {
	KeywordsPath string `yaml:"keywordsPath"`
	DefaultMode  string `yaml:"defaultMode"`
}

// RelevanceConfig holds the combined-score weights and the trust thresholds.
type RelevanceConfig struct {
	KeywordWeight        float64  `yaml:"keywordWeight"`
	SemanticWeight       float64  `yaml:"semanticWeight"`
	AuthenticityWeight   float64  `yaml:"authenticityWeight"`
	PopularityWeight     float64  `yaml:"popularityWeight"`
	PopularitySaturation float64  `yaml:"popularitySaturation"`
	HighTrust            float64  `yaml:"highTrust"`
	KnownCollections     []string `yaml:"knownCollections"`
}

// PipelineConfig controls batch fan-out and presentation order. FanOut is
// how many prepared queries are sent to the archive at once; ArchiveRate
// caps archive requests per second (0 disables the cap).
type PipelineConfig struct {
	Workers        int           `yaml:"workers"`
	Rerank         bool          `yaml:"rerank"`
	FanOut         int           `yaml:"fanOut"`
	ArchiveTimeout time.Duration `yaml:"archiveTimeout"`
	ArchiveRate    int           `yaml:"archiveRate"`
	EventBuffer    int           `yaml:"eventBuffer"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "relevance-pipeline",
			Topics: KafkaTopics{
				PipelineEvents: "relevance-events",
				VocabularyFeed: "relevance-vocabulary",
			},
			BatchSize:     100,
			FlushInterval: 2 * time.Second,
			Compression:   "snappy",
			RequiredAcks:  "all",
			PublishRetry: resilience.RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
		},
		Cache: CacheConfig{
			TTL:              10 * time.Minute,
			Timeout:          50 * time.Millisecond,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Spell: SpellConfig{
			Capacity:       50000,
			LearnCorrected: true,
			MaxWordLength:  24,
		},
		Expand: ExpandConfig{
			EnableSynonyms:  true,
			MaxAlternatives: 5,
		},
		Safety: SafetyConfig{
			DefaultMode: "safe",
		},
		Relevance: RelevanceConfig{
			KeywordWeight:        0.45,
			SemanticWeight:       0.2,
			AuthenticityWeight:   0.2,
			PopularityWeight:     0.15,
			PopularitySaturation: 1e6,
			HighTrust:            0.7,
		},
		Pipeline: PipelineConfig{
			Workers:        8,
			FanOut:         1,
			ArchiveTimeout: 10 * time.Second,
			EventBuffer:    1024,
		},
	}
}

// applyEnvOverrides reads RP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
		}
	}
	if v := os.Getenv("RP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RP_SPELL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Spell.Capacity = n
		}
	}
	if v := os.Getenv("RP_SPELL_VOCABULARY"); v != "" {
		cfg.Spell.VocabularyPath = v
	}
	if v := os.Getenv("RP_EXPAND_SYNONYMS"); v != "" {
		cfg.Expand.SynonymsPath = v
	}
	if v := os.Getenv("RP_SAFETY_KEYWORDS"); v != "" {
		cfg.Safety.KeywordsPath = v
	}
	if v := os.Getenv("RP_SAFETY_MODE"); v != "" {
		cfg.Safety.DefaultMode = v
	}
	if v := os.Getenv("RP_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("RP_PIPELINE_RERANK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pipeline.Rerank = b
		}
	}
}
