package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/cloud"
	"github.com/MeKo-Tech/rxscan/internal/events"
	"github.com/MeKo-Tech/rxscan/internal/extract"
	"github.com/MeKo-Tech/rxscan/internal/pipeline"
	"github.com/MeKo-Tech/rxscan/internal/store/postgres"
)

// Provider kinds.
const (
	ProviderLLM       = "llm"
	ProviderTesseract = "tesseract"
	ProviderTwoStage  = "two_stage"
)

// Backend names shared by the store, image and event sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendS3       = "s3"
	BackendKafka    = "kafka"
	BackendSQS      = "sqs"
)

// Config is the complete rxscan configuration. It is loaded from rxscan.yaml,
// RXSCAN_* environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Pipeline pipeline.Config  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Provider ProviderConfig   `mapstructure:"provider" yaml:"provider" json:"provider"`
	Index    IndexConfig      `mapstructure:"index" yaml:"index" json:"index"`
	Store    StoreConfig      `mapstructure:"store" yaml:"store" json:"store"`
	Images   ImagesConfig     `mapstructure:"images" yaml:"images" json:"images"`
	Events   EventsConfig     `mapstructure:"events" yaml:"events" json:"events"`
	AWS      cloud.AWSOptions `mapstructure:"aws" yaml:"aws" json:"aws"`
	Metrics  MetricsConfig    `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// ProviderConfig selects and configures the recognition provider.
type ProviderConfig struct {
	Kind string            `mapstructure:"kind" yaml:"kind" json:"kind"`
	LLM  extract.LLMConfig `mapstructure:"llm" yaml:"llm" json:"llm"`
	// Structurer is the language model of the second stage of two_stage.
	Structurer         extract.LLMConfig `mapstructure:"structurer" yaml:"structurer" json:"structurer"`
	TesseractLanguages []string          `mapstructure:"tesseract_languages" yaml:"tesseract_languages" json:"tesseract_languages"`
	// HTTPTimeout bounds each HTTP request to a hosted model.
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout" json:"http_timeout"`
}

// IndexConfig locates the medicine reference data.
type IndexConfig struct {
	// Source is a .csv/.yaml file or "postgres" for the medicines table.
	Source string `mapstructure:"source" yaml:"source" json:"source"`
	Table  string `mapstructure:"table" yaml:"table" json:"table"`
	// HubTable is an optional YAML hub table; empty uses the built-in one.
	HubTable string `mapstructure:"hub_table" yaml:"hub_table" json:"hub_table"`
	// LLMHubs asks the provider's language model before the hub table.
	LLMHubs  bool    `mapstructure:"llm_hubs" yaml:"llm_hubs" json:"llm_hubs"`
	TopN     int     `mapstructure:"top_n" yaml:"top_n" json:"top_n"`
	MinScore float64 `mapstructure:"min_score" yaml:"min_score" json:"min_score"`
}

type StoreConfig struct {
	Backend  string              `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dir      string              `mapstructure:"dir" yaml:"dir" json:"dir"`
	Postgres postgres.PoolConfig `mapstructure:"postgres" yaml:"postgres" json:"postgres"`
}

type ImagesConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dir     string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
}

type EventsConfig struct {
	Backend  string             `mapstructure:"backend" yaml:"backend" json:"backend"`
	Kafka    events.KafkaConfig `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
	QueueURL string             `mapstructure:"queue_url" yaml:"queue_url" json:"queue_url"`
}

type MetricsConfig struct {
	// Addr serves /metrics during batch runs when set, e.g. ":9090".
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

// DefaultConfig returns a configuration that runs locally: file store in
// ./data, no image or event backends, OpenAI vision extraction.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Pipeline: pipeline.DefaultConfig(),
		Provider: ProviderConfig{
			Kind:               ProviderLLM,
			LLM:                extract.DefaultLLMConfig(),
			Structurer:         extract.DefaultLLMConfig(),
			TesseractLanguages: []string{"eng", "hin", "kan"},
			HTTPTimeout:        90 * time.Second,
		},
		Index: IndexConfig{
			Source:   "data/medicines.csv",
			Table:    "medicines",
			TopN:     5,
			MinScore: 60,
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     "data",
			Postgres: postgres.PoolConfig{
				MaxConns:        10,
				MaxConnLifetime: time.Hour,
				MaxConnIdleTime: 30 * time.Minute,
			},
		},
		Images: ImagesConfig{Backend: BackendNone, Dir: "data/images", Prefix: "prescriptions/"},
		Events: EventsConfig{Backend: BackendNone, Kafka: events.KafkaConfig{Topic: "rxscan.prescriptions"}},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := oneOf("provider.kind", c.Provider.Kind, ProviderLLM, ProviderTesseract, ProviderTwoStage); err != nil {
		return err
	}
	if c.Index.Source == "" {
		return errors.New("index.source is required")
	}
	if c.Index.TopN <= 0 {
		return fmt.Errorf("invalid index.top_n: %d (must be positive)", c.Index.TopN)
	}
	if c.Index.MinScore < 0 || c.Index.MinScore > 100 {
		return fmt.Errorf("invalid index.min_score: %.1f (must be between 0 and 100)", c.Index.MinScore)
	}

	if err := oneOf("store.backend", c.Store.Backend, BackendMemory, BackendFile, BackendPostgres); err != nil {
		return err
	}
	if c.Store.Backend == BackendFile && c.Store.Dir == "" {
		return errors.New("store.dir is required for the file store")
	}
	if c.UsesPostgres() && c.Store.Postgres.DSN == "" {
		return errors.New("store.postgres.dsn is required")
	}

	if err := oneOf("images.backend", c.Images.Backend, BackendNone, BackendLocal, BackendS3); err != nil {
		return err
	}
	if c.Images.Backend == BackendLocal && c.Images.Dir == "" {
		return errors.New("images.dir is required for local image storage")
	}
	if c.Images.Backend == BackendS3 && c.Images.Bucket == "" {
		return errors.New("images.bucket is required for S3 image storage")
	}

	if err := oneOf("events.backend", c.Events.Backend, BackendNone, BackendKafka, BackendSQS); err != nil {
		return err
	}
	if c.Events.Backend == BackendKafka && (len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "") {
		return errors.New("events.kafka.brokers and events.kafka.topic are required for Kafka")
	}
	if c.Events.Backend == BackendSQS && c.Events.QueueURL == "" {
		return errors.New("events.queue_url is required for SQS")
	}
	return nil
}

// ToPipelineConfig returns the pipeline section.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return c.Pipeline
}

// UsesPostgres reports whether the store or the medicine index reads from
// Postgres.
func (c *Config) UsesPostgres() bool {
	return c.Store.Backend == BackendPostgres || c.Index.Source == BackendPostgres
}

func oneOf(key, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("invalid %s: %q (must be one of: %s)", key, value, strings.Join(allowed, ", "))
	}
	return nil
}
