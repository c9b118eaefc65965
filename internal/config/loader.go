package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/extract"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "rxscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RXSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so cobra flag
// bindings are visible.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on an isolated viper instance.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first rxscan.* file found in the search paths, applies
// environment overrides and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults and environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// RXSCAN_PIPELINE_EXTRACT_TIMEOUT sets pipeline.extract.timeout.
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so AutomaticEnv can override keys that
// appear in no config file.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	p := d.Pipeline
	l.v.SetDefault("pipeline.workers", p.Workers)
	l.v.SetDefault("pipeline.auto_admit", p.AutoAdmit)
	l.v.SetDefault("pipeline.max_upload_bytes", p.MaxUploadBytes)
	l.v.SetDefault("pipeline.region", p.Region)

	c := p.Condition
	l.v.SetDefault("pipeline.condition.standard_scale", c.StandardScale)
	l.v.SetDefault("pipeline.condition.handwriting_scale", c.HandwritingScale)
	l.v.SetDefault("pipeline.condition.max_pixels", c.MaxPixels)
	l.v.SetDefault("pipeline.condition.blur_sigma", c.BlurSigma)
	l.v.SetDefault("pipeline.condition.standard_block", c.StandardBlock)
	l.v.SetDefault("pipeline.condition.standard_c", c.StandardC)
	l.v.SetDefault("pipeline.condition.standard_dilate", c.StandardDilate)
	l.v.SetDefault("pipeline.condition.clahe_clip_limit", c.ClipLimit)
	l.v.SetDefault("pipeline.condition.clahe_tiles", c.Tiles)
	l.v.SetDefault("pipeline.condition.bilateral_diameter", c.BilateralDiameter)
	l.v.SetDefault("pipeline.condition.bilateral_sigma", c.BilateralSigma)
	l.v.SetDefault("pipeline.condition.handwriting_block", c.HandwritingBlock)
	l.v.SetDefault("pipeline.condition.handwriting_c", c.HandwritingC)
	l.v.SetDefault("pipeline.condition.handwriting_dilate", c.HandwritingDilate)
	l.v.SetDefault("pipeline.condition.dilate_passes", c.DilatePasses)
	l.v.SetDefault("pipeline.condition.max_deskew_angle", c.MaxDeskewAngle)
	l.v.SetDefault("pipeline.condition.min_deskew_angle", c.MinDeskewAngle)
	l.v.SetDefault("pipeline.condition.min_component_area", c.MinComponentArea)
	l.v.SetDefault("pipeline.condition.quality.min_resolution", c.Quality.MinResolution)
	l.v.SetDefault("pipeline.condition.quality.min_blur_variance", c.Quality.MinBlurVar)
	l.v.SetDefault("pipeline.condition.quality.min_contrast_std", c.Quality.MinContrast)

	e := p.Extract
	l.v.SetDefault("pipeline.extract.timeout", e.Timeout.String())
	l.v.SetDefault("pipeline.extract.max_concurrent", e.MaxConcurrent)
	l.v.SetDefault("pipeline.extract.max_attempts", e.MaxAttempts)
	l.v.SetDefault("pipeline.extract.base_delay", e.BaseDelay.String())
	l.v.SetDefault("pipeline.extract.max_delay", e.MaxDelay.String())

	l.v.SetDefault("pipeline.correct.threshold", p.Correct.Threshold)
	l.v.SetDefault("pipeline.correct.min_reviewers", p.Correct.MinReviewers)
	l.v.SetDefault("pipeline.correct.historical_confidence", p.Correct.HistoricalConfidence)

	f := p.Fusion
	l.v.SetDefault("pipeline.fusion.three_signal.extraction", f.ThreeSignal.Extraction)
	l.v.SetDefault("pipeline.fusion.three_signal.structuring", f.ThreeSignal.Structuring)
	l.v.SetDefault("pipeline.fusion.three_signal.match", f.ThreeSignal.Match)
	l.v.SetDefault("pipeline.fusion.two_signal.extraction", f.TwoSignal.Extraction)
	l.v.SetDefault("pipeline.fusion.two_signal.structuring", f.TwoSignal.Structuring)
	l.v.SetDefault("pipeline.fusion.two_signal.match", f.TwoSignal.Match)
	l.v.SetDefault("pipeline.fusion.cap", f.Cap)
	l.v.SetDefault("pipeline.fusion.historical_confidence", f.HistoricalConfidence)
	l.v.SetDefault("pipeline.fusion.review_threshold", f.ReviewThreshold)

	l.v.SetDefault("provider.kind", d.Provider.Kind)
	l.v.SetDefault("provider.tesseract_languages", d.Provider.TesseractLanguages)
	l.v.SetDefault("provider.http_timeout", d.Provider.HTTPTimeout.String())
	l.setLLMDefaults("provider.llm", d.Provider.LLM)
	l.setLLMDefaults("provider.structurer", d.Provider.Structurer)

	l.v.SetDefault("index.source", d.Index.Source)
	l.v.SetDefault("index.table", d.Index.Table)
	l.v.SetDefault("index.hub_table", d.Index.HubTable)
	l.v.SetDefault("index.llm_hubs", d.Index.LLMHubs)
	l.v.SetDefault("index.top_n", d.Index.TopN)
	l.v.SetDefault("index.min_score", d.Index.MinScore)

	l.v.SetDefault("store.backend", d.Store.Backend)
	l.v.SetDefault("store.dir", d.Store.Dir)
	l.v.SetDefault("store.postgres.dsn", d.Store.Postgres.DSN)
	l.v.SetDefault("store.postgres.max_conns", d.Store.Postgres.MaxConns)
	l.v.SetDefault("store.postgres.min_conns", d.Store.Postgres.MinConns)
	l.v.SetDefault("store.postgres.max_conn_lifetime", d.Store.Postgres.MaxConnLifetime.String())
	l.v.SetDefault("store.postgres.max_conn_idle_time", d.Store.Postgres.MaxConnIdleTime.String())

	l.v.SetDefault("images.backend", d.Images.Backend)
	l.v.SetDefault("images.dir", d.Images.Dir)
	l.v.SetDefault("images.bucket", d.Images.Bucket)
	l.v.SetDefault("images.prefix", d.Images.Prefix)

	l.v.SetDefault("events.backend", d.Events.Backend)
	l.v.SetDefault("events.kafka.brokers", d.Events.Kafka.Brokers)
	l.v.SetDefault("events.kafka.topic", d.Events.Kafka.Topic)
	l.v.SetDefault("events.queue_url", d.Events.QueueURL)

	l.v.SetDefault("aws.region", d.AWS.Region)
	l.v.SetDefault("aws.endpoint", d.AWS.Endpoint)

	l.v.SetDefault("metrics.addr", d.Metrics.Addr)
}

func (l *Loader) setLLMDefaults(prefix string, c extract.LLMConfig) {
	l.v.SetDefault(prefix+".backend", c.Backend)
	l.v.SetDefault(prefix+".model", c.Model)
	l.v.SetDefault(prefix+".api_key", c.APIKey)
	l.v.SetDefault(prefix+".base_url", c.BaseURL)
	l.v.SetDefault(prefix+".max_tokens", c.MaxTokens)
	l.v.SetDefault(prefix+".temperature", c.Temperature)
}

// GenerateDefaultConfigFile writes the defaults as YAML. An empty filename
// writes rxscan.yaml in the current directory.
func GenerateDefaultConfigFile(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	loader := NewLoaderWith(viper.New())
	loader.setDefaults()
	return loader.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the directories searched for rxscan.yaml, in
// order.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if homeErr == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	return append(paths, "/etc/"+ConfigFileName)
}
