package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ProviderLLM, cfg.Provider.Kind)
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, 0.75, cfg.Pipeline.Fusion.ReviewThreshold)
	assert.InDelta(t, 70.0, cfg.Pipeline.Correct.Threshold, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"provider kind", func(c *Config) { c.Provider.Kind = "magic" }, "provider.kind"},
		{"index source", func(c *Config) { c.Index.Source = "" }, "index.source"},
		{"top n", func(c *Config) { c.Index.TopN = 0 }, "index.top_n"},
		{"min score", func(c *Config) { c.Index.MinScore = 101 }, "index.min_score"},
		{"store backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"file store dir", func(c *Config) { c.Store.Dir = "" }, "store.dir"},
		{"postgres dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "store.postgres.dsn"},
		{"postgres index dsn", func(c *Config) { c.Index.Source = BackendPostgres }, "store.postgres.dsn"},
		{"s3 bucket", func(c *Config) { c.Images.Backend = BackendS3 }, "images.bucket"},
		{"kafka brokers", func(c *Config) { c.Events.Backend = BackendKafka }, "events.kafka.brokers"},
		{"sqs queue", func(c *Config) { c.Events.Backend = BackendSQS }, "events.queue_url"},
		{"fusion weights", func(c *Config) { c.Pipeline.Fusion.TwoSignal.Match = 0.9 }, "pipeline: fusion"},
		{"correct threshold", func(c *Config) { c.Pipeline.Correct.Threshold = 120 }, "pipeline: correct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestUsesPostgres(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.UsesPostgres())
	cfg.Index.Source = BackendPostgres
	assert.True(t, cfg.UsesPostgres())
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Chdir(dir)
	return dir
}

func TestLoadWithNoConfigFile(t *testing.T) {
	isolate(t)
	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.Extract.Timeout)
	assert.Equal(t, []string{"eng", "hin", "kan"}, cfg.Provider.TesseractLanguages)
}

func TestLoadFindsFileInWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	yaml := `
log_level: debug
pipeline:
  auto_admit: true
  fusion:
    review_threshold: 0.8
  extract:
    timeout: 15s
store:
  backend: memory
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rxscan.yaml"), []byte(yaml), 0o600))

	l := NewLoaderWith(viper.New())
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Pipeline.AutoAdmit)
	assert.InDelta(t, 0.8, cfg.Pipeline.Fusion.ReviewThreshold, 1e-9)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.Extract.Timeout)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 0.4, cfg.Pipeline.Fusion.ThreeSignal.Structuring, "unset keys keep defaults")
	assert.Contains(t, l.GetConfigFileUsed(), "rxscan.yaml")
}

func TestEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("RXSCAN_LOG_LEVEL", "warn")
	t.Setenv("RXSCAN_PIPELINE_CORRECT_THRESHOLD", "80")
	t.Setenv("RXSCAN_PROVIDER_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("RXSCAN_EVENTS_BACKEND", "sqs")
	t.Setenv("RXSCAN_EVENTS_QUEUE_URL", "https://sqs.example/queue")

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.InDelta(t, 80.0, cfg.Pipeline.Correct.Threshold, 1e-9)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.LLM.Model)
	assert.Equal(t, BackendSQS, cfg.Events.Backend)
	assert.Equal(t, "https://sqs.example/queue", cfg.Events.QueueURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	isolate(t)
	t.Setenv("RXSCAN_STORE_BACKEND", "redis")

	_, err := NewLoaderWith(viper.New()).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")

	cfg, err := NewLoaderWith(viper.New()).LoadWithoutValidation()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Backend)
}

func TestLoadWithFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  top_n: 3\n  source: meds.yaml\n"), 0o600))

	cfg, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Index.TopN)
	assert.Equal(t, "meds.yaml", cfg.Index.Source)

	_, err = NewLoaderWith(viper.New()).LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestGenerateDefaultConfigFileRoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "generated.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	cfg, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	want := DefaultConfig()
	assert.Equal(t, want.Pipeline.Condition, cfg.Pipeline.Condition)
	assert.Equal(t, want.Pipeline.Extract, cfg.Pipeline.Extract)
	assert.Equal(t, want.Pipeline.Fusion, cfg.Pipeline.Fusion)
	assert.Equal(t, want.Provider.LLM, cfg.Provider.LLM)
	assert.Equal(t, want.Store.Postgres.MaxConnLifetime, cfg.Store.Postgres.MaxConnLifetime)
	assert.Equal(t, want.Index, cfg.Index)
}

func TestGetConfigSearchPaths(t *testing.T) {
	dir := isolate(t)
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, dir)
	assert.Contains(t, paths, filepath.Join(dir, "xdg", "rxscan"))
	assert.Equal(t, "/etc/rxscan", paths[len(paths)-1])
}
