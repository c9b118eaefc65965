// Package pipeline wires decoding, conditioning, extraction, normalization,
// correction and fusion into one request flow that ends in a persisted
// pending prescription.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/approval"
	"github.com/MeKo-Tech/rxscan/internal/condition"
	"github.com/MeKo-Tech/rxscan/internal/correct"
	"github.com/MeKo-Tech/rxscan/internal/events"
	"github.com/MeKo-Tech/rxscan/internal/extract"
	"github.com/MeKo-Tech/rxscan/internal/fusion"
	"github.com/MeKo-Tech/rxscan/internal/imageio"
	"github.com/MeKo-Tech/rxscan/internal/imagestore"
	"github.com/MeKo-Tech/rxscan/internal/medindex"
	"github.com/MeKo-Tech/rxscan/internal/normalize"
	"github.com/MeKo-Tech/rxscan/internal/store"
	"github.com/google/uuid"
)

// Config holds the settings of every stage.
type Config struct {
	Condition condition.Config `mapstructure:"condition" yaml:"condition" json:"condition"`
	Extract   extract.Config   `mapstructure:"extract" yaml:"extract" json:"extract"`
	Correct   correct.Config   `mapstructure:"correct" yaml:"correct" json:"correct"`
	Fusion    fusion.Config    `mapstructure:"fusion" yaml:"fusion" json:"fusion"`

	// Workers bounds ProcessBatch concurrency (0 = runtime.NumCPU()).
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
	// AutoAdmit approves prescriptions that need no review right after
	// they are stored.
	AutoAdmit      bool   `mapstructure:"auto_admit" yaml:"auto_admit" json:"auto_admit"`
	MaxUploadBytes int    `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" json:"max_upload_bytes"`
	Region         string `mapstructure:"region" yaml:"region" json:"region"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Condition:      condition.DefaultConfig(),
		Extract:        extract.DefaultConfig(),
		Correct:        correct.DefaultConfig(),
		Fusion:         fusion.DefaultConfig(),
		Workers:        runtime.NumCPU(),
		MaxUploadBytes: imageio.DefaultMaxBytes,
		Region:         medindex.RegionAll,
	}
}

// Validate checks every stage configuration.
func (c Config) Validate() error {
	if err := c.Condition.Validate(); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	if err := c.Extract.Validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := c.Correct.Validate(); err != nil {
		return fmt.Errorf("correct: %w", err)
	}
	if err := c.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes must be non-negative, got %d", c.MaxUploadBytes)
	}
	return nil
}

// Pipeline processes prescription images. It is safe for concurrent use.
type Pipeline struct {
	cfg         Config
	decoder     *imageio.Decoder
	conditioner *condition.Conditioner
	extractor   *extract.Extractor
	normalizer  *normalize.Normalizer
	corrector   *correct.Corrector
	fuser       *fusion.Fuser
	store       store.Store
	images      imagestore.Store
	publisher   events.Publisher
	approval    *approval.Service
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// Provider names the recognition provider in use.
func (p *Pipeline) Provider() string { return p.extractor.Provider() }

// Approval returns the state machine sharing the pipeline's store and
// triage policy.
func (p *Pipeline) Approval() *approval.Service { return p.approval }

// Builder assembles a Pipeline.
type Builder struct {
	cfg       Config
	provider  extract.Provider
	index     correct.Index
	store     store.Store
	images    imagestore.Store
	publisher events.Publisher
	logger    *slog.Logger
	extractor []extract.Option
	now       func() time.Time
}

// NewBuilder creates a builder with the default configuration, an in-memory
// store and no image storage.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithProvider(p extract.Provider) *Builder {
	b.provider = p
	return b
}

// WithIndex sets the medicine lookup, usually a *medindex.Handle so the
// index can be reloaded while requests run.
func (b *Builder) WithIndex(idx correct.Index) *Builder {
	b.index = idx
	return b
}

func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

func (b *Builder) WithImageStore(s imagestore.Store) *Builder {
	b.images = s
	return b
}

func (b *Builder) WithPublisher(p events.Publisher) *Builder {
	b.publisher = p
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithAutoAdmit(on bool) *Builder {
	b.cfg.AutoAdmit = on
	return b
}

func (b *Builder) WithWorkers(n int) *Builder {
	b.cfg.Workers = n
	return b
}

// WithExtractorOptions passes options through to extract.New.
func (b *Builder) WithExtractorOptions(opts ...extract.Option) *Builder {
	b.extractor = append(b.extractor, opts...)
	return b
}

// WithClock overrides time.Now, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.provider == nil {
		return nil, errors.New("pipeline: recognition provider is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	st := b.store
	if st == nil {
		st = store.NewMemory()
	}
	images := b.images
	if images == nil {
		images = imagestore.Nop{}
	}
	pub := b.publisher
	if pub == nil {
		pub = events.Nop{}
	}
	now := b.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	fuser := fusion.New(b.cfg.Fusion)
	extOpts := append([]extract.Option{extract.WithLogger(logger)}, b.extractor...)
	return &Pipeline{
		cfg:         b.cfg,
		decoder:     imageio.New(b.cfg.MaxUploadBytes, logger),
		conditioner: condition.New(b.cfg.Condition, logger),
		extractor:   extract.New(b.provider, b.cfg.Extract, extOpts...),
		normalizer:  normalize.New(logger),
		corrector:   correct.New(b.index, st, b.cfg.Correct, logger),
		fuser:       fuser,
		store:       st,
		images:      images,
		publisher:   pub,
		approval: approval.New(st, fuser,
			approval.WithPublisher(pub),
			approval.WithLogger(logger),
			approval.WithClock(now)),
		logger: logger,
		now:    now,
		newID:  uuid.NewString,
	}, nil
}
