package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/approval"
	"github.com/MeKo-Tech/rxscan/internal/cloud"
	"github.com/MeKo-Tech/rxscan/internal/config"
	"github.com/MeKo-Tech/rxscan/internal/events"
	"github.com/MeKo-Tech/rxscan/internal/extract"
	"github.com/MeKo-Tech/rxscan/internal/fusion"
	"github.com/MeKo-Tech/rxscan/internal/imagestore"
	"github.com/MeKo-Tech/rxscan/internal/medindex"
	"github.com/MeKo-Tech/rxscan/internal/pipeline"
	"github.com/MeKo-Tech/rxscan/internal/store"
	"github.com/MeKo-Tech/rxscan/internal/store/postgres"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tmc/langchaingo/llms"
)

// app holds the backends of one command invocation. Everything is opened
// lazily so review commands never touch the provider or the index.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool      *pgxpool.Pool
	awsCfg    *aws.Config
	store     store.Store
	publisher events.Publisher
	index     *medindex.Handle
	model     llms.Model
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	if logger == nil {
		logger = slog.Default()
	}
	return &app{cfg: cfg, logger: logger}
}

// Close releases every opened backend.
func (a *app) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}

func (a *app) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := postgres.NewPool(ctx, a.cfg.Store.Postgres)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	return pool, nil
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.awsCfg != nil {
		return *a.awsCfg, nil
	}
	cfg, err := cloud.LoadAWS(ctx, a.cfg.AWS)
	if err != nil {
		return aws.Config{}, err
	}
	a.awsCfg = &cfg
	return cfg, nil
}

// Store opens the prescription store selected by store.backend.
func (a *app) Store(ctx context.Context) (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	var (
		st  store.Store
		err error
	)
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		st = store.NewMemory()
	case config.BackendFile:
		st, err = store.OpenFile(a.cfg.Store.Dir)
	case config.BackendPostgres:
		var pool *pgxpool.Pool
		if pool, err = a.postgresPool(ctx); err == nil {
			st = postgres.New(pool, nil)
		}
	default:
		err = fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.logger.Debug("store opened", "backend", a.cfg.Store.Backend)
	return st, nil
}

// Publisher opens the event sink selected by events.backend.
func (a *app) Publisher(ctx context.Context) (events.Publisher, error) {
	if a.publisher != nil {
		return a.publisher, nil
	}
	var (
		pub events.Publisher
		err error
	)
	switch a.cfg.Events.Backend {
	case config.BackendNone, "":
		pub = events.Nop{}
	case config.BackendKafka:
		pub, err = events.NewKafka(a.cfg.Events.Kafka)
	case config.BackendSQS:
		var awsCfg aws.Config
		if awsCfg, err = a.awsConfig(ctx); err == nil {
			pub, err = events.NewSQS(cloud.NewSQS(awsCfg), a.cfg.Events.QueueURL)
		}
	default:
		err = fmt.Errorf("unknown events backend %q", a.cfg.Events.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open event publisher: %w", err)
	}
	a.publisher = pub
	return pub, nil
}

// Images opens the image store selected by images.backend.
func (a *app) Images(ctx context.Context) (imagestore.Store, error) {
	switch a.cfg.Images.Backend {
	case config.BackendNone, "":
		return imagestore.Nop{}, nil
	case config.BackendLocal:
		return imagestore.Local{Dir: a.cfg.Images.Dir}, nil
	case config.BackendS3:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("open image store: %w", err)
		}
		return imagestore.S3{Client: cloud.NewS3(awsCfg), Bucket: a.cfg.Images.Bucket, Prefix: a.cfg.Images.Prefix}, nil
	default:
		return nil, fmt.Errorf("unknown images backend %q", a.cfg.Images.Backend)
	}
}

// Index loads the medicine reference index from index.source.
func (a *app) Index(ctx context.Context) (*medindex.Handle, error) {
	if a.index != nil {
		return a.index, nil
	}
	var (
		src medindex.Source
		err error
	)
	if a.cfg.Index.Source == config.BackendPostgres {
		var pool *pgxpool.Pool
		if pool, err = a.postgresPool(ctx); err == nil {
			src = medindex.PostgresSource{DB: pool, Table: a.cfg.Index.Table}
		}
	} else {
		src, err = medindex.SourceFor(a.cfg.Index.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("medicine index: %w", err)
	}
	idx, err := medindex.Load(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("medicine index: %w", err)
	}
	a.logger.Info("medicine index loaded", "source", src.Name(), "records", idx.Len(), "regions", len(idx.Regions()))
	a.index = medindex.NewHandle(idx)
	return a.index, nil
}

// Hubs returns the locality resolver: the language model when enabled,
// always backed by the keyword table.
func (a *app) Hubs() (medindex.HubResolver, error) {
	table := medindex.DefaultHubTable()
	if a.cfg.Index.HubTable != "" {
		var err error
		if table, err = medindex.LoadHubTable(a.cfg.Index.HubTable); err != nil {
			return nil, err
		}
	}
	if !a.cfg.Index.LLMHubs {
		return table, nil
	}
	model, err := a.Model()
	if err != nil {
		a.logger.Warn("llm hub resolution disabled", "error", err)
		return table, nil
	}
	return medindex.ChainResolver{
		&medindex.LLMResolver{Model: model, Table: table, Logger: a.logger},
		table,
	}, nil
}

// Model builds the language model of provider.llm.
func (a *app) Model() (llms.Model, error) {
	if a.model != nil {
		return a.model, nil
	}
	m, err := newModel(a.cfg.Provider.LLM, a.cfg.Provider.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	a.model = m
	return m, nil
}

func newModel(cfg extract.LLMConfig, timeout time.Duration) (llms.Model, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = apiKeyFromEnv(cfg.Backend)
	}
	m, err := extract.NewModel(cfg, extract.NewHTTPClient(timeout))
	if err != nil {
		return nil, fmt.Errorf("language model %s/%s: %w", cfg.Backend, cfg.Model, err)
	}
	return m, nil
}

// apiKeyFromEnv falls back to the vendor's conventional variable.
func apiKeyFromEnv(backend string) string {
	switch strings.ToLower(backend) {
	case extract.BackendOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case extract.BackendAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

// Provider builds the recognition provider selected by provider.kind.
func (a *app) Provider() (extract.Provider, error) {
	pc := a.cfg.Provider
	tesseract := &extract.TesseractProvider{Languages: pc.TesseractLanguages}
	switch pc.Kind {
	case config.ProviderLLM:
		model, err := a.Model()
		if err != nil {
			return nil, err
		}
		return extract.NewLLMProvider(pc.LLM, model, a.logger), nil
	case config.ProviderTesseract:
		if !extract.TesseractAvailable {
			return nil, extract.ErrNoTesseract
		}
		return tesseract, nil
	case config.ProviderTwoStage:
		if !extract.TesseractAvailable {
			return nil, extract.ErrNoTesseract
		}
		structurer, err := newModel(pc.Structurer, pc.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		return &extract.TwoStageProvider{
			Transcriber:    tesseract,
			Structurer:     structurer,
			Logger:         a.logger,
			StructurerName: pc.Structurer.Model,
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
	}
}

// Pipeline wires every stage and backend into a pipeline.
func (a *app) Pipeline(ctx context.Context, pcfg pipeline.Config) (*pipeline.Pipeline, error) {
	prov, err := a.Provider()
	if err != nil {
		return nil, err
	}
	idx, err := a.Index(ctx)
	if err != nil {
		return nil, err
	}
	st, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	images, err := a.Images(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewBuilder().
		WithConfig(pcfg).
		WithProvider(prov).
		WithIndex(idx).
		WithStore(st).
		WithImageStore(images).
		WithPublisher(pub).
		WithLogger(a.logger).
		Build()
}

// Approval builds the review service without the recognition stages.
func (a *app) Approval(ctx context.Context) (*approval.Service, error) {
	st, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.Publisher(ctx)
	if err != nil {
		return nil, err
	}
	return approval.New(st, fusion.New(a.cfg.Pipeline.Fusion),
		approval.WithPublisher(pub),
		approval.WithLogger(a.logger)), nil
}

// withApp loads the configuration and runs fn with a fresh app.
func withApp(fn func(a *app) error) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	a := newApp(cfg, slog.Default())
	runErr := fn(a)
	if err := a.Close(); err != nil {
		a.logger.Warn("closing backends failed", "error", err)
	}
	return runErr
}
