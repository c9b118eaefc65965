package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Backends supported by NewModel.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// VisionPrior is the confidence assumed for vision model items without one.
const VisionPrior = 0.9

// StructuringPrior is the confidence assumed for items structured from text.
const StructuringPrior = 0.8

// LLMConfig selects and configures a language model backend.
type LLMConfig struct {
	Backend     string  `mapstructure:"backend" yaml:"backend" json:"backend"`
	Model       string  `mapstructure:"model" yaml:"model" json:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key" json:"-"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Backend:     BackendOpenAI,
		Model:       "gpt-4o",
		MaxTokens:   2048,
		Temperature: 0.1,
	}
}

// NewModel builds a langchaingo model whose HTTP client reports throttling
// to the call state (see RateLimitTransport).
func NewModel(cfg LLMConfig, client *http.Client) (llms.Model, error) {
	if client == nil {
		client = NewHTTPClient(0)
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai api key is not set")
		}
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
			openai.WithHTTPClient(client),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case BackendAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic api key is not set")
		}
		opts := []anthropic.Option{
			anthropic.WithModel(cfg.Model),
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithHTTPClient(client),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)
	case BackendOllama:
		host := cfg.BaseURL
		if host == "" {
			host = "http://127.0.0.1:11434"
		}
		return ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(host),
			ollama.WithHTTPClient(client),
		)
	}
	return nil, fmt.Errorf("unsupported llm backend: %q", cfg.Backend)
}

// LLMProvider sends the image to a vision model together with the contract
// prompt.
type LLMProvider struct {
	name        string
	backend     string
	model       llms.Model
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewLLMProvider(cfg LLMConfig, model llms.Model, logger *slog.Logger) *LLMProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMProvider{
		name:        strings.ToLower(cfg.Backend) + ":" + cfg.Model,
		backend:     strings.ToLower(cfg.Backend),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (p *LLMProvider) Name() string { return p.name }

func (p *LLMProvider) Submit(ctx context.Context, img image.Image, contract Contract) (Response, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Response{}, &rx.ProviderError{Provider: p.name, Err: fmt.Errorf("encode image: %w", err)}
	}

	var imagePart llms.ContentPart
	if p.backend == BackendOpenAI {
		imagePart = llms.ImageURLPart("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
	} else {
		imagePart = llms.BinaryPart("image/png", buf.Bytes())
	}
	msgs := []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{imagePart, llms.TextPart(contract.Prompt)},
	}}

	start := time.Now()
	text, err := p.generate(ctx, msgs)
	if err != nil {
		return Response{}, err
	}
	p.logger.Debug("vision model answered",
		"provider", p.name,
		"content_length", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return Response{Body: text, Format: contract.Format, Prior: VisionPrior}, nil
}

// generate runs one completion and classifies its failure.
func (p *LLMProvider) generate(ctx context.Context, msgs []llms.MessageContent) (string, error) {
	return generate(ctx, p.name, p.model, msgs, p.callOptions()...)
}

func (p *LLMProvider) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(p.temperature)}
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}
	return opts
}

func generate(ctx context.Context, name string, model llms.Model, msgs []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	ctx, st := withRateState(ctx)
	resp, err := model.GenerateContent(ctx, msgs, opts...)
	if limited, after := st.get(); limited {
		if err == nil {
			err = errors.New("throttled response")
		}
		return "", &rx.ProviderRateLimited{Provider: name, RetryAfter: after, Err: err}
	}
	if err != nil {
		return "", &rx.ProviderError{Provider: name, Err: err}
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", &rx.ProviderError{Provider: name, Err: errors.New("empty completion")}
	}
	return resp.Choices[0].Content, nil
}
