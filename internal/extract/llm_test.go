package extract

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/MeKo-Tech/rxscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel answers GenerateContent from a function and records prompts.
type fakeModel struct {
	prompts []string
	parts   int
	answer  func(ctx context.Context) (string, error)
}

func (m *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, msg := range msgs {
		for _, p := range msg.Parts {
			m.parts++
			if tp, ok := p.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tp.Text)
			}
		}
	}
	text, err := m.answer(ctx)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func answer(s string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return s, nil }
}

func TestLLMProviderSubmit(t *testing.T) {
	m := &fakeModel{answer: answer(testutil.ProviderJSON)}
	p := NewLLMProvider(LLMConfig{Backend: "Anthropic", Model: "claude", Temperature: 0.1}, m, nil)
	assert.Equal(t, "anthropic:claude", p.Name())

	resp, err := p.Submit(context.Background(), testutil.Uniform(10, 10, image.White.C), DefaultContract())
	require.NoError(t, err)
	assert.Equal(t, testutil.ProviderJSON, resp.Body)
	assert.Equal(t, rx.FormatJSON, resp.Format)
	assert.InDelta(t, VisionPrior, resp.Prior, 1e-9)
	assert.Equal(t, 2, m.parts)
	require.Len(t, m.prompts, 1)
	assert.Contains(t, m.prompts[0], "BD or BID twice daily")
}

func TestLLMProviderClassifiesFailures(t *testing.T) {
	throttled := &fakeModel{answer: func(ctx context.Context) (string, error) {
		rateStateFrom(ctx).mark(3 * time.Second)
		return "", errors.New("API returned unexpected status code: 429")
	}}
	p := NewLLMProvider(LLMConfig{Backend: "ollama", Model: "llava"}, throttled, nil)
	_, err := p.Submit(context.Background(), blank, DefaultContract())
	var rl *rx.ProviderRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)

	broken := &fakeModel{answer: func(context.Context) (string, error) { return "", errors.New("invalid model") }}
	p = NewLLMProvider(LLMConfig{Backend: "ollama", Model: "llava"}, broken, nil)
	_, err = p.Submit(context.Background(), blank, DefaultContract())
	var pe *rx.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, rx.IsRateLimited(err))
}

func TestNewModelRejectsBadConfig(t *testing.T) {
	_, err := NewModel(LLMConfig{Backend: "gemini"}, nil)
	assert.ErrorContains(t, err, "unsupported llm backend")
	_, err = NewModel(LLMConfig{Backend: BackendOpenAI, Model: "gpt-4o"}, nil)
	assert.ErrorContains(t, err, "api key")
}

func TestRateLimitTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/busy" {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	client := NewHTTPClient(time.Second)

	for path, want := range map[string]bool{"/busy": true, "/ok": false} {
		ctx, st := withRateState(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()

		limited, after := st.get()
		assert.Equal(t, want, limited, path)
		if want {
			assert.Equal(t, 7*time.Second, after)
		}
	}

	// Requests without a call state pass through untouched.
	resp, err := client.Get(srv.URL + "/busy")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

type textProvider struct{ text string }

func (p textProvider) Name() string { return "ocr" }

func (p textProvider) Submit(context.Context, image.Image, Contract) (Response, error) {
	return Response{Body: p.text, Format: rx.FormatText, EngineConfidence: rx.Float(0.6)}, nil
}

func TestTwoStageProvider(t *testing.T) {
	m := &fakeModel{answer: answer(`{"medicines": [{"name": "Dolo 650", "confidence": 0.7}]}`)}
	p := &TwoStageProvider{Transcriber: textProvider{text: testutil.ProviderLines}, Structurer: m, StructurerName: "mistral"}
	assert.Equal(t, "ocr+mistral", p.Name())

	resp, err := p.Submit(context.Background(), blank, DefaultContract())
	require.NoError(t, err)
	assert.True(t, resp.Structured)
	assert.Equal(t, rx.FormatJSON, resp.Format)
	assert.InDelta(t, StructuringPrior, resp.StructuringPrior, 1e-9)
	require.NotNil(t, resp.EngineConfidence)
	assert.InDelta(t, 0.6, *resp.EngineConfidence, 1e-9)
	require.Len(t, m.prompts, 1)
	assert.True(t, strings.Contains(m.prompts[0], "Tab Zerodol-SP BD x 10"))
}

func TestTwoStageSkipsEmptyTranscript(t *testing.T) {
	m := &fakeModel{answer: answer("unused")}
	p := &TwoStageProvider{Transcriber: textProvider{text: "  \n"}, Structurer: m}
	resp, err := p.Submit(context.Background(), blank, DefaultContract())
	require.NoError(t, err)
	assert.JSONEq(t, `{"medicines": []}`, resp.Body)
	assert.Zero(t, m.parts)
}
