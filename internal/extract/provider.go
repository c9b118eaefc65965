package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/tmc/langchaingo/llms"
)

// TesseractPrior is the confidence assumed for OCR lines when the engine
// reports none.
const TesseractPrior = 0.7

// ErrNoTesseract is returned by TesseractProvider in builds without the
// tesseract tag.
var ErrNoTesseract = errors.New("tesseract support not linked; build with -tags=tesseract")

// TesseractProvider runs the local Tesseract engine. It needs a build with
// the tesseract tag and the tesseract libraries installed.
type TesseractProvider struct {
	Languages []string
}

func (p *TesseractProvider) Name() string { return "tesseract" }

// TwoStageProvider transcribes the image with one provider and asks a
// language model to structure the transcript. Its items carry both an
// extraction and a structuring confidence.
type TwoStageProvider struct {
	Transcriber Provider
	Structurer  llms.Model
	Logger      *slog.Logger
	// StructurerName labels the structuring model in errors and logs.
	StructurerName string
}

func (p *TwoStageProvider) Name() string {
	s := p.StructurerName
	if s == "" {
		s = "llm"
	}
	return p.Transcriber.Name() + "+" + s
}

func (p *TwoStageProvider) Submit(ctx context.Context, img image.Image, _ Contract) (Response, error) {
	first, err := p.Transcriber.Submit(ctx, img, TranscriptionContract())
	if err != nil {
		return Response{}, err
	}
	text := strings.TrimSpace(first.Body)
	if text == "" {
		// Nothing to structure; an empty list is a valid answer.
		return Response{Body: `{"medicines": []}`, Format: rx.FormatJSON, Structured: true}, nil
	}

	prompt := fmt.Sprintf(structuringTemplate, text, DefaultContract().Prompt)
	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}
	body, err := generate(ctx, p.Name(), p.Structurer, msgs, llms.WithTemperature(0.1))
	if err != nil {
		return Response{}, err
	}
	p.logger().Debug("transcript structured",
		"provider", p.Name(),
		"transcript_length", len(text),
		"content_length", len(body))

	prior := first.Prior
	if prior <= 0 {
		prior = VisionPrior
	}
	return Response{
		Body:             body,
		Format:           rx.FormatJSON,
		EngineConfidence: first.EngineConfidence,
		Prior:            prior,
		Structured:       true,
		StructuringPrior: StructuringPrior,
	}, nil
}

func (p *TwoStageProvider) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
