//go:build tesseract

package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/otiai10/gosseract/v2"
)

// TesseractAvailable reports whether the binary was built with the tesseract tag.
const TesseractAvailable = true

// Submit runs Tesseract on the image. The contract prompt does not apply; the
// output is always plain text with the mean word confidence as engine
// confidence.
func (p *TesseractProvider) Submit(ctx context.Context, img image.Image, _ Contract) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Response{}, &rx.ProviderError{Provider: p.Name(), Err: fmt.Errorf("encode image: %w", err)}
	}

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()
	if len(p.Languages) > 0 {
		if err := client.SetLanguage(p.Languages...); err != nil {
			return Response{}, &rx.ProviderError{Provider: p.Name(), Err: err}
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Response{}, &rx.ProviderError{Provider: p.Name(), Err: fmt.Errorf("set image: %w", err)}
	}
	text, err := client.Text()
	if err != nil {
		return Response{}, &rx.ProviderError{Provider: p.Name(), Err: err}
	}

	resp := Response{Body: text, Format: rx.FormatText, Prior: TesseractPrior}
	if boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD); err == nil && len(boxes) > 0 {
		var sum float64
		for _, b := range boxes {
			sum += b.Confidence
		}
		resp.EngineConfidence = rx.Float(sum / float64(len(boxes)) / 100)
	}
	return resp, nil
}
