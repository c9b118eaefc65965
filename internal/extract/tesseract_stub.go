//go:build !tesseract

package extract

import (
	"context"
	"image"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// TesseractAvailable reports whether the binary was built with the tesseract tag.
const TesseractAvailable = false

func (p *TesseractProvider) Submit(_ context.Context, _ image.Image, _ Contract) (Response, error) {
	return Response{}, &rx.ProviderError{Provider: p.Name(), Err: ErrNoTesseract}
}
