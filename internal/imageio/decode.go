// Package imageio decodes uploaded prescription images. Inputs go through a
// fallback chain: the registered raster codecs (with EXIF orientation
// applied), then the first page of a PDF document.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxBytes bounds an upload.
const DefaultMaxBytes = 32 << 20

// SupportedExtensions lists the file extensions batch discovery picks up.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".pdf"}

var errEmpty = errors.New("empty input")

// IsSupported reports whether the path has a supported extension.
func IsSupported(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

type step struct {
	name string
	fn   func([]byte) (image.Image, error)
}

// Decoder runs the fallback chain. The zero value is not usable; use New.
type Decoder struct {
	maxBytes int
	logger   *slog.Logger
	steps    []step
}

func New(maxBytes int, logger *slog.Logger) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{maxBytes: maxBytes, logger: logger}
	d.steps = []step{
		{"raster", decodeRaster},
		{"pdf", decodePDF},
	}
	return d
}

// Decode returns the first image any step produces. When every step fails
// the error is an *rx.ImageDecodeError listing each attempt.
func (d *Decoder) Decode(data []byte, source string) (image.Image, error) {
	switch {
	case len(data) == 0:
		return nil, &rx.ImageDecodeError{Source: source, Err: errEmpty}
	case len(data) > d.maxBytes:
		return nil, &rx.ImageDecodeError{Source: source, Err: fmt.Errorf("input of %d bytes exceeds limit of %d", len(data), d.maxBytes)}
	}

	var attempts []string
	for _, s := range d.steps {
		img, err := s.fn(data)
		if err == nil {
			if len(attempts) > 0 {
				d.logger.Debug("image decoded by fallback", "source", source, "decoder", s.name, "failed", attempts)
			}
			return img, nil
		}
		attempts = append(attempts, s.name+": "+err.Error())
	}
	return nil, &rx.ImageDecodeError{
		Source:   source,
		Attempts: attempts,
		Err:      errors.New("no decoder accepted the input"),
	}
}

// DecodeFile reads and decodes the file at path.
func (d *Decoder) DecodeFile(path string) (image.Image, []byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided input path is expected
	if err != nil {
		return nil, nil, &rx.ImageDecodeError{Source: path, Err: err}
	}
	img, err := d.Decode(data, path)
	return img, data, err
}

func decodeRaster(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

var pdfMagic = []byte("%PDF-")

// decodePDF extracts the embedded images of the first page and returns the
// largest one.
func decodePDF(data []byte) (image.Image, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, errors.New("not a PDF document")
	}
	tempDir, err := os.MkdirTemp("", "rxscan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	in := filepath.Join(tempDir, "upload.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}
	out := filepath.Join(tempDir, "images")
	if err := os.Mkdir(out, 0o750); err != nil {
		return nil, err
	}
	if err := api.ExtractImagesFile(in, out, []string{"1"}, nil); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		return nil, err
	}
	var best image.Image
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		img, err := imaging.Open(filepath.Join(out, e.Name()))
		if err != nil {
			continue
		}
		if best == nil || area(img) > area(best) {
			best = img
		}
	}
	if best == nil {
		return nil, errors.New("first page has no decodable image")
	}
	return best, nil
}

func area(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy()
}
