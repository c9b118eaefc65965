package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
)

// TextImageConfig describes a synthetic prescription image.
type TextImageConfig struct {
	Lines      []string
	Size       ImageSize
	Background color.Color
	Foreground color.Color
	// Scale enlarges the 7x13 bitmap font so strokes survive conditioning.
	Scale    int
	Rotation float64 // degrees, counter-clockwise
}

// DefaultTextImageConfig returns a one-line prescription on white.
func DefaultTextImageConfig() TextImageConfig {
	return TextImageConfig{
		Lines:      []string{"Tab Zerodol-SP x 10"},
		Size:       MediumSize,
		Background: color.White,
		Foreground: color.Black,
		Scale:      3,
	}
}

// TextImage renders the configured lines centred on the canvas.
func TextImage(cfg TextImageConfig) *image.NRGBA {
	scale := max(cfg.Scale, 1)
	small := image.NewRGBA(image.Rect(0, 0, cfg.Size.Width/scale, cfg.Size.Height/scale))
	draw.Draw(small, small.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: small, Src: &image.Uniform{cfg.Foreground}, Face: face}
	lineHeight := face.Metrics().Height.Ceil() + 2
	startY := (small.Rect.Dy()-len(cfg.Lines)*lineHeight)/2 + face.Metrics().Ascent.Ceil()
	for i, line := range cfg.Lines {
		width := font.MeasureString(face, line).Ceil()
		drawer.Dot = fixed.P((small.Rect.Dx()-width)/2, startY+i*lineHeight)
		drawer.DrawString(line)
	}

	img := imaging.Resize(small, cfg.Size.Width, cfg.Size.Height, imaging.NearestNeighbor)
	if cfg.Rotation != 0 {
		img = imaging.Rotate(img, cfg.Rotation, cfg.Background)
	}
	return img
}

// RotatedBar draws a dark barW x barH bar centred on a white size x size
// canvas and rotates the whole canvas counter-clockwise by deg.
func RotatedBar(size, barW, barH int, deg float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	bar := image.Rect((size-barW)/2, (size-barH)/2, (size+barW)/2, (size+barH)/2)
	draw.Draw(img, bar, &image.Uniform{color.Black}, image.Point{}, draw.Src)
	if deg == 0 {
		return img
	}
	return imaging.Rotate(img, deg, color.White)
}

// Uniform returns a w x h image filled with c.
func Uniform(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// EncodePNG encodes img, failing the test on error.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// GrayDiff returns the fraction of pixels that differ between two gray
// images of equal size, or 1 when the sizes differ.
func GrayDiff(a, b *image.Gray) float64 {
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return 1
	}
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w*h == 0 {
		return 0
	}
	diff := 0
	for y := range h {
		for x := range w {
			if a.Pix[y*a.Stride+x] != b.Pix[y*b.Stride+x] {
				diff++
			}
		}
	}
	return float64(diff) / float64(w*h)
}

// InkCount counts pixels darker than mid-gray.
func InkCount(g *image.Gray) int {
	n := 0
	for y := range g.Rect.Dy() {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+g.Rect.Dx()] {
			if v < 128 {
				n++
			}
		}
	}
	return n
}
