// Package overlay renders a review image: each medicine candidate's box is
// outlined in a color running from red (low fused confidence) to green
// (high), with a numbered legend.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/MeKo-Tech/rxscan/internal/geometry"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	low  = colorful.Color{R: 0.86, G: 0.08, B: 0.08}
	high = colorful.Color{R: 0.05, G: 0.65, B: 0.18}
)

// Options controls drawing.
type Options struct {
	// Thickness of box outlines in pixels; 0 derives it from the image size.
	Thickness int
	Legend    bool
}

// ConfidenceColor maps a confidence in [0,1] onto the red to green ramp.
func ConfidenceColor(conf float64) color.Color {
	t := math.Max(0, math.Min(1, conf))
	return low.BlendHcl(high, t).Clamped()
}

// Render returns an RGBA copy of img with the candidates drawn on it.
func Render(img image.Image, meds []rx.Candidate, opts Options) *image.RGBA {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	thickness := opts.Thickness
	if thickness <= 0 {
		thickness = max(1, min(b.Dx(), b.Dy())/300)
	}
	for i, m := range meds {
		if m.BBox == nil {
			continue
		}
		col := ConfidenceColor(m.FusedConfidence)
		rect := geometry.NewBox(m.BBox.X, m.BBox.Y, m.BBox.X+m.BBox.W, m.BBox.Y+m.BBox.H).Scale(b.Dx(), b.Dy())
		drawRect(dst, rect, col, thickness)
		drawLabel(dst, image.Pt(rect.Min.X+thickness+1, rect.Min.Y+thickness+basicfont.Face7x13.Ascent), fmt.Sprint(i+1), col)
	}
	if opts.Legend {
		drawLegend(dst, meds)
	}
	return dst
}

// drawRect outlines rect, clipped to dst.
func drawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := range thickness {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, rect.Min.Y+t, col)
			dst.Set(x, rect.Max.Y-1-t, col)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(rect.Min.X+t, y, col)
			dst.Set(rect.Max.X-1-t, y, col)
		}
	}
}

func drawLabel(dst *image.RGBA, dot image.Point, text string, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(dot.X, dot.Y),
	}
	d.DrawString(text)
}

// drawLegend lists every candidate on a white panel in the top-left corner.
func drawLegend(dst *image.RGBA, meds []rx.Candidate) {
	if len(meds) == 0 {
		return
	}
	face := basicfont.Face7x13
	lineH := face.Height + 3
	lines := make([]string, len(meds))
	width := 0
	for i, m := range meds {
		lines[i] = fmt.Sprintf("%d %s %.2f", i+1, m.MedicineName, m.FusedConfidence)
		width = max(width, font.MeasureString(face, lines[i]).Ceil())
	}
	const pad, swatch = 4, 10
	panel := image.Rect(0, 0, pad*3+swatch+width, pad*2+lineH*len(lines)).Intersect(dst.Bounds())
	draw.Draw(dst, panel, image.White, image.Point{}, draw.Src)
	for i, line := range lines {
		col := ConfidenceColor(meds[i].FusedConfidence)
		y := pad + i*lineH
		draw.Draw(dst, image.Rect(pad, y+2, pad+swatch, y+2+swatch).Intersect(panel), image.NewUniform(col), image.Point{}, draw.Src)
		drawLabel(dst, image.Pt(pad*2+swatch, y+face.Ascent), line, color.Black)
	}
}
