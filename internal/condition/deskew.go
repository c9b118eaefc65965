package condition

import (
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/rxscan/internal/geometry"
	"github.com/disintegration/imaging"
)

// minSkewPixels is the least amount of ink worth estimating a skew from.
const minSkewPixels = 32

// EstimateSkew measures how far the ink in g is rotated counter-clockwise,
// in degrees within (-45, 45]. Ink is separated with Otsu's threshold and the
// angle is read from the minimum-area rectangle around it. ok is false when
// there is too little ink.
func EstimateSkew(g *image.Gray) (float64, bool) {
	t := otsu(g)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	var pts []geometry.Point
	ink := 0
	for y := range h {
		left, right := -1, -1
		for x, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			if v > t {
				continue
			}
			if left < 0 {
				left = x
			}
			right = x
			ink++
		}
		if left >= 0 {
			pts = append(pts, geometry.Point{X: float64(left), Y: float64(y)}, geometry.Point{X: float64(right), Y: float64(y)})
		}
	}
	if ink < minSkewPixels {
		return 0, false
	}
	r, ok := geometry.MinAreaRect(pts)
	if !ok {
		return 0, false
	}
	// Image y grows downwards, so a visual counter-clockwise tilt shows up
	// as a negative edge angle.
	skew := -geometry.FoldAngle(r.Angle)
	if skew == 0 {
		skew = 0
	}
	return skew, true
}

// Deskew rotates g back by its estimated skew when minAngle < |skew| <=
// maxAngle. Larger angles are left alone: they are far more often a
// misdetection than a real tilt. The output keeps the input size.
func Deskew(g *image.Gray, minAngle, maxAngle float64) (*image.Gray, float64, bool) {
	skew, ok := EstimateSkew(g)
	if !ok {
		return g, 0, false
	}
	if a := math.Abs(skew); a > maxAngle || a <= minAngle {
		return g, skew, false
	}
	w, h := g.Rect.Dx(), g.Rect.Dy()
	rot := imaging.Rotate(g, -skew, color.White)
	return toGray(imaging.CropCenter(rot, w, h)), skew, true
}
