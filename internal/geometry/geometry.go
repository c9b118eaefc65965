// Package geometry provides the planar helpers used for deskew and overlay
// drawing: convex hulls, minimum-area rectangles and boxes.
package geometry

import (
	"image"
	"math"
	"sort"
)

// Point is a 2D coordinate in float space. Y grows downwards as in image
// coordinates.
type Point struct {
	X float64
	Y float64
}

// Box is an axis-aligned box in float coordinates.
type Box struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBox constructs a Box from two corners in any order.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

func (b Box) Width() float64  { return b.MaxX - b.MinX }
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Scale maps a box given in normalized [0,1] coordinates onto a w x h raster,
// clamping to the image.
func (b Box) Scale(w, h int) image.Rectangle {
	clamp := func(v float64, hi int) int {
		return max(0, min(hi, int(math.Round(v))))
	}
	return image.Rect(
		clamp(b.MinX*float64(w), w), clamp(b.MinY*float64(h), h),
		clamp(b.MaxX*float64(w), w), clamp(b.MaxY*float64(h), h),
	)
}

// ConvexHull computes the convex hull with the monotone chain algorithm.
// The hull is returned counter-clockwise (in a y-up frame) without repeating
// the first point.
func ConvexHull(pts []Point) []Point {
	if len(pts) <= 1 {
		return append([]Point(nil), pts...)
	}
	p := append([]Point(nil), pts...)
	sort.Slice(p, func(i, j int) bool {
		if p[i].X != p[j].X {
			return p[i].X < p[j].X
		}
		return p[i].Y < p[j].Y
	})
	p = dedupe(p)
	if len(p) <= 1 {
		return p
	}

	hull := make([]Point, 0, 2*len(p))
	for _, pt := range p {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	lower := len(hull) + 1
	for i := len(p) - 2; i >= 0; i-- {
		pt := p[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	return hull[:len(hull)-1]
}

func dedupe(p []Point) []Point {
	out := p[:1]
	for _, pt := range p[1:] {
		if last := out[len(out)-1]; pt != last {
			out = append(out, pt)
		}
	}
	return out
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// Rect is an oriented rectangle. Angle is the direction of the edge the
// rectangle was fitted to, in degrees, measured in image coordinates.
type Rect struct {
	Corners [4]Point
	Width   float64
	Height  float64
	Angle   float64
}

// Area returns Width*Height.
func (r Rect) Area() float64 { return r.Width * r.Height }

// MinAreaRect computes the minimum-area enclosing rectangle with rotating
// calipers over the convex hull. ok is false for fewer than three
// non-collinear points.
func MinAreaRect(pts []Point) (Rect, bool) {
	hull := ConvexHull(pts)
	if len(hull) < 3 {
		return Rect{}, false
	}

	best := Rect{Width: math.Inf(1), Height: 1}
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		dx, dy := b.X-a.X, b.Y-a.Y
		l := math.Hypot(dx, dy)
		if l == 0 {
			continue
		}
		ux, uy := dx/l, dy/l
		vx, vy := -uy, ux

		minS, maxS := math.Inf(1), math.Inf(-1)
		minT, maxT := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			s := p.X*ux + p.Y*uy
			t := p.X*vx + p.Y*vy
			minS, maxS = math.Min(minS, s), math.Max(maxS, s)
			minT, maxT = math.Min(minT, t), math.Max(maxT, t)
		}
		w, h := maxS-minS, maxT-minT
		if w*h >= best.Area() {
			continue
		}
		corner := func(s, t float64) Point {
			return Point{X: ux*s + vx*t, Y: uy*s + vy*t}
		}
		best = Rect{
			Corners: [4]Point{corner(minS, minT), corner(maxS, minT), corner(maxS, maxT), corner(minS, maxT)},
			Width:   w,
			Height:  h,
			Angle:   math.Atan2(uy, ux) * 180 / math.Pi,
		}
	}
	if math.IsInf(best.Width, 1) {
		return Rect{}, false
	}
	return best, true
}

// FoldAngle maps an edge direction onto [-45, 45), the rotation that aligns
// the edge with the nearest axis.
func FoldAngle(deg float64) float64 {
	a := math.Mod(deg, 90)
	if a >= 45 {
		a -= 90
	}
	if a < -45 {
		a += 90
	}
	return a
}
