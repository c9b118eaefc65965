package geometry

import (
	"image"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvexHull(t *testing.T) {
	tests := []struct {
		name string
		pts  []Point
		want int
	}{
		{"empty", nil, 0},
		{"single", []Point{{1, 1}}, 1},
		{"duplicates", []Point{{1, 1}, {1, 1}}, 1},
		{"collinear", []Point{{0, 0}, {1, 1}, {2, 2}}, 2},
		{"square with interior point", []Point{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {2, 2}}, 4},
		{"square with edge points", []Point{{0, 0}, {2, 0}, {4, 0}, {4, 4}, {0, 4}}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, ConvexHull(tt.pts), tt.want)
		})
	}
}

func rotated(w, h, deg float64) []Point {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	var out []Point
	for _, p := range []Point{{0, 0}, {w, 0}, {w, h}, {0, h}, {w / 2, h / 2}} {
		out = append(out, Point{X: p.X*c - p.Y*s + 100, Y: p.X*s + p.Y*c + 100})
	}
	return out
}

func TestMinAreaRectRecoversRotation(t *testing.T) {
	for _, deg := range []float64{0, 5, -12, 30, -44} {
		r, ok := MinAreaRect(rotated(200, 40, deg))
		require.True(t, ok)
		assert.InDelta(t, 8000, r.Area(), 1e-6)
		assert.InDelta(t, deg, FoldAngle(r.Angle), 1e-6, "deg=%v", deg)
	}
}

func TestMinAreaRectDegenerate(t *testing.T) {
	_, ok := MinAreaRect([]Point{{0, 0}, {1, 1}})
	assert.False(t, ok)
	_, ok = MinAreaRect([]Point{{0, 0}, {1, 1}, {3, 3}})
	assert.False(t, ok)
}

func TestFoldAngle(t *testing.T) {
	assert.InDelta(t, 10, FoldAngle(100), 1e-9)
	assert.InDelta(t, -10, FoldAngle(-100), 1e-9)
	assert.InDelta(t, -45, FoldAngle(45), 1e-9)
	assert.InDelta(t, 0, FoldAngle(180), 1e-9)
}

func TestBoxScale(t *testing.T) {
	b := NewBox(0.5, 0.5, 0.1, 0.2)
	assert.Equal(t, image.Rect(10, 20, 50, 50), b.Scale(100, 100))
	assert.Equal(t, image.Rect(0, 0, 100, 100), NewBox(-1, -1, 2, 2).Scale(100, 100))
	assert.InDelta(t, 0.4, b.Width(), 1e-9)
}

func TestHullContainsAllPointsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("every point lies inside or on the hull", prop.ForAll(
		func(xs, ys []float64) bool {
			n := min(len(xs), len(ys))
			pts := make([]Point, n)
			for i := range n {
				pts[i] = Point{xs[i], ys[i]}
			}
			hull := ConvexHull(pts)
			if len(hull) < 3 {
				return true
			}
			for _, p := range pts {
				for i := range hull {
					if cross(hull[i], hull[(i+1)%len(hull)], p) < -1e-6 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-100, 100)),
		gen.SliceOf(gen.Float64Range(-100, 100)),
	))
	properties.TestingRun(t)
}
