package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/MeKo-Tech/rxscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceColorRamp(t *testing.T) {
	r0, g0, _, _ := ConfidenceColor(0).RGBA()
	r1, g1, _, _ := ConfidenceColor(1).RGBA()
	assert.Greater(t, r0, g0, "low confidence is red")
	assert.Greater(t, g1, r1, "high confidence is green")
	assert.Equal(t, ConfidenceColor(1), ConfidenceColor(3))
}

func TestRenderDrawsBoxes(t *testing.T) {
	src := testutil.Uniform(200, 100, color.White)
	meds := []rx.Candidate{
		{MedicineName: "Dolo 650", FusedConfidence: 0.9, BBox: &rx.BBox{X: 0.1, Y: 0.2, W: 0.5, H: 0.3}},
		{MedicineName: "Unknown", FusedConfidence: 0.1},
	}
	out := Render(src, meds, Options{Thickness: 2})
	require.NotNil(t, out)
	assert.Equal(t, image.Rect(0, 0, 200, 100), out.Bounds())

	// Box edge at (20,20) carries the high-confidence color.
	want := color.RGBAModel.Convert(ConfidenceColor(0.9)).(color.RGBA)
	assert.Equal(t, want, out.RGBAAt(20, 20))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(150, 90))
	// Source is left untouched.
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, src.NRGBAAt(20, 20))
}

func TestRenderLegend(t *testing.T) {
	src := testutil.Uniform(300, 200, color.Gray{Y: 120})
	out := Render(src, []rx.Candidate{{MedicineName: "Zerodol-SP", FusedConfidence: 0.45}}, Options{Legend: true})
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(1, 1))
	assert.Nil(t, Render(nil, nil, Options{}))
}
