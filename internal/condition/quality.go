package condition

import (
	"fmt"
	"image"
	"math"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// Quality levels, best first.
const (
	QualityGood = "good"
	QualityFair = "fair"
	QualityPoor = "poor"
)

// QualityThresholds are the advisory limits of the quality report.
type QualityThresholds struct {
	MinResolution int     `mapstructure:"min_resolution" yaml:"min_resolution" json:"min_resolution"`
	MinBlurVar    float64 `mapstructure:"min_blur_variance" yaml:"min_blur_variance" json:"min_blur_variance"`
	MinContrast   float64 `mapstructure:"min_contrast_std" yaml:"min_contrast_std" json:"min_contrast_std"`
}

func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{MinResolution: 500, MinBlurVar: 100, MinContrast: 30}
}

func degrade(score string) string {
	switch score {
	case QualityGood:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Assess measures resolution, sharpness (variance of the Laplacian) and
// contrast (pixel standard deviation) of a grayscale image.
func Assess(g *image.Gray, th QualityThresholds) rx.QualityReport {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	rep := rx.QualityReport{
		OriginalWidth:  w,
		OriginalHeight: h,
		BlurVariance:   laplacianVariance(g),
		ContrastStd:    stdDev(g),
		QualityScore:   QualityGood,
	}
	if w < th.MinResolution || h < th.MinResolution {
		rep.QualityScore = QualityPoor
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("low resolution (%dx%d)", w, h))
	}
	if rep.BlurVariance < th.MinBlurVar {
		rep.QualityScore = degrade(rep.QualityScore)
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("blurry image (variance %.2f)", rep.BlurVariance))
	}
	if rep.ContrastStd < th.MinContrast {
		rep.QualityScore = degrade(rep.QualityScore)
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("low contrast (std %.2f)", rep.ContrastStd))
	}
	return rep
}

func laplacianVariance(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	px := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }
	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := px(x-1, y) + px(x+1, y) + px(x, y-1) + px(x, y+1) - 4*px(x, y)
			sum += l
			sumSq += l * l
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func stdDev(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var sum, sumSq float64
	for y := range h {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			f := float64(v)
			sum += f
			sumSq += f * f
		}
	}
	n := float64(w * h)
	mean := sum / n
	return math.Sqrt(math.Max(0, sumSq/n-mean*mean))
}
