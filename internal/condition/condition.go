// Package condition prepares prescription photos for recognition: it
// upscales, smooths and binarizes them, optionally straightens handwriting,
// and reports advisory image quality.
package condition

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// Mode selects the conditioning pipeline.
type Mode int

const (
	Standard Mode = iota
	Handwriting
)

func (m Mode) String() string {
	if m == Handwriting {
		return "handwriting"
	}
	return "standard"
}

// ParseMode accepts "standard" or "handwriting".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "standard":
		return Standard, nil
	case "handwriting":
		return Handwriting, nil
	}
	return Standard, fmt.Errorf("unknown conditioning mode %q", s)
}

// Config holds the parameters of both pipelines.
type Config struct {
	StandardScale    float64 `mapstructure:"standard_scale" yaml:"standard_scale" json:"standard_scale"`
	HandwritingScale float64 `mapstructure:"handwriting_scale" yaml:"handwriting_scale" json:"handwriting_scale"`
	// MaxPixels caps the upscaled area; the scale is reduced (never below 1)
	// to stay under it.
	MaxPixels int `mapstructure:"max_pixels" yaml:"max_pixels" json:"max_pixels"`

	BlurSigma      float64 `mapstructure:"blur_sigma" yaml:"blur_sigma" json:"blur_sigma"`
	StandardBlock  int     `mapstructure:"standard_block" yaml:"standard_block" json:"standard_block"`
	StandardC      float64 `mapstructure:"standard_c" yaml:"standard_c" json:"standard_c"`
	StandardDilate int     `mapstructure:"standard_dilate" yaml:"standard_dilate" json:"standard_dilate"`

	ClipLimit         float64 `mapstructure:"clahe_clip_limit" yaml:"clahe_clip_limit" json:"clahe_clip_limit"`
	Tiles             int     `mapstructure:"clahe_tiles" yaml:"clahe_tiles" json:"clahe_tiles"`
	BilateralDiameter int     `mapstructure:"bilateral_diameter" yaml:"bilateral_diameter" json:"bilateral_diameter"`
	BilateralSigma    float64 `mapstructure:"bilateral_sigma" yaml:"bilateral_sigma" json:"bilateral_sigma"`
	HandwritingBlock  int     `mapstructure:"handwriting_block" yaml:"handwriting_block" json:"handwriting_block"`
	HandwritingC      float64 `mapstructure:"handwriting_c" yaml:"handwriting_c" json:"handwriting_c"`
	HandwritingDilate int     `mapstructure:"handwriting_dilate" yaml:"handwriting_dilate" json:"handwriting_dilate"`
	DilatePasses      int     `mapstructure:"dilate_passes" yaml:"dilate_passes" json:"dilate_passes"`
	MaxDeskewAngle    float64 `mapstructure:"max_deskew_angle" yaml:"max_deskew_angle" json:"max_deskew_angle"`
	MinDeskewAngle    float64 `mapstructure:"min_deskew_angle" yaml:"min_deskew_angle" json:"min_deskew_angle"`
	MinComponentArea  int     `mapstructure:"min_component_area" yaml:"min_component_area" json:"min_component_area"`

	Quality QualityThresholds `mapstructure:"quality" yaml:"quality" json:"quality"`
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		StandardScale:     2,
		HandwritingScale:  3,
		MaxPixels:         40_000_000,
		BlurSigma:         0.8,
		StandardBlock:     11,
		StandardC:         2,
		StandardDilate:    2,
		ClipLimit:         2.0,
		Tiles:             8,
		BilateralDiameter: 9,
		BilateralSigma:    75,
		HandwritingBlock:  15,
		HandwritingC:      5,
		HandwritingDilate: 3,
		DilatePasses:      2,
		MaxDeskewAngle:    15,
		MinDeskewAngle:    0.5,
		MinComponentArea:  20,
		Quality:           DefaultQualityThresholds(),
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.StandardScale < 1 || c.HandwritingScale < 1:
		return fmt.Errorf("upscale factors must be >= 1")
	case c.StandardBlock < 3 || c.StandardBlock%2 == 0 || c.HandwritingBlock < 3 || c.HandwritingBlock%2 == 0:
		return fmt.Errorf("threshold block sizes must be odd and >= 3")
	case c.MaxDeskewAngle < 0 || c.MaxDeskewAngle > 45:
		return fmt.Errorf("max_deskew_angle must be in [0,45], got %v", c.MaxDeskewAngle)
	case c.Tiles < 1:
		return fmt.Errorf("clahe_tiles must be >= 1")
	}
	return nil
}

// Conditioner runs the conditioning pipelines. It is stateless and safe for
// concurrent use.
type Conditioner struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Conditioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conditioner{cfg: cfg, logger: logger}
}

// Condition returns the binarized image (ink 0 on white 255) and the quality
// report of the input. The report is advisory and never fails the call.
func (c *Conditioner) Condition(img image.Image, mode Mode) (*image.Gray, *rx.QualityReport) {
	start := time.Now()
	gray := toGray(img)
	rep := Assess(gray, c.cfg.Quality)
	rep.HandwritingMode = mode == Handwriting

	var out *image.Gray
	switch {
	case mode == Standard && isBilevel(gray):
		out = upscale(gray, c.scaleFor(gray, mode), imaging.NearestNeighbor)
	case mode == Handwriting:
		out = c.handwriting(gray, &rep)
	default:
		out = c.standard(gray)
	}

	c.logger.Debug("image conditioned",
		"mode", mode.String(),
		"width", out.Rect.Dx(),
		"height", out.Rect.Dy(),
		"quality", rep.QualityScore,
		"skew_angle", rep.SkewAngle,
		"duration_ms", time.Since(start).Milliseconds())
	return out, &rep
}

func (c *Conditioner) standard(g *image.Gray) *image.Gray {
	g = upscale(g, c.scaleFor(g, Standard), imaging.CatmullRom)
	g = toGray(blur.Gaussian(g, c.cfg.BlurSigma))
	g = adaptiveThreshold(g, c.cfg.StandardBlock, c.cfg.StandardC)
	return dilateInk(g, c.cfg.StandardDilate, 1)
}

func (c *Conditioner) handwriting(g *image.Gray, rep *rx.QualityReport) *image.Gray {
	g = upscale(g, c.scaleFor(g, Handwriting), imaging.CatmullRom)
	g = clahe(g, c.cfg.ClipLimit, c.cfg.Tiles, c.cfg.Tiles)
	g = bilateral(g, c.cfg.BilateralDiameter, c.cfg.BilateralSigma, c.cfg.BilateralSigma)
	g = closeInk(g, 3)

	var applied bool
	g, rep.SkewAngle, applied = Deskew(g, c.cfg.MinDeskewAngle, c.cfg.MaxDeskewAngle)
	rep.DeskewApplied = applied
	if !applied && math.Abs(rep.SkewAngle) > c.cfg.MaxDeskewAngle {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("skew of %.1f degrees left uncorrected", rep.SkewAngle))
	}

	g = adaptiveThreshold(g, c.cfg.HandwritingBlock, c.cfg.HandwritingC)
	g = dilateInk(g, c.cfg.HandwritingDilate, c.cfg.DilatePasses)
	g, _ = removeSpecks(g, c.cfg.MinComponentArea)
	return g
}

// scaleFor returns the mode's upscale factor reduced to respect MaxPixels.
func (c *Conditioner) scaleFor(g *image.Gray, mode Mode) float64 {
	s := c.cfg.StandardScale
	if mode == Handwriting {
		s = c.cfg.HandwritingScale
	}
	area := float64(g.Rect.Dx() * g.Rect.Dy())
	if c.cfg.MaxPixels > 0 && area*s*s > float64(c.cfg.MaxPixels) {
		s = math.Max(1, math.Sqrt(float64(c.cfg.MaxPixels)/area))
	}
	return s
}

func upscale(g *image.Gray, scale float64, filter imaging.ResampleFilter) *image.Gray {
	if scale <= 1 {
		return g
	}
	w := int(float64(g.Rect.Dx()) * scale)
	h := int(float64(g.Rect.Dy()) * scale)
	return toGray(imaging.Resize(g, w, h, filter))
}

// toGray converts any image to an *image.Gray anchored at the origin. Images
// whose channels are already equal (outputs of the filters above) are copied
// channel-for-channel so bilevel values survive exactly.
func toGray(img image.Image) *image.Gray {
	switch src := img.(type) {
	case *image.Gray:
		if src.Rect.Min == (image.Point{}) {
			return src
		}
		out := image.NewGray(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
		draw.Draw(out, out.Rect, src, src.Rect.Min, draw.Src)
		return out
	case *image.NRGBA:
		return fromRGBA(src.Pix, src.Stride, src.Rect, false)
	case *image.RGBA:
		return fromRGBA(src.Pix, src.Stride, src.Rect, true)
	}
	return toGray(effect.Grayscale(img))
}

// fromRGBA flattens 8-bit RGBA pixels onto a white background.
func fromRGBA(pix []uint8, stride int, r image.Rectangle, premultiplied bool) *image.Gray {
	w, h := r.Dx(), r.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			i := y*stride + x*4
			rr, gg, bb, a := int(pix[i]), int(pix[i+1]), int(pix[i+2]), int(pix[i+3])
			v := rr
			if rr != gg || gg != bb {
				v = (299*rr + 587*gg + 114*bb + 500) / 1000
			}
			if a < 255 {
				if premultiplied {
					v += 255 - a
				} else {
					v = (v*a + 255*(255-a) + 127) / 255
				}
			}
			out.Pix[y*w+x] = uint8(min(v, 255))
		}
	}
	return out
}

// isBilevel reports whether every pixel is pure black or pure white, as in
// images this package already produced.
func isBilevel(g *image.Gray) bool {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return false
	}
	for y := range h {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			if v != 0 && v != 255 {
				return false
			}
		}
	}
	return true
}
