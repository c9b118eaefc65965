// Package fusion combines per-candidate confidence signals into one score and
// applies the review triage policy.
package fusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// Weights for the three-signal case (separate extraction and structuring
// calls).
type Weights struct {
	Extraction  float64 `mapstructure:"extraction" yaml:"extraction" json:"extraction"`
	Structuring float64 `mapstructure:"structuring" yaml:"structuring" json:"structuring"`
	Match       float64 `mapstructure:"match" yaml:"match" json:"match"`
}

// Sum returns the weight total.
func (w Weights) Sum() float64 {
	return w.Extraction + w.Structuring + w.Match
}

// Config holds the fusion weights and triage thresholds.
type Config struct {
	ThreeSignal Weights `mapstructure:"three_signal" yaml:"three_signal" json:"three_signal"`
	// TwoSignal applies when no structuring confidence exists; its
	// Structuring weight must be 0.
	TwoSignal            Weights `mapstructure:"two_signal" yaml:"two_signal" json:"two_signal"`
	Cap                  float64 `mapstructure:"cap" yaml:"cap" json:"cap"`
	HistoricalConfidence float64 `mapstructure:"historical_confidence" yaml:"historical_confidence" json:"historical_confidence"`
	ReviewThreshold      float64 `mapstructure:"review_threshold" yaml:"review_threshold" json:"review_threshold"`
}

// DefaultConfig returns the reference weighting: 30/40/30 with three signals,
// 50/50 with two, capped at 0.98, review below 0.75.
func DefaultConfig() Config {
	return Config{
		ThreeSignal:          Weights{Extraction: 0.3, Structuring: 0.4, Match: 0.3},
		TwoSignal:            Weights{Extraction: 0.5, Match: 0.5},
		Cap:                  0.98,
		HistoricalConfidence: 0.98,
		ReviewThreshold:      0.75,
	}
}

const weightTolerance = 1e-6

// Validate checks that each weight set sums to 1 and the limits are sane.
func (c Config) Validate() error {
	var errs []error
	for name, w := range map[string]Weights{"three_signal": c.ThreeSignal, "two_signal": c.TwoSignal} {
		for _, v := range []float64{w.Extraction, w.Structuring, w.Match} {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Errorf("%s weights must be in [0,1]", name))
				break
			}
		}
		if math.Abs(w.Sum()-1) > weightTolerance {
			errs = append(errs, fmt.Errorf("%s weights must sum to 1, got %.4f", name, w.Sum()))
		}
	}
	if c.TwoSignal.Structuring != 0 {
		errs = append(errs, errors.New("two_signal structuring weight must be 0"))
	}
	if c.Cap <= 0 || c.Cap > 1 {
		errs = append(errs, fmt.Errorf("cap must be in (0,1], got %v", c.Cap))
	}
	if c.HistoricalConfidence < 0 || c.HistoricalConfidence > 1 {
		errs = append(errs, fmt.Errorf("historical_confidence must be in [0,1], got %v", c.HistoricalConfidence))
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		errs = append(errs, fmt.Errorf("review_threshold must be in [0,1], got %v", c.ReviewThreshold))
	}
	return errors.Join(errs...)
}

// Fuser computes fused confidences.
type Fuser struct {
	cfg Config
}

// New returns a fuser for cfg.
func New(cfg Config) *Fuser {
	return &Fuser{cfg: cfg}
}

// Config returns the active configuration.
func (f *Fuser) Config() Config {
	return f.cfg
}

// Fuse sets and returns c.FusedConfidence. The match signal only counts when
// the candidate was validated; an unmatched name contributes 0. Consensus
// corrections are pinned at the historical confidence. The result is always
// within [0, Cap].
func (f *Fuser) Fuse(c *rx.Candidate) float64 {
	var v float64
	switch {
	case c.MatchSource == rx.MatchSourceHistorical:
		v = f.cfg.HistoricalConfidence
	case c.StructuringConfidence != nil:
		w := f.cfg.ThreeSignal
		v = w.Extraction*unit(c.ExtractionConfidence) +
			w.Structuring*unit(*c.StructuringConfidence) +
			w.Match*matchSignal(c)
	default:
		w := f.cfg.TwoSignal
		v = w.Extraction*unit(c.ExtractionConfidence) + w.Match*matchSignal(c)
	}
	v = math.Min(unit(v), f.cfg.Cap)
	c.FusedConfidence = v
	return v
}

// FuseAll fuses every candidate.
func (f *Fuser) FuseAll(cands []rx.Candidate) {
	for i := range cands {
		f.Fuse(&cands[i])
	}
}

// NeedsReview reports whether a candidate falls below the review threshold.
func (f *Fuser) NeedsReview(c rx.Candidate) bool {
	return c.FusedConfidence < f.cfg.ReviewThreshold
}

// Triage decides whether a prescription needs mandatory pharmacist review:
// always when nothing was recognized, otherwise when any candidate is below
// the review threshold.
func (f *Fuser) Triage(cands []rx.Candidate) bool {
	if len(cands) == 0 {
		return true
	}
	for _, c := range cands {
		if f.NeedsReview(c) {
			return true
		}
	}
	return false
}

func matchSignal(c *rx.Candidate) float64 {
	if !c.Matched || c.MatchConfidence == nil {
		return 0
	}
	return unit(*c.MatchConfidence)
}

// unit clamps to [0,1]; NaN maps to 0.
func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
