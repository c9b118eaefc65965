package fusion

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestFuseTwoSignal(t *testing.T) {
	f := New(DefaultConfig())
	c := &rx.Candidate{ExtractionConfidence: 0.9, Matched: true, MatchConfidence: rx.Float(1)}
	assert.InDelta(t, 0.95, f.Fuse(c), 1e-9)
	assert.InDelta(t, 0.95, c.FusedConfidence, 1e-9)
	assert.False(t, f.NeedsReview(*c))
}

func TestFuseUnmatchedRoutesToReview(t *testing.T) {
	f := New(DefaultConfig())
	// Best score 65 recorded but below threshold: no match signal.
	c := &rx.Candidate{ExtractionConfidence: 0.9, BestMatchScore: 65}
	assert.InDelta(t, 0.45, f.Fuse(c), 1e-9)
	assert.True(t, f.NeedsReview(*c))

	// A stale match confidence without Matched is ignored too.
	c = &rx.Candidate{ExtractionConfidence: 0.9, MatchConfidence: rx.Float(0.9)}
	assert.InDelta(t, 0.45, f.Fuse(c), 1e-9)
}

func TestFuseThreeSignal(t *testing.T) {
	f := New(DefaultConfig())
	c := &rx.Candidate{
		ExtractionConfidence:  0.6,
		StructuringConfidence: rx.Float(0.8),
		Matched:               true,
		MatchConfidence:       rx.Float(0.9),
	}
	assert.InDelta(t, 0.3*0.6+0.4*0.8+0.3*0.9, f.Fuse(c), 1e-9)
}

func TestFuseHistoricalPinned(t *testing.T) {
	f := New(DefaultConfig())
	c := &rx.Candidate{ExtractionConfidence: 0.1, Matched: true, MatchSource: rx.MatchSourceHistorical, MatchConfidence: rx.Float(0.98)}
	assert.InDelta(t, 0.98, f.Fuse(c), 1e-9)
}

func TestFuseCap(t *testing.T) {
	f := New(DefaultConfig())
	c := &rx.Candidate{ExtractionConfidence: 1, Matched: true, MatchConfidence: rx.Float(1)}
	assert.InDelta(t, 0.98, f.Fuse(c), 1e-9)
}

func TestCustomWeights(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TwoSignal = Weights{Extraction: 0.2, Match: 0.8}
	assert.NoError(t, cfg.Validate())
	f := New(cfg)
	c := &rx.Candidate{ExtractionConfidence: 0.5, Matched: true, MatchConfidence: rx.Float(1)}
	assert.InDelta(t, 0.9, f.Fuse(c), 1e-9)
}

func TestTriage(t *testing.T) {
	f := New(DefaultConfig())
	assert.True(t, f.Triage(nil), "nothing recognized needs review")
	assert.False(t, f.Triage([]rx.Candidate{{FusedConfidence: 0.8}, {FusedConfidence: 0.75}}))
	assert.True(t, f.Triage([]rx.Candidate{{FusedConfidence: 0.8}, {FusedConfidence: 0.74}}))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.ThreeSignal.Match = 0.5
	assert.ErrorContains(t, cfg.Validate(), "three_signal weights must sum to 1")

	cfg = DefaultConfig()
	cfg.TwoSignal = Weights{Extraction: 0.4, Structuring: 0.1, Match: 0.5}
	assert.ErrorContains(t, cfg.Validate(), "structuring weight must be 0")

	cfg = DefaultConfig()
	cfg.Cap = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ThreeSignal = Weights{Extraction: -0.5, Structuring: 1, Match: 0.5}
	assert.ErrorContains(t, cfg.Validate(), "must be in [0,1]")
}

func TestFusionBoundProperty(t *testing.T) {
	f := New(DefaultConfig())
	properties := gopter.NewProperties(nil)
	anyFloat := gen.Float64Range(-2, 3)

	properties.Property("0 <= fused <= 0.98", prop.ForAll(
		func(ext, structuring, match float64, matched, threeSignal, historical bool) bool {
			c := &rx.Candidate{ExtractionConfidence: ext, Matched: matched, MatchConfidence: rx.Float(match)}
			if threeSignal {
				c.StructuringConfidence = rx.Float(structuring)
			}
			if historical {
				c.MatchSource = rx.MatchSourceHistorical
			}
			v := f.Fuse(c)
			return v >= 0 && v <= 0.98 && !math.IsNaN(v)
		},
		anyFloat, anyFloat, anyFloat, gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.Property("NaN inputs stay bounded", prop.ForAll(
		func(matched bool) bool {
			c := &rx.Candidate{ExtractionConfidence: math.NaN(), Matched: matched, MatchConfidence: rx.Float(math.NaN())}
			v := f.Fuse(c)
			return v >= 0 && v <= 0.98
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
