package rx

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryKey(t *testing.T) {
	c := Candidate{RawText: "  Veles   for\t", MedicineName: "Veles for"}
	assert.Equal(t, "Veles for", c.HistoryKey())

	c = Candidate{MedicineName: " Dolo  650 "}
	assert.Equal(t, "Dolo 650", c.HistoryKey())

	c = Candidate{MedicineName: UnknownName, Strength: "500mg"}
	assert.Empty(t, c.HistoryKey(), "unreadable lines share no key")

	c = Candidate{RawText: "Tab ?? 500mg", MedicineName: UnknownName}
	assert.Equal(t, "Tab ?? 500mg", c.HistoryKey())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusApproved.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestPrescriptionCloneIsDeep(t *testing.T) {
	ts := time.Now()
	p := &Prescription{
		ID:                "p1",
		Medicines:         []Candidate{{MedicineName: "A", MatchConfidence: Float(0.9)}},
		ApprovalTimestamp: &ts,
		Quality:           &QualityReport{Warnings: []string{"blurry"}},
	}
	cp := p.Clone()
	cp.Medicines[0].MedicineName = "B"
	*cp.Medicines[0].MatchConfidence = 0.1
	cp.Quality.Warnings[0] = "x"

	assert.Equal(t, "A", p.Medicines[0].MedicineName)
	assert.InDelta(t, 0.9, *p.Medicines[0].MatchConfidence, 1e-9)
	assert.Equal(t, "blurry", p.Quality.Warnings[0])
	assert.Nil(t, (*Prescription)(nil).Clone())
}

func TestMeanConfidence(t *testing.T) {
	p := &Prescription{}
	assert.Zero(t, p.MeanConfidence())
	p.Medicines = []Candidate{{FusedConfidence: 0.5}, {FusedConfidence: 0.9}}
	assert.InDelta(t, 0.7, p.MeanConfidence(), 1e-9)
}

func TestFilterMatch(t *testing.T) {
	yes := true
	p := &Prescription{Status: StatusPending, ReviewRequired: true}
	assert.True(t, Filter{}.Match(p))
	assert.True(t, Filter{Status: StatusPending, ReviewRequired: &yes}.Match(p))
	assert.False(t, Filter{Status: StatusApproved}.Match(p))
	no := false
	assert.False(t, Filter{ReviewRequired: &no}.Match(p))
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	root := errors.New("boom")
	rl := &ProviderRateLimited{Provider: "llm", Err: root}
	failed := &ExtractionFailed{Provider: "llm", Attempts: 3, Err: rl}
	wrapped := fmt.Errorf("pipeline: %w", failed)

	assert.True(t, IsRateLimited(wrapped))
	assert.ErrorIs(t, wrapped, root)

	var ef *ExtractionFailed
	require.ErrorAs(t, wrapped, &ef)
	assert.Equal(t, 3, ef.Attempts)

	assert.False(t, IsRateLimited(&ProviderError{Provider: "llm", Err: root}))
	assert.Contains(t, (&ImageDecodeError{Source: "a.png", Err: root}).Error(), "a.png")
}
