package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProgress struct {
	mu      sync.Mutex
	total   int
	done    []int
	sources []string
	closed  bool
}

func (r *recordingProgress) OnStart(total int) { r.total = total }

func (r *recordingProgress) OnResult(done, _ int, res BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = append(r.done, done)
	r.sources = append(r.sources, res.Source)
}

func (r *recordingProgress) OnComplete() { r.closed = true }

func TestProcessBatchKeepsOrder(t *testing.T) {
	h := newHarness(t, &fakeProvider{body: zerodolOnly}, false)
	img := imageBytes(t)
	reqs := []Request{
		{Image: img, Filename: "a.png"},
		{Filename: "broken.png"},
		{Image: img, Filename: "c.png"},
	}

	prog := &recordingProgress{}
	results := h.pipeline.ProcessBatch(context.Background(), reqs, prog)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, reqs[i].Filename, r.Source)
	}
	assert.NoError(t, results[0].Err)
	var decErr *rx.ImageDecodeError
	assert.ErrorAs(t, results[1].Err, &decErr)
	assert.NoError(t, results[2].Err)

	assert.Equal(t, 3, prog.total)
	assert.Equal(t, []int{1, 2, 3}, prog.done)
	assert.ElementsMatch(t, []string{"a.png", "broken.png", "c.png"}, prog.sources)
	assert.True(t, prog.closed)

	sum := Summarize(results)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 2, sum.Outcomes[rx.OutcomeOK])
	assert.Zero(t, sum.ReviewRequired)
	assert.Len(t, h.stored(t), 2)
}

func TestProcessBatchCanceled(t *testing.T) {
	h := newHarness(t, &fakeProvider{body: zerodolOnly}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := h.pipeline.ProcessBatch(ctx, []Request{{Image: imageBytes(t), Filename: "a.png"}}, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Empty(t, h.stored(t))
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "scan: ").WithWidth(10)

	cb.OnStart(2)
	assert.Contains(t, buf.String(), "scan: 0/2")

	buf.Reset()
	cb.OnResult(1, 2, BatchResult{Source: "a.png", Prescription: &rx.Prescription{ID: "x"}})
	assert.Contains(t, buf.String(), "█████░░░░░")
	assert.Contains(t, buf.String(), "1/2")

	buf.Reset()
	cb.OnResult(2, 2, BatchResult{Source: "b.png", Err: errors.New("boom")})
	assert.Contains(t, buf.String(), "b.png: boom")
	assert.Contains(t, buf.String(), "2/2")

	buf.Reset()
	cb.OnComplete()
	assert.Contains(t, buf.String(), "Completed in")
	assert.Contains(t, buf.String(), "(1 failed)")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := NewLogProgressCallback(slog.New(slog.NewTextHandler(&buf, nil)))

	cb.OnStart(1)
	cb.OnResult(1, 1, BatchResult{Source: "a.png", Prescription: &rx.Prescription{ID: "rx-1", Outcome: rx.OutcomeOK}})
	cb.OnResult(1, 1, BatchResult{Source: "b.png", Err: errors.New("boom")})
	cb.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "batch started")
	assert.Contains(t, out, "prescription_id=rx-1")
	assert.Contains(t, out, "batch item failed")
	assert.Contains(t, out, "batch completed")
}
