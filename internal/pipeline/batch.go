package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome of one request of a batch.
type BatchResult struct {
	Index        int
	Source       string
	Prescription *rx.Prescription
	Err          error
}

// ProcessBatch processes requests concurrently with at most Workers in
// flight. Results keep the order of reqs. A failed request does not stop
// the others; canceling ctx stops requests that have not been stored yet.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []Request, progress ProgressCallback) []BatchResult {
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]BatchResult, len(reqs))
	progress.OnStart(len(reqs))
	defer progress.OnComplete()

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			res := BatchResult{Index: i, Source: req.Filename}
			if err := ctx.Err(); err != nil {
				res.Err = err
			} else {
				res.Prescription, res.Err = p.Process(ctx, req)
			}
			results[i] = res

			mu.Lock()
			done++
			progress.OnResult(done, len(reqs), res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BatchSummary counts batch outcomes.
type BatchSummary struct {
	Total          int
	Failed         int
	ReviewRequired int
	AutoApproved   int
	Outcomes       map[rx.Outcome]int
}

// Summarize tallies results.
func Summarize(results []BatchResult) BatchSummary {
	s := BatchSummary{Total: len(results), Outcomes: make(map[rx.Outcome]int)}
	for _, r := range results {
		if r.Err != nil || r.Prescription == nil {
			s.Failed++
			continue
		}
		s.Outcomes[r.Prescription.Outcome]++
		switch {
		case r.Prescription.Status == rx.StatusApproved:
			s.AutoApproved++
		case r.Prescription.ReviewRequired:
			s.ReviewRequired++
		}
	}
	return s
}
