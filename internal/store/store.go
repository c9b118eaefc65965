// Package store persists prescriptions and the append-only correction log.
// Backends: in-memory, a directory of JSON documents, and PostgreSQL
// (subpackage postgres).
package store

import (
	"context"
	"sort"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// Store is the storage backend of the pipeline and the approval workflow.
// Implementations must be safe for concurrent use; each call is atomic with
// respect to the record it touches.
type Store interface {
	// Get returns a copy of the prescription or rx.ErrNotFound.
	Get(ctx context.Context, id string) (*rx.Prescription, error)
	// Put inserts or replaces a prescription.
	Put(ctx context.Context, p *rx.Prescription) error
	// List returns prescriptions matching f, oldest first.
	List(ctx context.Context, f rx.Filter) ([]*rx.Prescription, error)
	// AppendCorrection appends to the correction log.
	AppendCorrection(ctx context.Context, e rx.CorrectionEntry) error
	// CorrectionHistory returns log entries whose original text equals text
	// after whitespace normalization, oldest first.
	CorrectionHistory(ctx context.Context, text string) ([]rx.CorrectionEntry, error)
	// CommonCorrections aggregates the log by (original, corrected) pair,
	// most frequent first.
	CommonCorrections(ctx context.Context, limit int) ([]rx.CorrectionCount, error)
	Close() error
}

func sortOldestFirst(ps []*rx.Prescription) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func applyLimit(ps []*rx.Prescription, limit int) []*rx.Prescription {
	if limit > 0 && len(ps) > limit {
		return ps[:limit]
	}
	return ps
}

// countCorrections aggregates entries for CommonCorrections.
func countCorrections(entries []rx.CorrectionEntry, limit int) []rx.CorrectionCount {
	type pair struct{ orig, corr string }
	counts := map[pair]int{}
	var order []pair
	for _, e := range entries {
		p := pair{rx.NormalizeKey(e.OriginalText), rx.NormalizeKey(e.CorrectedText)}
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
	}
	out := make([]rx.CorrectionCount, 0, len(order))
	for _, p := range order {
		out = append(out, rx.CorrectionCount{OriginalText: p.orig, CorrectedText: p.corr, Count: counts[p]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.ToLower(out[i].OriginalText) < strings.ToLower(out[j].OriginalText)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
