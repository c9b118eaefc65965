package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// Memory is a process-local store. Stored values are copied on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	prescriptions map[string]*rx.Prescription
	corrections   []rx.CorrectionEntry
	closed        bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{prescriptions: make(map[string]*rx.Prescription)}
}

var errClosed = errors.New("store closed")

func (m *Memory) Get(ctx context.Context, id string) (*rx.Prescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, fmt.Errorf("prescription %s: %w", id, rx.ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, p *rx.Prescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil || p.ID == "" {
		return errors.New("prescription id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.prescriptions[p.ID] = p.Clone()
	return nil
}

func (m *Memory) List(ctx context.Context, f rx.Filter) ([]*rx.Prescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}
	var out []*rx.Prescription
	for _, p := range m.prescriptions {
		if f.Match(p) {
			out = append(out, p.Clone())
		}
	}
	sortOldestFirst(out)
	return applyLimit(out, f.Limit), nil
}

func (m *Memory) AppendCorrection(ctx context.Context, e rx.CorrectionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.corrections = append(m.corrections, e)
	return nil
}

func (m *Memory) CorrectionHistory(ctx context.Context, text string) ([]rx.CorrectionEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := rx.NormalizeKey(text)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rx.CorrectionEntry
	for _, e := range m.corrections {
		if rx.NormalizeKey(e.OriginalText) == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) CommonCorrections(ctx context.Context, limit int) ([]rx.CorrectionCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCorrections(m.corrections, limit), nil
}

// Corrections returns a copy of the whole log.
func (m *Memory) Corrections() []rx.CorrectionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]rx.CorrectionEntry(nil), m.corrections...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
