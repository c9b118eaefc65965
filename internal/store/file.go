package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

const (
	prescriptionsDir = "prescriptions"
	correctionsFile  = "corrections.jsonl"
)

// File stores one JSON document per prescription and appends corrections to
// a JSON-lines log, all under a single directory.
type File struct {
	dir   string
	locks KeyedMutex
	logMu sync.Mutex
}

// OpenFile prepares dir (creating it when missing) and returns the store.
func OpenFile(dir string) (*File, error) {
	if err := os.MkdirAll(filepath.Join(dir, prescriptionsDir), 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (s *File) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid prescription id %q", id)
	}
	return filepath.Join(s.dir, prescriptionsDir, id+".json"), nil
}

func (s *File) Get(ctx context.Context, id string) (*rx.Prescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	return readPrescription(path, id)
}

func readPrescription(path, id string) (*rx.Prescription, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("prescription %s: %w", id, rx.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p rx.Prescription
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode prescription %s: %w", id, err)
	}
	return &p, nil
}

// Put writes to a temporary file and renames it so readers never see a
// partially written document.
func (s *File) Put(ctx context.Context, p *rx.Prescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p == nil {
		return errors.New("prescription is required")
	}
	path, err := s.path(p.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode prescription %s: %w", p.ID, err)
	}
	unlock := s.locks.Lock(p.ID)
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), p.ID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *File) List(ctx context.Context, f rx.Filter) ([]*rx.Prescription, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, prescriptionsDir))
	if err != nil {
		return nil, err
	}
	var out []*rx.Prescription
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		p, err := readPrescription(filepath.Join(s.dir, prescriptionsDir, name), id)
		if err != nil {
			return nil, err
		}
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sortOldestFirst(out)
	return applyLimit(out, f.Limit), nil
}

func (s *File) AppendCorrection(ctx context.Context, e rx.CorrectionEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, correctionsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *File) readLog(ctx context.Context) ([]rx.CorrectionEntry, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.Open(filepath.Join(s.dir, correctionsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []rx.CorrectionEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e rx.CorrectionEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", correctionsFile, n, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (s *File) CorrectionHistory(ctx context.Context, text string) ([]rx.CorrectionEntry, error) {
	all, err := s.readLog(ctx)
	if err != nil {
		return nil, err
	}
	key := rx.NormalizeKey(text)
	var out []rx.CorrectionEntry
	for _, e := range all {
		if rx.NormalizeKey(e.OriginalText) == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *File) CommonCorrections(ctx context.Context, limit int) ([]rx.CorrectionCount, error) {
	all, err := s.readLog(ctx)
	if err != nil {
		return nil, err
	}
	return countCorrections(all, limit), nil
}

func (s *File) Close() error { return nil }
