// Package medindex provides the medicine reference index: an immutable,
// region-grouped set of medicine records with fuzzy lookup, the hub-city
// resolution table and tiered regional alternatives.
package medindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// RegionAll is the union region materialized for cross-region fallback.
const RegionAll = "All"

// RegionNationwide marks records stocked across the whole country.
const RegionNationwide = "All India"

// Record is one reference medicine. Records are never mutated after load.
type Record struct {
	GenericName string `json:"generic_name" yaml:"generic_name" db:"generic_name"`
	BrandName   string `json:"brand_name" yaml:"brand_name" db:"brand_name"`
	Strength    string `json:"strength" yaml:"strength" db:"strength"`
	Region      string `json:"region" yaml:"region" db:"region"`
	City        string `json:"city" yaml:"city" db:"city"`
}

// SearchText is the string lookups are scored against.
func (r Record) SearchText() string {
	return strings.Join([]string{r.GenericName, r.BrandName, r.Strength}, " ")
}

// Match is a scored lookup hit.
type Match struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

type entry struct {
	rec    Record
	tokens []string
}

// Index is an immutable region-grouped medicine index.
type Index struct {
	regions map[string][]entry
	names   map[string]string
	size    int
}

// Build groups records by region and adds the All union.
func Build(records []Record) *Index {
	idx := &Index{
		regions: make(map[string][]entry),
		names:   make(map[string]string),
		size:    len(records),
	}
	all := make([]entry, 0, len(records))
	for _, r := range records {
		e := entry{rec: r, tokens: Tokens(r.SearchText())}
		all = append(all, e)
		if r.Region == "" {
			continue
		}
		key := regionKey(r.Region)
		idx.regions[key] = append(idx.regions[key], e)
		idx.names[key] = r.Region
	}
	idx.regions[regionKey(RegionAll)] = all
	idx.names[regionKey(RegionAll)] = RegionAll
	return idx
}

func regionKey(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// Len returns the number of records.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.size
}

// Regions lists the loaded region names, All included, sorted.
func (idx *Index) Regions() []string {
	out := make([]string, 0, len(idx.names))
	for _, n := range idx.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Records returns the records of a region, falling back to All for an unknown
// or empty region.
func (idx *Index) Records(region string) []Record {
	entries := idx.entries(region)
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = e.rec
	}
	return out
}

func (idx *Index) entries(region string) []entry {
	if region != "" {
		if es, ok := idx.regions[regionKey(region)]; ok {
			return es
		}
	}
	return idx.regions[regionKey(RegionAll)]
}

// Lookup scores name against every record of region and returns up to topN
// matches scoring at least minScore. Results are ordered by score descending,
// then shorter generic name, then brand name. topN <= 0 returns all matches.
func (idx *Index) Lookup(name, region string, topN int, minScore float64) []Match {
	if idx == nil {
		return nil
	}
	query := Tokens(name)
	if len(query) == 0 {
		return nil
	}
	var matches []Match
	for _, e := range idx.entries(region) {
		score := tokenSetRatio(query, e.tokens)
		if score < minScore {
			continue
		}
		matches = append(matches, Match{Record: e.rec, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Record.GenericName) != len(b.Record.GenericName) {
			return len(a.Record.GenericName) < len(b.Record.GenericName)
		}
		return a.Record.BrandName < b.Record.BrandName
	})
	if topN > 0 && len(matches) > topN {
		matches = matches[:topN]
	}
	return matches
}

// Best returns the top match regardless of score.
func (idx *Index) Best(name, region string) (Match, bool) {
	m := idx.Lookup(name, region, 1, 0)
	if len(m) == 0 {
		return Match{}, false
	}
	return m[0], true
}

// Handle publishes the current index. Reloads build a complete new index
// before swapping it in, so concurrent lookups see either the old or the new
// index and never a partial one.
type Handle struct {
	cur atomic.Pointer[Index]
}

// NewHandle returns a handle serving idx (an empty index when nil).
func NewHandle(idx *Index) *Handle {
	if idx == nil {
		idx = Build(nil)
	}
	h := &Handle{}
	h.cur.Store(idx)
	return h
}

// Current returns the published index.
func (h *Handle) Current() *Index {
	return h.cur.Load()
}

// Swap publishes idx and returns the previous index.
func (h *Handle) Swap(idx *Index) *Index {
	return h.cur.Swap(idx)
}

// Reload loads src, builds a fresh index and publishes it. On error the
// current index keeps serving.
func (h *Handle) Reload(ctx context.Context, src Source) error {
	idx, err := Load(ctx, src)
	if err != nil {
		return err
	}
	h.Swap(idx)
	return nil
}

// Lookup delegates to the current index.
func (h *Handle) Lookup(name, region string, topN int, minScore float64) []Match {
	return h.Current().Lookup(name, region, topN, minScore)
}

// Load reads all records from src and builds an index.
func Load(ctx context.Context, src Source) (*Index, error) {
	records, err := src.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("load medicine records from %s: %w", src.Name(), err)
	}
	return Build(records), nil
}
