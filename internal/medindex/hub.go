package medindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"gopkg.in/yaml.v3"
)

// Hub is the canonical logistics city a locality resolves to.
type Hub struct {
	City  string `json:"city" yaml:"city"`
	State string `json:"state" yaml:"state"`
}

// HubEntry maps a locality keyword to its hub.
type HubEntry struct {
	Keyword string `json:"keyword" yaml:"keyword"`
	Hub     Hub    `json:"hub" yaml:"hub"`
}

// HubTable is the keyword table used to resolve free-form localities.
type HubTable struct {
	entries []HubEntry
}

// DefaultHubEntries is the built-in locality table.
var DefaultHubEntries = []HubEntry{
	{Keyword: "bangalore", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "bengaluru", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "indiranagar", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "whitefield", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "mysore", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "mangalore", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "hubli", Hub: Hub{City: "Bangalore", State: "Karnataka"}},
	{Keyword: "mumbai", Hub: Hub{City: "Mumbai", State: "Maharashtra"}},
	{Keyword: "pune", Hub: Hub{City: "Mumbai", State: "Maharashtra"}},
	{Keyword: "chennai", Hub: Hub{City: "Chennai", State: "Tamil Nadu"}},
	{Keyword: "delhi", Hub: Hub{City: "Delhi", State: "Delhi"}},
}

// NewHubTable builds a table; longer keywords are tried first so a specific
// locality wins over a shorter keyword it contains.
func NewHubTable(entries []HubEntry) *HubTable {
	es := make([]HubEntry, 0, len(entries))
	for _, e := range entries {
		e.Keyword = strings.ToLower(strings.TrimSpace(e.Keyword))
		if e.Keyword == "" {
			continue
		}
		es = append(es, e)
	}
	sort.SliceStable(es, func(i, j int) bool {
		return len(es[i].Keyword) > len(es[j].Keyword)
	})
	return &HubTable{entries: es}
}

// DefaultHubTable returns the built-in table.
func DefaultHubTable() *HubTable {
	return NewHubTable(DefaultHubEntries)
}

// LoadHubTable reads a YAML list of hub entries. An empty path returns the
// built-in table.
func LoadHubTable(path string) (*HubTable, error) {
	if path == "" {
		return DefaultHubTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []HubEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse hub table %s: %w", path, err)
	}
	return NewHubTable(entries), nil
}

// Lookup finds the first keyword contained in locality.
func (t *HubTable) Lookup(locality string) (Hub, bool) {
	l := strings.ToLower(locality)
	for _, e := range t.entries {
		if strings.Contains(l, e.Keyword) {
			return e.Hub, true
		}
	}
	return Hub{}, false
}

// Known returns the table hub whose city equals city (case-insensitive).
func (t *HubTable) Known(city string) (Hub, bool) {
	for _, e := range t.entries {
		if strings.EqualFold(e.Hub.City, strings.TrimSpace(city)) {
			return e.Hub, true
		}
	}
	return Hub{}, false
}

// Hubs lists the distinct hub cities.
func (t *HubTable) Hubs() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range t.entries {
		if !seen[e.Hub.City] {
			seen[e.Hub.City] = true
			out = append(out, e.Hub.City)
		}
	}
	sort.Strings(out)
	return out
}

// HubResolver maps a free-form locality to a hub.
type HubResolver interface {
	Resolve(ctx context.Context, locality string) (Hub, bool)
}

// Resolve implements HubResolver with the keyword table.
func (t *HubTable) Resolve(_ context.Context, locality string) (Hub, bool) {
	return t.Lookup(locality)
}

// LLMResolver asks a language model which known hub serves a locality. Its
// answer is only accepted when it names a hub of Table.
type LLMResolver struct {
	Model  llms.Model
	Table  *HubTable
	Logger *slog.Logger
}

// Resolve implements HubResolver.
func (r *LLMResolver) Resolve(ctx context.Context, locality string) (Hub, bool) {
	if r.Model == nil || strings.TrimSpace(locality) == "" {
		return Hub{}, false
	}
	prompt := fmt.Sprintf(
		"Which of these logistics hub cities is closest to the Indian locality %q? "+
			"Hubs: %s. Answer with the hub city name only.",
		locality, strings.Join(r.Table.Hubs(), ", "))
	answer, err := llms.GenerateFromSinglePrompt(ctx, r.Model, prompt, llms.WithTemperature(0))
	if err != nil {
		r.logger().Warn("hub resolution via llm failed", "locality", locality, "error", err)
		return Hub{}, false
	}
	answer = strings.Trim(strings.TrimSpace(answer), ".\"'")
	hub, ok := r.Table.Known(answer)
	if !ok {
		r.logger().Debug("llm named unknown hub", "locality", locality, "answer", answer)
	}
	return hub, ok
}

func (r *LLMResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ChainResolver tries each resolver in order and returns the first hit. The
// keyword table belongs last as the guaranteed fallback.
type ChainResolver []HubResolver

// Resolve implements HubResolver.
func (c ChainResolver) Resolve(ctx context.Context, locality string) (Hub, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if hub, ok := r.Resolve(ctx, locality); ok {
			return hub, true
		}
	}
	return Hub{}, false
}
