package medindex

import (
	"context"
	"sort"
	"strings"
)

// Tier ranks how close an alternative's stock is to the requesting locality.
type Tier int

const (
	TierHubCity Tier = iota + 1
	TierState
	TierNationwide
	TierOther
)

// Availability is the human label of a tier.
func (t Tier) Availability() string {
	switch t {
	case TierHubCity:
		return "same day"
	case TierState:
		return "1-2 days"
	case TierNationwide:
		return "2-4 days"
	default:
		return "on request"
	}
}

// Alternative is a brand carrying the same generic as the queried medicine.
type Alternative struct {
	Record       Record  `json:"record"`
	Score        float64 `json:"score"`
	Tier         Tier    `json:"tier"`
	Availability string  `json:"availability"`
}

// AlternativesResult is the answer to an alternatives query.
type AlternativesResult struct {
	Query        string        `json:"query"`
	GenericName  string        `json:"generic_name"`
	Hub          *Hub          `json:"hub,omitempty"`
	Alternatives []Alternative `json:"alternatives"`
}

// Alternatives finds records sharing the generic name of the best match for
// name, tiered by locality: hub-city stock, then same state, then nationwide,
// then everything else. Within a tier, higher scores come first.
func Alternatives(ctx context.Context, idx *Index, resolver HubResolver, name, locality string, topN int, minScore float64) AlternativesResult {
	res := AlternativesResult{Query: name}
	best := idx.Lookup(name, RegionAll, 1, minScore)
	if len(best) == 0 {
		return res
	}
	res.GenericName = best[0].Record.GenericName

	var hub Hub
	var haveHub bool
	if resolver != nil && strings.TrimSpace(locality) != "" {
		hub, haveHub = resolver.Resolve(ctx, locality)
		if haveHub {
			h := hub
			res.Hub = &h
		}
	}

	for _, r := range idx.Records(RegionAll) {
		if !strings.EqualFold(r.GenericName, res.GenericName) {
			continue
		}
		tier := TierOther
		switch {
		case haveHub && strings.EqualFold(r.City, hub.City):
			tier = TierHubCity
		case haveHub && strings.EqualFold(r.Region, hub.State):
			tier = TierState
		case strings.EqualFold(r.Region, RegionNationwide):
			tier = TierNationwide
		}
		res.Alternatives = append(res.Alternatives, Alternative{
			Record:       r,
			Score:        TokenSetRatio(name, r.SearchText()),
			Tier:         tier,
			Availability: tier.Availability(),
		})
	}
	sort.SliceStable(res.Alternatives, func(i, j int) bool {
		a, b := res.Alternatives[i], res.Alternatives[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.Score > b.Score
	})
	if topN > 0 && len(res.Alternatives) > topN {
		res.Alternatives = res.Alternatives[:topN]
	}
	return res
}
