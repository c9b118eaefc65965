package medindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type stubModel struct {
	answer string
	err    error
}

func (m stubModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestHubTableLookup(t *testing.T) {
	tbl := DefaultHubTable()
	hub, ok := tbl.Lookup("12th Main, Indiranagar, Bengaluru")
	require.True(t, ok)
	assert.Equal(t, Hub{City: "Bangalore", State: "Karnataka"}, hub)

	hub, ok = tbl.Lookup("Koregaon Park, PUNE")
	require.True(t, ok)
	assert.Equal(t, "Mumbai", hub.City)

	_, ok = tbl.Lookup("Kolkata")
	assert.False(t, ok)
}

func TestHubTableLongestKeywordWins(t *testing.T) {
	tbl := NewHubTable([]HubEntry{
		{Keyword: "delhi", Hub: Hub{City: "Delhi", State: "Delhi"}},
		{Keyword: "new delhi airport", Hub: Hub{City: "Gurgaon", State: "Haryana"}},
	})
	hub, ok := tbl.Lookup("Terminal 3, New Delhi Airport")
	require.True(t, ok)
	assert.Equal(t, "Gurgaon", hub.City)
}

func TestLoadHubTable(t *testing.T) {
	tbl, err := LoadHubTable("")
	require.NoError(t, err)
	assert.Contains(t, tbl.Hubs(), "Chennai")

	path := filepath.Join(t.TempDir(), "hubs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- keyword: kochi\n  hub: {city: Kochi, state: Kerala}\n"), 0o600))
	tbl, err = LoadHubTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Kochi"}, tbl.Hubs())
}

func TestChainResolverPrefersLLMAndFallsBack(t *testing.T) {
	tbl := DefaultHubTable()
	ctx := context.Background()

	chain := ChainResolver{&LLMResolver{Model: stubModel{answer: "Chennai."}, Table: tbl}, tbl}
	hub, ok := chain.Resolve(ctx, "Pondicherry")
	require.True(t, ok)
	assert.Equal(t, "Chennai", hub.City)

	// Unknown hub names from the model are not trusted.
	chain = ChainResolver{&LLMResolver{Model: stubModel{answer: "Atlantis"}, Table: tbl}, tbl}
	hub, ok = chain.Resolve(ctx, "Whitefield")
	require.True(t, ok)
	assert.Equal(t, "Bangalore", hub.City)

	chain = ChainResolver{&LLMResolver{Model: stubModel{err: errors.New("offline")}, Table: tbl}, tbl}
	hub, ok = chain.Resolve(ctx, "Andheri, Mumbai")
	require.True(t, ok)
	assert.Equal(t, "Mumbai", hub.City)

	_, ok = ChainResolver{nil, tbl}.Resolve(ctx, "Kolkata")
	assert.False(t, ok)
}

func TestAlternativesTiering(t *testing.T) {
	idx := Build(testRecords)
	res := Alternatives(context.Background(), idx, DefaultHubTable(), "Zerodol SP", "Indiranagar", 0, 60)

	assert.Equal(t, "Aceclofenac+Paracetamol+Serratiopeptidase", res.GenericName)
	require.NotNil(t, res.Hub)
	assert.Equal(t, "Bangalore", res.Hub.City)
	require.Len(t, res.Alternatives, 4)

	assert.Equal(t, "Zerodol-SP", res.Alternatives[0].Record.BrandName)
	assert.Equal(t, TierHubCity, res.Alternatives[0].Tier)
	assert.Equal(t, "same day", res.Alternatives[0].Availability)
	assert.Equal(t, TierNationwide, res.Alternatives[1].Tier)
	assert.Equal(t, TierOther, res.Alternatives[2].Tier)
	assert.Equal(t, TierOther, res.Alternatives[3].Tier)

	for i := 1; i < len(res.Alternatives); i++ {
		assert.LessOrEqual(t, res.Alternatives[i-1].Tier, res.Alternatives[i].Tier)
	}
}

func TestAlternativesSameStateAndNoMatch(t *testing.T) {
	recs := append([]Record{
		{GenericName: "Paracetamol", BrandName: "Crocin", Strength: "650mg", Region: "Karnataka", City: "Mysore"},
	}, testRecords...)
	idx := Build(recs)
	res := Alternatives(context.Background(), idx, DefaultHubTable(), "Dolo 650", "Whitefield", 0, 60)
	require.Len(t, res.Alternatives, 2)
	assert.Equal(t, TierHubCity, res.Alternatives[0].Tier)
	assert.Equal(t, TierState, res.Alternatives[1].Tier)

	res = Alternatives(context.Background(), idx, nil, "qqqq", "", 0, 60)
	assert.Empty(t, res.Alternatives)
	assert.Empty(t, res.GenericName)
}
