package medindex

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"sp", "zerodol"}, Tokens("Zerodol-SP"))
	assert.Equal(t, []string{"500mg", "dolo"}, Tokens("  DOLO, dolo 500mg!"))
	assert.Nil(t, Tokens(" -- "))
}

func TestTokenSetRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"punctuation insensitive", "Zerodol SP", "Zerodol-SP", 100},
		{"reordered", "SP Zerodol", "zerodol sp", 100},
		{"subset scores full", "Zerodol-SP", "Aceclofenac Zerodol-SP 100mg", 100},
		{"empty", "", "Dolo", 0},
		{"disjoint short", "abc", "xyz", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TokenSetRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestTokenSetRatioTypos(t *testing.T) {
	// One substituted character in an eight letter word.
	score := TokenSetRatio("Augmentn", "Augmentin")
	assert.Greater(t, score, 90.0)
	assert.Less(t, score, 100.0)

	assert.Less(t, TokenSetRatio("Veles for", "Volini"), 70.0)
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 100, Ratio("", ""), 1e-9)
	assert.InDelta(t, 100, Ratio("abc", "abc"), 1e-9)
	// lcs("abcd","abed") = 3, indel = 2, total 8.
	assert.InDelta(t, 75, Ratio("abcd", "abed"), 1e-9)
	assert.InDelta(t, 75, Ratio("dolo", "dölo"), 1e-9, "lengths count runes")
	assert.InDelta(t, 0, Ratio("abc", ""), 1e-9)
}

func TestTokenSetRatioProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	word := gen.RegexMatch("[a-z]{1,8}")
	words := gen.SliceOfN(3, word)

	properties.Property("bounded and symmetric", prop.ForAll(
		func(a, b []string) bool {
			sa, sb := strings.Join(a, " "), strings.Join(b, " ")
			x, y := TokenSetRatio(sa, sb), TokenSetRatio(sb, sa)
			return x >= 0 && x <= 100 && x == y
		},
		words, words,
	))

	properties.Property("word order does not matter", prop.ForAll(
		func(a []string) bool {
			rev := make([]string, len(a))
			for i, w := range a {
				rev[len(a)-1-i] = w
			}
			return TokenSetRatio(strings.Join(a, " "), strings.Join(rev, "-")) == 100
		},
		words,
	))

	properties.TestingRun(t)
}
