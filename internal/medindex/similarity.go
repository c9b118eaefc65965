package medindex

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"
)

// Tokens lowercases s, turns every non letter/digit rune into a separator and
// returns the sorted unique tokens.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	out := fields[:1]
	for _, f := range fields[1:] {
		if f != out[len(out)-1] {
			out = append(out, f)
		}
	}
	return out
}

// TokenSetRatio scores two strings in [0,100] by comparing their token sets.
// Word order, duplicated words and punctuation do not affect the score, so
// "Zerodol SP" and "Zerodol-SP" are identical and a query whose tokens are all
// contained in the other string scores 100.
func TokenSetRatio(a, b string) float64 {
	return tokenSetRatio(Tokens(a), Tokens(b))
}

func tokenSetRatio(ta, tb []string) float64 {
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var sect, onlyA, onlyB []string
	i, j := 0, 0
	for i < len(ta) && j < len(tb) {
		switch {
		case ta[i] == tb[j]:
			sect = append(sect, ta[i])
			i++
			j++
		case ta[i] < tb[j]:
			onlyA = append(onlyA, ta[i])
			i++
		default:
			onlyB = append(onlyB, tb[j])
			j++
		}
	}
	onlyA = append(onlyA, ta[i:]...)
	onlyB = append(onlyB, tb[j:]...)

	if len(sect) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	s := strings.Join(sect, " ")
	a := joinAfter(s, onlyA)
	b := joinAfter(s, onlyB)

	best := Ratio(a, b)
	if s != "" {
		best = max(best, Ratio(s, a), Ratio(s, b))
	}
	return best
}

func joinAfter(prefix string, tokens []string) string {
	rest := strings.Join(tokens, " ")
	if prefix == "" {
		return rest
	}
	return prefix + " " + rest
}

// Ratio is the normalized indel similarity of two strings in [0,100]:
// 100 * (1 - (insertions+deletions) / (len(a)+len(b))), lengths in runes.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	indel := edlib.LCSEditDistance(a, b)
	return 100 * (1 - float64(indel)/float64(total))
}
