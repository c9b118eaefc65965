package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// typographic replacements applied to recognized names; OCR and LLM output
// mixes dash and quote variants that would otherwise split tokens oddly.
var replaceMap = map[string]string{
	"\u2018": "'",
	"\u2019": "'",
	"\u201C": "\"",
	"\u201D": "\"",
	"\u2010": "-",
	"\u2011": "-",
	"\u2013": "-",
	"\u2014": "-",
	"\u00A0": " ",
	"\u2009": " ",
	"\u00D7": "x",
}

var replaceKeys = func() []string {
	keys := make([]string, 0, len(replaceMap))
	for k := range replaceMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

var wsRe = regexp.MustCompile(`\s+`)

// CleanText applies NFC normalization, strips zero-width and control
// characters, folds typographic punctuation and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF':
			continue
		case '\n', '\r', '\t':
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()
	for _, k := range replaceKeys {
		s = strings.ReplaceAll(s, k, replaceMap[k])
	}
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
