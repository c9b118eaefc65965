package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// frequencyCodes maps prescription frequency abbreviations to plain text.
var frequencyCodes = map[string]string{
	"od":   "once daily",
	"qd":   "once daily",
	"bd":   "twice daily",
	"bid":  "twice daily",
	"tds":  "three times daily",
	"tid":  "three times daily",
	"qid":  "four times daily",
	"qds":  "four times daily",
	"hs":   "at bedtime",
	"sos":  "as needed",
	"prn":  "as needed",
	"stat": "immediately",
}

var (
	dosePatternRe  = regexp.MustCompile(`\b(\d)\s*-\s*(\d)\s*-\s*(\d)(?:\s*-\s*(\d))?\b`)
	durationXRe    = regexp.MustCompile(`(?i)(?:^|\s)[x*]\s*(\d+)\s*(d|days?)?\b`)
	durationUnitRe = regexp.MustCompile(`(?i)\b(?:for\s+)?(\d+)\s*(d|days?|w|wks?|weeks?|m|months?)\b`)
	formPrefixRe   = regexp.MustCompile(`(?i)^(?:tab|tabs|tablet|cap|caps|capsule|inj|syp|syr|susp|oint)\b\.?\s*`)
	strengthRe     = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?(?:/\d+(?:\.\d+)?)*\s*(?:(?:mg|ml|mcg|g|iu)\b|%)(?:/\d*\s*(?:ml|g)\b)?`)
	freqTokenRe    = regexp.MustCompile(`(?i)\b(od|qd|bd|bid|tds|tid|qid|qds|hs|sos|prn|stat)\b`)
)

var doseSlots3 = []string{"morning", "afternoon", "night"}
var doseSlots4 = []string{"morning", "afternoon", "evening", "night"}

// DecodeDosage expands frequency codes and dose patterns. Text that is
// already plain (e.g. "twice daily") is returned cleaned but unchanged.
func DecodeDosage(s string) string {
	s = CleanText(s)
	if s == "" {
		return s
	}
	if m := dosePatternRe.FindStringSubmatch(s); m != nil {
		if decoded := decodePattern(m[1:]); decoded != "" {
			return decoded
		}
	}
	var parts []string
	seen := map[string]bool{}
	for _, tok := range freqTokenRe.FindAllString(s, -1) {
		plain := frequencyCodes[strings.ToLower(tok)]
		if !seen[plain] {
			seen[plain] = true
			parts = append(parts, plain)
		}
	}
	if len(parts) > 0 && isOnlyCodes(s) {
		return strings.Join(parts, ", ")
	}
	return freqTokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		return frequencyCodes[strings.ToLower(tok)]
	})
}

func isOnlyCodes(s string) bool {
	rest := freqTokenRe.ReplaceAllString(s, "")
	return strings.Trim(rest, " ,;/+&-") == "" || strings.EqualFold(strings.TrimSpace(rest), "and")
}

// decodePattern turns "1-0-1" into "1-0-1 (morning and night)".
func decodePattern(groups []string) string {
	var counts []string
	for _, g := range groups {
		if g != "" {
			counts = append(counts, g)
		}
	}
	slots := doseSlots3
	if len(counts) == 4 {
		slots = doseSlots4
	}
	var taken []string
	for i, c := range counts {
		if c == "0" {
			continue
		}
		if c == "1" {
			taken = append(taken, slots[i])
		} else {
			taken = append(taken, c+" "+slots[i])
		}
	}
	if len(taken) == 0 {
		return ""
	}
	return fmt.Sprintf("%s (%s)", strings.Join(counts, "-"), joinAnd(taken))
}

func joinAnd(items []string) string {
	if len(items) == 1 {
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

// DecodeDuration expands "x10", "x 10", "10d", "for 5 days" and "2 wks"
// into "10 days", "5 days" or "2 weeks". Unrecognized text is returned cleaned.
func DecodeDuration(s string) string {
	s = CleanText(s)
	if s == "" {
		return s
	}
	if n, unit, ok := findDuration(s); ok {
		return formatDuration(n, unit)
	}
	return s
}

func findDuration(s string) (int, string, bool) {
	if m := durationXRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, "d", true
		}
	}
	if m := durationUnitRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, strings.ToLower(m[2][:1]), true
		}
	}
	return 0, "", false
}

func formatDuration(n int, unit string) string {
	word := "day"
	switch unit {
	case "w":
		word = "week"
	case "m":
		word = "month"
	}
	if n != 1 {
		word += "s"
	}
	return fmt.Sprintf("%d %s", n, word)
}

// splitName peels form prefixes and trailing shorthand off a recognized name:
// "Tab Zerodol-SP 100mg BD x 10" yields name "Zerodol-SP", strength "100mg",
// dosage "BD" and duration "x 10".
func splitName(raw string) (name, strength, dosage, duration string) {
	s := CleanText(raw)
	s = formPrefixRe.ReplaceAllString(s, "")

	if loc := durationXRe.FindStringIndex(s); loc != nil {
		duration = strings.TrimSpace(s[loc[0]:loc[1]])
		s = s[:loc[0]] + s[loc[1]:]
	}
	if loc := dosePatternRe.FindStringIndex(s); loc != nil {
		dosage = strings.TrimSpace(s[loc[0]:loc[1]])
		s = s[:loc[0]] + s[loc[1]:]
	}
	if codes := freqTokenRe.FindAllString(s, -1); len(codes) > 0 {
		if dosage == "" {
			dosage = strings.Join(codes, " ")
		}
		s = freqTokenRe.ReplaceAllString(s, "")
	}
	if loc := strengthRe.FindStringIndex(s); loc != nil {
		strength = strings.TrimSpace(s[loc[0]:loc[1]])
		s = s[:loc[0]] + s[loc[1]:]
	}
	name = strings.Trim(CleanText(s), " ,;:-")
	if len(name) < 2 {
		name = CleanText(raw)
	}
	return name, strength, dosage, duration
}
