package normalize

import (
	"regexp"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// headerWords mark letterhead and patient metadata lines.
var headerWords = map[string]bool{
	"name": true, "age": true, "date": true, "address": true, "signature": true,
	"rx": true, "dr": true, "doctor": true, "clinic": true, "hospital": true,
	"phone": true, "email": true, "patient": true, "prescription": true,
	"hosp": true, "consultant": true, "mbbs": true, "md": true, "ms": true,
}

var (
	medicineHintRe = regexp.MustCompile(`(?i)\b(tab|tablet|cap|capsule|syp|syrup|susp|inj|injection|vial|oint|drops?|mg|ml|mcg|iu|od|bd|bid|tds|tid|qid|hs|sos|prn|stat|daily|days?|weeks?)\b|\b\d\s*-\s*\d\s*-\s*\d\b|\b\d+\s*(mg|ml|mcg|g)\b|(?:^|\s)x\s*\d+`)
	numericLineRe  = regexp.MustCompile(`^[\d\s/:.\-]+$`)
	listMarkerRe   = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*\x{2022}])\s*`)
	wordRe         = regexp.MustCompile(`[A-Za-z]+`)
)

// ParseLines extracts candidates from plain transcribed prescription text,
// one per line that looks like a medicine entry. Confidence is left for the
// caller to fill.
func ParseLines(text string) []rx.Candidate {
	out := []rx.Candidate{}
	for _, line := range strings.Split(text, "\n") {
		line = CleanText(listMarkerRe.ReplaceAllString(line, ""))
		if isHeaderLine(line) || !medicineHintRe.MatchString(line) {
			continue
		}
		name, strength, dosage, duration := splitName(line)
		if name == "" {
			continue
		}
		out = append(out, rx.Candidate{
			RawText:      line,
			MedicineName: name,
			Strength:     strength,
			Dosage:       DecodeDosage(dosage),
			Duration:     DecodeDuration(duration),
		})
	}
	return out
}

func isHeaderLine(line string) bool {
	if len(line) < 2 || numericLineRe.MatchString(line) {
		return true
	}
	for _, w := range wordRe.FindAllString(line, -1) {
		if headerWords[strings.ToLower(w)] {
			return true
		}
	}
	return false
}
