// Package normalize coerces heterogeneous provider output into canonical
// medicine candidates and decodes prescription shorthand.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// DefaultPrior is used when neither the item nor the output carries a
// confidence and the provider did not declare a prior.
const DefaultPrior = 0.85

// preferred container keys, tried before any other list-valued field.
var containerKeys = []string{"medicines", "medications", "drugs", "items", "prescriptions"}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// Normalizer maps raw provider output to candidates.
type Normalizer struct {
	Logger *slog.Logger
}

// New returns a normalizer logging to logger (slog.Default when nil).
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{Logger: logger}
}

// Normalize never fails: malformed content yields an empty list and a logged
// ParseError, so the request degrades to "no medicines found".
func (n *Normalizer) Normalize(raw rx.RawOutput) []rx.Candidate {
	var (
		cands []rx.Candidate
		err   error
	)
	switch raw.Format {
	case rx.FormatText:
		cands = ParseLines(raw.Body)
		for i := range cands {
			cands[i].ExtractionConfidence = extractionPrior(raw)
		}
	default:
		cands, err = decodeJSON(raw)
	}
	if err != nil {
		n.logger().Warn("provider output not parseable, continuing with no medicines",
			"provider", raw.Provider, "error", err)
		return []rx.Candidate{}
	}
	for i := range cands {
		cands[i].SourceTag = raw.Provider
	}
	return cands
}

func (n *Normalizer) logger() *slog.Logger {
	if n == nil || n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// StripFences returns the content of the first fenced block, or s trimmed
// when there is none.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.Trim(s, "`")
}

func decodeJSON(raw rx.RawOutput) ([]rx.Candidate, error) {
	body := StripFences(raw.Body)
	if body == "" {
		return []rx.Candidate{}, nil
	}
	items, err := itemsOf([]byte(body))
	if err != nil {
		// Providers sometimes wrap the JSON in prose.
		inner, ok := embeddedJSON(body)
		if !ok {
			return nil, &rx.ParseError{Snippet: snippet(body), Err: err}
		}
		if items, err = itemsOf([]byte(inner)); err != nil {
			return nil, &rx.ParseError{Snippet: snippet(body), Err: err}
		}
	}
	out := make([]rx.Candidate, 0, len(items))
	for _, it := range items {
		if c, ok := candidateFrom(it, raw); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// itemsOf applies the decode fallback order: a direct list, then the first
// list-valued field of an object, then nothing.
func itemsOf(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	switch data[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		fields, err := orderedFields(data)
		if err != nil {
			return nil, err
		}
		for _, key := range containerKeys {
			for _, f := range fields {
				if strings.EqualFold(f.key, key) && isList(f.value) {
					return decodeList(f.value)
				}
			}
		}
		for _, f := range fields {
			if isList(f.value) {
				return decodeList(f.value)
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected leading %q", data[0])
	}
}

type field struct {
	key   string
	value json.RawMessage
}

// orderedFields decodes a JSON object keeping document key order.
func orderedFields(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, field{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func isList(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

func decodeList(v json.RawMessage) ([]json.RawMessage, error) {
	var list []json.RawMessage
	err := json.Unmarshal(v, &list)
	return list, err
}

func embeddedJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", false
	}
	closer := "]"
	if s[start] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func snippet(s string) string {
	const maxLen = 80
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// candidateFrom reads one list item. Bare strings are accepted as names.
func candidateFrom(item json.RawMessage, raw rx.RawOutput) (rx.Candidate, bool) {
	var text string
	if err := json.Unmarshal(item, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return rx.Candidate{}, false
		}
		return build(map[string]any{"name": text}, raw), true
	}
	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
		return rx.Candidate{}, false
	}
	return build(obj, raw), true
}

func build(obj map[string]any, raw rx.RawOutput) rx.Candidate {
	name := stringField(obj, "name", "medicine_name", "medicine", "drug", "brand_name")
	rawText := stringField(obj, "raw_text", "original_text", "text")
	if rawText == "" {
		rawText = name
	}

	c := rx.Candidate{RawText: CleanText(rawText)}
	cleanName, strength, dosage, duration := splitName(name)
	if strings.TrimSpace(name) == "" {
		cleanName = rx.UnknownName
	}
	c.MedicineName = cleanName

	c.Strength = CleanText(stringField(obj, "strength", "dose_strength"))
	if c.Strength == "" {
		c.Strength = strength
	}
	dos := stringField(obj, "dosage", "frequency", "dose")
	if dos == "" {
		dos = dosage
	}
	c.Dosage = DecodeDosage(dos)
	dur := stringField(obj, "duration", "days")
	if dur == "" {
		dur = duration
	}
	c.Duration = DecodeDuration(dur)

	conf, hasConf := floatField(obj, "confidence", "score")
	if raw.Structured {
		c.ExtractionConfidence = extractionPrior(raw)
		s := raw.StructuringPrior
		if s <= 0 {
			s = DefaultPrior
		}
		if hasConf {
			s = conf
		}
		c.StructuringConfidence = rx.Float(s)
	} else if hasConf {
		c.ExtractionConfidence = conf
	} else {
		c.ExtractionConfidence = extractionPrior(raw)
	}
	c.BBox = bboxField(obj["bbox"])
	return c
}

func extractionPrior(raw rx.RawOutput) float64 {
	if raw.EngineConfidence != nil {
		return clamp01(*raw.EngineConfidence)
	}
	if raw.Prior > 0 {
		return clamp01(raw.Prior)
	}
	return DefaultPrior
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// floatField reads a confidence given as a number or numeric string;
// percentages are scaled into [0,1].
func floatField(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		var f float64
		switch v := obj[k].(type) {
		case float64:
			f = v
		case string:
			p, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
			if err != nil {
				continue
			}
			f = p
		default:
			continue
		}
		if f > 1 {
			f /= 100
		}
		return clamp01(f), true
	}
	return 0, false
}

func bboxField(v any) *rx.BBox {
	var vals []float64
	switch b := v.(type) {
	case []any:
		for _, x := range b {
			f, ok := x.(float64)
			if !ok {
				return nil
			}
			vals = append(vals, f)
		}
	case map[string]any:
		for _, k := range []string{"x", "y", "w", "h"} {
			f, ok := b[k].(float64)
			if !ok {
				return nil
			}
			vals = append(vals, f)
		}
	default:
		return nil
	}
	if len(vals) != 4 {
		return nil
	}
	for _, f := range vals {
		if f < 0 || f > 1 {
			return nil
		}
	}
	return &rx.BBox{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
