package normalize

import (
	"testing"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func llmOutput(body string) rx.RawOutput {
	return rx.RawOutput{Provider: "llm", Format: rx.FormatJSON, Body: body, Prior: 0.9}
}

func TestNormalizeShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		names []string
	}{
		{
			name:  "direct list",
			body:  `[{"name":"Dolo 650"},{"medicine_name":"Volini"}]`,
			names: []string{"Dolo 650", "Volini"},
		},
		{
			name:  "medicines container",
			body:  `{"patient":"x","medicines":[{"name":"Augmentin"}]}`,
			names: []string{"Augmentin"},
		},
		{
			name:  "first list-valued field in document order",
			body:  `{"notes":"none","lines":[{"name":"Pan 40"}],"other":[{"name":"nope"}]}`,
			names: []string{"Pan 40"},
		},
		{
			name:  "medicines preferred over earlier list",
			body:  `{"warnings":["blurry"],"medicines":[{"name":"Pan 40"}]}`,
			names: []string{"Pan 40"},
		},
		{
			name:  "fenced json",
			body:  "Here you go:\n```json\n{\"medicines\":[{\"name\":\"Zerodol-SP\"}]}\n```",
			names: []string{"Zerodol-SP"},
		},
		{
			name:  "json inside prose",
			body:  `The prescription lists [{"name":"Volini"}] as written.`,
			names: []string{"Volini"},
		},
		{
			name:  "object without lists",
			body:  `{"name":"Dolo"}`,
			names: []string{},
		},
		{
			name:  "bare strings",
			body:  `["Dolo 650", ""]`,
			names: []string{"Dolo 650"},
		},
		{
			name:  "empty",
			body:  "   ",
			names: []string{},
		},
	}
	n := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(llmOutput(tt.body))
			require.NotNil(t, got)
			names := []string{}
			for _, c := range got {
				names = append(names, c.MedicineName)
				assert.Equal(t, "llm", c.SourceTag)
			}
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestNormalizeMalformedYieldsEmpty(t *testing.T) {
	got := New(nil).Normalize(llmOutput(`{"medicines": [{"name": "Dolo",`))
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = New(nil).Normalize(llmOutput(`I could not read this prescription.`))
	assert.Empty(t, got)
}

func TestNormalizeDefaults(t *testing.T) {
	got := New(nil).Normalize(llmOutput(`[{"strength":"650mg"},{"name":"Volini","confidence":0.4}]`))
	require.Len(t, got, 2)

	assert.Equal(t, rx.UnknownName, got[0].MedicineName)
	assert.InDelta(t, 0.9, got[0].ExtractionConfidence, 1e-9, "missing confidence uses provider prior")
	assert.Equal(t, "650mg", got[0].Strength)

	assert.InDelta(t, 0.4, got[1].ExtractionConfidence, 1e-9)
	assert.Equal(t, "Volini", got[1].RawText, "raw text defaults to the extracted name")
	assert.Nil(t, got[1].StructuringConfidence)
}

func TestNormalizeConfidenceForms(t *testing.T) {
	got := New(nil).Normalize(llmOutput(`[{"name":"A","confidence":"85%"},{"name":"B","score":92},{"name":"C","confidence":"n/a"}]`))
	require.Len(t, got, 3)
	assert.InDelta(t, 0.85, got[0].ExtractionConfidence, 1e-9)
	assert.InDelta(t, 0.92, got[1].ExtractionConfidence, 1e-9)
	assert.InDelta(t, 0.9, got[2].ExtractionConfidence, 1e-9)
}

func TestNormalizeStructuredOutput(t *testing.T) {
	raw := rx.RawOutput{
		Provider:         "tesseract+llm",
		Format:           rx.FormatJSON,
		Body:             `{"medicines":[{"name":"Dolo 650"},{"name":"Volini","confidence":0.6}]}`,
		EngineConfidence: rx.Float(0.7),
		Structured:       true,
		StructuringPrior: 0.8,
	}
	got := New(nil).Normalize(raw)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.7, got[0].ExtractionConfidence, 1e-9)
	require.NotNil(t, got[0].StructuringConfidence)
	assert.InDelta(t, 0.8, *got[0].StructuringConfidence, 1e-9)
	assert.InDelta(t, 0.6, *got[1].StructuringConfidence, 1e-9)
}

func TestNormalizeDecodesShorthand(t *testing.T) {
	got := New(nil).Normalize(llmOutput(`[{"name":"Tab Zerodol-SP x 10","raw_text":"Tab Zerodol-SP x 10","dosage":"BD"}]`))
	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, "Zerodol-SP", c.MedicineName)
	assert.Equal(t, "Tab Zerodol-SP x 10", c.RawText)
	assert.Equal(t, "10 days", c.Duration)
	assert.Equal(t, "twice daily", c.Dosage)
}

func TestNormalizeBBox(t *testing.T) {
	got := New(nil).Normalize(llmOutput(`[{"name":"A","bbox":[0.1,0.2,0.3,0.05]},{"name":"B","bbox":{"x":10,"y":1,"w":1,"h":1}}]`))
	require.Len(t, got, 2)
	require.NotNil(t, got[0].BBox)
	assert.InDelta(t, 0.2, got[0].BBox.Y, 1e-9)
	assert.Nil(t, got[1].BBox, "pixel boxes are dropped")
}

func TestNormalizeTextFormat(t *testing.T) {
	raw := rx.RawOutput{
		Provider:         "tesseract",
		Format:           rx.FormatText,
		Body:             "Dr. A. Rao MBBS\nDate: 12/05/2024\n1. Tab Zerodol-SP x 10\n2) Dolo 650 1-0-1 x 5\nGet well soon",
		EngineConfidence: rx.Float(0.62),
	}
	got := New(nil).Normalize(raw)
	require.Len(t, got, 2)
	assert.Equal(t, "Zerodol-SP", got[0].MedicineName)
	assert.Equal(t, "10 days", got[0].Duration)
	assert.Equal(t, "Dolo 650", got[1].MedicineName)
	assert.Equal(t, "1-0-1 (morning and night)", got[1].Dosage)
	assert.Equal(t, "5 days", got[1].Duration)
	for _, c := range got {
		assert.InDelta(t, 0.62, c.ExtractionConfidence, 1e-9)
		assert.Equal(t, "tesseract", c.SourceTag)
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `[1]`, StripFences("```json\n[1]\n```"))
	assert.Equal(t, `[1]`, StripFences("```\n[1]```"))
	assert.Equal(t, `{"a":1}`, StripFences(`  {"a":1} `))
}
