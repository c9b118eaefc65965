package extract

import "github.com/MeKo-Tech/rxscan/internal/rx"

// Contract is what a provider is asked to return for one image.
type Contract struct {
	Prompt string
	Format rx.Format
}

const structuredPrompt = `You are reading a photographed or scanned medical prescription from India.
Prescriptions may mix English, Hindi and Kannada; transliterate medicine names to English.

Extract every prescribed medicine. For each one return:
- name: the brand or generic name exactly as written. Keep the brand spelling verbatim, do not substitute a similar product.
- strength: e.g. "650mg", "100/325/15mg", empty when absent.
- dosage: decode frequency shorthand. OD once daily, BD or BID twice daily, TDS or TID three times daily,
  QID four times daily, HS at bedtime, SOS or PRN as needed. A pattern such as 1-0-1 means morning and night.
- duration: decode "x10" or "x 10" as "10 days", "x 2 wk" as "2 weeks".
- confidence: your confidence in this line between 0 and 1.
- raw_text: the full line as written.
- bbox: optional {"x","y","w","h"} of the line, normalized to 0..1.

Ignore doctor details, clinic headers, diagnoses, signatures and advice.
Respond with JSON only, no prose:
{"medicines": [{"name": "", "strength": "", "dosage": "", "duration": "", "confidence": 0.0, "raw_text": "", "bbox": null}]}`

const transcribePrompt = `Transcribe all text of this medical prescription line by line, exactly as written.
Do not interpret or correct anything. Output plain text only.`

// structuringTemplate formats transcribed text for the second stage of a
// two-stage extraction.
const structuringTemplate = `The following text was transcribed from a medical prescription:

---
%s
---

%s`

// DefaultContract asks for the structured medicine list.
func DefaultContract() Contract {
	return Contract{Prompt: structuredPrompt, Format: rx.FormatJSON}
}

// TranscriptionContract asks for plain text only.
func TranscriptionContract() Contract {
	return Contract{Prompt: transcribePrompt, Format: rx.FormatText}
}
