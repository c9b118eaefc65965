package testutil

// MedicinesCSV is a small reference list in the CSV layout the medicine
// index loads.
const MedicinesCSV = `generic_name,brand_name,strength,region,city
Aceclofenac+Paracetamol+Serratiopeptidase,Zerodol-SP,100/325/15mg,Karnataka,Bangalore
Aceclofenac+Paracetamol+Serratiopeptidase,Hifenac-SP,100/325/15mg,Maharashtra,Mumbai
Aceclofenac+Paracetamol+Serratiopeptidase,Acenac-SP,100/325/15mg,All India,
Paracetamol,Dolo 650,650mg,Karnataka,Bangalore
Paracetamol,Calpol,500mg,All India,
Diclofenac Gel,Volini,30g,All India,
Amoxicillin+Clavulanate,Augmentin,625mg,Maharashtra,Mumbai
Pantoprazole,Pan 40,40mg,Tamil Nadu,Chennai
`

// Provider payloads as recognition services return them.
const (
	// ProviderJSON is a fenced object keyed by "medicines".
	ProviderJSON = "```json\n" + `{"medicines": [
  {"name": "Zerodol-SP", "strength": "", "dosage": "BD", "duration": "x 10", "confidence": 0.9, "raw_text": "Tab Zerodol-SP x 10"},
  {"name": "Veles for", "dosage": "1-0-1", "raw_text": "Veles for"}
]}` + "\n```"

	// ProviderList is a bare list without confidences.
	ProviderList = `[{"medicine_name": "Dolo 650", "frequency": "TDS", "raw_text": "Dolo 650 TDS x5"}]`

	// ProviderMalformed cannot be parsed as structured content.
	ProviderMalformed = `{"medicines": [{"name": "Zerodol-SP", "strength": }`

	// ProviderLines is plain OCR text, one medicine per line.
	ProviderLines = "Dr. R. Rao MBBS\nRx\n1. Tab Zerodol-SP BD x 10\n2. Cap Augmentin 625mg TDS x5\nSignature"
)
