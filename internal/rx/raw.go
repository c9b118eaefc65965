package rx

// Format tells the normalizer how to read a provider body.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// RawOutput is an unparsed provider answer for one image.
type RawOutput struct {
	Provider string `json:"provider"`
	Format   Format `json:"format"`
	Body     string `json:"body"`
	// Prior is the confidence assumed for items the provider gave none for.
	Prior float64 `json:"prior"`
	// EngineConfidence is an overall recognition confidence reported by the
	// engine itself, e.g. mean word confidence from an OCR engine.
	EngineConfidence *float64 `json:"engine_confidence,omitempty"`
	// Structured is set when Body came from a separate structuring call over
	// transcribed text; item confidences are then structuring confidences.
	Structured       bool    `json:"structured"`
	StructuringPrior float64 `json:"structuring_prior,omitempty"`
}
