// Package rx holds the domain records shared by every pipeline stage: medicine
// candidates, prescriptions, correction log entries and the error taxonomy.
package rx

import (
	"strings"
	"time"
)

// Status is the approval state of a prescription.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Outcome summarizes how a pipeline run ended for the reviewer.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeNoMedicinesFound Outcome = "no_medicines_found"
	OutcomeExtractionFailed Outcome = "extraction_failed"
)

// UnknownName is the medicine name of items recognized without a name.
const UnknownName = "Unknown"

// Match sources recorded on corrected candidates.
const (
	MatchSourceHistorical = "historical"
	MatchSourceIndex      = "index"
)

// BBox is a candidate location normalized to the image size (0..1).
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Candidate is one recognized medicine line. It is mutated in place by the
// normalize, correct and fusion stages and frozen once attached to a
// Prescription.
type Candidate struct {
	RawText      string `json:"raw_text"`
	MedicineName string `json:"medicine_name"`
	Strength     string `json:"strength"`
	Dosage       string `json:"dosage"`
	Duration     string `json:"duration"`

	ExtractionConfidence  float64  `json:"extraction_confidence"`
	StructuringConfidence *float64 `json:"structuring_confidence,omitempty"`
	MatchConfidence       *float64 `json:"match_confidence,omitempty"`
	FusedConfidence       float64  `json:"fused_confidence"`

	SourceTag      string  `json:"source_tag"`
	Corrected      bool    `json:"corrected"`
	Matched        bool    `json:"matched"`
	MatchSource    string  `json:"match_source,omitempty"`
	BestMatchScore float64 `json:"best_match_score,omitempty"`
	Reviewed       bool    `json:"reviewed"`
	BBox           *BBox   `json:"bbox,omitempty"`
}

// HistoryKey is the text under which corrections for this candidate are logged
// and looked up: the whitespace-normalized raw text, or the medicine name when
// the provider returned no raw text. A nameless item without raw text has no
// key, so unrelated unreadable lines never share corrections.
func (c *Candidate) HistoryKey() string {
	if k := NormalizeKey(c.RawText); k != "" {
		return k
	}
	if k := NormalizeKey(c.MedicineName); k != UnknownName {
		return k
	}
	return ""
}

// NormalizeKey collapses runs of whitespace and trims the result.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Float returns a pointer to v, for the optional confidence fields.
func Float(v float64) *float64 {
	return &v
}

// QualityReport is the advisory image quality annotation.
type QualityReport struct {
	OriginalWidth   int      `json:"original_width"`
	OriginalHeight  int      `json:"original_height"`
	BlurVariance    float64  `json:"blur_variance"`
	ContrastStd     float64  `json:"contrast_std"`
	QualityScore    string   `json:"quality_score"`
	Warnings        []string `json:"warnings,omitempty"`
	HandwritingMode bool     `json:"handwriting_mode"`
	SkewAngle       float64  `json:"skew_angle"`
	DeskewApplied   bool     `json:"deskew_applied"`
}

// Prescription is the persisted record a reviewer resolves.
type Prescription struct {
	ID                string      `json:"id"`
	ImageReference    string      `json:"image_reference"`
	Medicines         []Candidate `json:"medicines"`
	Status            Status      `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	ApprovedBy        string      `json:"approved_by,omitempty"`
	RejectedBy        string      `json:"rejected_by,omitempty"`
	ApprovalTimestamp *time.Time  `json:"approval_timestamp,omitempty"`
	RejectionReason   string      `json:"rejection_reason,omitempty"`

	ReviewRequired bool           `json:"review_required"`
	Confidence     float64        `json:"confidence"`
	Outcome        Outcome        `json:"outcome"`
	Quality        *QualityReport `json:"quality,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	Region         string         `json:"region,omitempty"`
	Locality       string         `json:"locality,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result without touching
// stored state.
func (p *Prescription) Clone() *Prescription {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Medicines = CloneCandidates(p.Medicines)
	if p.ApprovalTimestamp != nil {
		ts := *p.ApprovalTimestamp
		cp.ApprovalTimestamp = &ts
	}
	if p.Quality != nil {
		q := *p.Quality
		q.Warnings = append([]string(nil), p.Quality.Warnings...)
		cp.Quality = &q
	}
	return &cp
}

// CloneCandidates deep-copies a candidate slice including the optional pointers.
func CloneCandidates(in []Candidate) []Candidate {
	if in == nil {
		return nil
	}
	out := make([]Candidate, len(in))
	for i, c := range in {
		if c.StructuringConfidence != nil {
			c.StructuringConfidence = Float(*c.StructuringConfidence)
		}
		if c.MatchConfidence != nil {
			c.MatchConfidence = Float(*c.MatchConfidence)
		}
		if c.BBox != nil {
			b := *c.BBox
			c.BBox = &b
		}
		out[i] = c
	}
	return out
}

// MeanConfidence averages the fused confidence over all medicines (0 when empty).
func (p *Prescription) MeanConfidence() float64 {
	if len(p.Medicines) == 0 {
		return 0
	}
	var sum float64
	for _, m := range p.Medicines {
		sum += m.FusedConfidence
	}
	return sum / float64(len(p.Medicines))
}

// CorrectionEntry is one append-only record of a reviewer changing a
// medicine name proposed by the pipeline.
type CorrectionEntry struct {
	PrescriptionID string    `json:"prescription_id" db:"prescription_id"`
	Field          string    `json:"field" db:"field"`
	OriginalText   string    `json:"original_text" db:"original_text"`
	CorrectedText  string    `json:"corrected_text" db:"corrected_text"`
	ReviewerID     string    `json:"reviewer_id" db:"reviewer_id"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
}

// CorrectionCount aggregates the correction log by (original, corrected) pair.
type CorrectionCount struct {
	OriginalText  string `json:"original_text" db:"original_text"`
	CorrectedText string `json:"corrected_text" db:"corrected_text"`
	Count         int    `json:"count" db:"count"`
}

// Filter selects prescriptions from a store. Zero fields match everything.
type Filter struct {
	Status         Status
	ReviewRequired *bool
	Limit          int
}

// Match reports whether p satisfies the filter (Limit is applied by the store).
func (f Filter) Match(p *Prescription) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.ReviewRequired != nil && p.ReviewRequired != *f.ReviewRequired {
		return false
	}
	return true
}
