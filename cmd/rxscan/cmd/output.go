package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/MeKo-Tech/rxscan/internal/rx"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

func validateFormat(format string) error {
	switch format {
	case outputFormatJSON, outputFormatText:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (must be json or text)", format)
	}
}

// openOutput returns the file to write to, or w when path is empty.
func openOutput(w io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec // G304: output path is user-provided
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func optPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return percent(*v)
}

// writePrescription prints a prescription for a human reader.
func writePrescription(w io.Writer, p *rx.Prescription) error {
	status := string(p.Status)
	if p.ReviewRequired && p.Status == rx.StatusPending {
		status += " (review required)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "ID:         %s\n", p.ID)
	fmt.Fprintf(&b, "Status:     %s\n", status)
	fmt.Fprintf(&b, "Outcome:    %s\n", p.Outcome)
	fmt.Fprintf(&b, "Confidence: %s\n", percent(p.Confidence))
	fmt.Fprintf(&b, "Created:    %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	if p.Provider != "" {
		fmt.Fprintf(&b, "Provider:   %s\n", p.Provider)
	}
	if p.Region != "" {
		fmt.Fprintf(&b, "Region:     %s\n", p.Region)
	}
	if p.ImageReference != "" {
		fmt.Fprintf(&b, "Image:      %s\n", p.ImageReference)
	}
	if q := p.Quality; q != nil {
		fmt.Fprintf(&b, "Quality:    %s (%dx%d", q.QualityScore, q.OriginalWidth, q.OriginalHeight)
		if q.HandwritingMode {
			b.WriteString(", handwriting")
		}
		if q.DeskewApplied {
			fmt.Fprintf(&b, ", deskewed %.1f°", q.SkewAngle)
		}
		b.WriteString(")\n")
		for _, warn := range q.Warnings {
			fmt.Fprintf(&b, "  warning: %s\n", warn)
		}
	}
	switch p.Status {
	case rx.StatusApproved:
		fmt.Fprintf(&b, "Approved:   by %s", p.ApprovedBy)
		if p.ApprovalTimestamp != nil {
			fmt.Fprintf(&b, " at %s", p.ApprovalTimestamp.Format("2006-01-02 15:04:05"))
		}
		b.WriteString("\n")
	case rx.StatusRejected:
		fmt.Fprintf(&b, "Rejected:   by %s: %s\n", p.RejectedBy, p.RejectionReason)
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	if len(p.Medicines) == 0 {
		_, err := fmt.Fprintln(w, "Medicines:  none")
		return err
	}
	if _, err := fmt.Fprintln(w, "Medicines:"); err != nil {
		return err
	}
	return writeMedicines(w, p.Medicines)
}

func writeMedicines(w io.Writer, meds []rx.Candidate) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  #\tNAME\tSTRENGTH\tDOSAGE\tDURATION\tEXTRACT\tMATCH\tFUSED\tSOURCE")
	for i, m := range meds {
		source := m.MatchSource
		if source == "" {
			source = "-"
		}
		if m.Reviewed {
			source += ", reviewed"
		}
		_, _ = fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, m.MedicineName, dash(m.Strength), dash(m.Dosage), dash(m.Duration),
			percent(m.ExtractionConfidence), optPercent(m.MatchConfidence), percent(m.FusedConfidence), source)
	}
	return tw.Flush()
}

// writePrescriptionList prints one line per prescription.
func writePrescriptionList(w io.Writer, ps []*rx.Prescription) error {
	if len(ps) == 0 {
		_, err := fmt.Fprintln(w, "No prescriptions found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tREVIEW\tOUTCOME\tMEDICINES\tCONFIDENCE")
	for _, p := range ps {
		review := "no"
		if p.ReviewRequired {
			review = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			p.ID, p.CreatedAt.Format("2006-01-02 15:04"), p.Status, review, p.Outcome,
			len(p.Medicines), percent(p.Confidence))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
