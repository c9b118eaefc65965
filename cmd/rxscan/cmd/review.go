package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/spf13/cobra"
)

// reviewCmd groups the pharmacist workflow.
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List, inspect, approve and reject stored prescriptions",
	Long: `Work the pharmacist review queue.

Approving with edits logs each changed medicine name to the correction log;
once enough reviewers agree on a correction it is applied to later uploads
automatically.

Examples:
  rxscan review list --review-required
  rxscan review show 0b6f...
  rxscan review approve 0b6f... --reviewer pharm-1 --rename 2=Volini
  rxscan review approve 0b6f... --reviewer pharm-1 --edits medicines.json
  rxscan review reject 0b6f... --reviewer pharm-1 --reason "illegible"
  rxscan review auto 0b6f...`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored prescriptions, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		f := rx.Filter{Status: rx.Status(status), Limit: limit}
		if cmd.Flags().Changed("review-required") {
			v, _ := cmd.Flags().GetBool("review-required")
			f.ReviewRequired = &v
		}
		switch f.Status {
		case "", rx.StatusPending, rx.StatusApproved, rx.StatusRejected:
		default:
			return fmt.Errorf("invalid status %q (must be pending, approved or rejected)", status)
		}

		return withApp(func(a *app) error {
			st, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			ps, err := st.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if format == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), ps)
			}
			return writePrescriptionList(cmd.OutOrStdout(), ps)
		})
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one prescription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(func(a *app) error {
			st, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			p, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeResult(cmd, format, p)
		})
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending prescription, optionally with edited medicines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, _ := cmd.Flags().GetString("reviewer")
		editsPath, _ := cmd.Flags().GetString("edits")
		renames, _ := cmd.Flags().GetStringArray("rename")
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		if editsPath != "" && len(renames) > 0 {
			return fmt.Errorf("--edits and --rename cannot be combined")
		}
		ctx := cmd.Context()

		return withApp(func(a *app) error {
			svc, err := a.Approval(ctx)
			if err != nil {
				return err
			}

			var edited []rx.Candidate
			switch {
			case editsPath != "":
				if edited, err = readEdits(editsPath); err != nil {
					return err
				}
			case len(renames) > 0:
				st, err := a.Store(ctx)
				if err != nil {
					return err
				}
				current, err := st.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if edited, err = applyRenames(current.Medicines, renames); err != nil {
					return err
				}
			}

			res, err := svc.Approve(ctx, args[0], edited, reviewer)
			if err != nil {
				return err
			}
			for _, c := range res.Corrections {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "logged correction %q -> %q\n", c.OriginalText, c.CorrectedText)
			}
			return writeResult(cmd, format, res.Prescription)
		})
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending prescription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, _ := cmd.Flags().GetString("reviewer")
		reason, _ := cmd.Flags().GetString("reason")
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(func(a *app) error {
			svc, err := a.Approval(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.Reject(cmd.Context(), args[0], reason, reviewer)
			if err != nil {
				return err
			}
			return writeResult(cmd, format, p)
		})
	},
}

var reviewAutoCmd = &cobra.Command{
	Use:   "auto <id>",
	Short: "Approve a pending prescription as the system if it needs no review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(func(a *app) error {
			svc, err := a.Approval(cmd.Context())
			if err != nil {
				return err
			}
			p, err := svc.AutoAdmit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeResult(cmd, format, p)
		})
	},
}

func writeResult(cmd *cobra.Command, format string, p *rx.Prescription) error {
	if format == outputFormatJSON {
		return writeJSON(cmd.OutOrStdout(), p)
	}
	return writePrescription(cmd.OutOrStdout(), p)
}

// readEdits reads a JSON list of medicines, or a prescription whose
// medicines field is used.
func readEdits(path string) ([]rx.Candidate, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided edits file is expected
	if err != nil {
		return nil, fmt.Errorf("read edits: %w", err)
	}
	var list []rx.Candidate
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var p rx.Prescription
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse edits %s: %w", path, err)
	}
	if p.Medicines == nil {
		p.Medicines = []rx.Candidate{}
	}
	return p.Medicines, nil
}

// applyRenames applies "N=name" edits (1-based) to a copy of meds.
func applyRenames(meds []rx.Candidate, renames []string) ([]rx.Candidate, error) {
	edited := rx.CloneCandidates(meds)
	for _, r := range renames {
		pos, name, ok := strings.Cut(r, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid rename %q (want N=name)", r)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pos))
		if err != nil || n < 1 || n > len(edited) {
			return nil, fmt.Errorf("invalid rename %q: medicine %s does not exist", r, pos)
		}
		edited[n-1].MedicineName = name
	}
	return edited, nil
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewApproveCmd, reviewRejectCmd, reviewAutoCmd)

	for _, c := range []*cobra.Command{reviewListCmd, reviewShowCmd, reviewApproveCmd, reviewRejectCmd, reviewAutoCmd} {
		c.Flags().StringP("format", "f", outputFormatText, "output format: text, json")
	}

	reviewListCmd.Flags().String("status", "", "filter by status: pending, approved, rejected")
	reviewListCmd.Flags().Bool("review-required", false, "only prescriptions that (do not) need review")
	reviewListCmd.Flags().Int("limit", 0, "maximum number of prescriptions (0 = all)")

	reviewApproveCmd.Flags().String("reviewer", "", "pharmacist approving the prescription")
	reviewApproveCmd.Flags().String("edits", "", "JSON file with the corrected medicine list")
	reviewApproveCmd.Flags().StringArray("rename", nil, "rename medicine N, e.g. --rename 2=Volini (repeatable)")
	_ = reviewApproveCmd.MarkFlagRequired("reviewer")

	reviewRejectCmd.Flags().String("reviewer", "", "pharmacist rejecting the prescription")
	reviewRejectCmd.Flags().String("reason", "", "reason for the rejection")
	_ = reviewRejectCmd.MarkFlagRequired("reviewer")
}
