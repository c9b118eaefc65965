package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// correctionsCmd inspects the reviewer correction log.
var correctionsCmd = &cobra.Command{
	Use:   "corrections",
	Short: "Inspect the reviewer correction log",
}

var correctionsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Show the most frequent corrections",
	Long: `Show the most frequent (recognized, corrected) name pairs in the correction
log. Pairs confirmed by enough distinct reviewers are applied to new uploads.

Examples:
  rxscan corrections top
  rxscan corrections top --limit 50 --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		return withApp(func(a *app) error {
			st, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := st.CommonCorrections(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format == outputFormatJSON {
				return writeJSON(out, counts)
			}
			if len(counts) == 0 {
				_, err := fmt.Fprintln(out, "No corrections logged.")
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "COUNT\tRECOGNIZED\tCORRECTED")
			for _, c := range counts {
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", c.Count, c.OriginalText, c.CorrectedText)
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(correctionsCmd)
	correctionsCmd.AddCommand(correctionsTopCmd)
	correctionsTopCmd.Flags().Int("limit", 20, "number of pairs to show")
	correctionsTopCmd.Flags().StringP("format", "f", outputFormatText, "output format: text, json")
}
