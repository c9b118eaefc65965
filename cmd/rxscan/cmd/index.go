package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/MeKo-Tech/rxscan/internal/medindex"
	"github.com/spf13/cobra"
)

// indexCmd queries the medicine reference index.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Query the medicine reference index",
	Long: `Query the medicine reference index that recognized names are matched against.

Examples:
  rxscan index lookup "zerodol sp"
  rxscan index lookup paracetamol --region Karnataka --top 10
  rxscan index alternatives "Dolo 650" --locality "Koramangala, Bengaluru"`,
}

var indexLookupCmd = &cobra.Command{
	Use:   "lookup <name>",
	Short: "Fuzzy-match a medicine name against the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		name := strings.Join(args, " ")
		return withApp(func(a *app) error {
			topN, minScore := indexLimits(a, cmd)
			region := a.cfg.Pipeline.Region
			if cmd.Flags().Changed("region") {
				region, _ = cmd.Flags().GetString("region")
			}
			idx, err := a.Index(cmd.Context())
			if err != nil {
				return err
			}
			matches := idx.Lookup(name, region, topN, minScore)
			if format == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), matches)
			}
			return writeMatches(cmd.OutOrStdout(), name, matches)
		})
	},
}

var indexAlternativesCmd = &cobra.Command{
	Use:   "alternatives <name>",
	Short: "Find brands with the same generic, nearest stock first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := validateFormat(format); err != nil {
			return err
		}
		name := strings.Join(args, " ")
		locality, _ := cmd.Flags().GetString("locality")
		return withApp(func(a *app) error {
			topN, minScore := indexLimits(a, cmd)
			idx, err := a.Index(cmd.Context())
			if err != nil {
				return err
			}
			hubs, err := a.Hubs()
			if err != nil {
				return err
			}
			res := medindex.Alternatives(cmd.Context(), idx.Current(), hubs, name, locality, topN, minScore)
			if format == outputFormatJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeAlternatives(cmd.OutOrStdout(), res)
		})
	},
}

func indexLimits(a *app, cmd *cobra.Command) (int, float64) {
	topN, minScore := a.cfg.Index.TopN, a.cfg.Index.MinScore
	if cmd.Flags().Changed("top") {
		topN, _ = cmd.Flags().GetInt("top")
	}
	if cmd.Flags().Changed("min-score") {
		minScore, _ = cmd.Flags().GetFloat64("min-score")
	}
	return topN, minScore
}

func writeMatches(w io.Writer, query string, matches []medindex.Match) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintf(w, "No match for %q.\n", query)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SCORE\tBRAND\tGENERIC\tSTRENGTH\tREGION")
	for _, m := range matches {
		_, _ = fmt.Fprintf(tw, "%.1f\t%s\t%s\t%s\t%s\n",
			m.Score, m.Record.BrandName, m.Record.GenericName, dash(m.Record.Strength), dash(m.Record.Region))
	}
	return tw.Flush()
}

func writeAlternatives(w io.Writer, res medindex.AlternativesResult) error {
	if res.GenericName == "" {
		_, err := fmt.Fprintf(w, "No match for %q.\n", res.Query)
		return err
	}
	header := fmt.Sprintf("Alternatives for %q (%s)", res.Query, res.GenericName)
	if res.Hub != nil {
		header += fmt.Sprintf(", nearest hub %s, %s", res.Hub.City, res.Hub.State)
	}
	if _, err := fmt.Fprintln(w, header+":"); err != nil {
		return err
	}
	if len(res.Alternatives) == 0 {
		_, err := fmt.Fprintln(w, "  none")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  BRAND\tSTRENGTH\tCITY\tREGION\tAVAILABILITY\tSCORE")
	for _, alt := range res.Alternatives {
		r := alt.Record
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%.1f\n",
			r.BrandName, dash(r.Strength), dash(r.City), dash(r.Region), alt.Availability, alt.Score)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexLookupCmd, indexAlternativesCmd)

	for _, c := range []*cobra.Command{indexLookupCmd, indexAlternativesCmd} {
		c.Flags().StringP("format", "f", outputFormatText, "output format: text, json")
		c.Flags().Int("top", 0, "maximum number of results (default from config)")
		c.Flags().Float64("min-score", 0, "minimum similarity score 0-100 (default from config)")
	}
	indexLookupCmd.Flags().String("region", "", "restrict matches to a region (\"All\" for every region)")
	indexAlternativesCmd.Flags().String("locality", "", "locality used to rank stock by distance")
}
