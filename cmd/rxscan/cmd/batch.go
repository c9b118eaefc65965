package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/imageio"
	"github.com/MeKo-Tech/rxscan/internal/metrics"
	"github.com/MeKo-Tech/rxscan/internal/pipeline"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command for parallel prescription processing.
var batchCmd = &cobra.Command{
	Use:   "batch [files or directories...]",
	Short: "Process many prescriptions in parallel",
	Long: `Process prescription images and PDFs in parallel and store each result for
review. A file that cannot be processed does not stop the batch.

Examples:
  rxscan batch scans/*.jpg
  rxscan batch scans/ --recursive --workers 8
  rxscan batch scans/ --format json --output results.json
  rxscan batch scans/ --metrics-addr :9090`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatchCommand,
}

// batchItem is the JSON form of one batch result.
type batchItem struct {
	Source       string           `json:"source"`
	Prescription *rx.Prescription `json:"prescription,omitempty"`
	Error        string           `json:"error,omitempty"`
}

type batchReport struct {
	Summary pipeline.BatchSummary `json:"summary"`
	Results []batchItem           `json:"results"`
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}
	recursive, _ := cmd.Flags().GetBool("recursive")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	files, err := imageio.Discover(args, recursive, include, exclude)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no supported input files found")
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withApp(func(a *app) error {
		pcfg := pipelineConfig(a.cfg, cmd)
		if cmd.Flags().Changed("workers") {
			pcfg.Workers, _ = cmd.Flags().GetInt("workers")
		}
		p, err := a.Pipeline(ctx, pcfg)
		if err != nil {
			return err
		}

		addr := a.cfg.Metrics.Addr
		if cmd.Flags().Changed("metrics-addr") {
			addr, _ = cmd.Flags().GetString("metrics-addr")
		}
		if addr != "" {
			stop := serveMetrics(addr, a.logger)
			defer stop()
		}

		handwriting, _ := cmd.Flags().GetBool("handwriting")
		region, _ := cmd.Flags().GetString("region")
		locality, _ := cmd.Flags().GetString("locality")
		reqs, unreadable := readRequests(files, func(data []byte, path string) pipeline.Request {
			return pipeline.Request{
				Image:       data,
				Filename:    path,
				Handwriting: handwriting,
				Region:      region,
				Locality:    locality,
			}
		})

		quiet, _ := cmd.Flags().GetBool("quiet")
		var progress pipeline.ProgressCallback = pipeline.NewLogProgressCallback(a.logger)
		if !quiet {
			progress = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Processing ")
		}
		results := append(p.ProcessBatch(ctx, reqs, progress), unreadable...)

		outPath, _ := cmd.Flags().GetString("output")
		w, closeOut, err := openOutput(cmd.OutOrStdout(), outPath)
		if err != nil {
			return err
		}
		defer func() { _ = closeOut() }()

		summary := pipeline.Summarize(results)
		if format == outputFormatJSON {
			report := batchReport{Summary: summary, Results: make([]batchItem, len(results))}
			for i, r := range results {
				report.Results[i] = batchItem{Source: r.Source, Prescription: r.Prescription}
				if r.Err != nil {
					report.Results[i].Error = r.Err.Error()
				}
			}
			if err := writeJSON(w, report); err != nil {
				return err
			}
		} else if err := writeBatchText(w, results, summary); err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch interrupted: %w", err)
		}
		if summary.Failed == summary.Total {
			return fmt.Errorf("all %d files failed", summary.Total)
		}
		return nil
	})
}

// readRequests loads every file. Files that cannot be read become failed
// results instead of aborting the batch.
func readRequests(files []string, build func([]byte, string) pipeline.Request) ([]pipeline.Request, []pipeline.BatchResult) {
	reqs := make([]pipeline.Request, 0, len(files))
	var failed []pipeline.BatchResult
	for _, f := range files {
		data, err := os.ReadFile(f) //nolint:gosec // G304: discovered input paths are expected
		if err != nil {
			failed = append(failed, pipeline.BatchResult{Index: -1, Source: f, Err: err})
			continue
		}
		reqs = append(reqs, build(data, f))
	}
	return reqs, failed
}

func writeBatchText(w io.Writer, results []pipeline.BatchResult, s pipeline.BatchSummary) error {
	for _, r := range results {
		name := filepath.Base(r.Source)
		if r.Err != nil {
			if _, err := fmt.Fprintf(w, "FAIL  %s: %v\n", name, r.Err); err != nil {
				return err
			}
			continue
		}
		p := r.Prescription
		mark := "OK  "
		if p.ReviewRequired {
			mark = "REVIEW"
		}
		if _, err := fmt.Fprintf(w, "%-6s %s  %s  %d medicines  %s  %s\n",
			mark, name, p.ID, len(p.Medicines), percent(p.Confidence), p.Status); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%d processed, %d failed, %d need review, %d auto-approved\n",
		s.Total, s.Failed, s.ReviewRequired, s.AutoApproved)
	return err
}

// serveMetrics exposes /metrics until the returned stop function runs.
func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	rootCmd.AddCommand(batchCmd)
	addPipelineFlags(batchCmd)

	batchCmd.Flags().IntP("workers", "w", 0, fmt.Sprintf("number of parallel workers (default: %d)", runtime.NumCPU()))
	batchCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	batchCmd.Flags().StringSlice("include", []string{}, "file patterns to include (default: every supported file)")
	batchCmd.Flags().StringSlice("exclude", []string{}, "file patterns to exclude")
	batchCmd.Flags().Bool("quiet", false, "log progress instead of drawing a progress bar")
	batchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
}
