package cmd

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MeKo-Tech/rxscan/internal/config"
	"github.com/MeKo-Tech/rxscan/internal/imageio"
	"github.com/MeKo-Tech/rxscan/internal/overlay"
	"github.com/MeKo-Tech/rxscan/internal/pipeline"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/spf13/cobra"
)

// scanCmd processes a single prescription.
var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "Process one prescription image or PDF",
	Long: `Process a prescription photo, scan or PDF and store the structured result
for review.

Supported formats: JPEG, PNG, GIF, BMP, TIFF, PDF (first embedded image)

Examples:
  rxscan scan prescription.jpg
  rxscan scan note.png --handwriting --region Karnataka
  rxscan scan rx.pdf --format json --output rx.json
  rxscan scan rx.jpg --overlay rx-overlay.png`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// pipelineConfig applies the pipeline flags shared by scan and batch.
func pipelineConfig(cfg *config.Config, cmd *cobra.Command) pipeline.Config {
	pcfg := cfg.ToPipelineConfig()
	if cmd.Flags().Changed("auto-admit") {
		pcfg.AutoAdmit, _ = cmd.Flags().GetBool("auto-admit")
	}
	if cmd.Flags().Changed("region") {
		pcfg.Region, _ = cmd.Flags().GetString("region")
	}
	if cmd.Flags().Changed("review-threshold") {
		pcfg.Fusion.ReviewThreshold, _ = cmd.Flags().GetFloat64("review-threshold")
	}
	return pcfg
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("handwriting", false, "condition the image for handwritten prescriptions")
	cmd.Flags().String("region", "", "medicine index region to match against (default from config, \"All\" for every region)")
	cmd.Flags().String("locality", "", "locality of the patient, recorded on the prescription")
	cmd.Flags().Bool("auto-admit", false, "approve prescriptions that need no review")
	cmd.Flags().Float64("review-threshold", 0, "fused confidence below which a medicine needs review")
	cmd.Flags().StringP("format", "f", outputFormatText, "output format: text, json")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}
	path := args[0]
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-provided input path is expected
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return withApp(func(a *app) error {
		p, err := a.Pipeline(ctx, pipelineConfig(a.cfg, cmd))
		if err != nil {
			return err
		}
		handwriting, _ := cmd.Flags().GetBool("handwriting")
		locality, _ := cmd.Flags().GetString("locality")
		region, _ := cmd.Flags().GetString("region")

		res, err := p.Process(ctx, pipeline.Request{
			Image:       data,
			Filename:    filepath.Base(path),
			Handwriting: handwriting,
			Region:      region,
			Locality:    locality,
		})
		if err != nil {
			var decErr *rx.ImageDecodeError
			if errors.As(err, &decErr) {
				return fmt.Errorf("unsupported or corrupt input: %w", err)
			}
			return err
		}

		if overlayPath, _ := cmd.Flags().GetString("overlay"); overlayPath != "" {
			if err := writeOverlay(overlayPath, data, path, res.Medicines, a.cfg.Pipeline.MaxUploadBytes); err != nil {
				return err
			}
			a.logger.Info("overlay written", "path", overlayPath)
		}

		outPath, _ := cmd.Flags().GetString("output")
		w, closeOut, err := openOutput(cmd.OutOrStdout(), outPath)
		if err != nil {
			return err
		}
		defer func() { _ = closeOut() }()
		if format == outputFormatJSON {
			return writeJSON(w, res)
		}
		return writePrescription(w, res)
	})
}

// writeOverlay draws the recognized medicines onto the original image.
func writeOverlay(path string, data []byte, source string, meds []rx.Candidate, maxBytes int) error {
	img, err := imageio.New(maxBytes, nil).Decode(data, source)
	if err != nil {
		return err
	}
	f, err := os.Create(path) //nolint:gosec // G304: output path is user-provided
	if err != nil {
		return fmt.Errorf("create overlay: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, overlay.Render(img, meds, overlay.Options{Legend: true})); err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addPipelineFlags(scanCmd)
	scanCmd.Flags().String("overlay", "", "write a PNG with the recognized medicines outlined")
}
