package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/condition"
	"github.com/MeKo-Tech/rxscan/internal/events"
	"github.com/MeKo-Tech/rxscan/internal/metrics"
	"github.com/MeKo-Tech/rxscan/internal/rx"
)

// Request is one uploaded prescription image.
type Request struct {
	Image       []byte
	Filename    string
	Handwriting bool
	// Region restricts index matching; empty uses the configured default.
	Region string
	// Locality is recorded for regional alternative lookups.
	Locality string
}

// Process runs one request through every stage and stores the result as a
// pending prescription. Only undecodable input fails the call with an
// *rx.ImageDecodeError; a failed extraction is stored with outcome
// extraction_failed and no medicines. A canceled request stores nothing.
func (p *Pipeline) Process(ctx context.Context, req Request) (*rx.Prescription, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		region = p.cfg.Region
	}

	t := time.Now()
	img, err := p.decoder.Decode(req.Image, req.Filename)
	metrics.ObserveStage(metrics.StageDecode, time.Since(t))
	if err != nil {
		metrics.DecodeFailure()
		p.logger.Warn("image rejected", "source", req.Filename, "error", err)
		return nil, err
	}

	mode := condition.Standard
	if req.Handwriting {
		mode = condition.Handwriting
	}
	t = time.Now()
	conditioned, quality := p.conditioner.Condition(img, mode)
	metrics.ObserveStage(metrics.StageCondition, time.Since(t))

	outcome := rx.OutcomeOK
	var meds []rx.Candidate
	t = time.Now()
	raw, err := p.extractor.Extract(ctx, conditioned)
	metrics.ObserveStage(metrics.StageExtract, time.Since(t))
	var failed *rx.ExtractionFailed
	switch {
	case err == nil:
		meds, err = p.interpret(ctx, raw, region)
		if err != nil {
			return nil, err
		}
		if len(meds) == 0 {
			outcome = rx.OutcomeNoMedicinesFound
		}
	case errors.As(err, &failed):
		outcome = rx.OutcomeExtractionFailed
		p.logger.Warn("extraction failed",
			"source", req.Filename,
			"provider", failed.Provider,
			"attempts", failed.Attempts,
			"error", failed.Err)
	default:
		return nil, err
	}
	if meds == nil {
		meds = []rx.Candidate{}
	}

	rec := &rx.Prescription{
		ID:             p.newID(),
		Medicines:      meds,
		Status:         rx.StatusPending,
		CreatedAt:      p.now(),
		ReviewRequired: p.fuser.Triage(meds),
		Outcome:        outcome,
		Quality:        quality,
		Provider:       p.extractor.Provider(),
		Region:         region,
		Locality:       req.Locality,
	}
	rec.Confidence = rec.MeanConfidence()

	if err := p.persist(ctx, rec, req); err != nil {
		return nil, err
	}

	metrics.Prescription(string(rec.Outcome), rec.ReviewRequired)
	for _, m := range rec.Medicines {
		metrics.Candidate(m.MatchSource, m.FusedConfidence)
	}
	p.logger.Info("prescription processed",
		"prescription_id", rec.ID,
		"source", req.Filename,
		"outcome", rec.Outcome,
		"medicines", len(rec.Medicines),
		"review_required", rec.ReviewRequired,
		"confidence", rec.Confidence,
		"quality", quality.QualityScore,
		"duration_ms", time.Since(start).Milliseconds())

	if p.cfg.AutoAdmit && !rec.ReviewRequired {
		admitted, err := p.approval.AutoAdmit(ctx, rec.ID)
		if err != nil {
			p.logger.Warn("auto-admit failed", "prescription_id", rec.ID, "error", err)
			return rec, nil
		}
		return admitted, nil
	}
	return rec, nil
}

// interpret normalizes the provider output, corrects the candidates and
// fuses their confidences.
func (p *Pipeline) interpret(ctx context.Context, raw rx.RawOutput, region string) ([]rx.Candidate, error) {
	t := time.Now()
	cands := p.normalizer.Normalize(raw)
	metrics.ObserveStage(metrics.StageNormalize, time.Since(t))

	t = time.Now()
	if err := p.corrector.CorrectAll(ctx, cands, region); err != nil {
		return nil, fmt.Errorf("correct candidates: %w", err)
	}
	metrics.ObserveStage(metrics.StageCorrect, time.Since(t))

	t = time.Now()
	p.fuser.FuseAll(cands)
	metrics.ObserveStage(metrics.StageFuse, time.Since(t))
	return cands, nil
}

// persist stores the upload and the record, then announces it. Nothing is
// written once ctx is done.
func (p *Pipeline) persist(ctx context.Context, rec *rx.Prescription, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.Now()
	defer func() { metrics.ObserveStage(metrics.StagePersist, time.Since(t)) }()

	key := rec.ID + strings.ToLower(filepath.Ext(req.Filename))
	ref, err := p.images.Save(ctx, key, req.Image, contentType(req.Filename))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warn("image not stored", "prescription_id", rec.ID, "error", err)
		ref = req.Filename
	}
	rec.ImageReference = ref

	if err := p.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("store prescription %s: %w", rec.ID, err)
	}
	if err := p.publisher.Publish(ctx, events.Event{
		Type:           events.TypeCreated,
		PrescriptionID: rec.ID,
		Status:         string(rec.Status),
		ReviewRequired: rec.ReviewRequired,
		Timestamp:      rec.CreatedAt,
	}); err != nil {
		p.logger.Warn("event not published", "prescription_id", rec.ID, "type", events.TypeCreated, "error", err)
	}
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
