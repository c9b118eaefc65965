// Package approval moves prescriptions from pending to approved or rejected
// and feeds reviewer edits back into the correction log.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/events"
	"github.com/MeKo-Tech/rxscan/internal/metrics"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/MeKo-Tech/rxscan/internal/store"
)

// SystemReviewer is recorded as approver for auto-admitted prescriptions.
const SystemReviewer = "system"

// FieldMedicineName is the Field of every correction written by Approve.
const FieldMedicineName = "medicine_name"

// Policy is the triage rule, implemented by *fusion.Fuser.
type Policy interface {
	NeedsReview(c rx.Candidate) bool
	Triage(cands []rx.Candidate) bool
}

// Service runs the state machine over a store. Transitions on the same
// prescription are serialized; different prescriptions proceed in parallel.
type Service struct {
	store     store.Store
	policy    Policy
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	locks     store.KeyedMutex
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, policy Policy, opts ...Option) *Service {
	s := &Service{
		store:     st,
		policy:    policy,
		publisher: events.Nop{},
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result summarizes a completed transition.
type Result struct {
	Prescription *rx.Prescription
	Corrections  []rx.CorrectionEntry
}

// Approve replaces the stored medicines with edited and marks the
// prescription approved. A nil edited list approves the stored medicines
// unchanged. Every position whose medicine name changed is appended to the
// correction log before the medicines are replaced. All candidates of the
// approved list are marked reviewed.
func (s *Service) Approve(ctx context.Context, id string, edited []rx.Candidate, reviewer string) (*Result, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, fmt.Errorf("approve %s: reviewer is required", id)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.pending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", id, err)
	}
	if edited == nil {
		edited = p.Medicines
	}
	merged := rx.CloneCandidates(edited)
	now := s.now()

	entries := diff(p.ID, p.Medicines, merged, reviewer, now)
	for _, e := range entries {
		if err := s.store.AppendCorrection(ctx, e); err != nil {
			return nil, fmt.Errorf("approve %s: append correction: %w", id, err)
		}
	}
	for i := range merged {
		merged[i].Reviewed = true
	}

	p.Medicines = merged
	p.Status = rx.StatusApproved
	p.ApprovedBy = reviewer
	p.ApprovalTimestamp = &now
	p.Confidence = p.MeanConfidence()
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("approve %s: %w", id, err)
	}

	metrics.Transition(string(rx.StatusApproved), false)
	metrics.CorrectionsLogged(len(entries))
	s.logger.Info("prescription approved",
		"prescription_id", id,
		"reviewer", reviewer,
		"corrections", len(entries),
		"medicines", len(merged))
	s.publish(ctx, events.Event{
		Type:           events.TypeApproved,
		PrescriptionID: id,
		Status:         string(rx.StatusApproved),
		Reviewer:       reviewer,
		Corrections:    len(entries),
		ReviewRequired: p.ReviewRequired,
		Timestamp:      now,
	})
	return &Result{Prescription: p, Corrections: entries}, nil
}

// Reject marks the prescription rejected. It never writes corrections.
func (s *Service) Reject(ctx context.Context, id, reason, reviewer string) (*rx.Prescription, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, fmt.Errorf("reject %s: reviewer is required", id)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.pending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", id, err)
	}
	now := s.now()
	p.Status = rx.StatusRejected
	p.RejectedBy = reviewer
	p.RejectionReason = reason
	p.ApprovalTimestamp = &now
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("reject %s: %w", id, err)
	}

	metrics.Transition(string(rx.StatusRejected), false)
	s.logger.Info("prescription rejected", "prescription_id", id, "reviewer", reviewer, "reason", reason)
	s.publish(ctx, events.Event{
		Type:           events.TypeRejected,
		PrescriptionID: id,
		Status:         string(rx.StatusRejected),
		Reviewer:       reviewer,
		Reason:         reason,
		ReviewRequired: p.ReviewRequired,
		Timestamp:      now,
	})
	return p, nil
}

// AutoAdmit approves a pending prescription without edits when every
// candidate clears the review threshold. Otherwise it returns
// rx.ErrInvalidTransition and leaves the record untouched.
func (s *Service) AutoAdmit(ctx context.Context, id string) (*rx.Prescription, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	p, err := s.pending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auto-admit %s: %w", id, err)
	}
	if s.policy == nil || s.policy.Triage(p.Medicines) {
		return nil, fmt.Errorf("auto-admit %s: review required: %w", id, rx.ErrInvalidTransition)
	}
	now := s.now()
	p.Status = rx.StatusApproved
	p.ApprovedBy = SystemReviewer
	p.ApprovalTimestamp = &now
	p.ReviewRequired = false
	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("auto-admit %s: %w", id, err)
	}

	metrics.Transition(string(rx.StatusApproved), true)
	s.logger.Info("prescription auto-admitted", "prescription_id", id, "confidence", p.Confidence)
	s.publish(ctx, events.Event{
		Type:           events.TypeApproved,
		PrescriptionID: id,
		Status:         string(rx.StatusApproved),
		Reviewer:       SystemReviewer,
		Timestamp:      now,
	})
	return p, nil
}

// Pending lists prescriptions awaiting review, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]*rx.Prescription, error) {
	return s.store.List(ctx, rx.Filter{Status: rx.StatusPending, Limit: limit})
}

func (s *Service) pending(ctx context.Context, id string) (*rx.Prescription, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("status %s: %w", p.Status, rx.ErrAlreadyResolved)
	}
	if p.Status != rx.StatusPending {
		return nil, fmt.Errorf("unknown status %q: %w", p.Status, rx.ErrInvalidTransition)
	}
	return p, nil
}

// publish failures are logged; the transition is already durable.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed",
			"prescription_id", e.PrescriptionID,
			"event_type", string(e.Type),
			"error", err)
	}
}

// diff pairs stored and edited candidates by position. A changed medicine
// name yields one correction keyed by the stored candidate's history key.
// Positions only present in edited are additions and produce no entry, as do
// renames of candidates without a history key. Edited
// candidates without raw text inherit the stored raw text, and renamed
// candidates are marked corrected.
func diff(id string, stored, edited []rx.Candidate, reviewer string, now time.Time) []rx.CorrectionEntry {
	var out []rx.CorrectionEntry
	n := min(len(stored), len(edited))
	for i := 0; i < n; i++ {
		old, cur := &stored[i], &edited[i]
		if cur.RawText == "" {
			cur.RawText = old.RawText
		}
		newName := rx.NormalizeKey(cur.MedicineName)
		if newName == "" || newName == rx.NormalizeKey(old.MedicineName) {
			continue
		}
		cur.Corrected = true
		key := old.HistoryKey()
		if key == "" {
			continue
		}
		out = append(out, rx.CorrectionEntry{
			PrescriptionID: id,
			Field:          FieldMedicineName,
			OriginalText:   key,
			CorrectedText:  newName,
			ReviewerID:     reviewer,
			Timestamp:      now,
		})
	}
	return out
}
