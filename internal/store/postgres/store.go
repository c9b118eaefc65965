package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool the store uses; pgx.Tx and pgxmock
// pools satisfy it too.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	tablePrescriptions = "prescriptions"
	tableCorrections   = "correction_log"
)

var prescriptionColumns = []string{
	"id", "image_reference", "status", "created_at", "approved_by", "rejected_by",
	"approval_timestamp", "rejection_reason", "review_required", "confidence",
	"outcome", "provider", "region", "locality", "medicines", "quality",
}

var correctionColumns = []string{
	"prescription_id", "field", "original_text", "corrected_text", "reviewer_id", "created_at",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db     Querier
	closer func()
}

// New wraps a querier. closer, when non-nil, runs on Close (typically the
// pool's Close).
func New(db Querier, closer func()) *Store {
	return &Store{db: db, closer: closer}
}

type prescriptionRow struct {
	ID                string     `db:"id"`
	ImageReference    string     `db:"image_reference"`
	Status            string     `db:"status"`
	CreatedAt         time.Time  `db:"created_at"`
	ApprovedBy        string     `db:"approved_by"`
	RejectedBy        string     `db:"rejected_by"`
	ApprovalTimestamp *time.Time `db:"approval_timestamp"`
	RejectionReason   string     `db:"rejection_reason"`
	ReviewRequired    bool       `db:"review_required"`
	Confidence        float64    `db:"confidence"`
	Outcome           string     `db:"outcome"`
	Provider          string     `db:"provider"`
	Region            string     `db:"region"`
	Locality          string     `db:"locality"`
	Medicines         []byte     `db:"medicines"`
	Quality           []byte     `db:"quality"`
}

func (r prescriptionRow) toDomain() (*rx.Prescription, error) {
	p := &rx.Prescription{
		ID:                r.ID,
		ImageReference:    r.ImageReference,
		Status:            rx.Status(r.Status),
		CreatedAt:         r.CreatedAt,
		ApprovedBy:        r.ApprovedBy,
		RejectedBy:        r.RejectedBy,
		ApprovalTimestamp: r.ApprovalTimestamp,
		RejectionReason:   r.RejectionReason,
		ReviewRequired:    r.ReviewRequired,
		Confidence:        r.Confidence,
		Outcome:           rx.Outcome(r.Outcome),
		Provider:          r.Provider,
		Region:            r.Region,
		Locality:          r.Locality,
		Medicines:         []rx.Candidate{},
	}
	if len(r.Medicines) > 0 {
		if err := json.Unmarshal(r.Medicines, &p.Medicines); err != nil {
			return nil, fmt.Errorf("decode medicines of %s: %w", r.ID, err)
		}
	}
	if len(r.Quality) > 0 && string(r.Quality) != "null" {
		p.Quality = &rx.QualityReport{}
		if err := json.Unmarshal(r.Quality, p.Quality); err != nil {
			return nil, fmt.Errorf("decode quality of %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (*rx.Prescription, error) {
	query, args, err := psql.Select(prescriptionColumns...).
		From(tablePrescriptions).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var row prescriptionRow
	if err := pgxscan.Get(ctx, s.db, &row, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			err = pgx.ErrNoRows
		}
		return nil, mapError(err, "prescription", id)
	}
	return row.toDomain()
}

// Put upserts the prescription row.
func (s *Store) Put(ctx context.Context, p *rx.Prescription) error {
	if p == nil || p.ID == "" {
		return errors.New("prescription id is required")
	}
	meds := p.Medicines
	if meds == nil {
		meds = []rx.Candidate{}
	}
	medsJSON, err := json.Marshal(meds)
	if err != nil {
		return fmt.Errorf("encode medicines: %w", err)
	}
	var quality []byte
	if p.Quality != nil {
		if quality, err = json.Marshal(p.Quality); err != nil {
			return fmt.Errorf("encode quality: %w", err)
		}
	}

	query, args, err := psql.Insert(tablePrescriptions).
		Columns(prescriptionColumns...).
		Values(
			p.ID, p.ImageReference, string(p.Status), p.CreatedAt, p.ApprovedBy, p.RejectedBy,
			p.ApprovalTimestamp, p.RejectionReason, p.ReviewRequired, p.Confidence,
			string(p.Outcome), p.Provider, p.Region, p.Locality, medsJSON, quality,
		).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			image_reference = EXCLUDED.image_reference,
			status = EXCLUDED.status,
			approved_by = EXCLUDED.approved_by,
			rejected_by = EXCLUDED.rejected_by,
			approval_timestamp = EXCLUDED.approval_timestamp,
			rejection_reason = EXCLUDED.rejection_reason,
			review_required = EXCLUDED.review_required,
			confidence = EXCLUDED.confidence,
			outcome = EXCLUDED.outcome,
			medicines = EXCLUDED.medicines,
			quality = EXCLUDED.quality`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return mapError(err, "prescription", p.ID)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f rx.Filter) ([]*rx.Prescription, error) {
	b := psql.Select(prescriptionColumns...).
		From(tablePrescriptions).
		OrderBy("created_at ASC", "id ASC")
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.ReviewRequired != nil {
		b = b.Where(sq.Eq{"review_required": *f.ReviewRequired})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var rows []prescriptionRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, mapError(err, "prescriptions", string(f.Status))
	}
	out := make([]*rx.Prescription, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// AppendCorrection stores the original text whitespace-normalized so history
// lookups can use the index.
func (s *Store) AppendCorrection(ctx context.Context, e rx.CorrectionEntry) error {
	if e.Field == "" {
		e.Field = "medicine_name"
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	query, args, err := psql.Insert(tableCorrections).
		Columns(correctionColumns...).
		Values(e.PrescriptionID, e.Field, rx.NormalizeKey(e.OriginalText), e.CorrectedText, e.ReviewerID, e.Timestamp).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return mapError(err, "correction for", e.PrescriptionID)
	}
	return nil
}

func (s *Store) CorrectionHistory(ctx context.Context, text string) ([]rx.CorrectionEntry, error) {
	key := rx.NormalizeKey(text)
	query, args, err := psql.Select(correctionColumns...).
		From(tableCorrections).
		Where(sq.Eq{"original_text": key}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []rx.CorrectionEntry
	if err := pgxscan.Select(ctx, s.db, &out, query, args...); err != nil {
		return nil, mapError(err, "correction history", key)
	}
	return out, nil
}

func (s *Store) CommonCorrections(ctx context.Context, limit int) ([]rx.CorrectionCount, error) {
	b := psql.Select("original_text", "corrected_text", "COUNT(*) AS count").
		From(tableCorrections).
		GroupBy("original_text", "corrected_text").
		OrderBy("count DESC", "original_text ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []rx.CorrectionCount
	if err := pgxscan.Select(ctx, s.db, &out, query, args...); err != nil {
		return nil, mapError(err, "common corrections", "")
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}
