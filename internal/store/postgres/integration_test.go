//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MeKo-Tech/rxscan/internal/medindex"
	"github.com/MeKo-Tech/rxscan/internal/rx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a disposable PostgreSQL container and returns its DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "rxscan",
				"POSTGRES_PASSWORD": "rxscan",
				"POSTGRES_DB":       "rxscan",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://rxscan:rxscan@%s:%s/rxscan?sslmode=disable", host, port.Port())
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	applied, err := Migrate(ctx, dsn)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	again, err := Migrate(ctx, dsn)
	require.NoError(t, err)
	assert.Zero(t, again, "migrations are idempotent")

	pool, err := NewPool(ctx, PoolConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	s := New(pool, pool.Close)
	defer func() { _ = s.Close() }()

	created := time.Now().UTC().Truncate(time.Millisecond)
	p := &rx.Prescription{
		ID:     "p1",
		Status: rx.StatusPending,
		Medicines: []rx.Candidate{{
			RawText: "Tab Zerodol SP", MedicineName: "Zerodol-SP", FusedConfidence: 0.95,
			MatchConfidence: rx.Float(1), Matched: true,
		}},
		CreatedAt:      created,
		ReviewRequired: false,
		Confidence:     0.95,
		Outcome:        rx.OutcomeOK,
		Quality:        &rx.QualityReport{QualityScore: "good"},
	}
	require.NoError(t, s.Put(ctx, p))

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Zerodol-SP", got.Medicines[0].MedicineName)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, "good", got.Quality.QualityScore)

	now := time.Now().UTC()
	got.Status = rx.StatusApproved
	got.ApprovedBy = "dr-rao"
	got.ApprovalTimestamp = &now
	require.NoError(t, s.Put(ctx, got))

	approved, err := s.List(ctx, rx.Filter{Status: rx.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "dr-rao", approved[0].ApprovedBy)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, rx.ErrNotFound)

	for _, r := range []string{"r1", "r2"} {
		require.NoError(t, s.AppendCorrection(ctx, rx.CorrectionEntry{
			PrescriptionID: "p1", OriginalText: "Veles  for", CorrectedText: "Volini", ReviewerID: r,
		}))
	}
	hist, err := s.CorrectionHistory(ctx, "Veles for")
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	top, err := s.CommonCorrections(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 2, top[0].Count)

	_, err = pool.Exec(ctx, `INSERT INTO medicines (generic_name, brand_name, strength, region, city)
		VALUES ('Paracetamol', 'Dolo 650', '650mg', 'Karnataka', 'Bangalore')`)
	require.NoError(t, err)
	idx, err := medindex.Load(ctx, medindex.PostgresSource{DB: pool})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}
