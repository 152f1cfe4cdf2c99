package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/db"
	"github.com/ayo6706/deposit-settlement/internal/models"
	"github.com/ayo6706/deposit-settlement/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	// Check if DB url is present (loaded from .env or system)
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	release := dblock.Acquire()
	t.Cleanup(release)

	pool, err := db.Connect(context.Background(), os.Getenv("DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(context.Background(), pool))
	return pool
}

func newProfile(t *testing.T, repo *Repository, referrer *uuid.UUID) *models.Profile {
	t.Helper()
	id := uuid.New()
	p := &models.Profile{
		UserID:     id,
		Username:   "repo_" + id.String()[:8],
		Email:      "repo_" + id.String()[:8] + "@example.com",
		ReferrerID: referrer,
	}
	require.NoError(t, repo.CreateProfile(context.Background(), p))
	return p
}

func TestCreateProfileAndReferrer(t *testing.T) {
	pool := connect(t)
	repo := NewRepository(pool)
	ctx := context.Background()

	parent := newProfile(t, repo, nil)
	child := newProfile(t, repo, &parent.UserID)

	got, err := repo.GetProfile(ctx, child.UserID)
	require.NoError(t, err)
	require.NotNil(t, got.ReferrerID)
	require.Equal(t, parent.UserID, *got.ReferrerID)
	require.Equal(t, int64(0), got.Balance)

	q := New(pool)
	ref, err := q.GetReferrer(ctx, parent.UserID)
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestIncrementBalanceRejectsOverdraw(t *testing.T) {
	pool := connect(t)
	repo := NewRepository(pool)
	q := New(pool)
	ctx := context.Background()

	p := newProfile(t, repo, nil)

	rows, err := q.IncrementBalance(ctx, p.UserID, 5_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = q.IncrementBalance(ctx, p.UserID, -6_000_000)
	require.NoError(t, err)
	require.Equal(t, int64(0), rows)

	balance, err := q.GetBalance(ctx, p.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(5_000_000), balance)
}

func TestAttachInvoiceOnlyOnce(t *testing.T) {
	pool := connect(t)
	repo := NewRepository(pool)
	q := New(pool)
	ctx := context.Background()

	p := newProfile(t, repo, nil)
	dep, err := q.CreateDeposit(ctx, CreateDepositParams{ID: uuid.New(), UserID: p.UserID, AmountMicros: 50_000_000})
	require.NoError(t, err)
	require.Equal(t, "pending", dep.Status)
	require.Nil(t, dep.TrackID)

	trackID := "trk-" + uuid.NewString()
	rows, err := q.AttachInvoice(ctx, AttachInvoiceParams{ID: dep.ID, TrackID: trackID, PayLink: "https://pay.example/1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = q.AttachInvoice(ctx, AttachInvoiceParams{ID: dep.ID, TrackID: "other", PayLink: "https://pay.example/2"})
	require.NoError(t, err)
	require.Equal(t, int64(0), rows)

	got, err := q.GetDeposit(ctx, dep.ID)
	require.NoError(t, err)
	require.Equal(t, trackID, *got.TrackID)
}

func TestCompleteAdoptedInvoice(t *testing.T) {
	pool := connect(t)
	repo := NewRepository(pool)
	q := New(pool)
	ctx := context.Background()

	p := newProfile(t, repo, nil)
	dep, err := q.CreateDeposit(ctx, CreateDepositParams{ID: uuid.New(), UserID: p.UserID, AmountMicros: 50_000_000})
	require.NoError(t, err)

	trackID := "trk-" + uuid.NewString()
	rows, err := q.AttachTrackID(ctx, dep.ID, trackID)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = q.AttachInvoice(ctx, AttachInvoiceParams{ID: dep.ID, TrackID: trackID, PayLink: "https://pay.example/1"})
	require.NoError(t, err)
	require.Equal(t, int64(0), rows)

	rows, err = q.CompleteAdoptedInvoice(ctx, AttachInvoiceParams{ID: dep.ID, TrackID: "other", PayLink: "https://pay.example/x"})
	require.NoError(t, err)
	require.Equal(t, int64(0), rows)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	rows, err = q.CompleteAdoptedInvoice(ctx, AttachInvoiceParams{ID: dep.ID, TrackID: trackID, PayLink: "https://pay.example/1", GatewayExpiresAt: &expires})
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	rows, err = q.CompleteAdoptedInvoice(ctx, AttachInvoiceParams{ID: dep.ID, TrackID: trackID, PayLink: "https://pay.example/2"})
	require.NoError(t, err)
	require.Equal(t, int64(0), rows)

	got, err := q.GetDeposit(ctx, dep.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PayLink)
	require.Equal(t, "https://pay.example/1", *got.PayLink)
	require.NotNil(t, got.GatewayExpiresAt)
	require.True(t, expires.Equal(*got.GatewayExpiresAt))
}

func TestInsertCommissionUniquePerLevel(t *testing.T) {
	pool := connect(t)
	repo := NewRepository(pool)
	q := New(pool)
	ctx := context.Background()

	parent := newProfile(t, repo, nil)
	child := newProfile(t, repo, &parent.UserID)
	dep, err := q.CreateDeposit(ctx, CreateDepositParams{ID: uuid.New(), UserID: child.UserID, AmountMicros: 100_000_000})
	require.NoError(t, err)

	params := InsertCommissionParams{
		ID:            uuid.New(),
		DepositID:     dep.ID,
		BeneficiaryID: parent.UserID,
		SourceUserID:  child.UserID,
		Level:         1,
		Percentage:    "5",
		AmountMicros:  5_000_000,
	}
	c, err := q.InsertCommission(ctx, params)
	require.NoError(t, err)
	require.Equal(t, 1, c.Level)

	params.ID = uuid.New()
	_, err = q.InsertCommission(ctx, params)
	require.True(t, errors.Is(err, pgx.ErrNoRows))

	list, err := q.ListCommissionsByDeposit(ctx, dep.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestReserveIdempotencyKeyTakeover(t *testing.T) {
	pool := connect(t)
	q := New(pool)
	ctx := context.Background()

	key := "test:" + uuid.NewString()
	params := ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    "hash-a",
		Method:         "POST",
		Path:           "/v1/deposits",
		StaleAfter:     time.Minute,
		TTL:            time.Hour,
	}

	_, err := q.ReserveIdempotencyKey(ctx, params)
	require.NoError(t, err)

	_, err = q.ReserveIdempotencyKey(ctx, params)
	require.ErrorIs(t, err, pgx.ErrNoRows, "live reservation must block")

	_, err = pool.Exec(ctx, `UPDATE idempotency_keys SET updated_at = NOW() - INTERVAL '5 minutes' WHERE idempotency_key = $1`, key)
	require.NoError(t, err)

	other := params
	other.RequestHash = "hash-b"
	_, err = q.ReserveIdempotencyKey(ctx, other)
	require.ErrorIs(t, err, pgx.ErrNoRows, "stale reservation is only taken over by the same request")

	_, err = q.ReserveIdempotencyKey(ctx, params)
	require.NoError(t, err)

	row, err := q.FinalizeIdempotencyKey(ctx, FinalizeIdempotencyKeyParams{
		ResponseStatus: 201,
		ResponseBody:   []byte(`{}`),
		ContentType:    "application/json",
		IdempotencyKey: key,
		RequestHash:    "hash-a",
	})
	require.NoError(t, err)
	require.False(t, row.InProgress)

	_, err = q.ReserveIdempotencyKey(ctx, other)
	require.ErrorIs(t, err, pgx.ErrNoRows, "unexpired response must block")

	_, err = pool.Exec(ctx, `UPDATE idempotency_keys SET updated_at = NOW() - INTERVAL '2 hours' WHERE idempotency_key = $1`, key)
	require.NoError(t, err)
	_, err = q.ReserveIdempotencyKey(ctx, other)
	require.NoError(t, err)

	got, err := q.GetIdempotencyKey(ctx, key)
	require.NoError(t, err)
	require.True(t, got.InProgress)
	require.Equal(t, "hash-b", got.RequestHash)
	require.Empty(t, got.ResponseBody)
}
