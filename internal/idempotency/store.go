// Package idempotency stores replayable responses for Idempotency-Key
// requests. Postgres is the source of truth; Redis only caches finished
// responses.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/deposit-settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	redisKeyPrefix = "idempotency:"

	ServedByPostgres = "postgres"
	ServedByRedis    = "redis"

	defaultTTL        = 24 * time.Hour
	defaultStaleAfter = 2 * time.Minute
	defaultMaxWait    = 10 * time.Second
)

// Record is a finished response. It doubles as the Redis cache payload.
type Record struct {
	Key         string `json:"key"`
	RequestHash string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
	ServedBy    string `json:"-"`
}

// Store scopes keys per caller (see ScopedKey). A reservation left behind by
// a crashed request is taken over once it is older than staleAfter.
type Store struct {
	redis      redis.Cmdable
	queries    *repository.Queries
	ttl        time.Duration
	staleAfter time.Duration
	maxWait    time.Duration
}

func NewStore(redis redis.Cmdable, db *pgxpool.Pool, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		redis:      redis,
		queries:    repository.New(db),
		ttl:        ttl,
		staleAfter: defaultStaleAfter,
		maxWait:    defaultMaxWait,
	}
}

// ScopedKey namespaces a client supplied key under the caller's identity.
func ScopedKey(scope, key string) string {
	if scope == "" {
		return key
	}
	return scope + ":" + key
}

// Lookup returns the stored response for key. Expired responses and stale
// reservations read as ErrNotFound so Reserve can take them over.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.cached(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.queries.GetIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	age := time.Since(row.UpdatedAt)
	if row.InProgress {
		if row.RequestHash == requestHash && age > s.staleAfter {
			return nil, ErrNotFound
		}
		if row.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return nil, ErrInProgress
	}
	if age > s.ttl {
		return nil, ErrNotFound
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec, s.ttl-age)
	return rec, nil
}

// Reserve claims key for a new request. False means another request holds it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.queries.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
		StaleAfter:     s.staleAfter,
		TTL:            s.ttl,
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("reserve idempotency key: %w", err)
}

func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	if body == nil {
		body = []byte{}
	}
	row, err := s.queries.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}

	rec := recordFromRow(row)
	s.cache(ctx, rec, s.ttl)
	return rec, nil
}

// Release forgets a reservation whose request failed server-side, letting
// the client retry with the same key instead of replaying the failure.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if _, err := s.queries.ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the concurrent request holding key finishes,
// backing off up to maxWait in total.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	delay := 25 * time.Millisecond
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for idempotency key: %w", ctx.Err())
		case <-time.After(delay):
		}
		if delay < 400*time.Millisecond {
			delay *= 2
		}
	}
}

func recordFromRow(row repository.IdempotencyKey) *Record {
	return &Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    ServedByPostgres,
	}
}

func (s *Store) cached(ctx context.Context, key string) (*Record, bool) {
	if s.redis == nil {
		return nil, false
	}
	val, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		zap.L().Warn("discarding corrupt idempotency cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	rec.ServedBy = ServedByRedis
	return &rec, true
}

func (s *Store) cache(ctx context.Context, rec *Record, ttl time.Duration) {
	if s.redis == nil || ttl <= 0 {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKeyPrefix+rec.Key, payload, ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}
