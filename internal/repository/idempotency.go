package repository

import (
	"context"
	"time"
)

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	UpdatedAt      time.Time
}

const idempotencyColumns = `idempotency_key, request_hash, response_status, response_body, content_type, in_progress, updated_at`

func scanIdempotencyKey(row interface{ Scan(...any) error }) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.ResponseStatus, &k.ResponseBody, &k.ContentType, &k.InProgress, &k.UpdatedAt)
	return k, err
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	// StaleAfter is how long an unfinished reservation for the same request
	// blocks a retry before it is taken over.
	StaleAfter time.Duration
	// TTL is how long a finished response stays replayable.
	TTL time.Duration
}

// ReserveIdempotencyKey returns pgx.ErrNoRows when the key is held by a live
// reservation or an unexpired response.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (string, error) {
	var key string
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    method = EXCLUDED.method,
		    path = EXCLUDED.path,
		    response_status = 0,
		    response_body = ''::bytea,
		    in_progress = TRUE,
		    created_at = NOW(),
		    updated_at = NOW()
		WHERE (idempotency_keys.in_progress
		       AND idempotency_keys.request_hash = EXCLUDED.request_hash
		       AND idempotency_keys.updated_at < NOW() - make_interval(secs => $5::float8))
		   OR (NOT idempotency_keys.in_progress
		       AND idempotency_keys.updated_at < NOW() - make_interval(secs => $6::float8))
		RETURNING idempotency_key`,
		arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path,
		arg.StaleAfter.Seconds(), arg.TTL.Seconds()).Scan(&key)
	return key, err
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING `+idempotencyColumns,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash))
}

// ReleaseIdempotencyKey drops an unfinished reservation so the caller may retry.
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM idempotency_keys
		WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress`, key, requestHash)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
