package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/deposit-settlement/internal/api/problem"
	"github.com/ayo6706/deposit-settlement/internal/idempotency"
	"github.com/ayo6706/deposit-settlement/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	IdempotentReplayHeader  = "X-Idempotent-Replay"
	maxIdempotencyKeyLen    = 255
	maxIdempotentBodyLength = 64 << 10
)

// IdempotencyMiddleware makes a mutating route replay its first response for
// a repeated Idempotency-Key. Keys are scoped to the authenticated user.
// Responses with a 5xx status are not stored and the key is released.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := r.Header.Get(IdempotencyKeyHeader)
			switch {
			case clientKey == "":
				observability.IncrementIdempotencyEvent("missing_key")
				idempotencyProblem(w, r, http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				observability.IncrementIdempotencyEvent("invalid_key")
				idempotencyProblem(w, r, http.StatusBadRequest, "idempotency/invalid-key", "Idempotency-Key is too long")
				return
			}
			key := idempotency.ScopedKey(UserIDFromContext(r.Context()), clientKey)

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBodyLength+1))
			if err != nil || len(body) > maxIdempotentBodyLength {
				idempotencyProblem(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			reqHash := hashRequest(r.Method, r.URL.Path, body)

			rec, err := store.Lookup(r.Context(), key, reqHash)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				replay(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				idempotencyProblem(w, r, http.StatusConflict, "idempotency/key-conflict", "Idempotency-Key was already used with a different request")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				waitAndReplay(w, r, store, logger, key, reqHash, "replay_after_wait")
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				logger.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), key, reqHash, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				logger.Error("idempotency reserve failed", zap.Error(err))
				idempotencyProblem(w, r, http.StatusServiceUnavailable, "idempotency/unavailable", "idempotency store unavailable")
				return
			}
			if !reserved {
				waitAndReplay(w, r, store, logger, key, reqHash, "replay_after_reserve")
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			recorder := &bodyRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			settle(r, store, logger, key, reqHash, recorder)
		})
	}
}

// settle stores the handler's response, or releases the key after a 5xx.
func settle(r *http.Request, store *idempotency.Store, logger *zap.Logger, key, reqHash string, rec *bodyRecorder) {
	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}

	if status >= http.StatusInternalServerError {
		if err := store.Release(r.Context(), key, reqHash); err != nil {
			logger.Warn("idempotency release failed", zap.Error(err), zap.String("key", key))
			return
		}
		observability.IncrementIdempotencyEvent("released")
		return
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	if _, err := store.Finalize(r.Context(), key, reqHash, status, rec.body.Bytes(), contentType); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

func waitAndReplay(w http.ResponseWriter, r *http.Request, store *idempotency.Store, logger *zap.Logger, key, reqHash, event string) {
	rec, err := store.WaitForCompletion(r.Context(), key, reqHash)
	if err == nil {
		observability.IncrementIdempotencyEvent(event)
		replay(w, rec)
		return
	}
	if errors.Is(err, idempotency.ErrHashMismatch) {
		observability.IncrementIdempotencyEvent("hash_mismatch")
		idempotencyProblem(w, r, http.StatusConflict, "idempotency/key-conflict", "Idempotency-Key was already used with a different request")
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	logger.Warn("idempotency wait failed", zap.Error(err))
	idempotencyProblem(w, r, http.StatusConflict, "idempotency/in-progress", "a request with this Idempotency-Key is still being processed")
}

func idempotencyProblem(w http.ResponseWriter, r *http.Request, status int, typ, detail string) {
	problem.Write(w, r, status, problem.Type(typ), http.StatusText(status), detail)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type bodyRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	if br.status == 0 {
		br.status = http.StatusOK
	}
	br.body.Write(b)
	return br.ResponseWriter.Write(b)
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(IdempotentReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
