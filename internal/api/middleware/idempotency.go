package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/api/problem"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayHeader         = "X-Idempotent-Replay"

	maxKeyLength = 255
)

var idempotentMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// IdempotencyMiddleware replays stored responses for mutating requests that carry
// an Idempotency-Key. Keys are scoped to the authenticated caller, so it must run
// after AuthMiddleware. Requests without a key pass through untouched.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := idempotentMethods[r.Method]; !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			rawKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case rawKey == "":
				observability.IncrementIdempotencyEvent("missing_key")
				next.ServeHTTP(w, r)
				return
			case len(rawKey) > maxKeyLength:
				problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/invalid-key"), http.StatusText(http.StatusBadRequest), "Idempotency-Key is too long")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
				return
			}

			key := ScopedIdempotencyKey(UserIDFromContext(r.Context()), rawKey)
			reqHash := hashRequest(r.Method, r.URL.Path, body)
			log := logger.With(zap.String("idempotency_key", rawKey), zap.String("request_id", TraceIDFromContext(r.Context())))

			rec, err := store.Lookup(r.Context(), key, reqHash)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				replay(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict), "Idempotency-Key was already used with a different request")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				awaitOriginal(w, r, store, key, reqHash, log)
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				log.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), key, reqHash, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				log.Error("idempotency reserve failed", zap.Error(err))
				problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), http.StatusText(http.StatusServiceUnavailable), "idempotency store unavailable")
				return
			}
			if !reserved {
				awaitOriginal(w, r, store, key, reqHash, log)
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			recorder := &bodyRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)

			contentType := recorder.Header().Get("Content-Type")
			if contentType == "" {
				contentType = "application/json"
			}
			if _, err := store.Finalize(r.Context(), key, reqHash, recorder.statusCode(), recorder.body.Bytes(), contentType); err != nil {
				observability.IncrementIdempotencyEvent("finalize_error")
				log.Warn("idempotency finalize failed", zap.Error(err))
				return
			}
			observability.IncrementIdempotencyEvent("finalized")
		})
	}
}

// awaitOriginal waits for a concurrent request holding the same key and
// replays its response, or reports the key as still in progress.
func awaitOriginal(w http.ResponseWriter, r *http.Request, store *idempotency.Store, key, reqHash string, log *zap.Logger) {
	rec, err := store.WaitForCompletion(r.Context(), key, reqHash)
	if err == nil {
		observability.IncrementIdempotencyEvent("replay_after_wait")
		replay(w, rec)
		return
	}
	if errors.Is(err, idempotency.ErrHashMismatch) {
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), http.StatusText(http.StatusConflict), "Idempotency-Key was already used with a different request")
		return
	}
	observability.IncrementIdempotencyEvent("in_progress_conflict")
	log.Warn("idempotency wait failed", zap.Error(err))
	problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), http.StatusText(http.StatusConflict), "a request with this Idempotency-Key is still being processed")
}

func bufferBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// ScopedIdempotencyKey namespaces a client key by caller so two users cannot
// collide. An empty key stays empty.
func ScopedIdempotencyKey(userID, key string) string {
	key = strings.TrimSpace(key)
	if userID == "" || key == "" {
		return key
	}
	return userID + ":" + key
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
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

func (br *bodyRecorder) statusCode() int {
	if br.status == 0 {
		return http.StatusOK
	}
	return br.status
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(ReplayHeader, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
