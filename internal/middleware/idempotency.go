package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

// IdempotencyKeyHeader names the client-supplied replay key. The database
// duplicate checks stay authoritative; this cache only short-circuits exact
// replays without re-entering the service layer.
const IdempotencyKeyHeader = "Idempotency-Key"

type cachedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency caches mutating responses in Redis keyed by caller and replay key.
type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewIdempotency builds the cache middleware. A nil client disables it.
func NewIdempotency(client *redis.Client, ttl time.Duration, log *logger.Logger) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.NewDefault("idempotency")
	}
	return &Idempotency{client: client, ttl: ttl, log: log}
}

// Handler returns the idempotency middleware handler.
func (i *Idempotency) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if i.client == nil || key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
			next.ServeHTTP(w, r)
			return
		}

		cacheKey := "idem:" + GetUserID(r.Context()) + ":" + r.Method + ":" + r.URL.Path + ":" + key

		if raw, err := i.client.Get(r.Context(), cacheKey).Bytes(); err == nil {
			var cached cachedResponse
			if json.Unmarshal(raw, &cached) == nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotent-Replay", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}
		} else if err != redis.Nil {
			// Cache unavailable. Process normally; the duplicate check in the
			// service layer still guarantees at-most-once semantics.
			i.log.WithError(err).Debug("idempotency cache unavailable")
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Only cache settled outcomes. Server errors may succeed on retry.
		if rec.status < http.StatusInternalServerError {
			raw, err := json.Marshal(cachedResponse{Status: rec.status, Body: rec.body.Bytes()})
			if err == nil {
				if err := i.client.Set(r.Context(), cacheKey, raw, i.ttl).Err(); err != nil {
					i.log.WithError(err).Debug("idempotency cache write failed")
				}
			}
		}
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
