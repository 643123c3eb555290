package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"github.com/angelmondragon/chataccess/api/responses"
	pkgAuth "github.com/angelmondragon/chataccess/pkg/auth"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/logger"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader marks a response served from a stored record.
	IdempotentReplayHeader = "Idempotent-Replay"

	defaultActionReplayTTL = 24 * time.Hour
	// actionReservationTTL bounds how long a crashed handler can hold a key.
	actionReservationTTL = 2 * time.Minute
	maxIdempotencyKeyLen = 128
)

// ReplayStore persists action responses keyed by idempotency key.
type ReplayStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type idempotencyRecord struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	Status      int    `json:"status,omitempty"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response when an admin action is retried
// with the same Idempotency-Key, so a retried bulk decision does not queue a
// second round of emails. The key is reserved before the handler runs and a
// concurrent retry gets 409 until the first attempt finishes. Requests
// without the header run normally. Server errors release the key so the
// action may be retried.
func Idempotency(store ReplayStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultActionReplayTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if store == nil || idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(idemKey) > maxIdempotencyKeyLen {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Field("Idempotency-Key", "must be at most 128 characters"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashRequest(body)
			key := store.IdempotencyKey(actionScope(r), idemKey)

			reservation, err := json.Marshal(idempotencyRecord{InFlight: true, RequestHash: requestHash})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency reservation"))
				return
			}
			acquired, err := store.SetNX(r.Context(), key, string(reservation), actionReservationTTL)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Dependency(err, "reserve idempotency key"))
				return
			}
			if !acquired {
				replayExisting(w, r, store, key, requestHash, logg)
				return
			}

			completed := false
			defer func() {
				if completed {
					return
				}
				if err := store.Del(context.WithoutCancel(r.Context()), key); err != nil {
					logIdempotencyError(r.Context(), logg, "release idempotency key", err)
				}
			}()

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				ContentType: rec.Header().Get("Content-Type"),
				RequestHash: requestHash,
			})
			if err != nil {
				logIdempotencyError(r.Context(), logg, "encode idempotency record", err)
				return
			}
			if err := store.Set(context.WithoutCancel(r.Context()), key, string(payload), ttl); err != nil {
				logIdempotencyError(r.Context(), logg, "store idempotency record", err)
				return
			}
			completed = true
		})
	}
}

// replayExisting answers a request whose key is already held: a finished
// record is replayed, anything else is a conflict.
func replayExisting(w http.ResponseWriter, r *http.Request, store ReplayStore, key, requestHash string, logg *logger.Logger) {
	stored, err := store.Get(r.Context(), key)
	switch {
	case errors.Is(err, goredis.Nil):
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key is being released, retry"))
		return
	case err != nil:
		responses.WriteError(r.Context(), logg, w, pkgerrors.Dependency(err, "check idempotency key"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with a different request"))
	case record.InFlight:
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is in progress"))
	default:
		writeStoredResponse(w, record)
	}
}

// actionScope keeps keys from different operators and targets apart.
func actionScope(r *http.Request) string {
	operator := "anonymous"
	if op, ok := pkgAuth.OperatorFrom(r.Context()); ok {
		operator = op.ID
	}
	return strings.Join([]string{"actions", operator, r.Method, r.URL.Path}, "|")
}

func hashRequest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func writeStoredResponse(w http.ResponseWriter, record idempotencyRecord) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logIdempotencyError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
