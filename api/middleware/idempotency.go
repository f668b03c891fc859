package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/loyaltyhub-backend/api/responses"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/angelmondragon/loyaltyhub-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/loyaltyhub-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inflightTTL            = 30 * time.Second
)

// replayPolicy names the POST routes that require an Idempotency-Key and how
// long their responses are replayable. Patterns use chi syntax; a segment
// written as "{...}" matches any single path segment.
var replayPolicy = []struct {
	pattern string
	ttl     time.Duration
}{
	{"/api/orders", defaultIdempotencyTTL},
	{"/api/orders/{orderNumber}/pay", defaultIdempotencyTTL},
	{"/api/groups", defaultIdempotencyTTL},
	{"/api/groups/{groupID}/pay", defaultIdempotencyTTL},
	{"/api/admin/activities", defaultIdempotencyTTL},
	{"/api/orders/{orderID}/cancel", criticalIdempotencyTTL},
	{"/api/groups/{groupID}/join", criticalIdempotencyTTL},
	{"/api/groups/{groupID}/cancel", criticalIdempotencyTTL},
	{"/api/merchant/verifications", criticalIdempotencyTTL},
	{"/api/admin/vouchers/grant", criticalIdempotencyTTL},
}

type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// replayLog keeps one stored response per (actor, route, key) plus a short
// in-flight marker so concurrent duplicates cannot both reach the handler.
type replayLog struct {
	store pkgredis.IdempotencyStore
}

func (l replayLog) lookup(ctx context.Context, key string) (*storedResponse, error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out storedResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (l replayLog) reserve(ctx context.Context, key string) (bool, error) {
	return l.store.SetNX(ctx, key+":inflight", "1", inflightTTL)
}

func (l replayLog) release(ctx context.Context, key string) error {
	return l.store.Del(ctx, key+":inflight")
}

func (l replayLog) commit(ctx context.Context, key string, resp storedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = l.store.SetNX(ctx, key, string(payload), ttl)
	return err
}

// Idempotency replays the first response recorded for an Idempotency-Key on
// the routes in replayPolicy. A key reused with a different body is a
// conflict. Server errors are not recorded so the client may retry them.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		log := replayLog{store: store}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ttl, ok := routeTTL(r.Method, routePattern(r))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(actorScope(r), clientKey)

			prior, err := log.lookup(ctx, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
				return
			}
			if prior != nil {
				if prior.Fingerprint != fingerprint {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with different request body"))
					return
				}
				prior.writeTo(w)
				return
			}

			reserved, err := log.reserve(ctx, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeTooFrequent, "request with this Idempotency-Key is still in progress"))
				return
			}
			defer func() {
				if err := log.release(context.WithoutCancel(ctx), key); err != nil {
					logg.Error(ctx, "idempotency.release_failed", err)
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if capture.statusCode() >= http.StatusInternalServerError {
				return
			}
			resp := storedResponse{
				Fingerprint: fingerprint,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			if err := log.commit(context.WithoutCancel(ctx), key, resp, ttl); err != nil {
				logg.Error(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

func (s *storedResponse) writeTo(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// actorScope keys records per caller and request target so two users can
// reuse the same client key.
func actorScope(r *http.Request) string {
	return strings.Join([]string{
		UserIDFromContext(r.Context()),
		MerchantIDFromContext(r.Context()),
		r.Method,
		r.URL.Path,
	}, "|")
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// routePattern prefers the matched chi pattern. Middleware mounted with Use
// runs before a sub-router resolves, so a pattern still ending in a wildcard
// falls back to the raw path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" && !strings.HasSuffix(p, "*") {
			return p
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if method != http.MethodPost || pattern == "" {
		return 0, false
	}
	for _, rule := range replayPolicy {
		if segmentsMatch(rule.pattern, pattern) {
			return rule.ttl, true
		}
	}
	return 0, false
}

func segmentsMatch(rule, target string) bool {
	want := strings.Split(strings.Trim(rule, "/"), "/")
	got := strings.Split(strings.Trim(target, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && got[i] != "" {
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
