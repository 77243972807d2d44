package httpd

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/repository"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type ctxKey int

const actorKey ctxKey = iota

func withActor(ctx context.Context, a access.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

func actorFrom(ctx context.Context) (access.Actor, bool) {
	a, ok := ctx.Value(actorKey).(access.Actor)
	return a, ok
}

type SigConfig struct {
	Secret        string
	MaxAgeSeconds int64
}

// SignatureMiddleware authenticates collaborator services. The signature is
// hex(HMAC-SHA256(body + "." + X-Timestamp)); the caller is named by
// X-Client-Id.
func SignatureMiddleware(cfg SigConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ts := r.Header.Get("X-Timestamp")
			sig := r.Header.Get("X-Signature")

			if ts == "" || sig == "" {
				http.Error(w, "missing signature headers", http.StatusUnauthorized)
				return
			}

			tsInt, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				http.Error(w, "invalid timestamp", http.StatusUnauthorized)
				return
			}

			age := time.Now().Unix() - tsInt
			if cfg.MaxAgeSeconds > 0 && (age > cfg.MaxAgeSeconds || -age > cfg.MaxAgeSeconds) {
				http.Error(w, "signature expired", http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "read body error", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			if !hmac.Equal([]byte(Sign(cfg.Secret, bodyBytes, ts)), []byte(sig)) {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			client := r.Header.Get("X-Client-Id")
			if client == "" {
				client = "collaborator"
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), access.System(client))))
		}
		return http.HandlerFunc(fn)
	}
}

// Sign computes the X-Signature value for body sent at ts.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("." + ts))
	return hex.EncodeToString(mac.Sum(nil))
}

type JWTConfig struct {
	Secret string
}

// ActorClaims is the bearer token payload. Tokens are minted by the
// platform's auth service.
type ActorClaims struct {
	Role     string `json:"role"`
	SellerID string `json:"sellerId,omitempty"`
	jwt.RegisteredClaims
}

// ActorMiddleware resolves the calling admin, finance user or seller from an
// HMAC-signed bearer token.
func ActorMiddleware(cfg JWTConfig) func(next http.Handler) http.Handler {
	secret := []byte(cfg.Secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			parts := strings.Fields(auth)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			var claims ActorClaims
			token, err := jwt.ParseWithClaims(parts[1], &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			actor, err := claims.actor()
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

func (c ActorClaims) actor() (access.Actor, error) {
	if c.Subject == "" {
		return access.Actor{}, fmt.Errorf("token has no subject")
	}
	role := access.Role(c.Role)
	switch role {
	case access.RoleAdmin, access.RoleFinance:
	case access.RoleSeller:
		if c.SellerID == "" {
			return access.Actor{}, fmt.Errorf("seller token has no sellerId")
		}
	default:
		return access.Actor{}, fmt.Errorf("role %q not accepted", c.Role)
	}
	return access.Actor{ID: c.Subject, Role: role, SellerID: c.SellerID}, nil
}

type idempotencyStore interface {
	GetIdempotentResponse(ctx context.Context, key, actorID string) (repository.IdempotentResponse, bool, error)
	SaveIdempotentResponse(ctx context.Context, key, actorID string, resp repository.IdempotentResponse, at time.Time) error
}

// Idempotency replays the stored response when an actor repeats an
// Idempotency-Key. Requests without the header run normally. Server errors
// are not stored, so those can be retried with the same key.
func Idempotency(store idempotencyStore) func(next http.Handler) http.Handler {
	var inflight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				writeError(w, r, &apiErr{Status: http.StatusBadRequest, Msg: "Idempotency-Key too long"})
				return
			}
			actor, ok := actorFrom(r.Context())
			if !ok {
				writeError(w, r, &apiErr{Status: http.StatusUnauthorized, Msg: "unauthenticated"})
				return
			}

			slot := actor.ID + "\x00" + key
			if _, busy := inflight.LoadOrStore(slot, struct{}{}); busy {
				writeError(w, r, &apiErr{Status: http.StatusConflict, Msg: "a request with this Idempotency-Key is in progress"})
				return
			}
			defer inflight.Delete(slot)

			stored, found, err := store.GetIdempotentResponse(r.Context(), key, actor.ID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if found {
				if stored.Method != r.Method || stored.Path != r.URL.Path {
					writeError(w, r, &apiErr{Status: http.StatusUnprocessableEntity, Msg: "Idempotency-Key reused for a different request"})
					return
				}
				slog.Info("idempotency hit", "key", key, "actor", actor.ID)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Hit", "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}

			resp := repository.IdempotentResponse{
				Method: r.Method,
				Path:   r.URL.Path,
				Status: status,
				Body:   buf.Bytes(),
			}
			if err := store.SaveIdempotentResponse(r.Context(), key, actor.ID, resp, time.Now()); err != nil {
				slog.Error("save idempotency key", "key", key, "actor", actor.ID, "error", err)
			}
		})
	}
}

type actorLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter keeps one token bucket per actor.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*actorLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

// NewRateLimiter allows rps sustained requests per actor. rps <= 0 disables
// limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*actorLimiter),
		limit:     limit,
		burst:     burst,
		idle:      30 * time.Minute,
		lastSweep: time.Now(),
	}
}

func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > 5*time.Minute {
		for k, al := range l.limiters {
			if now.Sub(al.last) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	al, ok := l.limiters[key]
	if !ok {
		al = &actorLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = al
	}
	al.last = now
	return al.limiter.AllowN(now, 1)
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if a, ok := actorFrom(r.Context()); ok {
			key = a.ID
		}
		if !l.Allow(key) {
			writeError(w, r, &apiErr{Status: http.StatusTooManyRequests, Msg: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger writes one structured line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_ip", r.RemoteAddr,
		)
	})
}
