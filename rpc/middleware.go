package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"htlcchain/crypto"
	"htlcchain/observability"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "rpc.request_id"

	requestIDHeader = "X-Request-ID"
	visitorIdleTTL  = 5 * time.Minute
	jwtClockSkew    = 2 * time.Minute
)

// requestIDMiddleware tags every request with a uuid, reusing a well-formed
// incoming X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client source.
type rateLimiter struct {
	limit     rate.Limit
	burst     int
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	clockNow  func() time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

func (l *rateLimiter) allow(source string) bool {
	if l == nil {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	now := l.clockNow()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > visitorIdleTTL {
		for id, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(l.visitors, id)
			}
		}
		l.lastSweep = now
	}
	v, ok := l.visitors[source]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *rateLimiter) middleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientSource(r, trustProxy)) {
				observability.RPC().RecordThrottle("rate_limit")
				w.Header().Set("Content-Type", "application/json")
				writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientSource(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
			if parsed := net.ParseIP(candidate); parsed != nil {
				return parsed.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// principal identifies an authenticated RPC caller. Account is set when a JWT
// subject names an address; such callers may only act for that account.
type principal struct {
	account *[20]byte
}

func (p principal) mayActFor(addr [20]byte) bool {
	return p.account == nil || *p.account == addr
}

type authenticator struct {
	token  string
	secret []byte
	issuer string
}

func (a *authenticator) enabled() bool {
	return a != nil && (a.token != "" || len(a.secret) > 0)
}

func extractBearer(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (a *authenticator) authenticate(r *http.Request) (principal, *RPCError) {
	if !a.enabled() {
		return principal{}, &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return principal{}, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	token := extractBearer(header)
	if token == "" {
		return principal{}, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1 {
		return principal{}, nil
	}
	if len(a.secret) == 0 {
		return principal{}, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	p, err := a.parseJWT(token)
	if err != nil {
		return principal{}, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	return p, nil
}

func (a *authenticator) parseJWT(tokenString string) (principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(jwtClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return principal{}, err
	}
	subject, err := token.Claims.GetSubject()
	if err != nil {
		return principal{}, err
	}
	if strings.TrimSpace(subject) == "" {
		return principal{}, nil
	}
	addr, err := crypto.ParseAccount(subject)
	if err != nil {
		return principal{}, err
	}
	return principal{account: &addr}, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
