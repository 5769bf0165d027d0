package http

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"voice-commerce-service/internal/store/auth"
)

type ctxKey int

const (
	userKey ctxKey = iota
	tokenKey
)

func userFrom(ctx context.Context) auth.User {
	u, _ := ctx.Value(userKey).(auth.User)
	return u
}

func tokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

// authenticate resolves the request's session token. The WebSocket route
// also accepts ?token= because browsers cannot set headers on upgrades.
func (a *api) authenticate(r *http.Request, allowQuery bool) (auth.User, string, int, string) {
	token := bearerToken(r)
	if token == "" && allowQuery {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return auth.User{}, "", http.StatusUnauthorized, "No token provided"
	}
	user, err := a.Auth.ValidateSession(token)
	if err != nil {
		return auth.User{}, "", http.StatusUnauthorized, "Invalid or expired token"
	}
	return user, token, 0, ""
}

func (a *api) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, token, status, msg := a.authenticate(r, false)
		if status != 0 {
			writeError(w, status, msg)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each request and records its metrics against the
// matched route pattern.
func (a *api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		a.metrics.RecordHTTPRequest(r.Method, route, status, duration.Seconds())

		ev := a.logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = a.logger.Error()
		}
		ev.Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

func (a *api) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Handler panic")
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// cors allows the listed origins; "*" allows any.
func cors(allowed []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowed, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || slices.Contains(allowed, origin)) {
				h := w.Header()
				if wildcard {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}
