// Package http exposes the storefront REST API, the transcript WebSocket and
// the recorded-audio upload.
package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"voice-commerce-service/internal/observability/logging"
	"voice-commerce-service/internal/observability/metrics"
	"voice-commerce-service/internal/service/catalog"
	"voice-commerce-service/internal/service/stt/whisper"
	"voice-commerce-service/internal/service/voice"
	"voice-commerce-service/internal/store/auth"
	"voice-commerce-service/internal/store/cart"
)

// Transcriber turns an uploaded recording into text. *whisper.Transcriber
// implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType string, size int64, opts whisper.Options) (string, error)
	MaxBytes() int64
}

// Deps are the services behind the API. Transcriber may be nil.
type Deps struct {
	Auth           *auth.Store
	Carts          *cart.Store
	Catalog        *catalog.Catalog
	Voice          *voice.Manager
	Transcriber    Transcriber
	AllowedOrigins []string
}

type api struct {
	Deps
	metrics *metrics.Metrics
	logger  zerolog.Logger
	started time.Time
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	a := &api{
		Deps:    deps,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("http"),
		started: time.Now(),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(cors(deps.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.health)

		r.Post("/register", a.register)
		r.Post("/login", a.login)
		r.Get("/products", a.listProducts)
		r.Post("/transcribe", a.transcribe)
		r.Get("/voice/ws", a.voiceSocket)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Post("/logout", a.logout)
			r.Get("/profile", a.getProfile)
			r.Put("/profile", a.updateProfile)
			r.Put("/change-password", a.changePassword)
			r.Delete("/account", a.deleteAccount)
			r.Get("/validate-session", a.validateSession)
			r.Get("/users", a.listUsers)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", a.getCart)
				r.Delete("/", a.clearCart)
				r.Post("/items", a.addCartItem)
				r.Patch("/items/{productId}", a.updateCartItem)
				r.Delete("/items/{productId}", a.removeCartItem)
			})

			r.Route("/voice/sessions", func(r chi.Router) {
				r.Get("/", a.listVoiceSessions)
				r.Post("/", a.startVoiceSession)
				r.Delete("/{id}", a.stopVoiceSession)
				r.Post("/{id}/events", a.voiceEvent)
			})
		})
	})

	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	whisperStatus := "unavailable"
	if a.Transcriber != nil {
		whisperStatus = "available"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime":         time.Since(a.started).Round(time.Second).String(),
		"whisper":        whisperStatus,
		"products":       a.Catalog.Len(),
		"activeSessions": a.Voice.Active(),
	})
}
