package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RouterOptions configures the outer HTTP surface.
type RouterOptions struct {
	AdminUser     string
	AdminPassword string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter wires every route onto a chi router.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/availability", h.PatientAvailability)
		r.Get("/availability/{duration}", h.AvailabilityForDuration)
		r.Post("/bookings", h.BookSession)
		r.Get("/bookings/{bookingID}/wait", h.WaitForBooking)

		r.Route("/admin", func(r chi.Router) {
			if opts.AdminUser != "" {
				r.Use(middleware.BasicAuth("therapycal", map[string]string{opts.AdminUser: opts.AdminPassword}))
			}
			r.Get("/availability", h.AdminAvailability)
			r.Post("/slots", h.AddSlot)
			r.Delete("/slots", h.RemoveSlot)
			r.Post("/blocks", h.BlockSlot)
			r.Delete("/blocks", h.UnblockSlot)
			r.Post("/days/block", h.BlockDay)
			r.Post("/days/modify", h.ModifyDay)
			r.Post("/vacations", h.BlockVacation)
			r.Post("/extra", h.AddExtra)
			r.Delete("/markers/{eventID}", h.RemoveMarker)
		})
	})
	return r
}

// requestLogger emits structured logs for every HTTP request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", reqID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
