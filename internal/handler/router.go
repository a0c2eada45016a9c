package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/club-directory/internal/auth"
	"github.com/Shivanand-hulikatti/club-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
	"github.com/Shivanand-hulikatti/club-directory/internal/service"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Clubs          *service.ClubService
	Reviews        *service.ReviewService
	Tokens         auth.TokenValidator
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	RequestTimeout time.Duration
	CORSOrigins    []string
	WriteLimiter   *IPRateLimiter
}

// NewRouter builds the chi router with middleware and all API routes.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewClubHandler(cfg.Clubs, cfg.Reviews, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(logger))
	r.Use(Metrics(cfg.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	r.Get("/health", h.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	requireAuth := auth.RequireAuth(cfg.Tokens, logger, writeError)
	limitWrites := RateLimit(cfg.WriteLimiter)

	r.Route("/api", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}

		r.Get("/clubs", h.ListClubs)
		r.Get("/clubs/{id}", h.GetClub)
		r.Get("/clubs/{id}/reviews", h.ListReviews)
		r.Get("/clubs/{id}/rating", h.AverageRating)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(auth.RequireRole(writeError, model.RoleOrganizer))

			r.Get("/clubs/mine", h.ListOrganizerClubs)
			r.With(limitWrites).Post("/clubs", h.CreateClub)
			r.With(limitWrites).Patch("/clubs/{id}/book", h.UpdateCurrentBook)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(auth.RequireRole(writeError, model.RoleMember))

			r.Get("/clubs/joined", h.ListJoinedClubs)
			r.With(limitWrites).Post("/clubs/{id}/join", h.JoinClub)
			r.With(limitWrites).Post("/clubs/{id}/leave", h.LeaveClub)
			r.With(limitWrites).Post("/reviews", h.UpsertReview)
		})
	})

	return r
}
