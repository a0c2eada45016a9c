// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/club-directory/internal/auth"
	"github.com/Shivanand-hulikatti/club-directory/internal/domainerr"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
	"github.com/Shivanand-hulikatti/club-directory/internal/service"
)

// ClubHandler holds all HTTP handlers for the club directory API.
type ClubHandler struct {
	clubs   *service.ClubService
	reviews *service.ReviewService
	logger  *slog.Logger
}

// NewClubHandler constructs a ClubHandler.
func NewClubHandler(clubs *service.ClubService, reviews *service.ReviewService, logger *slog.Logger) *ClubHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClubHandler{clubs: clubs, reviews: reviews, logger: logger}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError matches auth.ErrorWriter.
func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, model.ErrorResponse{Error: code, Description: description})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

var statusByCode = map[domainerr.Code]int{
	domainerr.CodeValidation:             http.StatusBadRequest,
	domainerr.CodeNotFound:               http.StatusNotFound,
	domainerr.CodeNotFoundOrUnauthorized: http.StatusNotFound,
	domainerr.CodeAlreadyMember:          http.StatusConflict,
	domainerr.CodeNotMember:              http.StatusConflict,
	domainerr.CodeClubFull:               http.StatusConflict,
	domainerr.CodeUnauthorized:           http.StatusUnauthorized,
	domainerr.CodeForbidden:              http.StatusForbidden,
	domainerr.CodeStoreUnavailable:       http.StatusServiceUnavailable,
	domainerr.CodeInternal:               http.StatusInternalServerError,
}

// writeDomainError maps a service error onto the JSON envelope. Internal
// failures never expose their cause.
func (h *ClubHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domainerr.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	var de *domainerr.Error
	description := ""
	if code != domainerr.CodeInternal && errors.As(err, &de) {
		description = de.Message
	}
	if code == domainerr.CodeStoreUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"code", string(code),
			"error", err,
		)
	}
	writeError(w, status, string(code), description)
}

// writeSeq drains seq into a JSON array. An empty result is [] rather than null.
func writeSeq[T, V any](h *ClubHandler, w http.ResponseWriter, r *http.Request, seq iter.Seq2[T, error], view func(T) V) {
	out := []V{}
	for v, err := range seq {
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		out = append(out, view(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func identity(r *http.Request) model.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func clubView(c model.Club) model.ClubView { return c.View() }

func same[T any](v T) T { return v }

// ─── Club handlers ────────────────────────────────────────────────────────────

// CreateClub handles POST /api/clubs
func (h *ClubHandler) CreateClub(w http.ResponseWriter, r *http.Request) {
	var req model.CreateClubRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(domainerr.CodeValidation), "invalid request body: "+err.Error())
		return
	}

	club, err := h.clubs.CreateClub(r.Context(), identity(r).ID, req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, club.View())
}

// ListClubs handles GET /api/clubs?name=&category=&organizer=
func (h *ClubHandler) ListClubs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ClubFilter{
		Name:      q.Get("name"),
		Category:  q.Get("category"),
		Organizer: q.Get("organizer"),
	}
	writeSeq(h, w, r, h.clubs.ListClubs(r.Context(), filter), clubView)
}

// ListOrganizerClubs handles GET /api/clubs/mine
func (h *ClubHandler) ListOrganizerClubs(w http.ResponseWriter, r *http.Request) {
	writeSeq(h, w, r, h.clubs.ListOrganizerClubs(r.Context(), identity(r).ID), clubView)
}

// ListJoinedClubs handles GET /api/clubs/joined
func (h *ClubHandler) ListJoinedClubs(w http.ResponseWriter, r *http.Request) {
	writeSeq(h, w, r, h.clubs.ListJoinedClubs(r.Context(), identity(r)), clubView)
}

// GetClub handles GET /api/clubs/{id}
func (h *ClubHandler) GetClub(w http.ResponseWriter, r *http.Request) {
	club, err := h.clubs.GetClub(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, club.View())
}

// JoinClub handles POST /api/clubs/{id}/join
// Capacity and duplicate checks are enforced atomically by the store.
func (h *ClubHandler) JoinClub(w http.ResponseWriter, r *http.Request) {
	club, err := h.clubs.JoinClub(r.Context(), chi.URLParam(r, "id"), identity(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, club.View())
}

// LeaveClub handles POST /api/clubs/{id}/leave
func (h *ClubHandler) LeaveClub(w http.ResponseWriter, r *http.Request) {
	club, err := h.clubs.LeaveClub(r.Context(), chi.URLParam(r, "id"), identity(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, club.View())
}

// UpdateCurrentBook handles PATCH /api/clubs/{id}/book
func (h *ClubHandler) UpdateCurrentBook(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(domainerr.CodeValidation), "invalid request body: "+err.Error())
		return
	}

	book, err := h.clubs.UpdateCurrentBook(r.Context(), chi.URLParam(r, "id"), identity(r).ID, req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// ─── Review handlers ──────────────────────────────────────────────────────────

// UpsertReview handles POST /api/reviews
// Responds 201 when the review was created and 200 when it replaced one.
func (h *ClubHandler) UpsertReview(w http.ResponseWriter, r *http.Request) {
	var req model.ReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(domainerr.CodeValidation), "invalid request body: "+err.Error())
		return
	}

	review, created, err := h.reviews.UpsertReview(r.Context(), req.ClubID, identity(r), req.Rating, req.Comment)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, review)
}

// ListReviews handles GET /api/clubs/{id}/reviews
func (h *ClubHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	writeSeq(h, w, r, h.reviews.ListReviews(r.Context(), chi.URLParam(r, "id")), same[model.Review])
}

// AverageRating handles GET /api/clubs/{id}/rating
// average is null when the club has no reviews.
func (h *ClubHandler) AverageRating(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reviews.AverageRating(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func (h *ClubHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.clubs.Health(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
