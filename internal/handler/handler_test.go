package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/club-directory/internal/auth"
	"github.com/Shivanand-hulikatti/club-directory/internal/metrics"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
	"github.com/Shivanand-hulikatti/club-directory/internal/repository"
	"github.com/Shivanand-hulikatti/club-directory/internal/service"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
	tokens  *auth.JWTService
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T, limiter *IPRateLimiter) *testServer {
	t.Helper()

	users := repository.NewInMemoryUserStore(
		model.Identity{ID: "org-1", Username: "margaret", Role: model.RoleOrganizer},
		model.Identity{ID: "org-2", Username: "octavia", Role: model.RoleOrganizer},
		model.Identity{ID: "m-1", Username: "alice", Role: model.RoleMember},
		model.Identity{ID: "m-2", Username: "bob", Role: model.RoleMember},
	)
	clubs := repository.NewInMemoryClubStore()
	logger := slog.New(slog.DiscardHandler)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tokens := auth.NewJWTService("handler-test-key", "club-directory")

	opts := []service.Option{service.WithLogger(logger), service.WithMetrics(m)}
	return &testServer{
		t: t,
		handler: NewRouter(RouterConfig{
			Clubs:          service.NewClubService(clubs, users, opts...),
			Reviews:        service.NewReviewService(repository.NewInMemoryReviewStore(clubs), users, opts...),
			Tokens:         tokens,
			Logger:         logger,
			Metrics:        m,
			MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			RequestTimeout: time.Second,
			CORSOrigins:    []string{"https://books.example"},
			WriteLimiter:   limiter,
		}),
		tokens:  tokens,
		metrics: m,
	}
}

func (s *testServer) token(id model.UserID, role model.Role) string {
	tok, err := s.tokens.GenerateToken(model.Identity{ID: id, Role: role}, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createClub(token string, capacity int) model.ClubView {
	rec := s.do(http.MethodPost, "/api/clubs", token, model.CreateClubRequest{
		Name: "Night Readers", Description: "Late fiction", Category: "Fiction", MaxCapacity: capacity,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.ClubView](s.t, rec)
}

func TestClubLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	org := s.token("org-1", model.RoleOrganizer)
	alice := s.token("m-1", model.RoleMember)
	bob := s.token("m-2", model.RoleMember)

	club := s.createClub(org, 1)
	assert.Equal(t, "margaret", club.OrganizerName)
	assert.Equal(t, 1, club.OpenSpots)

	rec := s.do(http.MethodPost, "/api/clubs/"+club.ID+"/join", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[model.ClubView](t, rec).OpenSpots)

	rec = s.do(http.MethodPost, "/api/clubs/"+club.ID+"/join", bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "club_full", decode[model.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/clubs/"+club.ID+"/join", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_member", decode[model.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/api/clubs/joined", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ClubView](t, rec), 1)

	rec = s.do(http.MethodPost, "/api/clubs/"+club.ID+"/leave", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/clubs/"+club.ID+"/leave", alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_member", decode[model.ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/api/clubs/mine", org, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ClubView](t, rec), 1)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, nil)
	org := s.token("org-1", model.RoleOrganizer)
	member := s.token("m-1", model.RoleMember)
	body := model.CreateClubRequest{Name: "n", Description: "d", Category: "c", MaxCapacity: 2}

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/clubs", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/clubs", "garbage", body).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/clubs", member, body).Code)

	club := s.createClub(org, 2)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/clubs/"+club.ID+"/join", org, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, "/api/clubs/"+club.ID+"/book", member,
		model.UpdateBookRequest{Title: "t", Author: "a"}).Code)
}

func TestListAndGet(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/clubs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	club := s.createClub(s.token("org-1", model.RoleOrganizer), 3)

	rec = s.do(http.MethodGet, "/api/clubs?organizer=MARG&name=night", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ClubView](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/clubs?organizer=nobody", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/clubs/"+club.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, club.ID, decode[model.ClubView](t, rec).ID)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		rec = s.do(http.MethodGet, "/api/clubs/"+id, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decode[model.ErrorResponse](t, rec).Error)
	}
}

func TestCreateClubValidation(t *testing.T) {
	s := newTestServer(t, nil)
	org := s.token("org-1", model.RoleOrganizer)

	rec := s.do(http.MethodPost, "/api/clubs", org, model.CreateClubRequest{Name: "n", Description: "d", Category: "c"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[model.ErrorResponse](t, rec)
	assert.Equal(t, "validation_error", resp.Error)
	assert.Contains(t, resp.Description, "max_capacity")

	rec = s.do(http.MethodPost, "/api/clubs", org, `{"name":"n","surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/clubs", org, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCurrentBook(t *testing.T) {
	s := newTestServer(t, nil)
	club := s.createClub(s.token("org-1", model.RoleOrganizer), 3)
	book := model.UpdateBookRequest{Title: "Kindred", Author: "Octavia Butler"}

	rec := s.do(http.MethodPatch, "/api/clubs/"+club.ID+"/book", s.token("org-1", model.RoleOrganizer), book)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"title":"Kindred","author":"Octavia Butler"}`, rec.Body.String())

	rec = s.do(http.MethodPatch, "/api/clubs/"+club.ID+"/book", s.token("org-2", model.RoleOrganizer), book)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_or_unauthorized", decode[model.ErrorResponse](t, rec).Error)
}

func TestReviews(t *testing.T) {
	s := newTestServer(t, nil)
	club := s.createClub(s.token("org-1", model.RoleOrganizer), 3)
	alice := s.token("m-1", model.RoleMember)

	rec := s.do(http.MethodGet, "/api/clubs/"+club.ID+"/rating", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"club_id":"`+club.ID+`","count":0,"average":null}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/reviews", alice, model.ReviewRequest{ClubID: club.ID, Rating: 4, Comment: "good"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/reviews", alice, model.ReviewRequest{ClubID: club.ID, Rating: 2, Comment: "meh"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[model.Review](t, rec).UserName)

	rec = s.do(http.MethodGet, "/api/clubs/"+club.ID+"/rating", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[model.RatingSummary](t, rec)
	assert.Equal(t, 1, summary.Count)
	require.NotNil(t, summary.Average)
	assert.InDelta(t, 2.0, *summary.Average, 1e-9)

	rec = s.do(http.MethodGet, "/api/clubs/"+club.ID+"/reviews", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Review](t, rec), 1)

	for _, rating := range []int{0, 6} {
		rec = s.do(http.MethodPost, "/api/reviews", alice, model.ReviewRequest{ClubID: club.ID, Rating: rating, Comment: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "rating %d", rating)
	}

	rec = s.do(http.MethodPost, "/api/reviews", alice, model.ReviewRequest{ClubID: uuid.NewString(), Rating: 3, Comment: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitOnWrites(t *testing.T) {
	s := newTestServer(t, NewIPRateLimiter(0.001, 1))
	org := s.token("org-1", model.RoleOrganizer)

	s.createClub(org, 2)
	rec := s.do(http.MethodPost, "/api/clubs", org, model.CreateClubRequest{Name: "n", Description: "d", Category: "c", MaxCapacity: 2})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/clubs", "", nil).Code, "reads are not limited")
}

func TestHealthMetricsAndCORS(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.do(http.MethodGet, "/api/clubs/"+uuid.NewString(), "", nil)
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.HTTPRequests.WithLabelValues("GET", "/api/clubs/{id}", "4xx")))

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clubdir_http_requests_total")

	req := httptest.NewRequest(http.MethodOptions, "/api/clubs", nil)
	req.Header.Set("Origin", "https://books.example")
	out := httptest.NewRecorder()
	s.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusNoContent, out.Code)
	assert.Equal(t, "https://books.example", out.Header().Get("Access-Control-Allow-Origin"))
}

type downStore struct{ service.ClubStore }

func (downStore) Ping(ctx context.Context) error {
	return fmt.Errorf("ping: %w", repository.ErrStoreUnavailable)
}

func TestHealthUnavailable(t *testing.T) {
	h := NewClubHandler(service.NewClubService(downStore{}, repository.NewInMemoryUserStore()), nil, slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
