package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cyclecal/internal/auth"
	"cyclecal/internal/db"
	"cyclecal/internal/event"
	"cyclecal/internal/model"
	"cyclecal/internal/proxy"
	"cyclecal/internal/rider"
	"cyclecal/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubResults struct {
	regs upstream.Registrations
	err  error
}

func (s stubResults) Registrations(ctx context.Context, d model.Discipline, after time.Time) (upstream.Registrations, error) {
	return s.regs, s.err
}

type stubSource map[string]upstream.SourceEvent

func (s stubSource) EventByURL(ctx context.Context, eventURL string) (upstream.SourceEvent, error) {
	ev, ok := s[eventURL]
	if !ok {
		return upstream.SourceEvent{}, fmt.Errorf("%w: %s", upstream.ErrEventNotFound, eventURL)
	}
	return ev, nil
}

type testServer struct {
	*httptest.Server
	repo   *db.EventRepo
	tokens *auth.TokenAuth
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()

	database, err := db.NewDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.MigrateDB(context.Background(), database.DB, "admin", "adminpw", logger))

	repo, err := db.NewEventRepository(database.DB)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	users, err := db.NewUserRepository(database.DB, logger)
	require.NoError(t, err)

	svc := event.NewService(event.Opts{
		Repo:    repo,
		Results: stubResults{regs: upstream.Registrations{"12345": {"Reggie"}}},
		Source: stubSource{"https://www.bikereg.com/hilly": {
			EventID: 12345, Name: "Hilly Road Race", StartDate: "2025-06-14", City: "Ames", State: "IA",
		}},
		Logger: logger,
	})
	tokens := auth.NewTokenAuth([]byte("test-secret"), time.Hour)

	s := NewServer(Opts{
		Events:         svc,
		Users:          users,
		Tokens:         tokens,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
		RateLimit:      1000,
		RateBurst:      1000,
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, repo: repo, tokens: tokens}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func TestSubmitAndListEvents(t *testing.T) {
	ts := setupServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/submitEvent",
		event.SubmitRequest{URL: "https://www.bikereg.com/hilly", EventType: model.DisciplineRoad}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var result Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.Event)
	assert.Equal(t, "12345", result.Event.ID)

	resp, body = ts.do(t, http.MethodPost, "/api/submitEvent",
		event.SubmitRequest{URL: "https://www.bikereg.com/hilly", EventType: model.DisciplineRoad}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/getEventsByType?type=road", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []model.Event
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "Hilly Road Race", events[0].Name)
}

func TestUpdateAndMoveRider(t *testing.T) {
	ts := setupServer(t)
	ctx := context.Background()
	require.NoError(t, ts.repo.CreateEvent(ctx, model.Event{
		ID: "12345", EventType: model.DisciplineRoad, Name: "Hilly Road Race",
		Date: time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), InterestedRiders: []string{"A"},
	}))

	resp, body := ts.do(t, http.MethodPatch, "/api/updateEvent", model.UpdateEventData{
		EventID: "12345", EventType: model.DisciplineRoad, Description: model.String("meet at 7"),
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/api/moveRider", event.MoveRequest{
		EventID: "12345", EventType: model.DisciplineRoad, From: rider.Interested, To: rider.Committed, Name: "A",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	ev, err := ts.repo.GetEvent(ctx, model.DisciplineRoad, "12345")
	require.NoError(t, err)
	assert.Equal(t, "meet at 7", ev.Description)
	assert.Empty(t, ev.InterestedRiders)
	assert.Equal(t, []string{"A"}, ev.CommittedRiders)

	resp, body = ts.do(t, http.MethodGet, "/api/events/road/12345/riders?after=2025-01-01", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lists RiderListsResponse
	require.NoError(t, json.Unmarshal(body, &lists))
	assert.Equal(t, []string{"Reggie"}, lists.Lists.Names(rider.Registered))
	assert.Equal(t, []string{"A"}, lists.Lists.Names(rider.Committed))
}

func TestErrorMapping(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           any
		expectedStatus int
	}{
		{"Unknown Discipline", http.MethodGet, "/api/getEventsByType?type=bmx", nil, http.StatusBadRequest},
		{"Missing Event", http.MethodGet, "/api/events/road/404", nil, http.StatusNotFound},
		{"Unknown Source URL", http.MethodPost, "/api/submitEvent",
			event.SubmitRequest{URL: "https://www.bikereg.com/nope", EventType: model.DisciplineCX}, http.StatusNotFound},
		{"Bad After", http.MethodGet, "/api/getRegisteredRiders?discipline=road&after=soon", nil, http.StatusBadRequest},
		{"Update Missing Event", http.MethodPatch, "/api/updateEvent",
			model.UpdateEventData{EventID: "1", EventType: model.DisciplineRoad, Description: model.String("x")}, http.StatusNotFound},
		{"Housing Without URL", http.MethodPost, "/api/moveRider", nil, http.StatusUnprocessableEntity},
		{"Cross Pair Move", http.MethodPost, "/api/moveRider", event.MoveRequest{
			EventID: "7", EventType: model.DisciplineSpecial, From: rider.Interested, To: rider.HousingCommitted, Name: "A",
		}, http.StatusBadRequest},
	}

	require.NoError(t, ts.repo.CreateEvent(context.Background(), model.Event{ID: "7", EventType: model.DisciplineSpecial, Name: "Camp"}))
	tests[5].body = event.MoveRequest{
		EventID: "7", EventType: model.DisciplineSpecial, From: rider.HousingInterested, To: rider.HousingCommitted, Name: "A",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			var result Result
			require.NoError(t, json.Unmarshal(body, &result))
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestLoginAndAdminRoutes(t *testing.T) {
	ts := setupServer(t)

	resp, body := ts.do(t, http.MethodPost, "/login", credentials{Username: "admin", Password: "adminpw"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var adminToken tokenResponse
	require.NoError(t, json.Unmarshal(body, &adminToken))

	resp, body = ts.do(t, http.MethodPost, "/signup", credentials{Username: "jane", Password: "pw"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var riderToken tokenResponse
	require.NoError(t, json.Unmarshal(body, &riderToken))

	resp, _ = ts.do(t, http.MethodPost, "/signup", credentials{Username: "jane", Password: "pw"}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/login", credentials{Username: "admin", Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/admin/cache/clear", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/admin/cache/clear", nil, riderToken.Token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/admin/cache/clear", nil, adminToken.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ts.repo.CreateEvent(context.Background(), model.Event{ID: "9", EventType: model.DisciplineXC, Name: "Singletrack"}))
	resp, _ = ts.do(t, http.MethodDelete, "/admin/events/xc/9", nil, adminToken.Token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/admin/events/xc/9", nil, adminToken.Token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cyclecal_http_request_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("lookup: %w", upstream.ErrUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: %w", model.ErrInvalidInput, rider.ErrIllegalMove)))
}

func TestProxyOriginCheckBypassesRouterCORS(t *testing.T) {
	const allowed = "https://calendar.example"
	logger := zap.NewNop()
	s := NewServer(Opts{
		Proxy:          proxy.New(proxy.Config{AllowedOrigins: []string{allowed}}, http.DefaultClient, logger),
		Logger:         logger,
		AllowedOrigins: []string{allowed},
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	tests := []struct {
		name           string
		path           string
		origin         string
		expectedStatus int
	}{
		{"Proxy Preflight Disallowed Origin", "/api/proxy", "https://evil.example", http.StatusForbidden},
		{"Proxy Preflight Allowed Origin", "/api/proxy", allowed, http.StatusNoContent},
		{"API Preflight Allowed Origin", "/api/getEventsByType", allowed, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodOptions, ts.URL+tt.path, nil)
			require.NoError(t, err)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			if tt.expectedStatus != http.StatusForbidden {
				assert.Equal(t, tt.origin, resp.Header.Get("Access-Control-Allow-Origin"))
			}
		})
	}
}
