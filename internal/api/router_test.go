package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/internal/config"
	"github.com/jengzang/trip-planner-go/internal/database"
	"github.com/jengzang/trip-planner-go/internal/models"
	"github.com/jengzang/trip-planner-go/internal/remote"
	"github.com/jengzang/trip-planner-go/internal/repository"
	"github.com/jengzang/trip-planner-go/internal/route"
	"github.com/jengzang/trip-planner-go/internal/service"
	"go.uber.org/zap"
)

type fixedDirections struct{}

func (fixedDirections) Route(_ context.Context, _, _ models.LatLng, waypoints []models.LatLng, _ bool) (*route.DirectionsResult, error) {
	legs := make([]route.DirectionsLeg, len(waypoints)+1)
	for i := range legs {
		legs[i] = route.DirectionsLeg{Duration: 5 * time.Minute, DistanceMeters: 500}
	}
	return &route.DirectionsResult{Legs: legs}, nil
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	t         *testing.T
	router    *gin.Engine
	session   *service.TripSession
	locations *repository.LocationRepository
	backend   *remote.Memory
	tokens    *auth.Tokens
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "api.db")}, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	backend := remote.NewMemory()
	locations := repository.NewLocationRepository(db, nil)
	ctx, cancel := context.WithCancel(context.Background())
	session, err := service.NewTripSession(ctx, service.Dependencies{
		Locations:  locations,
		Trips:      repository.NewTripRepository(db),
		State:      repository.NewStateRepository(db),
		Backend:    backend,
		Directions: fixedDirections{},
	}, service.SessionConfig{
		RouteDebounce: 10 * time.Millisecond,
		RetryDelay:    20 * time.Millisecond,
		Timezone:      time.UTC,
	}, nil)
	if err != nil {
		cancel()
		t.Fatalf("session: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	cfg := &config.Config{Env: "test", RateLimit: 1000, RateLimitWindow: time.Minute}
	return &testServer{
		t:         t,
		router:    SetupRouter(ctx, cfg, session, tokens, zap.NewNop()),
		session:   session,
		locations: locations,
		backend:   backend,
		tokens:    tokens,
	}
}

func (s *testServer) do(method, path string, body interface{}, token string) (int, apiResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func (s *testServer) login(userID string) {
	s.t.Helper()
	token, err := s.tokens.Sign(userID)
	if err != nil {
		s.t.Fatalf("sign: %v", err)
	}
	if code, resp := s.do(http.MethodPost, "/api/v1/session/login", nil, token); code != http.StatusOK {
		s.t.Fatalf("login: %d %+v", code, resp)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestAnonymousLocationsAndRoute(t *testing.T) {
	s := newTestServer(t)

	for i, name := range []string{"Harbor", "Market"} {
		code, resp := s.do(http.MethodPost, "/api/v1/locations", map[string]interface{}{
			"name": name, "latitude": 0.0, "longitude": 0.05 * float64(i), "stay_minutes": 15,
		}, "")
		if code != http.StatusCreated {
			t.Fatalf("create %s: %d %+v", name, code, resp)
		}
		var loc models.Location
		if err := json.Unmarshal(resp.Data, &loc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if loc.StayDuration != 15*time.Minute || loc.Source != models.SourceLocal || loc.UserID != "" {
			t.Fatalf("created = %+v", loc)
		}
	}

	eventually(t, "two visible locations", func() bool {
		code, resp := s.do(http.MethodGet, "/api/v1/locations", nil, "")
		var body struct {
			Total int `json:"total"`
		}
		json.Unmarshal(resp.Data, &body)
		return code == http.StatusOK && body.Total == 2
	})
	eventually(t, "ready route", func() bool {
		_, resp := s.do(http.MethodGet, "/api/v1/route", nil, "")
		var body struct {
			State  string              `json:"state"`
			Result *models.RouteResult `json:"result"`
		}
		json.Unmarshal(resp.Data, &body)
		return body.State == "ready" && body.Result != nil && len(body.Result.Legs) == 1
	})
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
	}{
		{"missing coordinates", http.MethodPost, "/api/v1/locations", map[string]interface{}{"name": "X"}, http.StatusBadRequest},
		{"latitude out of range", http.MethodPost, "/api/v1/locations", map[string]interface{}{"name": "X", "latitude": 95.0, "longitude": 0.0}, http.StatusBadRequest},
		{"bad scheduled date", http.MethodPost, "/api/v1/locations", map[string]interface{}{"name": "X", "latitude": 1.0, "longitude": 1.0, "scheduled_date": "someday"}, http.StatusBadRequest},
		{"bad date", http.MethodPut, "/api/v1/session/date", map[string]interface{}{"date": "31/12/2024"}, http.StatusBadRequest},
		{"zero threshold", http.MethodPut, "/api/v1/session/threshold", map[string]interface{}{"meters": 0}, http.StatusBadRequest},
		{"empty patch", http.MethodPatch, "/api/v1/locations/abc", map[string]interface{}{}, http.StatusBadRequest},
		{"unknown location", http.MethodPatch, "/api/v1/locations/abc", map[string]interface{}{"skipped": true}, http.StatusNotFound},
		{"bad order", http.MethodPut, "/api/v1/locations/order", map[string]interface{}{"ids": []string{"nope"}}, http.StatusBadRequest},
		{"trips need login", http.MethodPost, "/api/v1/trips", map[string]interface{}{"name": "Rome"}, http.StatusUnauthorized},
		{"login needs token", http.MethodPost, "/api/v1/session/login", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(tt.method, tt.path, tt.body, "")
			if code != tt.code {
				t.Fatalf("code = %d, want %d (%+v)", code, tt.code, resp)
			}
		})
	}
}

func TestIssueTokenAndLogin(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(http.MethodPost, "/api/v1/auth/token", map[string]string{"user_id": "alice"}, "")
	if code != http.StatusOK {
		t.Fatalf("token: %d %+v", code, resp)
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Data, &tok); err != nil || tok.Token == "" {
		t.Fatalf("token body = %s", resp.Data)
	}

	code, resp = s.do(http.MethodPost, "/api/v1/session/login", nil, tok.Token)
	if code != http.StatusOK {
		t.Fatalf("login: %d %+v", code, resp)
	}
	var state struct {
		UserID    string `json:"user_id"`
		Anonymous bool   `json:"anonymous"`
	}
	json.Unmarshal(resp.Data, &state)
	if state.UserID != "alice" || state.Anonymous {
		t.Fatalf("state = %+v", state)
	}

	if code, _ := s.do(http.MethodPost, "/api/v1/session/logout", nil, ""); code != http.StatusOK {
		t.Fatalf("logout: %d", code)
	}
	if !s.session.Actor().IsAnonymous() {
		t.Fatal("still logged in")
	}
}

func TestTripFlow(t *testing.T) {
	s := newTestServer(t)
	s.login("owner")

	code, resp := s.do(http.MethodPost, "/api/v1/trips", map[string]string{"name": "Rome"}, "")
	if code != http.StatusCreated {
		t.Fatalf("create trip: %d %+v", code, resp)
	}
	var trip models.Trip
	if err := json.Unmarshal(resp.Data, &trip); err != nil {
		t.Fatalf("decode trip: %v", err)
	}

	if code, resp := s.do(http.MethodPost, "/api/v1/trips/"+trip.ID+"/activate", nil, ""); code != http.StatusOK {
		t.Fatalf("activate: %d %+v", code, resp)
	}
	if code, resp := s.do(http.MethodPut, "/api/v1/trips/"+trip.ID+"/collaborators/bob",
		map[string]string{"permission": "read"}, ""); code != http.StatusOK {
		t.Fatalf("share: %d %+v", code, resp)
	}
	if code, _ := s.do(http.MethodPut, "/api/v1/trips/"+trip.ID+"/collaborators/bob",
		map[string]string{"permission": "admin"}, ""); code != http.StatusBadRequest {
		t.Fatalf("share with unknown permission: %d", code)
	}

	code, resp = s.do(http.MethodPost, "/api/v1/locations", map[string]interface{}{
		"name": "Colosseum", "latitude": 41.8902, "longitude": 12.4922,
	}, "")
	if code != http.StatusCreated {
		t.Fatalf("add: %d %+v", code, resp)
	}
	var loc models.Location
	json.Unmarshal(resp.Data, &loc)
	if loc.TripID == nil || *loc.TripID != trip.ID {
		t.Fatalf("trip id = %v", loc.TripID)
	}

	code, resp = s.do(http.MethodGet, "/api/v1/session", nil, "")
	var state struct {
		ActiveTrip *models.Trip  `json:"active_trip"`
		Flags      models.Access `json:"flags"`
	}
	json.Unmarshal(resp.Data, &state)
	if code != http.StatusOK || state.ActiveTrip == nil || !state.Flags.CanModify {
		t.Fatalf("session = %d %+v", code, state)
	}

	code, resp = s.do(http.MethodGet, "/api/v1/trips", nil, "")
	var list struct {
		Total int `json:"total"`
	}
	json.Unmarshal(resp.Data, &list)
	if code != http.StatusOK || list.Total != 1 {
		t.Fatalf("trips = %d %s", code, resp.Data)
	}

	// Another actor's trip: editing its location is forbidden.
	if err := s.backend.UpsertTrip(context.Background(), models.Trip{ID: "foreign", OwnerID: "carol", Name: "Carol's"}); err != nil {
		t.Fatalf("seed trip: %v", err)
	}
	if code, _ := s.do(http.MethodPost, "/api/v1/trips/foreign/activate", nil, ""); code != http.StatusForbidden {
		t.Fatalf("activate foreign: %d", code)
	}

	if code, _ := s.do(http.MethodDelete, "/api/v1/trips/active", nil, ""); code != http.StatusOK {
		t.Fatalf("deactivate: %d", code)
	}
	if s.session.ActiveTrip() != nil {
		t.Fatal("trip still active")
	}
}

func TestForbiddenLocationEdit(t *testing.T) {
	s := newTestServer(t)

	foreign := models.Location{
		ID: "theirs", Name: "Theirs", Latitude: 1, Longitude: 1,
		AddedAt: time.Now(), StayDuration: time.Hour, UserID: "someone-else",
	}
	if err := s.locations.Put(context.Background(), foreign); err != nil {
		t.Fatalf("put: %v", err)
	}
	if code, _ := s.do(http.MethodPatch, "/api/v1/locations/theirs", map[string]interface{}{"name": "Mine"}, ""); code != http.StatusForbidden {
		t.Fatalf("patch: %d", code)
	}
	if code, _ := s.do(http.MethodDelete, "/api/v1/locations/theirs", nil, ""); code != http.StatusForbidden {
		t.Fatalf("delete: %d", code)
	}
}
