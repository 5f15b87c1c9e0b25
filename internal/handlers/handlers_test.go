package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/middleware"
	"github.com/usefultools/backend/internal/models"
	"github.com/usefultools/backend/internal/services"
	"github.com/usefultools/backend/internal/storage"
)

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

type testServer struct {
	router     *chi.Mux
	store      *storage.JSONStore
	failWrites *atomic.Bool
}

// flakyStore fails writes while fail is set.
type flakyStore struct {
	*storage.JSONStore
	fail *atomic.Bool
}

func (s flakyStore) Write(ctx context.Context, path string, v interface{}) error {
	if s.fail.Load() {
		return errors.New("permission denied")
	}
	return s.JSONStore.Write(ctx, path, v)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewJSONStore(t.TempDir(), "tree.json")
	require.NoError(t, err)

	failWrites := &atomic.Bool{}
	flaky := flakyStore{JSONStore: store, fail: failWrites}

	logger := zap.NewNop()
	clock := services.FixedClock(testNow)
	resolver := storage.NewResolver(flaky, "identity", logger, nil)
	profiles := services.NewProfileService(flaky, resolver, logger, nil)
	trackers := services.NewTrackerRegistry(profiles, clock, logger)
	t.Cleanup(trackers.Close)

	profileHandler := NewProfileHandler(trackers, logger)
	pregnancyHandler := NewPregnancyHandler(trackers, clock, logger)

	r := chi.NewRouter()
	r.Get("/api/profile", profileHandler.GetProfile)
	r.Put("/api/profile", profileHandler.UpdateProfile)
	r.Get("/api/pregnancy", pregnancyHandler.GetPregnancy)
	r.Get("/api/pregnancy/calendar.ics", pregnancyHandler.GetCalendar)
	r.Get("/api/baby/age", pregnancyHandler.GetBabyAge)
	return &testServer{router: r, store: store, failWrites: failWrites}
}

func (s *testServer) do(t *testing.T, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   string            `json:"error"`
	Errors  map[string]string `json:"errors"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestProfile_RequiresUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/profile", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestProfile_UpdateThenGet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/api/profile", "u1", `{"conceptionDate":"2026-01-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/profile", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Profile
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &p))
	assert.Equal(t, models.Profile{ConceptionDate: "2026-01-01"}, p)

	snap, err := s.store.Read(context.Background(), "identity/u1/profile")
	require.NoError(t, err)
	var stored models.Profile
	require.NoError(t, snap.Decode(&stored))
	assert.Equal(t, "2026-01-01", stored.ConceptionDate)
}

func TestProfile_PartialUpdateKeepsOtherField(t *testing.T) {
	s := newTestServer(t)

	s.do(t, http.MethodPut, "/api/profile", "u1", `{"conceptionDate":"2026-01-01","babyBirthDate":"2025-01-01"}`)
	rec := s.do(t, http.MethodPut, "/api/profile", "u1", `{"babyBirthDate":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var p models.Profile
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &p))
	assert.Equal(t, models.Profile{ConceptionDate: "2026-01-01"}, p)
}

func TestProfile_FailedSaveKeepsPreviousState(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, "/api/profile", "u1", `{"conceptionDate":"2026-01-01"}`).Code)

	s.failWrites.Store(true)
	rec := s.do(t, http.MethodPut, "/api/profile", "u1", `{"conceptionDate":"2026-02-02","babyBirthDate":"2025-01-01"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/profile", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.Profile
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &p))
	assert.Equal(t, models.Profile{ConceptionDate: "2026-01-01"}, p)
}

func TestProfile_UpdateValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad conception", `{"conceptionDate":"01/02/2026"}`, "conceptionDate"},
		{"bad birth", `{"babyBirthDate":"2026-13-01"}`, "babyBirthDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, "/api/profile", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Contains(t, env.Errors, tt.field)
		})
	}

	rec := s.do(t, http.MethodPut, "/api/profile", "u1", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPregnancy_NoConceptionDate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/pregnancy", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "null", string(env.Data))

	rec = s.do(t, http.MethodGet, "/api/pregnancy/calendar.ics", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPregnancy_Derived(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPut, "/api/profile", "u1", `{"conceptionDate":"2026-01-01"}`)

	rec := s.do(t, http.MethodGet, "/api/pregnancy", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info models.PregnancyInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &info))
	// 73 days after conception
	assert.Equal(t, 11, info.CurrentWeek)
	assert.Equal(t, 4, info.CurrentDay)
	assert.Equal(t, 1, info.Trimester)
	assert.Equal(t, 207, info.DaysRemaining)
}

func TestPregnancy_MalformedStoredDate(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Write(context.Background(), "identity/u1/profile",
		map[string]string{"conceptionDate": "soon"}))

	rec := s.do(t, http.MethodGet, "/api/pregnancy", "u1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, decodeEnvelope(t, rec).Success)
}

func TestPregnancy_Calendar(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPut, "/api/profile", "u1", `{"conceptionDate":"2026-01-01"}`)

	rec := s.do(t, http.MethodGet, "/api/pregnancy/calendar.ics", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "20261008")
}

func TestBabyAge(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/baby/age", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(decodeEnvelope(t, rec).Data))

	s.do(t, http.MethodPut, "/api/profile", "u1", `{"babyBirthDate":"2026-01-01"}`)
	rec = s.do(t, http.MethodGet, "/api/baby/age", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var age models.BabyAge
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &age))
	assert.Equal(t, models.BabyAge{Days: 73, Weeks: 10, Months: 2}, age)
}
