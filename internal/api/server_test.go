package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexturf/internal/activity"
	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
	"github.com/talgya/hexturf/internal/persistence"
	"github.com/talgya/hexturf/internal/region"
)

const testKey = "s3cret"

type testServer struct {
	*Server
	events  *events.Recorder
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "turf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncTerritories(context.Background(), []contest.Territory{{
		ID:           "T1",
		Name:         "Södermalm",
		Kind:         contest.KindTrainingGrounds,
		Center:       hexgrid.LatLng{Lat: 59.3150, Lng: 18.0710},
		RadiusMeters: 1500,
		XPModifier:   1,
	}}))

	grid := hexgrid.NewGrid(0)
	rec := &events.Recorder{}
	cm := contest.NewManager(db.Contests(), grid, rec, contest.DefaultConfig())
	l := ledger.New(db.Tiles(), cm, ledger.DefaultRules())
	s := &Server{
		DB:       db,
		Index:    grid,
		Ledger:   l,
		Regions:  &region.Analyzer{Index: grid, Owners: l},
		Contests: cm,
		Activity: activity.NewProcessor(grid, l, cm, rec, activity.Config{
			DefaultHomeRadius: 500,
			XPPerTile:         10,
		}),
		Events:        rec,
		AdminKey:      testKey,
		UploadLimiter: NewRateLimiter(100, 100),
	}
	return &testServer{Server: s, events: rec, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const runBody = `{
	"user_id": "u1",
	"guild_id": "G1",
	"points": [
		{"lat": 59.3150, "lng": 18.0650, "timestamp": "2026-10-14T06:00:00Z"},
		{"lat": 59.3150, "lng": 18.0660},
		{"lat": 59.3150, "lng": 18.0670},
		{"lat": 59.3150, "lng": 18.0680},
		{"lat": "north", "lng": 18.07},
		{"lat": 59.3150, "lng": 18.0690},
		{"lat": 59.3150, "lng": 18.0700},
		{"lat": 59.3150, "lng": 18.0710},
		{"lat": 59.3150},
		{"lat": 59.3150, "lng": 18.0720},
		{"lat": 59.3150, "lng": 18.0730},
		{"lat": 59.3150, "lng": 18.0740},
		{"lat": 59.3150, "lng": 18.0750},
		{"lat": 59.3150, "lng": 18.0760},
		{"lat": 59.3150, "lng": 18.0770}
	]
}`

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/status", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "hexturf", body["name"])
	assert.Equal(t, "1", body["schema_version"])
	assert.Equal(t, "", body["overdue_week"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStatusReportsOverdueWeek(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", `{"amount": 100}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/entries", `{"guild_id": "G1", "user_id": "alice"}`, true)
	require.Equal(t, http.StatusCreated, w.Code)
	entered := ts.Contests.CurrentWeek()

	later := time.Now().Add(14 * 24 * time.Hour)
	ts.Contests.SetClock(func() time.Time { return later })
	w = ts.do(t, http.MethodGet, "/api/v1/status", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entered.String(), decode(t, w)["overdue_week"])

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/resolve?week="+entered.String(), "", true)
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/status", "", false)
	assert.Equal(t, "", decode(t, w)["overdue_week"])
}

func TestTileQueries(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/tile?lat=59.315&lng=18.071", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Nil(t, body["owner"])
	require.NotNil(t, body["territory"])
	tile := body["tile"].(string)
	_, err := hexgrid.ParseTileID(tile)
	require.NoError(t, err)

	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+tile, "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, bad := range []string{"/api/v1/tile?lat=95&lng=0", "/api/v1/tile?lat=x", "/api/v1/tiles/nope", "/api/v1/tiles/1:02"} {
		w := ts.do(t, http.MethodGet, bad, "", false)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/decay/sweep", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ts.AdminKey = ""
	w = ts.do(t, http.MethodPost, "/api/v1/decay/sweep", "", true)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestActivityUpload(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/activities", runBody, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decode(t, w)
	assert.Equal(t, float64(2), rep["dropped_points"])
	assert.Equal(t, float64(13), rep["accepted_points"])
	claims := rep["claims"].([]any)
	require.NotEmpty(t, claims)

	w = ts.do(t, http.MethodGet, "/api/v1/owners/u1/tiles", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	owned := decode(t, w)
	assert.Equal(t, float64(len(claims)), owned["count"])

	first := claims[0].(map[string]any)["tile"].(string)
	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+first, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	owner := decode(t, w)["owner"].(map[string]any)
	assert.Equal(t, "u1", owner["owner"].(map[string]any)["id"])

	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+first+"/region", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(len(claims)), decode(t, w)["size"], "a straight run is one connected region")

	w = ts.do(t, http.MethodGet, "/api/v1/owners/u1/bonus", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(len(claims)), decode(t, w)["largest_region"])

	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+first+"/history", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 1)
}

func TestActivityUploadRejectsBadEnvelope(t *testing.T) {
	ts := newTestServer(t)
	for _, body := range []string{
		`{"points": []}`,
		`{"user_id": "", "points": []}`,
		`{"user_id": "u1", "points": [1, 2]}`,
		`{"user_id": "u1", "points": [], "metrics": {"xp": -5}}`,
		`not json`,
	} {
		w := ts.do(t, http.MethodPost, "/api/v1/activities", body, true)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestUploadRateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.UploadLimiter = NewRateLimiter(0.001, 1)
	ts.handler = ts.Handler()

	body := `{"user_id": "u1", "points": []}`
	w := ts.do(t, http.MethodPost, "/api/v1/activities", body, true)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/activities", body, true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestContestFlow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", `{"amount": 150}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(150), decode(t, w)["balance"])

	enter := `{"guild_id": "G1", "user_id": "alice"}`
	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/entries", enter, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "entered", decode(t, w)["status"])

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/entries", enter, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_contesting", decode(t, w)["status"])

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/entries", `{"guild_id": "G2", "user_id": "alice"}`, true)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T9/entries", enter, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, xp := range []string{"100", "150"} {
		w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/activity", `{"guild_id": "G1", "workouts": 1, "xp": `+xp+`}`, true)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["recorded"])
	}

	w = ts.do(t, http.MethodGet, "/api/v1/territories/T1/leaderboard", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	standings := decode(t, w)["standings"].([]any)
	require.Len(t, standings, 1)
	assert.Equal(t, float64(250), standings[0].(map[string]any)["value"])

	w = ts.do(t, http.MethodGet, "/api/v1/territories/T1/leaderboard?metric=gold", "", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/territories/T9/leaderboard", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/resolve", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.Equal(t, "G1", res["winner"])
	assert.Equal(t, float64(250), res["score"])

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/resolve", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["already_resolved"])

	w = ts.do(t, http.MethodGet, "/api/v1/territories", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	terr := decode(t, w)["territories"].([]any)[0].(map[string]any)
	assert.Equal(t, "G1", terr["controller"].(map[string]any)["guild_id"])

	w = ts.do(t, http.MethodPost, "/api/v1/territories/T1/resolve?week=2026-42", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/territories/T9/resolve", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Contains(t, ts.events.Kinds(), events.KindContestResolved)
}

func TestDecayEndpoints(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/activities", runBody, true)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)["claims"].([]any)[0].(map[string]any)["tile"].(string)

	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+first, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	claimed := decode(t, w)["owner"].(map[string]any)["strength"].(float64)

	// A tile held for seconds cannot have been idle for days.
	w = ts.do(t, http.MethodPost, "/api/v1/tiles/"+first+"/decay", `{"days_inactive": 5}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, true, got["owned"])
	assert.Equal(t, claimed, got["strength"])

	start := time.Now()
	ts.Ledger.SetClock(func() time.Time { return start.Add(4 * 24 * time.Hour) })
	w = ts.do(t, http.MethodPost, "/api/v1/tiles/"+first+"/decay", `{"days_inactive": 4}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	got = decode(t, w)
	assert.Equal(t, true, got["owned"])
	assert.Less(t, got["strength"].(float64), claimed)

	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+first, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	owner := decode(t, w)["owner"].(map[string]any)
	assert.Equal(t, got["strength"], owner["strength"])

	ts.Ledger.SetClock(func() time.Time { return start.Add(365 * 24 * time.Hour) })
	w = ts.do(t, http.MethodPost, "/api/v1/tiles/"+first+"/decay", `{"days_inactive": 365}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["owned"])

	w = ts.do(t, http.MethodGet, "/api/v1/tiles/"+first, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["owner"])

	w = ts.do(t, http.MethodPost, "/api/v1/tiles/"+first+"/decay", `{"days_inactive": -1}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/decay/sweep", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "cleared")
	assert.Contains(t, ts.events.Kinds(), events.KindDecaySwept)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "10.0.0.7", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
