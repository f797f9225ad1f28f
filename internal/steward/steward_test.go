package steward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	week     string
	overdue  string
	sweeps   int
	resolves []string
	failFor  string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"name":         "hexturf",
			"week":         f.week,
			"overdue_week": f.overdue,
			"stats":        map[string]any{"owned_tiles": 1234},
		})
	})
	mux.HandleFunc("GET /api/v1/territories", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"territories": []map[string]any{{"id": "T1"}, {"id": "T2"}},
		})
	})
	mux.HandleFunc("POST /api/v1/decay/sweep", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		f.sweeps++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"scanned": 10, "cleared": 3})
	})
	mux.HandleFunc("POST /api/v1/territories/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.mu.Lock()
		defer f.mu.Unlock()
		if id == f.failFor {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		f.resolves = append(f.resolves, id+"@"+r.URL.Query().Get("week"))
		json.NewEncoder(w).Encode(map[string]any{"territory_id": id, "winner": "G1", "score": 250})
	})
	return mux
}

func newTestSteward(t *testing.T, f *fakeAPI) *Steward {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(NewObserver(srv.URL), NewActor(srv.URL, "secret"))
}

func TestCycleSweepsAndResolvesPreviousWeek(t *testing.T) {
	f := &fakeAPI{week: "2026-W42"}
	s := newTestSteward(t, f)

	rep, err := s.Cycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep.Sweep)
	assert.Equal(t, 3, rep.Sweep.Cleared)
	require.Len(t, rep.Resolved, 2)
	assert.Equal(t, "G1", rep.Resolved[0].Winner)
	assert.Equal(t, int64(250), rep.Resolved[0].Score)
	assert.Equal(t, []string{"T1@2026-W41", "T2@2026-W41"}, f.resolves)

	// Same week again: sweep only.
	rep, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Resolved)
	assert.Equal(t, 2, f.sweeps)
	assert.Len(t, f.resolves, 2)
}

func TestCycleResolvesOnRollover(t *testing.T) {
	f := &fakeAPI{week: "2026-W52"}
	s := newTestSteward(t, f)

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.week = "2026-W53"
	f.mu.Unlock()
	_, err = s.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"T1@2026-W51", "T2@2026-W51",
		"T1@2026-W52", "T2@2026-W52",
	}, f.resolves)
}

func TestCycleRetriesAfterFailedResolve(t *testing.T) {
	f := &fakeAPI{week: "2026-W42", failFor: "T2"}
	s := newTestSteward(t, f)

	rep, err := s.Cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve T2")
	assert.Len(t, rep.Resolved, 1)

	f.mu.Lock()
	f.failFor = ""
	f.mu.Unlock()
	_, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"T1@2026-W41", "T1@2026-W41", "T2@2026-W41"}, f.resolves)
}

func TestCycleCatchesUpSkippedWeeks(t *testing.T) {
	f := &fakeAPI{week: "2026-W42", overdue: "2026-W39"}
	s := newTestSteward(t, f)

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"T1@2026-W39", "T2@2026-W39",
		"T1@2026-W40", "T2@2026-W40",
		"T1@2026-W41", "T2@2026-W41",
	}, f.resolves)

	f.mu.Lock()
	f.overdue = ""
	f.mu.Unlock()
	_, err = s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.resolves, 6)
}

func TestCycleStopsAtFailedWeek(t *testing.T) {
	f := &fakeAPI{week: "2026-W42", overdue: "2026-W40", failFor: "T2"}
	s := newTestSteward(t, f)

	_, err := s.Cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve T2 2026-W40")
	assert.Equal(t, []string{"T1@2026-W40"}, f.resolves)
}

func TestCycleIgnoresCurrentOpenWeek(t *testing.T) {
	f := &fakeAPI{week: "2026-W42", overdue: "2026-W42"}
	s := newTestSteward(t, f)

	_, err := s.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"T1@2026-W41", "T2@2026-W41"}, f.resolves)
}

func TestActorRejectedKey(t *testing.T) {
	f := &fakeAPI{week: "2026-W42"}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	_, err := NewActor(srv.URL, "wrong").Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "401"))
}

func TestCycleBadWeek(t *testing.T) {
	s := newTestSteward(t, &fakeAPI{week: "soon"})
	_, err := s.Cycle(context.Background())
	require.Error(t, err)
}

func TestWaitForAPI(t *testing.T) {
	f := &fakeAPI{week: "2026-W42"}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	require.NoError(t, WaitForAPI(context.Background(), srv.URL, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitForAPI(ctx, "http://127.0.0.1:1", time.Minute)
	require.Error(t, err)
}
