package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/hexturf/internal/activity"
	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
	"github.com/talgya/hexturf/internal/track"
)

// tileParam parses the {id} path segment as a tile.
func tileParam(w http.ResponseWriter, r *http.Request) (hexgrid.TileID, bool) {
	h, err := hexgrid.ParseTileID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return h.ID(), true
}

type tileView struct {
	Tile      hexgrid.TileID     `json:"tile"`
	Center    hexgrid.LatLng     `json:"center"`
	Owner     *ledger.Ownership  `json:"owner"`
	Territory *contest.Territory `json:"territory,omitempty"`
}

func (s *Server) writeTile(w http.ResponseWriter, r *http.Request, tile hexgrid.TileID) {
	ctx := r.Context()
	view := tileView{Tile: tile, Center: s.Index.Center(tile)}

	o, ok, err := s.Ledger.OwnerOf(ctx, tile)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if ok {
		view.Owner = &o
	}
	t, ok, err := s.Contests.Covering(ctx, tile)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if ok {
		view.Territory = &t
	}
	writeJSON(w, view)
}

// handleTileAt resolves GET /api/v1/tile?lat=..&lng=..
func (s *Server) handleTileAt(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	p := track.Point{Lat: lat, Lng: lng}
	if errLat != nil || errLng != nil || !track.ValidPoint(p) {
		http.Error(w, "lat and lng must be valid coordinates", http.StatusBadRequest)
		return
	}
	s.writeTile(w, r, s.Index.TileOf(p.LatLng()))
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	tile, ok := tileParam(w, r)
	if !ok {
		return
	}
	s.writeTile(w, r, tile)
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	tile, ok := tileParam(w, r)
	if !ok {
		return
	}
	reg, err := s.Regions.RegionOf(r.Context(), tile)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, reg)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tile, ok := tileParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hist, err := s.DB.Tiles().History(r.Context(), tile, min(limit, 500))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"tile": tile, "events": hist})
}

func (s *Server) handleOwnerTiles(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("id")
	set, err := s.Ledger.TilesOwnedBy(r.Context(), owner)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"owner_id": owner,
		"count":    set.Len(),
		"tiles":    set.Sorted(),
	})
}

func (s *Server) handleOwnerBonus(w http.ResponseWriter, r *http.Request) {
	b, err := s.Regions.Bonus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, b)
}

func (s *Server) handleTerritories(w http.ResponseWriter, r *http.Request) {
	ts, err := s.Contests.Territories(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"week": s.Contests.CurrentWeek().String(), "territories": ts})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, ok, err := s.Contests.Territory(ctx, id); err != nil {
		s.internalError(w, r, err)
		return
	} else if !ok {
		http.Error(w, "unknown territory", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	metric := s.Contests.Config().DefaultMetric
	if raw := q.Get("metric"); raw != "" {
		m, ok := contest.ParseMetric(raw)
		if !ok {
			http.Error(w, "metric must be score, volume or workouts", http.StatusBadRequest)
			return
		}
		metric = m
	}
	week := s.Contests.CurrentWeek()
	if raw := q.Get("week"); raw != "" {
		wk, err := contest.ParseWeek(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		week = wk
	}

	board, err := s.Contests.LeaderboardFor(ctx, id, week, metric)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"territory_id": id,
		"week":         week.String(),
		"metric":       metric,
		"standings":    board,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	bal, err := s.DB.Balance(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"owner_id": id, "balance": bal})
}

type activityRequest struct {
	UserID     string            `json:"user_id"`
	GuildID    string            `json:"guild_id"`
	Points     []json.RawMessage `json:"points"`
	HomeZone   *track.HomeZone   `json:"home_zone"`
	Biometrics *track.Biometrics `json:"biometrics"`
	Metrics    *contest.Metrics  `json:"metrics"`
}

type wirePoint struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Timestamp string   `json:"timestamp"`
}

// points decodes each sample on its own. One that fails to decode or lacks a
// coordinate becomes an invalid point, so ingestion drops and counts it.
func (req activityRequest) points() []track.Point {
	out := make([]track.Point, len(req.Points))
	for i, raw := range req.Points {
		var wp wirePoint
		if err := json.Unmarshal(raw, &wp); err != nil || wp.Lat == nil || wp.Lng == nil {
			out[i] = track.Point{Lat: math.NaN(), Lng: math.NaN()}
			continue
		}
		out[i] = track.Point{Lat: *wp.Lat, Lng: *wp.Lng, Timestamp: wp.Timestamp}
	}
	return out
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeValid(w, r, activitySchema, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep, err := s.Activity.Process(r.Context(), activity.Upload{
		UserID:     req.UserID,
		GuildID:    req.GuildID,
		Points:     req.points(),
		HomeZone:   req.HomeZone,
		Biometrics: req.Biometrics,
		Metrics:    req.Metrics,
	})
	if errors.Is(err, activity.ErrMissingUser) || errors.Is(err, contest.ErrInvalidMetrics) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, rep)
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GuildID string `json:"guild_id"`
		UserID  string `json:"user_id"`
	}
	if err := decodeValid(w, r, entrySchema, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Contests.Enter(r.Context(), r.PathValue("id"), req.GuildID, req.UserID)
	if errors.Is(err, contest.ErrInvalidEntry) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSONStatus(w, enterHTTPStatus(res.Status), res)
}

func enterHTTPStatus(st contest.EnterStatus) int {
	switch st {
	case contest.StatusEntered:
		return http.StatusCreated
	case contest.StatusInsufficientResource:
		return http.StatusPaymentRequired
	case contest.StatusUnknownTerritory:
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func (s *Server) handleContribution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GuildID string `json:"guild_id"`
		contest.Metrics
	}
	if err := decodeValid(w, r, contributionSchema, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	ok, err := s.Contests.RecordActivity(r.Context(), req.GuildID, id, req.Metrics)
	if errors.Is(err, contest.ErrInvalidMetrics) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"territory_id": id,
		"guild_id":     req.GuildID,
		"recorded":     ok,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var (
		res contest.Resolution
		err error
	)
	if raw := r.URL.Query().Get("week"); raw != "" {
		wk, perr := contest.ParseWeek(raw)
		if perr != nil {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		res, err = s.Contests.ResolvePeriod(ctx, id, wk)
	} else {
		res, err = s.Contests.ResolveWeek(ctx, id)
	}
	if errors.Is(err, contest.ErrUnknownTerritory) {
		http.Error(w, "unknown territory", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	tile, ok := tileParam(w, r)
	if !ok {
		return
	}
	var req struct {
		DaysInactive int `json:"days_inactive"`
	}
	if err := decodeValid(w, r, decaySchema, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	strength, err := s.Ledger.Decay(r.Context(), tile, req.DaysInactive)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"tile":     tile,
		"strength": strength,
		"owned":    strength > 0,
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rep, err := s.Ledger.Sweep(ctx, s.SweepPageSize)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	now := time.Now().UTC()
	if err := s.DB.SaveMeta(ctx, "last_sweep", now.Format(time.RFC3339)); err != nil {
		s.internalError(w, r, err)
		return
	}
	events.Emit(ctx, s.Events, events.New(events.KindDecaySwept, now, rep))
	writeJSON(w, rep)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeValid(w, r, creditSchema, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	bal, err := s.DB.Credit(r.Context(), id, req.Amount)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"owner_id": id, "balance": bal})
}
