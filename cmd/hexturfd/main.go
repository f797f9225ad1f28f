// Command hexturfd serves the hexturf territory core: tile ownership,
// decay, regions and guild contests over an HTTP API backed by SQLite.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talgya/hexturf/internal/activity"
	"github.com/talgya/hexturf/internal/api"
	"github.com/talgya/hexturf/internal/config"
	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
	"github.com/talgya/hexturf/internal/persistence"
	"github.com/talgya/hexturf/internal/region"
)

func main() {
	// A missing .env is normal in production.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("HEXTURF_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("hexturf territory core starting",
		"edge_m", cfg.Grid.EdgeMeters,
		"max_strength", cfg.Ledger.MaxStrength,
		"decay_per_day", cfg.Ledger.DecayPerDay,
		"entry_cost", cfg.Contest.EntryCost,
	)

	ctx := context.Background()

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("failed to create data directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}
	db, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	territories := cfg.TerritoryList()
	if err := db.SyncTerritories(ctx, territories); err != nil {
		slog.Error("failed to sync territories", "error", err)
		os.Exit(1)
	}
	slog.Info("territories loaded", "count", len(territories))

	var pub events.Publisher = events.LogPublisher{}
	if cfg.Redis.Addr != "" {
		rp, err := events.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			slog.Warn("redis unavailable, events go to the log", "error", err)
		} else {
			defer rp.Close()
			pub = rp
			slog.Info("publishing events to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		}
	}

	grid := hexgrid.NewGrid(cfg.Grid.EdgeMeters)
	contests := contest.NewManager(db.Contests(), grid, pub, cfg.Contest)
	l := ledger.New(db.Tiles(), contests, cfg.Ledger.Rules)

	adminKey := os.Getenv("HEXTURF_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("HEXTURF_ADMIN_KEY not set, trusted POST endpoints will be disabled")
	}

	apiServer := &api.Server{
		DB:       db,
		Index:    grid,
		Ledger:   l,
		Regions:  &region.Analyzer{Index: grid, Owners: l},
		Contests: contests,
		Activity: activity.NewProcessor(grid, l, contests, pub, activity.Config{
			DefaultHomeRadius:    cfg.HomeZone.DefaultRadiusMeters,
			EffortBonusThreshold: cfg.Ledger.EffortBonusThreshold,
			MaxEffortBonus:       cfg.Ledger.MaxEffortBonus,
			XPPerTile:            cfg.Contest.XPPerTile,
		}),
		Events:        pub,
		Port:          cfg.Server.Port,
		AdminKey:      adminKey,
		UploadLimiter: api.NewRateLimiter(cfg.Server.UploadRate, cfg.Server.UploadBurst),
		SweepPageSize: cfg.Ledger.SweepPageSize,
	}
	apiServer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	slog.Info("hexturf stopped")
}
