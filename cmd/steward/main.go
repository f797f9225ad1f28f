// Command steward runs the scheduled jobs for a hexturf core: the decay
// sweep and weekly contest resolution. It talks to hexturfd over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talgya/hexturf/internal/steward"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	apiURL := envOrDefault("HEXTURF_API_URL", "http://localhost:8080")
	adminKey := os.Getenv("HEXTURF_ADMIN_KEY")
	intervalMin := envIntOrDefault("STEWARD_INTERVAL", 60)

	if adminKey == "" {
		slog.Error("HEXTURF_ADMIN_KEY is required")
		os.Exit(1)
	}
	interval := time.Duration(intervalMin) * time.Minute

	slog.Info("hexturf steward starting", "api_url", apiURL, "interval", interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Process start ordering does not imply HTTP readiness.
	slog.Info("waiting for hexturf API...")
	if err := steward.WaitForAPI(ctx, apiURL, 5*time.Minute); err != nil {
		slog.Error("giving up on API", "error", err)
		os.Exit(1)
	}

	s := steward.New(steward.NewObserver(apiURL), steward.NewActor(apiURL, adminKey))
	runCycle(ctx, s, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCycle(ctx, s, interval)
		case <-ctx.Done():
			slog.Info("steward stopped")
			return
		}
	}
}

func runCycle(ctx context.Context, s *steward.Steward, interval time.Duration) {
	slog.Info("steward cycle starting")
	rep, err := s.Cycle(ctx)
	if err != nil {
		slog.Error("steward cycle failed", "error", err)
		return
	}
	slog.Info("steward cycle complete",
		"week", rep.Week,
		"resolved", len(rep.Resolved),
		"next", steward.NextRun(interval),
	)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
