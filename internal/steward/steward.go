package steward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/hexturf/internal/contest"
)

// Steward runs the periodic maintenance cycle.
type Steward struct {
	observer *Observer
	actor    *Actor

	// resolved is the last week whose contests were closed by this process.
	resolved contest.Week
}

// New creates a Steward.
func New(observer *Observer, actor *Actor) *Steward {
	return &Steward{observer: observer, actor: actor}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Week     contest.Week
	Sweep    *SweepResult
	Resolved []ResolveResult
}

// Cycle sweeps decayed tiles, then closes every finished week that is still
// open, oldest first, ending with the previous week. After a restart the
// previous week is resolved again and the server returns the stored
// resolution. A week with failures stops the run so later weeks never
// resolve ahead of it.
func (s *Steward) Cycle(ctx context.Context) (*CycleReport, error) {
	status, err := s.observer.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	week, err := contest.ParseWeek(status.Week)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	rep := &CycleReport{Week: week}

	sweep, err := s.actor.Sweep(ctx)
	if err != nil {
		return rep, fmt.Errorf("sweep: %w", err)
	}
	rep.Sweep = sweep
	slog.Info("decay sweep done",
		"scanned", humanize.Comma(int64(sweep.Scanned)),
		"cleared", humanize.Comma(int64(sweep.Cleared)),
		"owned_tiles", humanize.Comma(int64(status.Stats.OwnedTiles)),
	)

	prev := week.Prev()
	from := prev
	if status.OverdueWeek != "" {
		overdue, err := contest.ParseWeek(status.OverdueWeek)
		if err != nil {
			return rep, fmt.Errorf("observe: %w", err)
		}
		if overdue.Before(from) {
			from = overdue
		}
	}
	if s.resolved == prev && from == prev {
		return rep, nil
	}
	territories, err := s.observer.Territories(ctx)
	if err != nil {
		return rep, fmt.Errorf("list territories: %w", err)
	}

	for w := from; !prev.Before(w); w = w.Next() {
		if err := s.resolveWeek(ctx, rep, territories, w); err != nil {
			return rep, err
		}
	}
	s.resolved = prev
	return rep, nil
}

func (s *Steward) resolveWeek(ctx context.Context, rep *CycleReport, territories []TerritoryInfo, w contest.Week) error {
	var errs []error
	for _, t := range territories {
		res, err := s.actor.Resolve(ctx, t.ID, w)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s %s: %w", t.ID, w, err))
			continue
		}
		rep.Resolved = append(rep.Resolved, *res)
		slog.Info("territory resolved",
			"territory", t.ID,
			"week", w,
			"winner", res.Winner,
			"score", humanize.Comma(res.Score),
			"unchanged", res.Unchanged,
			"already_resolved", res.AlreadyResolved,
		)
	}
	return errors.Join(errs...)
}

// WaitForAPI polls the status endpoint with exponential backoff until it
// responds, giving up after timeout.
func WaitForAPI(ctx context.Context, apiURL string, timeout time.Duration) error {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(timeout)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/status", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("hexturf API is ready")
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("API at %s not ready after %s", apiURL, timeout)
		}
		slog.Info("hexturf API not ready, retrying...", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// NextRun describes when the next cycle fires, for logs.
func NextRun(interval time.Duration) string {
	return humanize.Time(time.Now().Add(interval))
}
