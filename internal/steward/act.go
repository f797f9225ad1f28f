package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/talgya/hexturf/internal/contest"
)

// SweepResult is the response from POST /api/v1/decay/sweep.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Cleared int `json:"cleared"`
	Skipped int `json:"skipped"`
}

// ResolveResult is the response from POST /api/v1/territories/{id}/resolve.
type ResolveResult struct {
	TerritoryID     string `json:"territory_id"`
	Winner          string `json:"winner"`
	Score           int64  `json:"score"`
	Previous        string `json:"previous"`
	Unchanged       bool   `json:"unchanged"`
	Entries         int    `json:"entries"`
	AlreadyResolved bool   `json:"already_resolved"`
}

// Actor calls the trusted POST endpoints.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Sweep asks the core to clear fully decayed tiles.
func (a *Actor) Sweep(ctx context.Context) (*SweepResult, error) {
	var res SweepResult
	if err := a.post(ctx, "/api/v1/decay/sweep", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Resolve closes week w for a territory.
func (a *Actor) Resolve(ctx context.Context, territoryID string, w contest.Week) (*ResolveResult, error) {
	path := fmt.Sprintf("/api/v1/territories/%s/resolve?week=%s", url.PathEscape(territoryID), w)
	var res ResolveResult
	if err := a.post(ctx, path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *Actor) post(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
