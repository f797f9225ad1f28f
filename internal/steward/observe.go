// Package steward is the external scheduled job of the territory core.
// It drives the decay sweep and weekly contest resolution through the HTTP
// API; the core never schedules itself.
package steward

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status mirrors the parts of GET /api/v1/status the steward reads.
type Status struct {
	Name string `json:"name"`
	Week string `json:"week"`
	// OverdueWeek is the earliest finished week with unresolved entries, if any.
	OverdueWeek string `json:"overdue_week"`
	Stats       struct {
		OwnedTiles  int `json:"owned_tiles"`
		Territories int `json:"territories"`
		OpenEntries int `json:"open_entries"`
	} `json:"stats"`
}

// TerritoryInfo mirrors items from GET /api/v1/territories.
type TerritoryInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Controller *struct {
		GuildID string `json:"guild_id"`
	} `json:"controller,omitempty"`
}

// Observer reads state from the public API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Status fetches GET /api/v1/status.
func (o *Observer) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := o.getJSON(ctx, "/api/v1/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Territories fetches GET /api/v1/territories.
func (o *Observer) Territories(ctx context.Context) ([]TerritoryInfo, error) {
	var body struct {
		Territories []TerritoryInfo `json:"territories"`
	}
	if err := o.getJSON(ctx, "/api/v1/territories", &body); err != nil {
		return nil, err
	}
	return body.Territories, nil
}

func (o *Observer) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s (%d): %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
