package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 4 << 20

// Request envelopes. Points are only required to be objects; a malformed
// point is dropped during ingestion instead of failing the whole upload.
var (
	activitySchema = jsonschema.MustCompileString("activity.schema.json", `{
		"type": "object",
		"required": ["user_id", "points"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"guild_id": {"type": "string"},
			"points": {"type": "array", "items": {"type": "object"}},
			"home_zone": {
				"type": "object",
				"required": ["anchor"],
				"properties": {
					"anchor": {
						"type": "object",
						"required": ["lat", "lng"],
						"properties": {
							"lat": {"type": "number", "minimum": -90, "maximum": 90},
							"lng": {"type": "number", "minimum": -180, "maximum": 180}
						}
					},
					"radius_m": {"type": "number", "minimum": 0}
				}
			},
			"biometrics": {
				"type": "object",
				"properties": {
					"avg_heart_rate": {"type": "number", "minimum": 0},
					"max_heart_rate": {"type": "number", "minimum": 0},
					"avg_power": {"type": "number", "minimum": 0},
					"ftp": {"type": "number", "minimum": 0}
				}
			},
			"metrics": {"$ref": "#/$defs/metrics"}
		},
		"$defs": {
			"metrics": {
				"type": "object",
				"properties": {
					"workouts": {"type": "integer", "minimum": 0},
					"volume": {"type": "integer", "minimum": 0},
					"xp": {"type": "integer", "minimum": 0}
				}
			}
		}
	}`)

	entrySchema = jsonschema.MustCompileString("entry.schema.json", `{
		"type": "object",
		"required": ["guild_id", "user_id"],
		"properties": {
			"guild_id": {"type": "string", "minLength": 1},
			"user_id": {"type": "string", "minLength": 1}
		}
	}`)

	contributionSchema = jsonschema.MustCompileString("contribution.schema.json", `{
		"type": "object",
		"required": ["guild_id"],
		"properties": {
			"guild_id": {"type": "string", "minLength": 1},
			"workouts": {"type": "integer", "minimum": 0},
			"volume": {"type": "integer", "minimum": 0},
			"xp": {"type": "integer", "minimum": 0}
		}
	}`)

	decaySchema = jsonschema.MustCompileString("decay.schema.json", `{
		"type": "object",
		"required": ["days_inactive"],
		"properties": {
			"days_inactive": {"type": "integer", "minimum": 0}
		}
	}`)

	creditSchema = jsonschema.MustCompileString("credit.schema.json", `{
		"type": "object",
		"required": ["amount"],
		"properties": {
			"amount": {"type": "integer", "minimum": 0}
		}
	}`)
)

var errEmptyBody = errors.New("empty request body")

// decodeValid reads the request body, validates it against s and decodes it into dst.
func decodeValid(w http.ResponseWriter, r *http.Request, s *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(raw) == 0 {
		return errEmptyBody
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
