// Package config loads hexturf's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Grid        GridConfig        `yaml:"grid"`
	HomeZone    HomeZoneConfig    `yaml:"home_zone"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Contest     contest.Config    `yaml:"contest"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
	Territories []TerritoryConfig `yaml:"territories"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// Activity uploads allowed per second per client IP, and the burst above that.
	UploadRate  float64 `yaml:"upload_rate"`
	UploadBurst int     `yaml:"upload_burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type GridConfig struct {
	EdgeMeters float64 `yaml:"edge_meters"`
}

type HomeZoneConfig struct {
	DefaultRadiusMeters float64 `yaml:"default_radius_m"`
}

type LedgerConfig struct {
	ledger.Rules `yaml:",inline"`

	EffortBonusThreshold float64 `yaml:"effort_bonus_threshold"`
	MaxEffortBonus       int     `yaml:"max_effort_bonus"`
	SweepPageSize        int     `yaml:"sweep_page_size"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// TerritoryConfig is a territory as authored in the config file.
type TerritoryConfig struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Type            string  `yaml:"type"`
	Lat             float64 `yaml:"lat"`
	Lng             float64 `yaml:"lng"`
	RadiusMeters    float64 `yaml:"radius_m"`
	XPModifier      float64 `yaml:"xp_modifier"`
	GoldModifier    float64 `yaml:"gold_modifier"`
	DefenseModifier float64 `yaml:"defense_modifier"`
}

// Defaults returns a configuration that runs without a file.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Port: 8080, UploadRate: 1, UploadBurst: 5},
		Database: DatabaseConfig{Path: "data/hexturf.db"},
		Grid:     GridConfig{EdgeMeters: hexgrid.DefaultEdgeMeters},
		HomeZone: HomeZoneConfig{DefaultRadiusMeters: 500},
		Ledger: LedgerConfig{
			Rules:                ledger.DefaultRules(),
			EffortBonusThreshold: 0.85,
			MaxEffortBonus:       3,
			SweepPageSize:        500,
		},
		Contest: contest.DefaultConfig(),
		Redis:   RedisConfig{Channel: events.DefaultRedisChannel},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides deployment settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HEXTURF_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("HEXTURF_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("HEXTURF_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("HEXTURF_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Normalize fills zero values left by a partial file.
func (c *Config) Normalize() {
	d := Defaults()
	if c.Server.Port <= 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.UploadRate <= 0 {
		c.Server.UploadRate = d.Server.UploadRate
	}
	if c.Server.UploadBurst <= 0 {
		c.Server.UploadBurst = d.Server.UploadBurst
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Grid.EdgeMeters <= 0 {
		c.Grid.EdgeMeters = d.Grid.EdgeMeters
	}
	if c.HomeZone.DefaultRadiusMeters < 0 {
		c.HomeZone.DefaultRadiusMeters = 0
	}
	if c.Ledger.ClaimRetries <= 0 {
		c.Ledger.ClaimRetries = d.Ledger.ClaimRetries
	}
	if c.Ledger.SweepPageSize <= 0 {
		c.Ledger.SweepPageSize = d.Ledger.SweepPageSize
	}
	if c.Contest.Payer == "" {
		c.Contest.Payer = d.Contest.Payer
	}
	if c.Contest.DefaultMetric == "" {
		c.Contest.DefaultMetric = d.Contest.DefaultMetric
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = d.Redis.Channel
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	for i := range c.Territories {
		t := &c.Territories[i]
		t.ID = strings.TrimSpace(t.ID)
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.XPModifier == 0 {
			t.XPModifier = 1
		}
		if t.GoldModifier == 0 {
			t.GoldModifier = 1
		}
		if t.DefenseModifier == 0 {
			t.DefenseModifier = 1
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var errs []error
	r := c.Ledger.Rules
	if r.BaseStrength <= 0 {
		errs = append(errs, errors.New("ledger.base_strength must be > 0"))
	}
	if r.MaxStrength < r.BaseStrength {
		errs = append(errs, errors.New("ledger.max_strength must be >= base_strength"))
	}
	if r.DecayPerDay < 0 || r.DecayGraceDays < 0 {
		errs = append(errs, errors.New("ledger decay settings must be >= 0"))
	}
	if c.Ledger.MaxEffortBonus < 0 {
		errs = append(errs, errors.New("ledger.max_effort_bonus must be >= 0"))
	}
	if c.Contest.EntryCost < 0 {
		errs = append(errs, errors.New("contest.entry_cost must be >= 0"))
	}
	if c.Contest.XPPerTile < 0 {
		errs = append(errs, errors.New("contest.xp_per_tile must be >= 0"))
	}
	if c.Contest.Payer != contest.PayerUser && c.Contest.Payer != contest.PayerGuild {
		errs = append(errs, fmt.Errorf("contest.entry_payer %q: want user or guild", c.Contest.Payer))
	}
	if _, ok := contest.ParseMetric(string(c.Contest.DefaultMetric)); !ok {
		errs = append(errs, fmt.Errorf("contest.default_metric %q: want score, volume or workouts", c.Contest.DefaultMetric))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	seen := map[string]bool{}
	for i, t := range c.Territories {
		where := fmt.Sprintf("territories[%d]", i)
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("%s: missing id", where))
		} else if seen[t.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", where, t.ID))
		}
		seen[t.ID] = true
		if _, ok := contest.ParseKind(t.Type); !ok {
			errs = append(errs, fmt.Errorf("%s: unknown type %q", where, t.Type))
		}
		if math.IsNaN(t.Lat) || t.Lat < -90 || t.Lat > 90 || math.IsNaN(t.Lng) || t.Lng < -180 || t.Lng > 180 {
			errs = append(errs, fmt.Errorf("%s: center out of range", where))
		}
		if !(t.RadiusMeters > 0) {
			errs = append(errs, fmt.Errorf("%s: radius_m must be > 0", where))
		}
		if t.XPModifier < 0 || t.GoldModifier < 0 || t.DefenseModifier < 0 {
			errs = append(errs, fmt.Errorf("%s: modifiers must be >= 0", where))
		}
	}
	return errors.Join(errs...)
}

// TerritoryList converts the configured territories.
func (c Config) TerritoryList() []contest.Territory {
	out := make([]contest.Territory, 0, len(c.Territories))
	for _, t := range c.Territories {
		kind, _ := contest.ParseKind(t.Type)
		out = append(out, contest.Territory{
			ID:              t.ID,
			Name:            t.Name,
			Kind:            kind,
			Center:          hexgrid.LatLng{Lat: t.Lat, Lng: t.Lng},
			RadiusMeters:    t.RadiusMeters,
			XPModifier:      t.XPModifier,
			GoldModifier:    t.GoldModifier,
			DefenseModifier: t.DefenseModifier,
		})
	}
	return out
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", s)
}
