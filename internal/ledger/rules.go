package ledger

import "time"

// Rules holds the ownership tuning.
type Rules struct {
	BaseStrength   int           `yaml:"base_strength"`
	MaxStrength    int           `yaml:"max_strength"`
	DecayPerDay    int           `yaml:"decay_per_day"`
	DecayGraceDays int           `yaml:"decay_grace_days"`
	ClaimRetries   int           `yaml:"claim_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// DefaultRules returns the stock tuning.
func DefaultRules() Rules {
	return Rules{
		BaseStrength:   10,
		MaxStrength:    100,
		DecayPerDay:    5,
		DecayGraceDays: 3,
		ClaimRetries:   5,
		RetryDelay:     2 * time.Millisecond,
	}
}

// Decayed returns strength after daysInactive days without reinforcement.
// Non-increasing in daysInactive, never below zero.
func (r Rules) Decayed(strength, daysInactive int) int {
	over := daysInactive - r.DecayGraceDays
	if over <= 0 || r.DecayPerDay <= 0 {
		return max(strength, 0)
	}
	// Guard the multiplication: a long-abandoned tile simply hits zero.
	if over >= strength/r.DecayPerDay+1 {
		return 0
	}
	return max(strength-over*r.DecayPerDay, 0)
}

// Effective returns the strength of o at now.
func (r Rules) Effective(o Ownership, now time.Time) int {
	return r.Decayed(o.Strength, DaysInactive(o.LastReinforcedAt, now))
}

// DaysInactive counts whole days between last and now.
func DaysInactive(last, now time.Time) int {
	d := now.Sub(last)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// base returns the initial strength for a claim with the given bonus.
func (r Rules) base(bonus int) int {
	return min(r.BaseStrength+max(bonus, 0), r.MaxStrength)
}

// reinforced returns the strength after one reinforcement.
func (r Rules) reinforced(effective, bonus int) int {
	return min(effective+1+max(bonus, 0), r.MaxStrength)
}
