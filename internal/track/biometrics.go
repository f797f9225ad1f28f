package track

// Biometrics is the optional effort summary sent with an activity.
// It only weights claim strength; claims work without it.
type Biometrics struct {
	AvgHeartRate float64 `json:"avg_heart_rate,omitempty"`
	MaxHeartRate float64 `json:"max_heart_rate,omitempty"`
	AvgPower     float64 `json:"avg_power,omitempty"`
	FTP          float64 `json:"ftp,omitempty"`
}

// Intensity returns effort relative to the athlete's reference, preferring
// power over heart rate. Zero when neither pair is present.
func (b Biometrics) Intensity() float64 {
	switch {
	case b.AvgPower > 0 && b.FTP > 0:
		return b.AvgPower / b.FTP
	case b.AvgHeartRate > 0 && b.MaxHeartRate > 0:
		return b.AvgHeartRate / b.MaxHeartRate
	}
	return 0
}

// Bonus converts intensity into extra claim strength: nothing below threshold,
// then one point per 0.1 of intensity above it, capped at maxBonus.
func (b Biometrics) Bonus(threshold float64, maxBonus int) int {
	in := b.Intensity()
	if maxBonus <= 0 || in < threshold {
		return 0
	}
	bonus := 1 + int((in-threshold)*10)
	if bonus > maxBonus {
		return maxBonus
	}
	return bonus
}
