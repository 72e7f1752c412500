// Package popularity scores grid cells by access frequency, recency and
// latitude band, and erodes those scores for cells nobody asks for.
package popularity

import (
	"errors"
	"math"
	"time"
)

// Config holds the operator-tunable knobs. JSON names are the wire names of
// the admin config endpoint.
type Config struct {
	HotLocationThreshold float64 `json:"hotLocationThreshold"`
	PreFetchThreshold    float64 `json:"preFetchThreshold"`
	AccessCountWeight    float64 `json:"accessCountWeight"`
	RecencyWeight        float64 `json:"recencyWeight"`
	LocationTypeWeight   float64 `json:"locationTypeWeight"`
}

func DefaultConfig() Config {
	return Config{
		HotLocationThreshold: 100,
		PreFetchThreshold:    80,
		AccessCountWeight:    2.0,
		RecencyWeight:        1.5,
		LocationTypeWeight:   1.2,
	}
}

func (c Config) Validate() error {
	if c.HotLocationThreshold <= 0 || c.PreFetchThreshold <= 0 {
		return errors.New("thresholds must be positive")
	}
	if c.AccessCountWeight < 0 || c.RecencyWeight < 0 || c.LocationTypeWeight < 0 {
		return errors.New("weights must be non-negative")
	}
	return nil
}

// IsHot applies the access-time threshold.
func (c Config) IsHot(score float64) bool { return score >= c.HotLocationThreshold }

// LocationWeight bands by absolute latitude; lower latitudes weigh more.
func LocationWeight(lat float64) float64 {
	a := math.Abs(lat)
	switch {
	case a < 30:
		return 1.5
	case a < 45:
		return 1.3
	case a < 60:
		return 1.1
	default:
		return 1.0
	}
}

// RecencyBonus bands by time since the previous access.
func RecencyBonus(elapsed time.Duration) float64 {
	switch {
	case elapsed < time.Hour:
		return 2.0
	case elapsed < 6*time.Hour:
		return 1.5
	case elapsed < 24*time.Hour:
		return 1.2
	case elapsed < 7*24*time.Hour:
		return 1.0
	default:
		return 0.5
	}
}

// Score combines the three factors and rounds to the nearest integer.
func Score(c Config, accessCount int, recency, locWeight float64) float64 {
	return math.Round(float64(accessCount)*c.AccessCountWeight +
		recency*c.RecencyWeight +
		locWeight*c.LocationTypeWeight)
}

// Popularity is the scored state written alongside a record.
type Popularity struct {
	AccessCount    int
	Score          float64
	IsHot          bool
	LocationWeight float64
	RecencyBonus   float64
}

// Initial is the popularity a freshly fetched record starts with.
func Initial(c Config, lat float64) Popularity {
	const firstAccessRecency = 2.0
	w := LocationWeight(lat)
	s := Score(c, 1, firstAccessRecency, w)
	return Popularity{
		AccessCount:    1,
		Score:          s,
		IsHot:          c.IsHot(s),
		LocationWeight: w,
		RecencyBonus:   firstAccessRecency,
	}
}
