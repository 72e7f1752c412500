// Package model defines the cache record and payload types shared across the service.
package model

import (
	"fmt"
	"time"
)

const DefaultTTLDays = 90

// Source tags where a payload came from. The set is closed; Valid reports
// membership.
type Source string

const (
	SourcePVGIS       Source = "pvgis"
	SourceNASAPower   Source = "nasa_power"
	SourceFallback    Source = "fallback"
	SourceCachedStale Source = "cached_stale"
	SourceLocal       Source = "local"
)

// Tier groups sources by their position in the provider chain.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
	TierFallback  Tier = "fallback"
	TierStale     Tier = "stale"
	TierLocal     Tier = "local"
	TierUnknown   Tier = "unknown"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePVGIS, SourceNASAPower, SourceFallback, SourceCachedStale, SourceLocal:
		return true
	default:
		return false
	}
}

func (s Source) Tier() Tier {
	switch s {
	case SourcePVGIS:
		return TierPrimary
	case SourceNASAPower:
		return TierSecondary
	case SourceFallback:
		return TierFallback
	case SourceCachedStale:
		return TierStale
	case SourceLocal:
		return TierLocal
	default:
		return TierUnknown
	}
}

func (s Source) String() string { return string(s) }

type PanelParams struct {
	AreaM2     float64 `json:"area"`
	TiltDeg    float64 `json:"tilt"`
	AzimuthDeg float64 `json:"azimuth"`
}

// ReferencePanel is the install used when no request context exists (pre-fetch).
var ReferencePanel = PanelParams{AreaM2: 15, TiltDeg: 30, AzimuthDeg: 180}

func (p PanelParams) Validate() error {
	if p.AreaM2 <= 0 || p.AreaM2 > 10000 {
		return fmt.Errorf("area must be in (0,10000] m2 (got %g)", p.AreaM2)
	}
	if p.TiltDeg < 0 || p.TiltDeg > 90 {
		return fmt.Errorf("tilt must be in [0,90] (got %g)", p.TiltDeg)
	}
	if p.AzimuthDeg < 0 || p.AzimuthDeg >= 360 {
		return fmt.Errorf("azimuth must be in [0,360) (got %g)", p.AzimuthDeg)
	}
	return nil
}

type MonthlyYield struct {
	Month int     `json:"month"`
	KWh   float64 `json:"kWh"`
	// irradiation on the plane of array, kWh/m2
	Irradiation float64 `json:"irradiation,omitempty"`
}

type Metadata struct {
	Lat         float64            `json:"lat"`
	Lng         float64            `json:"lng"`
	Panel       PanelParams        `json:"panel"`
	MonthlyData []MonthlyYield     `json:"monthly_data,omitempty"`
	Assumptions map[string]float64 `json:"assumptions,omitempty"`
}

type Radiation struct {
	DNI         float64 `json:"dni"`
	GHI         float64 `json:"ghi"`
	DIF         float64 `json:"dif"`
	AnnualTotal float64 `json:"annual_total"`
}

type Payload struct {
	AnnualKWh  float64    `json:"annual_kWh"`
	CO2Saved   float64    `json:"co2_saved"`
	Efficiency float64    `json:"efficiency"`
	Timestamp  time.Time  `json:"timestamp"`
	Source     Source     `json:"source"`
	Metadata   Metadata   `json:"metadata"`
	Radiation  *Radiation `json:"radiation,omitempty"`
}

// Empty reports whether p carries no usable result.
func (p *Payload) Empty() bool {
	return p == nil || (p.AnnualKWh == 0 && p.Source == "")
}

// CacheRecord is one grid cell's cached computation plus its popularity state.
type CacheRecord struct {
	ID              string    `json:"id,omitempty"`
	GridKey         string    `json:"gridKey"`
	LatRounded      float64   `json:"latRounded"`
	LngRounded      float64   `json:"lngRounded"`
	H3Cell          string    `json:"h3Cell,omitempty"`
	Payload         *Payload  `json:"payload"`
	Source          Source    `json:"source"`
	FetchedAt       time.Time `json:"fetchedAt"`
	LastAccessAt    time.Time `json:"lastAccessAt"`
	TTLDays         int       `json:"ttlDays"`
	AccessCount     int       `json:"accessCount"`
	PopularityScore float64   `json:"popularityScore"`
	IsHot           bool      `json:"isHot"`
	LocationWeight  float64   `json:"locationWeight"`
	RecencyBonus    float64   `json:"recencyBonus"`
	Created         time.Time `json:"created"`
}

// Field returns the value of a record field by its JSON name, for filter
// evaluation and sorting in stores that cannot push predicates down.
func (r *CacheRecord) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "gridKey":
		return r.GridKey, true
	case "latRounded":
		return r.LatRounded, true
	case "lngRounded":
		return r.LngRounded, true
	case "h3Cell":
		return r.H3Cell, true
	case "source":
		return string(r.Source), true
	case "fetchedAt":
		return r.FetchedAt, true
	case "lastAccessAt":
		return r.LastAccessAt, true
	case "ttlDays":
		return float64(r.TTLDays), true
	case "accessCount":
		return float64(r.AccessCount), true
	case "popularityScore":
		return r.PopularityScore, true
	case "isHot":
		return r.IsHot, true
	case "locationWeight":
		return r.LocationWeight, true
	case "recencyBonus":
		return r.RecencyBonus, true
	case "created":
		return r.Created, true
	default:
		return nil, false
	}
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Payload         *Payload
	Source          *Source
	FetchedAt       *time.Time
	LastAccessAt    *time.Time
	TTLDays         *int
	AccessCount     *int
	PopularityScore *float64
	IsHot           *bool
	LocationWeight  *float64
	RecencyBonus    *float64
}

func (p Patch) Apply(r *CacheRecord) {
	if p.Payload != nil {
		cp := *p.Payload
		r.Payload = &cp
	}
	if p.Source != nil {
		r.Source = *p.Source
	}
	if p.FetchedAt != nil {
		r.FetchedAt = *p.FetchedAt
	}
	if p.LastAccessAt != nil {
		r.LastAccessAt = *p.LastAccessAt
	}
	if p.TTLDays != nil {
		r.TTLDays = *p.TTLDays
	}
	if p.AccessCount != nil {
		r.AccessCount = *p.AccessCount
	}
	if p.PopularityScore != nil {
		r.PopularityScore = *p.PopularityScore
	}
	if p.IsHot != nil {
		r.IsHot = *p.IsHot
	}
	if p.LocationWeight != nil {
		r.LocationWeight = *p.LocationWeight
	}
	if p.RecencyBonus != nil {
		r.RecencyBonus = *p.RecencyBonus
	}
}

// Fields renders the patch as a JSON-ready field map.
func (p Patch) Fields() map[string]any {
	out := map[string]any{}
	if p.Payload != nil {
		out["payload"] = p.Payload
	}
	if p.Source != nil {
		out["source"] = string(*p.Source)
	}
	if p.FetchedAt != nil {
		out["fetchedAt"] = p.FetchedAt.UTC()
	}
	if p.LastAccessAt != nil {
		out["lastAccessAt"] = p.LastAccessAt.UTC()
	}
	if p.TTLDays != nil {
		out["ttlDays"] = *p.TTLDays
	}
	if p.AccessCount != nil {
		out["accessCount"] = *p.AccessCount
	}
	if p.PopularityScore != nil {
		out["popularityScore"] = *p.PopularityScore
	}
	if p.IsHot != nil {
		out["isHot"] = *p.IsHot
	}
	if p.LocationWeight != nil {
		out["locationWeight"] = *p.LocationWeight
	}
	if p.RecencyBonus != nil {
		out["recencyBonus"] = *p.RecencyBonus
	}
	return out
}

func (p Patch) IsZero() bool { return len(p.Fields()) == 0 }

// Ptr is a small helper for building patches.
func Ptr[T any](v T) *T { return &v }
