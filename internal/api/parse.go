package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
)

// SolarQuery is a validated GET /solar request.
type SolarQuery struct {
	Lat   float64
	Lng   float64
	Panel model.PanelParams
}

// ParseSolarQuery reads lat and lng (required) plus area, tilt and azimuth,
// which default to the reference panel.
func ParseSolarQuery(r *http.Request) (SolarQuery, error) {
	q := r.URL.Query()
	var out SolarQuery
	var err error

	if out.Lat, err = requiredFloat(q.Get("lat"), "lat"); err != nil {
		return SolarQuery{}, err
	}
	if out.Lng, err = requiredFloat(q.Get("lng"), "lng"); err != nil {
		return SolarQuery{}, err
	}

	out.Panel = model.ReferencePanel
	if out.Panel.AreaM2, err = optionalFloat(q.Get("area"), "area", out.Panel.AreaM2); err != nil {
		return SolarQuery{}, err
	}
	if out.Panel.TiltDeg, err = optionalFloat(q.Get("tilt"), "tilt", out.Panel.TiltDeg); err != nil {
		return SolarQuery{}, err
	}
	if out.Panel.AzimuthDeg, err = optionalFloat(q.Get("azimuth"), "azimuth", out.Panel.AzimuthDeg); err != nil {
		return SolarQuery{}, err
	}
	return out, nil
}

func requiredFloat(raw, name string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	return parseFloat(raw, name)
}

func optionalFloat(raw, name string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return parseFloat(raw, name)
}

func parseFloat(raw, name string) (float64, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: parse float: %w", name, err)
	}
	return f, nil
}

func parseIntParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be in [%d,%d] (got %d)", name, lo, hi, n)
	}
	return n, nil
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, errors.New("missing required parameter: " + name)
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
