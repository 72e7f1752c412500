// Package grid maps coordinates onto the coarse cells the cache is keyed by.
package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	h3 "github.com/uber/h3-go/v4"
)

// Step is the grid resolution in degrees (about 1.1 km at the equator).
const Step = 0.01

const scale = 1 / Step

// Round snaps v to the grid, rounding halves away from zero.
func Round(v float64) float64 {
	r := math.Round(v*scale) / scale
	if r == 0 {
		// drop negative zero so "-0.00" never shows up in keys
		return 0
	}
	return r
}

// Key derives the cell identifier for (lat, lng), e.g. "51.54_9.92".
func Key(lat, lng float64) string {
	return strconv.FormatFloat(Round(lat), 'f', 2, 64) + "_" + strconv.FormatFloat(Round(lng), 'f', 2, 64)
}

// Parse splits a key back into its rounded coordinates.
func Parse(key string) (lat, lng float64, err error) {
	a, b, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, fmt.Errorf("grid key %q: missing separator", key)
	}
	if lat, err = strconv.ParseFloat(a, 64); err != nil {
		return 0, 0, fmt.Errorf("grid key %q lat: %w", key, err)
	}
	if lng, err = strconv.ParseFloat(b, 64); err != nil {
		return 0, 0, fmt.Errorf("grid key %q lng: %w", key, err)
	}
	return lat, lng, nil
}

func ValidCoords(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be in [-90,90] (got %g)", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("longitude must be in [-180,180] (got %g)", lng)
	}
	return nil
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// H3Cell returns the H3 index containing the rounded cell centre.
func H3Cell(lat, lng float64, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c, err := h3.LatLngToCell(h3.NewLatLng(Round(lat), Round(lng)), res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// Parent coarsens an H3 cell to parentRes.
func Parent(cell string, parentRes int) (string, error) {
	if err := validateRes(parentRes); err != nil {
		return "", err
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return "", fmt.Errorf("invalid h3 cell %q", cell)
	}
	curRes := c.Resolution()
	if parentRes > curRes {
		return "", fmt.Errorf("parentRes %d must be <= cell resolution %d", parentRes, curRes)
	}
	if parentRes == curRes {
		return cell, nil
	}
	p, err := c.Parent(parentRes)
	if err != nil {
		return "", fmt.Errorf("h3 parent: %w", err)
	}
	return p.String(), nil
}

// Centroid returns the centre of an H3 cell in degrees.
func Centroid(cell string) (lat, lng float64, err error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, 0, fmt.Errorf("parse cell: %w", err)
	}
	ll, err := c.LatLng()
	if err != nil {
		return 0, 0, fmt.Errorf("h3 centroid: %w", err)
	}
	return ll.Lat, ll.Lng, nil
}
