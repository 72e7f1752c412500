package grid

import (
	"strings"
	"testing"
)

func TestKey_FormatAndRounding(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     string
	}{
		{51.541, 9.9158, "51.54_9.92"},
		{51.5413, 9.9155, "51.54_9.92"},
		{0, 0, "0.00_0.00"},
		{-0.001, -0.004, "0.00_0.00"},
		{-33.8688, 151.2093, "-33.87_151.21"},
		{10.5, -20, "10.50_-20.00"},
	}
	for _, c := range cases {
		if got := Key(c.lat, c.lng); got != c.want {
			t.Fatalf("Key(%g,%g)=%q want %q", c.lat, c.lng, got, c.want)
		}
	}
}

func TestKey_StableWithinCell_DiffersAcrossBoundary(t *testing.T) {
	base := Key(51.541, 9.9158)
	for _, eps := range []float64{0.0001, 0.0002, 0.0003} {
		if got := Key(51.541+eps, 9.9158+eps); got != base {
			t.Fatalf("eps=%g moved key %q -> %q", eps, base, got)
		}
	}
	if Key(51.54, 9.90) == Key(51.56, 9.90) {
		t.Fatalf("keys two steps apart must differ")
	}
	if Key(51.544, 9.90) == Key(51.546, 9.90) {
		t.Fatalf("crossing a rounding boundary must change the key")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	lat, lng, err := Parse(Key(51.5413, 9.9155))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if lat != 51.54 || lng != 9.92 {
		t.Fatalf("got %g,%g", lat, lng)
	}
	if _, _, err := Parse("nonsense"); err == nil {
		t.Fatalf("expected error for key without separator")
	}
}

func TestValidCoords(t *testing.T) {
	if err := ValidCoords(51.5, 9.9); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := ValidCoords(91, 0); err == nil {
		t.Fatalf("expected latitude error")
	}
	if err := ValidCoords(0, -181); err == nil {
		t.Fatalf("expected longitude error")
	}
}

func TestH3Cell_AndParent(t *testing.T) {
	c, err := H3Cell(51.5413, 9.9155, 7)
	if err != nil {
		t.Fatalf("H3Cell: %v", err)
	}
	c2, err := H3Cell(51.541, 9.9158, 7)
	if err != nil {
		t.Fatalf("H3Cell: %v", err)
	}
	if c != c2 {
		t.Fatalf("same grid cell must map to same h3 cell: %s vs %s", c, c2)
	}
	p, err := Parent(c, 5)
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if p == c || strings.TrimSpace(p) == "" {
		t.Fatalf("unexpected parent %q for %q", p, c)
	}
	same, err := Parent(c, 7)
	if err != nil || same != c {
		t.Fatalf("parent at same res should be identity: %q %v", same, err)
	}
	if _, err := Parent(c, 9); err == nil {
		t.Fatalf("expected error for finer parent resolution")
	}
	if _, err := H3Cell(0, 0, 16); err == nil {
		t.Fatalf("expected invalid resolution error")
	}
	lat, lng, err := Centroid(c)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	if lat < 51 || lat > 52 || lng < 9 || lng > 11 {
		t.Fatalf("centroid out of area: %g,%g", lat, lng)
	}
}
