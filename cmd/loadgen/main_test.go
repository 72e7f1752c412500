package main

import (
	"bytes"
	"encoding/csv"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	vals := []float64{10, 20, 30, 40, 50}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 30},
		{100, 50},
		{25, 20},
		{90, 46},
	}
	for _, c := range cases {
		if got := percentile(vals, c.p); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("p%.0f=%g want %g", c.p, got, c.want)
		}
	}
	if !math.IsNaN(percentile(nil, 50)) {
		t.Fatal("empty input should be NaN")
	}
}

func TestMakeLocations_InRange(t *testing.T) {
	locs := makeLocations(500, rand.New(rand.NewSource(7)))
	if len(locs) != 500 {
		t.Fatalf("len=%d", len(locs))
	}
	for _, l := range locs {
		if l.Lat < -55 || l.Lat > 70 || l.Lng < -180 || l.Lng > 180 {
			t.Fatalf("out of range: %+v", l)
		}
	}
}

func TestParseLocations_SkipsBadRows(t *testing.T) {
	in := "lat,lng\n51.54,9.92\nfoo,bar\n95,0\n-33.87, 151.21\n7\n"
	locs, err := parseLocations(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 2 || locs[1].Lng != 151.21 {
		t.Fatalf("locs=%+v", locs)
	}
}

func TestAggregate_HitRatio(t *testing.T) {
	ch := make(chan sample, 5)
	ch <- sample{Timestamp: time.Now(), Latency: time.Millisecond, Status: 200, Source: "local"}
	ch <- sample{Timestamp: time.Now(), Latency: time.Millisecond, Status: 200, Source: "local"}
	ch <- sample{Timestamp: time.Now(), Latency: time.Millisecond, Status: 200, Source: "local"}
	ch <- sample{Timestamp: time.Now(), Latency: 3 * time.Millisecond, Status: 200, Source: "pvgis"}
	ch <- sample{Timestamp: time.Now(), Status: 502, ErrorMsg: "status=502"}
	close(ch)

	var buf bytes.Buffer
	s := aggregate(ch, csv.NewWriter(&buf))
	if s.TotalRequests != 5 || s.SuccessCount != 4 || s.ErrorCount != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if math.Abs(s.HitRatio-0.75) > 1e-9 {
		t.Fatalf("hit ratio=%g want 0.75", s.HitRatio)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 6 {
		t.Fatalf("csv lines=%d want 6", lines)
	}
}
