package popularity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/memstore"
)

func newEngine(s *memstore.Store) *DecayEngine {
	cfg := DefaultDecayConfig()
	cfg.BatchPause = 0
	return NewDecayEngine(s, cfg, nil)
}

func TestDecayedScore(t *testing.T) {
	day := 24 * time.Hour
	if got := DecayedScore(80, 23*time.Hour, 0.02, 10); got != 80 {
		t.Fatalf("partial day must not decay: %v", got)
	}
	if got := DecayedScore(100, day, 0.02, 10); got != 98 {
		t.Fatalf("one day: %v", got)
	}
	if got := DecayedScore(100, 2*day, 0.02, 10); got != 96.04 {
		t.Fatalf("two days: %v", got)
	}
	if got := DecayedScore(100, 10000*day, 0.02, 10); got != 10 {
		t.Fatalf("floor: %v", got)
	}
	if got := DecayedScore(4, 30*day, 0.02, 10); got != 4 {
		t.Fatalf("score below floor must not be raised: %v", got)
	}
}

func TestDecayPass_FloorAndMonotonic(t *testing.T) {
	s := memstore.New()
	scores := []float64{500, 120, 60, 25, 10.5, 10, 3}
	ids := make([]string, len(scores))
	for i, sc := range scores {
		r := seed(t, s, model.CacheRecord{
			GridKey:         fmt.Sprintf("%d.00_0.00", i),
			AccessCount:     1,
			PopularityScore: sc,
			LastAccessAt:    now0,
		})
		ids[i] = r.ID
	}

	e := newEngine(s)
	prev := append([]float64(nil), scores...)
	for d := 1; d <= 400; d += 13 {
		if _, err := e.Pass(context.Background(), now0.Add(time.Duration(d)*24*time.Hour)); err != nil {
			t.Fatalf("pass: %v", err)
		}
		for i, id := range ids {
			r, _ := s.Get(id)
			if r.PopularityScore > prev[i] {
				t.Fatalf("day %d: score rose %v -> %v", d, prev[i], r.PopularityScore)
			}
			if prev[i] >= 10 && r.PopularityScore < 10 {
				t.Fatalf("day %d: score %v below floor", d, r.PopularityScore)
			}
			prev[i] = r.PopularityScore
		}
	}
	if prev[0] != 10 {
		t.Fatalf("long idle score should settle at floor, got %v", prev[0])
	}
}

func TestDecayPass_HotThresholdIsFifty(t *testing.T) {
	s := memstore.New()
	stillHot := seed(t, s, model.CacheRecord{GridKey: "a", AccessCount: 30, PopularityScore: 70, IsHot: false, LastAccessAt: now0})
	cooled := seed(t, s, model.CacheRecord{GridKey: "b", AccessCount: 30, PopularityScore: 55, IsHot: true, LastAccessAt: now0})

	// 0.98^10 ~= 0.817
	res, err := newEngine(s).Pass(context.Background(), now0.Add(10*24*time.Hour))
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 2 || res.Updated != 2 || res.Decreased != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	a, _ := s.Get(stillHot.ID)
	if a.PopularityScore < 57 || a.PopularityScore > 57.3 || !a.IsHot {
		t.Fatalf("~57.2 is hot during decay (threshold 50), got %+v", a)
	}
	b, _ := s.Get(cooled.ID)
	if b.PopularityScore > 45 || b.IsHot {
		t.Fatalf("~44.9 is not hot during decay, got %+v", b)
	}
}

func TestDecayPass_SkipsSmallChanges(t *testing.T) {
	s := memstore.New()
	seed(t, s, model.CacheRecord{GridKey: "a", AccessCount: 1, PopularityScore: 4, LastAccessAt: now0})
	seed(t, s, model.CacheRecord{GridKey: "b", AccessCount: 1, PopularityScore: 80, LastAccessAt: now0.Add(-time.Hour)})
	updates := 0
	s.FailUpdate = func(string) error {
		updates++
		return nil
	}

	res, err := newEngine(s).Pass(context.Background(), now0)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 2 || res.Updated != 0 || updates != 0 {
		t.Fatalf("expected no writes, res=%+v writes=%d", res, updates)
	}
}

func TestDecayPass_BatchesAndCountsErrors(t *testing.T) {
	s := memstore.New()
	var bad string
	for i := range 250 {
		r := seed(t, s, model.CacheRecord{
			GridKey:         fmt.Sprintf("k%03d", i),
			AccessCount:     1,
			PopularityScore: 200,
			LastAccessAt:    now0.Add(-5 * 24 * time.Hour),
		})
		if i == 137 {
			bad = r.ID
		}
	}
	s.FailUpdate = func(id string) error {
		if id == bad {
			return errors.New("boom")
		}
		return nil
	}

	res, err := newEngine(s).Pass(context.Background(), now0)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Processed != 250 || res.Updated != 249 || res.Errors != 1 || res.Decreased != 249 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDecayPass_StopsOnCancel(t *testing.T) {
	s := memstore.New()
	for i := range 5 {
		seed(t, s, model.CacheRecord{GridKey: fmt.Sprint(i), AccessCount: 1, PopularityScore: 90, LastAccessAt: now0})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newEngine(s).Pass(ctx, now0.Add(48*time.Hour)); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled, got %v", err)
	}
}
