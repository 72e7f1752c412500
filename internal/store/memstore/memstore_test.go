package memstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

func seed(t *testing.T, s *Store, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		_, err := s.Create(context.Background(), model.CacheRecord{
			GridKey:         fmt.Sprintf("%d.00_0.00", i),
			PopularityScore: float64(i),
			IsHot:           i%2 == 0,
			LastAccessAt:    base.Add(time.Duration(i) * time.Hour),
			AccessCount:     1,
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
}

func TestList_FilterSortPaginate(t *testing.T) {
	s := New()
	seed(t, s, 25)
	ctx := context.Background()

	res, err := s.List(ctx, store.ListOptions{
		Filter:  filter.Eq("isHot", true),
		Sort:    "-popularityScore",
		Page:    2,
		PerPage: 5,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.TotalItems != 13 {
		t.Fatalf("total=%d want 13", res.TotalItems)
	}
	if len(res.Items) != 5 {
		t.Fatalf("page size=%d want 5", len(res.Items))
	}
	if res.Items[0].PopularityScore != 14 {
		t.Fatalf("first of page 2 = %g want 14", res.Items[0].PopularityScore)
	}

	res, err = s.List(ctx, store.ListOptions{Page: 9, PerPage: 5})
	if err != nil || len(res.Items) != 0 {
		t.Fatalf("out of range page: items=%d err=%v", len(res.Items), err)
	}
}

func TestFindByGridKey_OldestDuplicateWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	newer, _ := s.Create(ctx, model.CacheRecord{GridKey: "1.00_2.00", LastAccessAt: now})
	older, _ := s.Create(ctx, model.CacheRecord{GridKey: "1.00_2.00", LastAccessAt: now.Add(-time.Hour)})

	got, err := store.FindByGridKey(ctx, s, "1.00_2.00")
	if err != nil {
		t.Fatalf("FindByGridKey: %v", err)
	}
	if got.ID != older.ID || got.ID == newer.ID {
		t.Fatalf("picked %s want oldest %s", got.ID, older.ID)
	}

	if _, err := store.FindByGridKey(ctx, s, "9.99_9.99"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing key err=%v want ErrNotFound", err)
	}
}

func TestScan_StopsOnPartialPage(t *testing.T) {
	s := New()
	seed(t, s, 250)

	pages := 0
	seen := 0
	err := store.Scan(context.Background(), s, store.ListOptions{PerPage: 100}, func(p []model.CacheRecord) error {
		pages++
		seen += len(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if pages != 3 || seen != 250 {
		t.Fatalf("pages=%d seen=%d", pages, seen)
	}
}

func TestUpdateDelete_NotFound(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Update(ctx, "nope", model.Patch{IsHot: model.Ptr(true)}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update err=%v", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delete err=%v", err)
	}

	rec, _ := s.Create(ctx, model.CacheRecord{GridKey: "a", AccessCount: 1})
	up, err := s.Update(ctx, rec.ID, model.Patch{AccessCount: model.Ptr(5)})
	if err != nil || up.AccessCount != 5 || up.GridKey != "a" {
		t.Fatalf("update got=%+v err=%v", up, err)
	}
	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d want 0", s.Len())
	}
}
