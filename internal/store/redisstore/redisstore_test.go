package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

// creates a store connected to miniredis
func newMini(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	s, err := New(ctx, mr.Addr(), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	s.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return s, mr
}

func TestCreateListUpdateDelete(t *testing.T) {
	s, mr := newMini(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, model.CacheRecord{
		GridKey:      "51.54_9.92",
		Payload:      &model.Payload{AnnualKWh: 2200, Source: model.SourcePVGIS},
		Source:       model.SourcePVGIS,
		AccessCount:  1,
		LastAccessAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == "" || rec.Created.IsZero() {
		t.Fatalf("id/created not assigned: %+v", rec)
	}
	if !mr.Exists("test:rec:" + rec.ID) {
		t.Fatalf("record key missing")
	}

	got, err := store.FindByGridKey(ctx, s, "51.54_9.92")
	if err != nil {
		t.Fatalf("FindByGridKey: %v", err)
	}
	if got.Payload == nil || got.Payload.AnnualKWh != 2200 || got.Source != model.SourcePVGIS {
		t.Fatalf("round trip lost fields: %+v", got)
	}

	count, hot := 5, true
	upd, err := s.Update(ctx, rec.ID, model.Patch{AccessCount: &count, IsHot: &hot})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if upd.AccessCount != 5 || !upd.IsHot || upd.Payload.AnnualKWh != 2200 {
		t.Fatalf("patch not applied: %+v", upd)
	}

	if err := s.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.FindByGridKey(ctx, s, "51.54_9.92"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want not found after delete, got %v", err)
	}
	if mr.Exists("test:gk:51.54_9.92") {
		t.Fatalf("grid key index not cleaned")
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newMini(t)
	ctx := context.Background()
	if _, err := s.Update(ctx, "nope", model.Patch{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("update: want ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("delete: want ErrNotFound, got %v", err)
	}
}

func TestList_FilterSortAndScan(t *testing.T) {
	s, _ := newMini(t)
	ctx := context.Background()
	for i := range 130 {
		_, err := s.Create(ctx, model.CacheRecord{
			GridKey:         fmt.Sprintf("%d.00_0.00", i),
			AccessCount:     1,
			PopularityScore: float64(i),
			IsHot:           i >= 100,
		})
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}

	res, err := s.List(ctx, store.ListOptions{Filter: filter.Eq("isHot", true), Sort: "-popularityScore", PerPage: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.TotalItems != 30 || len(res.Items) != 10 || res.Items[0].PopularityScore != 129 {
		t.Fatalf("unexpected page: total=%d len=%d first=%v", res.TotalItems, len(res.Items), res.Items[0].PopularityScore)
	}

	seen := 0
	pages := 0
	err = store.Scan(ctx, s, store.ListOptions{Sort: "created"}, func(p []model.CacheRecord) error {
		pages++
		seen += len(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if seen != 130 || pages != 2 {
		t.Fatalf("scan saw %d records in %d pages", seen, pages)
	}
}

func TestList_CreationOrderReadsOnlyThePage(t *testing.T) {
	s, mr := newMini(t)
	ctx := context.Background()

	var ids []string
	for i := range 250 {
		rec, err := s.Create(ctx, model.CacheRecord{GridKey: fmt.Sprintf("%d.00_0.00", i)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	// a record on the last page that no longer decodes
	mr.Set(s.recKey(ids[240]), "{not json")

	res, err := s.List(ctx, store.ListOptions{Sort: "created,id", Page: 2, PerPage: 100})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if res.TotalItems != 250 || len(res.Items) != 100 {
		t.Fatalf("total=%d items=%d", res.TotalItems, len(res.Items))
	}
	if res.Items[0].ID != ids[100] || res.Items[99].ID != ids[199] {
		t.Fatalf("window = %s..%s, want %s..%s", res.Items[0].ID, res.Items[99].ID, ids[100], ids[199])
	}

	if _, err := s.List(ctx, store.ListOptions{Page: 3, PerPage: 100}); err == nil {
		t.Fatal("page holding the broken record should fail to decode")
	}

	mr.Set(s.recKey(ids[240]), mustJSON(t, model.CacheRecord{ID: ids[240], GridKey: "240.00_0.00", Created: time.Unix(0, 0)}))
	var seen []string
	err = store.Scan(ctx, s, store.ListOptions{Sort: "created,id", PerPage: 100}, func(page []model.CacheRecord) error {
		for _, r := range page {
			seen = append(seen, r.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(seen) != 250 || seen[0] != ids[0] || seen[249] != ids[249] {
		t.Fatalf("scan saw %d records", len(seen))
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestDuplicateGridKeys_OldestWins(t *testing.T) {
	s, _ := newMini(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_, _ = s.Create(ctx, model.CacheRecord{GridKey: "k", AccessCount: 1, LastAccessAt: now})
	old, _ := s.Create(ctx, model.CacheRecord{GridKey: "k", AccessCount: 1, LastAccessAt: now.Add(-time.Hour)})

	got, err := store.FindByGridKey(ctx, s, "k")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != old.ID {
		t.Fatalf("want oldest lastAccessAt record")
	}
}

func TestContextCanceled(t *testing.T) {
	s, _ := newMini(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Create(ctx, model.CacheRecord{GridKey: "k"}); err == nil {
		t.Fatalf("expected error on Create with canceled context")
	}
	if _, err := s.List(ctx, store.ListOptions{}); err == nil {
		t.Fatalf("expected error on List with canceled context")
	}
}
