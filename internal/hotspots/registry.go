// Package hotspots lists and ranks the grid cells currently flagged hot.
package hotspots

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/freshness"
	"github.com/mohammed-shakir/solar-grid-cache/internal/grid"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/popularity"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

const (
	DefaultExpiringSoonDays = 7
	statsTopN               = 10
)

type HotLocation struct {
	ID              string       `json:"id"`
	GridKey         string       `json:"gridKey"`
	Lat             float64      `json:"lat"`
	Lng             float64      `json:"lng"`
	H3Cell          string       `json:"h3Cell,omitempty"`
	PopularityScore float64      `json:"popularityScore"`
	AccessCount     int          `json:"accessCount"`
	Source          model.Source `json:"source"`
	LastAccessAt    time.Time    `json:"lastAccessAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	DaysUntilExpiry int          `json:"daysUntilExpiry"`
}

type Stats struct {
	TotalRecords       int           `json:"totalRecords"`
	HotCount           int           `json:"hotCount"`
	MeanScore          float64       `json:"meanScore"`
	PreFetchCandidates int           `json:"preFetchCandidates"`
	Top                []HotLocation `json:"top"`
}

// Region aggregates hot cells under one coarser H3 cell.
type Region struct {
	Cell       string  `json:"cell"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	HotCells   int     `json:"hotCells"`
	TotalScore float64 `json:"totalScore"`
}

// ConfigSource supplies the live popularity tuning.
type ConfigSource interface {
	Config() popularity.Config
}

type Registry struct {
	store store.Interface
	cfg   ConfigSource
	log   *slog.Logger
	now   func() time.Time
}

func New(s store.Interface, cfg ConfigSource, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{store: s, cfg: cfg, log: log, now: time.Now}
}

func (r *Registry) locate(rec *model.CacheRecord, now time.Time) HotLocation {
	return HotLocation{
		ID:              rec.ID,
		GridKey:         rec.GridKey,
		Lat:             rec.LatRounded,
		Lng:             rec.LngRounded,
		H3Cell:          rec.H3Cell,
		PopularityScore: rec.PopularityScore,
		AccessCount:     rec.AccessCount,
		Source:          rec.Source,
		LastAccessAt:    rec.LastAccessAt,
		ExpiresAt:       freshness.ExpiresAt(rec),
		DaysUntilExpiry: freshness.DaysUntilExpiry(rec, now),
	}
}

// ListHot returns every hot cell, highest score first. Equal scores keep
// store order.
func (r *Registry) ListHot(ctx context.Context) ([]HotLocation, error) {
	now := r.now()
	var out []HotLocation
	err := store.Scan(ctx, r.store, store.ListOptions{Filter: filter.Eq("isHot", true), Sort: "created,id"},
		func(page []model.CacheRecord) error {
			for i := range page {
				out = append(out, r.locate(&page[i], now))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list hot: %w", err)
	}
	slices.SortStableFunc(out, func(a, b HotLocation) int {
		return cmp.Compare(b.PopularityScore, a.PopularityScore)
	})
	observability.SetHotLocations(len(out))
	return out, nil
}

func (r *Registry) Top(ctx context.Context, n int) ([]HotLocation, error) {
	all, err := r.ListHot(ctx)
	if err != nil {
		return nil, err
	}
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all, nil
}

// Stats scans the whole store once for totals, then lists the hot cells.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	preFetchAt := r.cfg.Config().PreFetchThreshold
	var st Stats
	var sum float64
	err := store.Scan(ctx, r.store, store.ListOptions{Sort: "created,id"}, func(page []model.CacheRecord) error {
		for _, rec := range page {
			st.TotalRecords++
			sum += rec.PopularityScore
			if rec.IsHot {
				st.HotCount++
			}
			if rec.PopularityScore >= preFetchAt {
				st.PreFetchCandidates++
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("popularity stats: %w", err)
	}
	if st.TotalRecords > 0 {
		st.MeanScore = math.Round(sum / float64(st.TotalRecords))
	}
	if st.Top, err = r.Top(ctx, statsTopN); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// SetHot overrides the hot flag of one cell. It reports false when the cell
// is unknown or the write fails.
func (r *Registry) SetHot(ctx context.Context, gridKey string, hot bool) bool {
	rec, err := store.FindByGridKey(ctx, r.store, gridKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.WarnContext(ctx, "set hot lookup failed", "grid_key", gridKey, "err", err)
		}
		return false
	}
	if _, err := r.store.Update(ctx, rec.ID, model.Patch{IsHot: &hot}); err != nil {
		r.log.WarnContext(ctx, "set hot update failed", "grid_key", gridKey, "err", err)
		return false
	}
	r.log.InfoContext(ctx, "hot flag overridden", "grid_key", gridKey, "hot", hot)
	return true
}

// IsExpiringSoon uses DefaultExpiringSoonDays when thresholdDays <= 0.
func IsExpiringSoon(loc HotLocation, thresholdDays int) bool {
	if thresholdDays <= 0 {
		thresholdDays = DefaultExpiringSoonDays
	}
	return loc.DaysUntilExpiry <= thresholdDays
}

// HotRegions groups hot cells by their H3 parent at res, busiest first.
func (r *Registry) HotRegions(ctx context.Context, res int) ([]Region, error) {
	hot, err := r.ListHot(ctx)
	if err != nil {
		return nil, err
	}
	byCell := map[string]*Region{}
	var order []string
	for _, h := range hot {
		cell := h.H3Cell
		if cell == "" {
			if cell, err = grid.H3Cell(h.Lat, h.Lng, res); err != nil {
				return nil, fmt.Errorf("hot regions: %w", err)
			}
		}
		parent, err := grid.Parent(cell, res)
		if err != nil {
			r.log.DebugContext(ctx, "skip cell for region", "grid_key", h.GridKey, "err", err)
			continue
		}
		reg, ok := byCell[parent]
		if !ok {
			reg = &Region{Cell: parent}
			reg.Lat, reg.Lng, _ = grid.Centroid(parent)
			byCell[parent] = reg
			order = append(order, parent)
		}
		reg.HotCells++
		reg.TotalScore += h.PopularityScore
	}
	out := make([]Region, 0, len(order))
	for _, c := range order {
		out = append(out, *byCell[c])
	}
	slices.SortStableFunc(out, func(a, b Region) int {
		if d := cmp.Compare(b.HotCells, a.HotCells); d != 0 {
			return d
		}
		return cmp.Compare(b.TotalScore, a.TotalScore)
	})
	return out, nil
}
