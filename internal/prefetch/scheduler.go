// Package prefetch keeps hot grid cells warm by refreshing their payloads
// from the provider chain before anyone asks for them.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/hotspots"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

const (
	DefaultInterval = 6 * time.Hour
	jobName         = "prefetch"
	itemTimeout     = time.Minute
)

type HotLister interface {
	ListHot(ctx context.Context) ([]hotspots.HotLocation, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, q provider.Query) (*model.Payload, model.Source, error)
}

type Config struct {
	// provider calls per second across the whole run
	RPS float64
	// skip cells a scheduled run refreshed within this window; 0 disables
	RecentWindow time.Duration
	// only refresh cells expiring within this many days; 0 refreshes every hot cell
	ExpiringWithinDays int
	Panel              model.PanelParams
}

func DefaultConfig() Config {
	return Config{RPS: 1, RecentWindow: time.Hour, Panel: model.ReferencePanel}
}

type Result struct {
	GridKey string       `json:"gridKey"`
	Success bool         `json:"success"`
	Skipped bool         `json:"skipped,omitempty"`
	Source  model.Source `json:"source,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type Summary struct {
	Total      int            `json:"total"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	BySource   map[string]int `json:"bySource"`
	DurationMs int64          `json:"durationMs"`
	Results    []Result       `json:"results"`
}

type Scheduler struct {
	hot     HotLister
	store   store.Interface
	chain   Fetcher
	cfg     Config
	limiter *rate.Limiter
	recent  *expirable.LRU[string, time.Time]
	log     *slog.Logger
	now     func() time.Time
}

func New(hot HotLister, s store.Interface, chain Fetcher, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Panel == (model.PanelParams{}) {
		cfg.Panel = model.ReferencePanel
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	sc := &Scheduler{
		hot:     hot,
		store:   s,
		chain:   chain,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		log:     log,
		now:     time.Now,
	}
	if cfg.RecentWindow > 0 {
		sc.recent = expirable.NewLRU[string, time.Time](8192, nil, cfg.RecentWindow)
	}
	return sc
}

// Run refreshes every hot cell in turn. A failing cell is recorded in the
// summary and does not stop the run; cancellation does, between cells.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{BySource: map[string]int{}}

	locs, err := s.hot.ListHot(ctx)
	if err != nil {
		return sum, fmt.Errorf("prefetch: list hot: %w", err)
	}

	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			sum.DurationMs = time.Since(start).Milliseconds()
			return sum, fmt.Errorf("prefetch stopped: %w", err)
		}
		if s.cfg.ExpiringWithinDays > 0 && !hotspots.IsExpiringSoon(loc, s.cfg.ExpiringWithinDays) {
			continue
		}
		if s.recent != nil {
			if at, ok := s.recent.Get(loc.GridKey); ok {
				s.log.DebugContext(ctx, "recently refreshed", "grid_key", loc.GridKey, "at", at)
				sum.add(Result{GridKey: loc.GridKey, Skipped: true})
				continue
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			sum.DurationMs = time.Since(start).Milliseconds()
			return sum, fmt.Errorf("prefetch stopped: %w", err)
		}
		res := s.refresh(context.WithoutCancel(ctx), loc)
		if res.Success && s.recent != nil {
			s.recent.Add(loc.GridKey, s.now())
		}
		sum.add(res)
	}

	sum.DurationMs = time.Since(start).Milliseconds()
	observability.AddJobItems(jobName, "refreshed", sum.Succeeded)
	observability.AddJobItems(jobName, "failed", sum.Failed)
	observability.AddJobItems(jobName, "skipped", sum.Skipped)
	s.log.InfoContext(ctx, "prefetch run complete",
		"total", sum.Total, "succeeded", sum.Succeeded, "failed", sum.Failed,
		"skipped", sum.Skipped, "duration_ms", sum.DurationMs)
	return sum, nil
}

// RunOne refreshes a single cell, bypassing the recent-refresh guard. It
// returns nil when the cell is not currently hot.
func (s *Scheduler) RunOne(ctx context.Context, gridKey string) (*Result, error) {
	locs, err := s.hot.ListHot(ctx)
	if err != nil {
		return nil, fmt.Errorf("prefetch: list hot: %w", err)
	}
	for _, loc := range locs {
		if loc.GridKey != gridKey {
			continue
		}
		res := s.refresh(ctx, loc)
		if res.Success && s.recent != nil {
			s.recent.Add(loc.GridKey, s.now())
		}
		return &res, nil
	}
	return nil, nil
}

func (s *Scheduler) refresh(ctx context.Context, loc hotspots.HotLocation) Result {
	ctx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()
	res := Result{GridKey: loc.GridKey}

	rec, err := store.FindByGridKey(ctx, s.store, loc.GridKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.log.InfoContext(ctx, "no record for hot cell, skipping", "grid_key", loc.GridKey)
			res.Skipped = true
			return res
		}
		res.Error = err.Error()
		return res
	}

	pl, src, err := s.chain.Fetch(ctx, provider.Query{Lat: rec.LatRounded, Lng: rec.LngRounded, Panel: s.cfg.Panel})
	if err != nil {
		res.Error = err.Error()
		s.log.WarnContext(ctx, "prefetch fetch failed", "grid_key", loc.GridKey, "err", err)
		return res
	}

	now := s.now().UTC()
	if _, err := s.store.Update(ctx, rec.ID, model.Patch{
		Payload:      pl,
		Source:       &src,
		FetchedAt:    &now,
		LastAccessAt: &now,
	}); err != nil {
		res.Error = err.Error()
		s.log.WarnContext(ctx, "prefetch write failed", "grid_key", loc.GridKey, "err", err)
		return res
	}
	res.Success = true
	res.Source = src
	return res
}

func (s *Summary) add(r Result) {
	s.Total++
	s.Results = append(s.Results, r)
	switch {
	case r.Skipped:
		s.Skipped++
	case r.Success:
		s.Succeeded++
		s.BySource[string(r.Source.Tier())]++
	default:
		s.Failed++
		s.BySource["error"]++
	}
}
