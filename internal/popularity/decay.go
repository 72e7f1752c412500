package popularity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

// DecayHotThreshold re-derives isHot during decay. It is NOT the access-time
// threshold (Config.HotLocationThreshold, default 100); the two disagree and
// both are pinned by tests until someone decides which one is right.
const DecayHotThreshold = 50

const minScoreDelta = 0.1

type DecayConfig struct {
	DecayPerDay float64
	MinScore    float64
	BatchSize   int
	BatchPause  time.Duration
}

func DefaultDecayConfig() DecayConfig {
	return DecayConfig{DecayPerDay: 0.02, MinScore: 10, BatchSize: 100, BatchPause: 100 * time.Millisecond}
}

type DecayResult struct {
	Processed  int   `json:"processed"`
	Updated    int   `json:"updated"`
	Decreased  int   `json:"decreased"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"durationMs"`
}

type DecayEngine struct {
	store store.Interface
	cfg   DecayConfig
	log   *slog.Logger
	now   func() time.Time
}

func NewDecayEngine(s store.Interface, cfg DecayConfig, log *slog.Logger) *DecayEngine {
	def := DefaultDecayConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.DecayPerDay < 0 || cfg.DecayPerDay >= 1 {
		cfg.DecayPerDay = def.DecayPerDay
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &DecayEngine{store: s, cfg: cfg, log: log, now: time.Now}
}

func (e *DecayEngine) ManualPass(ctx context.Context) (DecayResult, error) {
	return e.Pass(ctx, e.now())
}

// Pass decays every record once. Per-record failures are counted; only a
// failed page read or cancellation ends the pass early.
func (e *DecayEngine) Pass(ctx context.Context, now time.Time) (DecayResult, error) {
	start := time.Now()
	var res DecayResult
	first := true

	err := store.Scan(ctx, e.store, store.ListOptions{Sort: "created,id", PerPage: e.cfg.BatchSize},
		func(page []model.CacheRecord) error {
			if !first {
				if err := sleepCtx(ctx, e.cfg.BatchPause); err != nil {
					return err
				}
			}
			first = false
			for i := range page {
				if err := ctx.Err(); err != nil {
					return err
				}
				e.decayOne(ctx, &page[i], now, &res)
			}
			return nil
		})
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		return res, fmt.Errorf("decay pass: %w", err)
	}
	e.log.InfoContext(ctx, "decay pass complete",
		"processed", res.Processed, "updated", res.Updated,
		"decreased", res.Decreased, "errors", res.Errors)
	return res, nil
}

func (e *DecayEngine) decayOne(ctx context.Context, rec *model.CacheRecord, now time.Time, res *DecayResult) {
	res.Processed++
	old := rec.PopularityScore
	next := DecayedScore(old, now.Sub(rec.LastAccessAt), e.cfg.DecayPerDay, e.cfg.MinScore)
	if math.Abs(next-old) < minScoreDelta {
		return
	}
	hot := next >= DecayHotThreshold

	wctx := context.WithoutCancel(ctx)
	if _, err := e.store.Update(wctx, rec.ID, model.Patch{PopularityScore: &next, IsHot: &hot}); err != nil {
		res.Errors++
		e.log.WarnContext(ctx, "decay update failed", "grid_key", rec.GridKey, "err", err)
		return
	}
	res.Updated++
	if next < old {
		res.Decreased++
	}
}

// DecayedScore compounds decayPerDay over whole idle days and floors the
// result at minScore. A score already below the floor is left where it is.
func DecayedScore(score float64, idle time.Duration, decayPerDay, minScore float64) float64 {
	days := math.Floor(idle.Hours() / 24)
	if days < 0 {
		days = 0
	}
	next := score * math.Pow(1-decayPerDay, days)
	next = math.Max(minScore, next)
	next = math.Min(next, score)
	return math.Round(next*100) / 100
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
