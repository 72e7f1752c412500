package popularity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

// Touch is the outcome of a successful UpdateScore: the record as it was
// read and as it was written.
type Touch struct {
	Before model.CacheRecord
	After  model.CacheRecord
}

type Tracker struct {
	store store.Interface
	log   *slog.Logger
	now   func() time.Time

	// fraction of hot-cell touches that get an info log line
	LogHotSample float64

	mu  sync.RWMutex
	cfg Config
}

func NewTracker(s store.Interface, cfg Config, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Tracker{store: s, cfg: cfg, log: log, now: time.Now, LogHotSample: 0.01}
}

// Config returns a copy of the current tuning.
func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// SetConfig replaces the tuning. Concurrent writers are last-write-wins.
func (t *Tracker) SetConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("popularity config: %w", err)
	}
	t.mu.Lock()
	t.cfg = c
	t.mu.Unlock()
	return nil
}

func (t *Tracker) Initial(lat float64) Popularity { return Initial(t.Config(), lat) }

// UpdateScore records one access to gridKey. It is best-effort: lookup and
// write failures are logged and reported as ok=false, never returned.
func (t *Tracker) UpdateScore(ctx context.Context, gridKey string) (Touch, bool) {
	rec, err := store.FindByGridKey(ctx, t.store, gridKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			observability.IncPopularityUpdate("absent")
		} else {
			observability.IncPopularityUpdate("error")
			t.log.WarnContext(ctx, "popularity lookup failed", "grid_key", gridKey, "err", err)
		}
		return Touch{}, false
	}

	cfg := t.Config()
	now := t.now().UTC()
	count := max(rec.AccessCount, 0) + 1
	recency := RecencyBonus(now.Sub(rec.LastAccessAt))
	w := LocationWeight(rec.LatRounded)
	score := Score(cfg, count, recency, w)
	hot := cfg.IsHot(score)

	after, err := t.store.Update(ctx, rec.ID, model.Patch{
		AccessCount:     &count,
		LastAccessAt:    &now,
		PopularityScore: &score,
		IsHot:           &hot,
		LocationWeight:  &w,
		RecencyBonus:    &recency,
	})
	if err != nil {
		observability.IncPopularityUpdate("error")
		t.log.WarnContext(ctx, "popularity update failed", "grid_key", gridKey, "err", err)
		return Touch{}, false
	}
	observability.IncPopularityUpdate("ok")

	switch {
	case hot && !rec.IsHot:
		t.log.InfoContext(ctx, "cell became hot", "grid_key", gridKey, "score", score, "access_count", count)
	case hot && shouldLog(t.LogHotSample, gridKey):
		t.log.InfoContext(ctx, "hot cell touched",
			"cell_hash", fmt.Sprintf("%08x", xx.Sum64String(gridKey)),
			"score", score)
	}
	return Touch{Before: rec, After: after}, true
}

// shouldLog deterministically samples keys by hash so a given cell is either
// always or never logged.
func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	return xx.Sum64String(key)%denom < threshold
}
