// Package cleanup deletes cache records past their TTL and reconciles
// duplicate rows for the same grid cell.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/freshness"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

const (
	DefaultInterval = 6 * time.Hour
	jobName         = "cleanup"
)

type Config struct {
	PageSize int
	// records scoring below this and idle for PruneIdleDays are deleted too;
	// 0 disables pruning
	PruneBelowScore float64
	PruneIdleDays   int
	// first wait of the de-dup delete retry; doubles per attempt
	RetryInterval time.Duration
	RetryAttempts uint
}

func DefaultConfig() Config {
	return Config{PageSize: store.DefaultPerPage, PruneIdleDays: 30, RetryInterval: time.Second, RetryAttempts: 3}
}

type Result struct {
	DeletedCount int   `json:"deletedCount"`
	PrunedCount  int   `json:"prunedCount"`
	ErrorCount   int   `json:"errorCount"`
	Scanned      int   `json:"scanned"`
	DurationMs   int64 `json:"durationMs"`
}

type Engine struct {
	store store.Interface
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

func New(s store.Interface, cfg Config, log *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: s, cfg: cfg, log: log, now: time.Now}
}

func (e *Engine) ManualRun(ctx context.Context) (Result, error) { return e.Run(ctx) }

// Run scans the full record set and deletes what has expired. Ids are
// collected first and deleted after the scan so deletions never shift the
// pages still being read.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	now := e.now()
	var res Result
	var expired, pruned []model.CacheRecord

	err := store.Scan(ctx, e.store, store.ListOptions{Sort: "created,id", PerPage: e.cfg.PageSize},
		func(page []model.CacheRecord) error {
			for i := range page {
				res.Scanned++
				switch {
				case freshness.IsExpired(&page[i], now):
					expired = append(expired, page[i])
				case e.prunable(&page[i], now):
					pruned = append(pruned, page[i])
				}
			}
			return nil
		})
	if err != nil {
		res.DurationMs = time.Since(start).Milliseconds()
		return res, fmt.Errorf("cleanup scan: %w", err)
	}

	del := func(recs []model.CacheRecord, counter *int) error {
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.store.Delete(context.WithoutCancel(ctx), rec.ID); err != nil {
				res.ErrorCount++
				e.log.WarnContext(ctx, "cleanup delete failed", "grid_key", rec.GridKey, "id", rec.ID, "err", err)
				continue
			}
			*counter++
		}
		return nil
	}
	err = del(expired, &res.DeletedCount)
	if err == nil {
		err = del(pruned, &res.PrunedCount)
	}
	res.DurationMs = time.Since(start).Milliseconds()

	observability.AddJobItems(jobName, "deleted", res.DeletedCount)
	observability.AddJobItems(jobName, "pruned", res.PrunedCount)
	observability.AddJobItems(jobName, "failed", res.ErrorCount)
	if err != nil {
		return res, fmt.Errorf("cleanup stopped: %w", err)
	}
	e.log.InfoContext(ctx, "cleanup run complete",
		"scanned", res.Scanned, "deleted", res.DeletedCount,
		"pruned", res.PrunedCount, "errors", res.ErrorCount, "duration_ms", res.DurationMs)
	return res, nil
}

func (e *Engine) prunable(rec *model.CacheRecord, now time.Time) bool {
	if e.cfg.PruneBelowScore <= 0 || rec.PopularityScore >= e.cfg.PruneBelowScore {
		return false
	}
	idle := now.Sub(rec.LastAccessAt)
	return idle >= time.Duration(e.cfg.PruneIdleDays)*freshness.Day
}
