package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

type DedupeResult struct {
	Groups     int   `json:"groups"`
	Deleted    int   `json:"deleted"`
	Errors     int   `json:"errors"`
	DurationMs int64 `json:"durationMs"`
}

// Dedupe finds grid keys backed by more than one record and deletes all but
// the one FindByGridKey would pick (oldest lastAccessAt, then id). Deletes
// retry with exponential backoff.
func (e *Engine) Dedupe(ctx context.Context) (DedupeResult, error) {
	start := time.Now()
	var res DedupeResult

	// records arrive ordered so the first one seen per key is the keeper
	keeper := map[string]string{}
	var losers []model.CacheRecord
	err := store.Scan(ctx, e.store, store.ListOptions{Sort: "gridKey,lastAccessAt,id", PerPage: e.cfg.PageSize},
		func(page []model.CacheRecord) error {
			for _, rec := range page {
				if _, ok := keeper[rec.GridKey]; !ok {
					keeper[rec.GridKey] = rec.ID
					continue
				}
				if len(losers) == 0 || losers[len(losers)-1].GridKey != rec.GridKey {
					res.Groups++
				}
				losers = append(losers, rec)
			}
			return nil
		})
	if err != nil {
		res.DurationMs = time.Since(start).Milliseconds()
		return res, fmt.Errorf("dedupe scan: %w", err)
	}

	for _, rec := range losers {
		if err := ctx.Err(); err != nil {
			res.DurationMs = time.Since(start).Milliseconds()
			return res, fmt.Errorf("dedupe stopped: %w", err)
		}
		if err := e.deleteWithRetry(ctx, rec.ID); err != nil {
			res.Errors++
			e.log.WarnContext(ctx, "dedupe delete failed", "grid_key", rec.GridKey, "id", rec.ID, "err", err)
			continue
		}
		res.Deleted++
	}
	res.DurationMs = time.Since(start).Milliseconds()
	e.log.InfoContext(ctx, "dedupe complete", "groups", res.Groups, "deleted", res.Deleted, "errors", res.Errors)
	return res, nil
}

func (e *Engine) deleteWithRetry(ctx context.Context, id string) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.cfg.RetryInterval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         8 * e.cfg.RetryInterval,
	}
	dctx := context.WithoutCancel(ctx)
	_, err := backoff.Retry(dctx, func() (struct{}, error) {
		err := e.store.Delete(dctx, id)
		// already gone counts as deleted
		if errors.Is(err, store.ErrNotFound) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.cfg.RetryAttempts+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.log.DebugContext(ctx, "retrying delete", "id", id, "wait", wait, "err", err)
		}),
	)
	return err
}
