// Package orchestrator is the request path of the cache: derive the grid
// key, record the access, serve a fresh record or fetch and store a new one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/events"
	"github.com/mohammed-shakir/solar-grid-cache/internal/freshness"
	"github.com/mohammed-shakir/solar-grid-cache/internal/grid"
	"github.com/mohammed-shakir/solar-grid-cache/internal/logger"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/popularity"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

// ErrInvalidInput wraps coordinate and panel validation failures.
var ErrInvalidInput = errors.New("invalid input")

type Tracker interface {
	UpdateScore(ctx context.Context, gridKey string) (popularity.Touch, bool)
	Initial(lat float64) popularity.Popularity
}

type Fetcher interface {
	Fetch(ctx context.Context, q provider.Query) (*model.Payload, model.Source, error)
}

type EventSink interface {
	Publish(ev events.Event)
}

type Response struct {
	Data    *model.Payload `json:"data"`
	Source  model.Source   `json:"source"`
	GridKey string         `json:"gridKey"`
	Cached  bool           `json:"cached"`
}

type Options struct {
	TTLDays int
	// H3 resolution stamped on new records; negative disables
	H3Res  int
	Events EventSink
}

type Orchestrator struct {
	store   store.Interface
	tracker Tracker
	chain   Fetcher
	opts    Options
	log     *slog.Logger
	now     func() time.Time
	group   singleflight.Group
}

func New(s store.Interface, tr Tracker, chain Fetcher, opts Options, log *slog.Logger) *Orchestrator {
	if opts.TTLDays <= 0 {
		opts.TTLDays = model.DefaultTTLDays
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{store: s, tracker: tr, chain: chain, opts: opts, log: log, now: time.Now}
}

// Get answers one lookup. Store failures degrade to a miss; an error is
// returned only for invalid input or when no provider, synthetic included,
// produced data.
func (o *Orchestrator) Get(ctx context.Context, lat, lng float64, panel model.PanelParams) (Response, error) {
	if err := grid.ValidCoords(lat, lng); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := panel.Validate(); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	key := grid.Key(lat, lng)
	ctx = logger.WithGridKey(ctx, key)

	// the tracker reads the row it touches; reuse it so both steps agree on
	// which duplicate is live
	touch, touched := o.tracker.UpdateScore(ctx, key)
	rec, found := touch.After, touched
	if !touched {
		r, err := store.FindByGridKey(ctx, o.store, key)
		switch {
		case err == nil:
			rec, found = r, true
		case !errors.Is(err, store.ErrNotFound):
			o.log.WarnContext(ctx, "cache lookup failed, treating as miss", "err", err)
		}
	}

	// judge freshness on the record as it was before this request touched
	// it, otherwise every stale record would look fresh
	judged := rec
	if touched {
		judged.LastAccessAt = touch.Before.LastAccessAt
	}
	if found {
		if freshness.IsFresh(&judged, o.now()) {
			if !touched {
				o.bumpAccess(ctx, rec.ID)
			}
			observability.ObserveCacheResult("hit", string(model.SourceLocal))
			o.emit(key, lat, lng, events.OutcomeHit, model.SourceLocal)
			return Response{Data: rec.Payload, Source: model.SourceLocal, GridKey: key, Cached: true}, nil
		}
	}

	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.fill(context.WithoutCancel(ctx), key, lat, lng, panel, rec, judged.LastAccessAt, found)
	})
	if err != nil {
		observability.ObserveCacheResult("error", "")
		return Response{}, err
	}
	resp := v.(Response)
	observability.ObserveCacheResult("miss", string(resp.Source))
	o.emit(key, lat, lng, events.OutcomeMiss, resp.Source)
	return resp, nil
}

// fill fetches from the providers and overwrites or creates the record.
// prevAccess is the record's lastAccessAt before this request touched it.
func (o *Orchestrator) fill(ctx context.Context, key string, lat, lng float64, panel model.PanelParams, prev model.CacheRecord, prevAccess time.Time, found bool) (Response, error) {
	pl, src, err := o.chain.Fetch(ctx, provider.Query{Lat: lat, Lng: lng, Panel: panel})
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	now := o.now().UTC()
	latR, lngR := grid.Round(lat), grid.Round(lng)
	pop := o.tracker.Initial(latR)

	if found {
		_, err = o.store.Update(ctx, prev.ID, model.Patch{
			Payload:         pl,
			Source:          &src,
			FetchedAt:       &now,
			LastAccessAt:    &now,
			TTLDays:         &o.opts.TTLDays,
			AccessCount:     &pop.AccessCount,
			PopularityScore: &pop.Score,
			IsHot:           &pop.IsHot,
			LocationWeight:  &pop.LocationWeight,
			RecencyBonus:    &pop.RecencyBonus,
		})
	} else {
		_, err = o.store.Create(ctx, model.CacheRecord{
			GridKey:         key,
			LatRounded:      latR,
			LngRounded:      lngR,
			H3Cell:          o.h3(latR, lngR),
			Payload:         pl,
			Source:          src,
			FetchedAt:       now,
			LastAccessAt:    now,
			TTLDays:         o.opts.TTLDays,
			AccessCount:     pop.AccessCount,
			PopularityScore: pop.Score,
			IsHot:           pop.IsHot,
			LocationWeight:  pop.LocationWeight,
			RecencyBonus:    pop.RecencyBonus,
		})
	}
	if err != nil {
		// the answer is still good; the next request simply misses again
		o.log.WarnContext(ctx, "cache write failed", "source", src, "err", err)
		if found && !prevAccess.Equal(prev.LastAccessAt) {
			o.restoreAccess(ctx, prev.ID, prevAccess)
		}
	}
	return Response{Data: pl, Source: src, GridKey: key}, nil
}

func (o *Orchestrator) bumpAccess(ctx context.Context, id string) {
	now := o.now().UTC()
	if _, err := o.store.Update(ctx, id, model.Patch{LastAccessAt: &now}); err != nil {
		o.log.WarnContext(ctx, "bump last access failed", "err", err)
	}
}

// restoreAccess undoes the tracker's lastAccessAt bump on a record whose
// refresh was not written, so it stays stale.
func (o *Orchestrator) restoreAccess(ctx context.Context, id string, at time.Time) {
	if _, err := o.store.Update(ctx, id, model.Patch{LastAccessAt: &at}); err != nil {
		o.log.WarnContext(ctx, "restore last access failed", "err", err)
	}
}

func (o *Orchestrator) h3(lat, lng float64) string {
	if o.opts.H3Res < 0 {
		return ""
	}
	c, err := grid.H3Cell(lat, lng, o.opts.H3Res)
	if err != nil {
		o.log.Debug("h3 cell skipped", "err", err)
		return ""
	}
	return c
}

func (o *Orchestrator) emit(key string, lat, lng float64, out events.Outcome, src model.Source) {
	if o.opts.Events == nil {
		return
	}
	o.opts.Events.Publish(events.Event{
		GridKey: key,
		Lat:     lat,
		Lng:     lng,
		Outcome: out,
		Source:  string(src),
		TS:      o.now().UTC(),
	})
}
