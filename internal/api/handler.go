// Package api serves the solar lookup and the operator endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/solar-grid-cache/internal/cleanup"
	"github.com/mohammed-shakir/solar-grid-cache/internal/hotspots"
	"github.com/mohammed-shakir/solar-grid-cache/internal/jobs"
	"github.com/mohammed-shakir/solar-grid-cache/internal/logger"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/orchestrator"
	"github.com/mohammed-shakir/solar-grid-cache/internal/popularity"
	"github.com/mohammed-shakir/solar-grid-cache/internal/prefetch"
)

const (
	defaultRegionRes = 4
	maxHotLimit      = 1000
)

type Lookup interface {
	Get(ctx context.Context, lat, lng float64, panel model.PanelParams) (orchestrator.Response, error)
}

type Tuning interface {
	Config() popularity.Config
	SetConfig(c popularity.Config) error
}

type HotRegistry interface {
	ListHot(ctx context.Context) ([]hotspots.HotLocation, error)
	Top(ctx context.Context, n int) ([]hotspots.HotLocation, error)
	Stats(ctx context.Context) (hotspots.Stats, error)
	SetHot(ctx context.Context, gridKey string, hot bool) bool
	HotRegions(ctx context.Context, res int) ([]hotspots.Region, error)
}

type CellRefresher interface {
	RunOne(ctx context.Context, gridKey string) (*prefetch.Result, error)
}

// Job is a manually triggerable background task.
type Job[T any] interface {
	Trigger(ctx context.Context) (T, error)
	Exclusive(fn func() error) error
	Status() jobs.Status
}

type Deps struct {
	Lookup    Lookup
	Tuning    Tuning
	Hot       HotRegistry
	Refresher CellRefresher
	Prefetch  Job[prefetch.Summary]
	Decay     Job[popularity.DecayResult]
	Cleanup   Job[cleanup.Result]
	Dedupe    Job[cleanup.DedupeResult]
	Log       *slog.Logger
}

type Handler struct {
	d   Deps
	log *slog.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{d: d, log: log}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/solar", h.solar)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/prefetch", h.prefetch)
		r.Post("/decay", runJob(h, h.d.Decay))
		r.Post("/cleanup", runJob(h, h.d.Cleanup))
		r.Post("/dedupe", runJob(h, h.d.Dedupe))
		r.Get("/jobs", h.jobStatus)

		r.Get("/popularity/config", h.getConfig)
		r.Put("/popularity/config", h.putConfig)
		r.Get("/popularity/stats", h.stats)

		r.Get("/hot", h.listHot)
		r.Get("/hot/regions", h.hotRegions)
		r.Put("/hot/{gridKey}", h.setHot)
	})
}

func (h *Handler) solar(w http.ResponseWriter, r *http.Request) {
	q, err := ParseSolarQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := h.d.Lookup.Get(r.Context(), q.Lat, q.Lng, q.Panel)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "solar lookup failed", "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) prefetch(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("gridKey"))
	if key == "" {
		runJob(h, h.d.Prefetch)(w, r)
		return
	}
	// a single-cell refresh waits its turn behind a full pre-fetch run
	var res *prefetch.Result
	err := h.d.Prefetch.Exclusive(func() error {
		var err error
		res, err = h.d.Refresher.RunOne(jobContext(r, "prefetch"), key)
		return err
	})
	switch {
	case errors.Is(err, jobs.ErrBusy):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, errors.New("grid key is not a hot location"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// runJob triggers j on the request goroutine. The run outlives a client
// disconnect; a run already in flight yields 409.
func runJob[T any](h *Handler, j Job[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := j.Status()
		res, err := j.Trigger(jobContext(r, st.Name))
		switch {
		case errors.Is(err, jobs.ErrBusy):
			writeError(w, http.StatusConflict, err)
		case err != nil:
			h.log.ErrorContext(r.Context(), "manual job run failed", "job", st.Name, "err", err)
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

func jobContext(r *http.Request, job string) context.Context {
	return logger.WithJob(context.WithoutCancel(r.Context()), job)
}

func (h *Handler) jobStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, []jobs.Status{
		h.d.Prefetch.Status(),
		h.d.Decay.Status(),
		h.d.Cleanup.Status(),
		h.d.Dedupe.Status(),
	})
}

func (h *Handler) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Tuning.Config())
}

// putConfig accepts a partial document; absent fields keep their value.
func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.d.Tuning.Config()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.d.Tuning.SetConfig(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.log.InfoContext(r.Context(), "popularity config updated",
		"hot_threshold", cfg.HotLocationThreshold, "prefetch_threshold", cfg.PreFetchThreshold)
	writeJSON(w, http.StatusOK, h.d.Tuning.Config())
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.d.Hot.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) listHot(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0, 0, maxHotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var locs []hotspots.HotLocation
	if limit > 0 {
		locs, err = h.d.Hot.Top(r.Context(), limit)
	} else {
		locs, err = h.d.Hot.ListHot(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if locs == nil {
		locs = []hotspots.HotLocation{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func (h *Handler) hotRegions(w http.ResponseWriter, r *http.Request) {
	res, err := parseIntParam(r, "res", defaultRegionRes, 0, 15)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	regions, err := h.d.Hot.HotRegions(r.Context(), res)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if regions == nil {
		regions = []hotspots.Region{}
	}
	writeJSON(w, http.StatusOK, regions)
}

func (h *Handler) setHot(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "gridKey")
	hot, err := parseBoolParam(r, "hot")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !h.d.Hot.SetHot(r.Context(), key, hot) {
		writeError(w, http.StatusNotFound, errors.New("grid key not found or update failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gridKey": key, "isHot": hot})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
