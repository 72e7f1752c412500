package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/solar-grid-cache/internal/cleanup"
	"github.com/mohammed-shakir/solar-grid-cache/internal/hotspots"
	"github.com/mohammed-shakir/solar-grid-cache/internal/jobs"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/orchestrator"
	"github.com/mohammed-shakir/solar-grid-cache/internal/popularity"
	"github.com/mohammed-shakir/solar-grid-cache/internal/prefetch"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/memstore"
)

type fakeLookup struct {
	mu    sync.Mutex
	panel model.PanelParams
	err   error
}

func (f *fakeLookup) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLookup) lastPanel() model.PanelParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panel
}

func (f *fakeLookup) Get(_ context.Context, lat, lng float64, panel model.PanelParams) (orchestrator.Response, error) {
	f.mu.Lock()
	f.panel = panel
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return orchestrator.Response{}, err
	}
	return orchestrator.Response{
		Data:    &model.Payload{AnnualKWh: 4321, Source: model.SourcePVGIS},
		Source:  model.SourcePVGIS,
		GridKey: fmt.Sprintf("%.2f_%.2f", lat, lng),
	}, nil
}

type fakeRefresher struct{ res *prefetch.Result }

func (f fakeRefresher) RunOne(context.Context, string) (*prefetch.Result, error) { return f.res, nil }

type fixture struct {
	srv     *httptest.Server
	store   *memstore.Store
	lookup  *fakeLookup
	tracker *popularity.Tracker
	release chan struct{}
	started chan struct{}
	// when holdPrefetch is set, a full pre-fetch run waits on prefetchGate
	holdPrefetch atomic.Bool
	prefetchGate chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memstore.New(),
		lookup:  &fakeLookup{},
		release: make(chan struct{}),
		started: make(chan struct{}, 1),

		prefetchGate: make(chan struct{}),
	}
	f.tracker = popularity.NewTracker(f.store, popularity.DefaultConfig(), nil)

	decay := jobs.New("decay", 0, func(context.Context) (popularity.DecayResult, error) {
		f.started <- struct{}{}
		<-f.release
		return popularity.DecayResult{Processed: 3}, nil
	}, nil)
	h := New(Deps{
		Lookup:    f.lookup,
		Tuning:    f.tracker,
		Hot:       hotspots.New(f.store, f.tracker, nil),
		Refresher: fakeRefresher{},
		Prefetch: jobs.New("prefetch", 0, func(context.Context) (prefetch.Summary, error) {
			if f.holdPrefetch.Load() {
				f.started <- struct{}{}
				<-f.prefetchGate
			}
			return prefetch.Summary{Total: 2, Succeeded: 2}, nil
		}, nil),
		Decay: decay,
		Cleanup: jobs.New("cleanup", 0, func(context.Context) (cleanup.Result, error) {
			return cleanup.Result{}, errors.New("scan failed")
		}, nil),
		Dedupe: jobs.New("dedupe", 0, func(context.Context) (cleanup.DedupeResult, error) {
			return cleanup.DedupeResult{Groups: 1, Deleted: 1}, nil
		}, nil),
	})
	r := chi.NewRouter()
	h.Register(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func (f *fixture) seedHot(t *testing.T, key string, score float64, hot bool) {
	t.Helper()
	_, err := f.store.Create(context.Background(), model.CacheRecord{
		GridKey:         key,
		Payload:         &model.Payload{AnnualKWh: 1000, Source: model.SourcePVGIS},
		Source:          model.SourcePVGIS,
		FetchedAt:       time.Now().UTC(),
		LastAccessAt:    time.Now().UTC(),
		TTLDays:         90,
		AccessCount:     10,
		PopularityScore: score,
		IsHot:           hot,
	})
	require.NoError(t, err)
}

func TestSolar(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/solar?lat=51.5412&lng=9.9158&area=20", "")
	require.Equal(t, http.StatusOK, code, body)
	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, model.SourcePVGIS, resp.Source)
	assert.Equal(t, "51.54_9.92", resp.GridKey)
	assert.Equal(t, model.PanelParams{AreaM2: 20, TiltDeg: 30, AzimuthDeg: 180}, f.lookup.lastPanel())

	code, _ = f.do(t, http.MethodGet, "/solar?lng=9.9", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodGet, "/solar?lat=abc&lng=9.9", "")
	assert.Equal(t, http.StatusBadRequest, code)

	f.lookup.fail(fmt.Errorf("%w: latitude out of range", orchestrator.ErrInvalidInput))
	code, _ = f.do(t, http.MethodGet, "/solar?lat=95&lng=9.9", "")
	assert.Equal(t, http.StatusBadRequest, code)

	f.lookup.fail(errors.New("all providers failed"))
	code, _ = f.do(t, http.MethodGet, "/solar?lat=10&lng=9.9", "")
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestManualJobs(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/admin/prefetch", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"succeeded":2`)

	code, _ = f.do(t, http.MethodPost, "/admin/cleanup", "")
	assert.Equal(t, http.StatusInternalServerError, code)

	code, body = f.do(t, http.MethodPost, "/admin/dedupe", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"deleted":1`)

	code, _ = f.do(t, http.MethodPost, "/admin/prefetch?gridKey=1.00_2.00", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestManualJob_BusyReturnsConflict(t *testing.T) {
	f := newFixture(t)

	done := make(chan int, 1)
	go func() {
		code, _ := f.do(t, http.MethodPost, "/admin/decay", "")
		done <- code
	}()
	<-f.started

	code, body := f.do(t, http.MethodPost, "/admin/decay", "")
	assert.Equal(t, http.StatusConflict, code, body)

	close(f.release)
	assert.Equal(t, http.StatusOK, <-done)

	code, body = f.do(t, http.MethodGet, "/admin/jobs", "")
	require.Equal(t, http.StatusOK, code)
	var st []jobs.Status
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	require.Len(t, st, 4)
	assert.Equal(t, "decay", st[1].Name)
	assert.Equal(t, 1, st[1].Runs)
}

func TestPrefetchOneCell_WaitsForFullRun(t *testing.T) {
	f := newFixture(t)
	f.holdPrefetch.Store(true)

	done := make(chan int, 1)
	go func() {
		code, _ := f.do(t, http.MethodPost, "/admin/prefetch", "")
		done <- code
	}()
	<-f.started

	code, body := f.do(t, http.MethodPost, "/admin/prefetch?gridKey=10.00_10.00", "")
	assert.Equal(t, http.StatusConflict, code, body)

	close(f.prefetchGate)
	assert.Equal(t, http.StatusOK, <-done)

	code, body = f.do(t, http.MethodPost, "/admin/prefetch?gridKey=10.00_10.00", "")
	assert.Equal(t, http.StatusNotFound, code, body)
}

func TestPopularityConfig(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/admin/popularity/config", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"hotLocationThreshold":100`)

	code, body = f.do(t, http.MethodPut, "/admin/popularity/config", `{"hotLocationThreshold":120}`)
	require.Equal(t, http.StatusOK, code, body)
	cfg := f.tracker.Config()
	assert.InDelta(t, 120, cfg.HotLocationThreshold, 1e-9)
	assert.InDelta(t, 80, cfg.PreFetchThreshold, 1e-9, "absent fields keep their value")

	code, _ = f.do(t, http.MethodPut, "/admin/popularity/config", `{"preFetchThreshold":-1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPut, "/admin/popularity/config", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.InDelta(t, 120, f.tracker.Config().HotLocationThreshold, 1e-9)
}

func TestHotEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seedHot(t, "10.00_10.00", 150, true)
	f.seedHot(t, "11.00_11.00", 220, true)
	f.seedHot(t, "12.00_12.00", 40, false)

	code, body := f.do(t, http.MethodGet, "/admin/hot?limit=1", "")
	require.Equal(t, http.StatusOK, code, body)
	var locs []hotspots.HotLocation
	require.NoError(t, json.Unmarshal([]byte(body), &locs))
	require.Len(t, locs, 1)
	assert.Equal(t, "11.00_11.00", locs[0].GridKey)

	code, _ = f.do(t, http.MethodGet, "/admin/hot?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/admin/popularity/stats", "")
	require.Equal(t, http.StatusOK, code)
	var st hotspots.Stats
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 3, st.TotalRecords)
	assert.Equal(t, 2, st.HotCount)
	assert.Equal(t, 2, st.PreFetchCandidates)

	code, _ = f.do(t, http.MethodPut, "/admin/hot/12.00_12.00?hot=true", "")
	require.Equal(t, http.StatusOK, code)
	code, body = f.do(t, http.MethodGet, "/admin/hot", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal([]byte(body), &locs))
	assert.Len(t, locs, 3)

	code, _ = f.do(t, http.MethodPut, "/admin/hot/99.00_99.00?hot=true", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPut, "/admin/hot/12.00_12.00", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodGet, "/admin/hot/regions?res=2", "")
	require.Equal(t, http.StatusOK, code, body)
	var regions []hotspots.Region
	require.NoError(t, json.Unmarshal([]byte(body), &regions))
	assert.NotEmpty(t, regions)

	code, _ = f.do(t, http.MethodGet, "/admin/hot/regions?res=16", "")
	assert.Equal(t, http.StatusBadRequest, code)
}
