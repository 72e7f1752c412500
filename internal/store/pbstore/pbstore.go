// Package pbstore talks to a remote document collection over HTTP:
// paginated filtered listing, create, patch and delete of records.
package pbstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

type Store struct {
	base string
	hc   *http.Client
}

var _ store.Interface = (*Store)(nil)

func New(baseURL, collection string, hc *http.Client) *Store {
	if hc == nil {
		hc = http.DefaultClient
	}
	base := strings.TrimRight(baseURL, "/") + "/api/collections/" + url.PathEscape(collection) + "/records"
	return &Store{base: base, hc: hc}
}

// StatusError is a non-2xx answer from the store.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("record store %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return store.ErrNotFound
	}
	return nil
}

type listResponse struct {
	Page       int          `json:"page"`
	PerPage    int          `json:"perPage"`
	TotalItems int          `json:"totalItems"`
	Items      []wireRecord `json:"items"`
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (res store.ListResult, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("list", err, time.Since(start).Seconds()) }()

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = store.DefaultPerPage
	}
	v := url.Values{}
	v.Set("page", strconv.Itoa(opts.Page))
	v.Set("perPage", strconv.Itoa(opts.PerPage))
	if opts.Filter != nil {
		v.Set("filter", opts.Filter.String())
	}
	if opts.Sort != "" {
		v.Set("sort", opts.Sort)
	}

	var body listResponse
	if err := s.do(ctx, "list", http.MethodGet, s.base+"?"+v.Encode(), nil, &body); err != nil {
		return store.ListResult{}, err
	}
	out := store.ListResult{Page: body.Page, PerPage: body.PerPage, TotalItems: body.TotalItems}
	for _, w := range body.Items {
		out.Items = append(out.Items, w.model())
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, rec model.CacheRecord) (_ model.CacheRecord, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("create", err, time.Since(start).Seconds()) }()

	var out wireRecord
	if err := s.do(ctx, "create", http.MethodPost, s.base, toWire(rec), &out); err != nil {
		return model.CacheRecord{}, err
	}
	return out.model(), nil
}

func (s *Store) Update(ctx context.Context, id string, p model.Patch) (_ model.CacheRecord, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("update", err, time.Since(start).Seconds()) }()

	var out wireRecord
	if err := s.do(ctx, "update", http.MethodPatch, s.base+"/"+url.PathEscape(id), p.Fields(), &out); err != nil {
		return model.CacheRecord{}, err
	}
	return out.model(), nil
}

func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("delete", err, time.Since(start).Seconds()) }()

	return s.do(ctx, "delete", http.MethodDelete, s.base+"/"+url.PathEscape(id), nil, nil)
}

// Ping lists a single record to check reachability.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.List(ctx, store.ListOptions{PerPage: 1})
	return err
}

func (s *Store) do(ctx context.Context, op, method, u string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("record store %s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("record store %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("record store %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("record store %s: decode: %w", op, err)
	}
	return nil
}

// Time accepts both RFC 3339 and the store's "2006-01-02 15:04:05.000Z"
// layout, and reads "" as the zero time.
type Time time.Time

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time: %w", err)
	}
	if s == "" {
		*t = Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, filter.TimeLayout, "2006-01-02 15:04:05Z07:00"} {
		if v, err := time.Parse(layout, s); err == nil {
			*t = Time(v.UTC())
			return nil
		}
	}
	return fmt.Errorf("time: unrecognised value %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(tt.UTC().Format(time.RFC3339Nano))
}

type wireRecord struct {
	ID              string         `json:"id,omitempty"`
	GridKey         string         `json:"gridKey"`
	LatRounded      float64        `json:"latRounded"`
	LngRounded      float64        `json:"lngRounded"`
	H3Cell          string         `json:"h3Cell,omitempty"`
	Payload         *model.Payload `json:"payload"`
	Source          model.Source   `json:"source"`
	FetchedAt       Time           `json:"fetchedAt"`
	LastAccessAt    Time           `json:"lastAccessAt"`
	TTLDays         int            `json:"ttlDays"`
	AccessCount     int            `json:"accessCount"`
	PopularityScore float64        `json:"popularityScore"`
	IsHot           bool           `json:"isHot"`
	LocationWeight  float64        `json:"locationWeight"`
	RecencyBonus    float64        `json:"recencyBonus"`
	Created         Time           `json:"created"`
}

func toWire(r model.CacheRecord) wireRecord {
	return wireRecord{
		ID:              r.ID,
		GridKey:         r.GridKey,
		LatRounded:      r.LatRounded,
		LngRounded:      r.LngRounded,
		H3Cell:          r.H3Cell,
		Payload:         r.Payload,
		Source:          r.Source,
		FetchedAt:       Time(r.FetchedAt),
		LastAccessAt:    Time(r.LastAccessAt),
		TTLDays:         r.TTLDays,
		AccessCount:     r.AccessCount,
		PopularityScore: r.PopularityScore,
		IsHot:           r.IsHot,
		LocationWeight:  r.LocationWeight,
		RecencyBonus:    r.RecencyBonus,
	}
}

func (w wireRecord) model() model.CacheRecord {
	return model.CacheRecord{
		ID:              w.ID,
		GridKey:         w.GridKey,
		LatRounded:      w.LatRounded,
		LngRounded:      w.LngRounded,
		H3Cell:          w.H3Cell,
		Payload:         w.Payload,
		Source:          w.Source,
		FetchedAt:       time.Time(w.FetchedAt),
		LastAccessAt:    time.Time(w.LastAccessAt),
		TTLDays:         w.TTLDays,
		AccessCount:     w.AccessCount,
		PopularityScore: w.PopularityScore,
		IsHot:           w.IsHot,
		LocationWeight:  w.LocationWeight,
		RecencyBonus:    w.RecencyBonus,
		Created:         time.Time(w.Created),
	}
}
