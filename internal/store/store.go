// Package store defines the record store the cache core persists to. The core
// treats it as a generic document collection: filtered, sorted, paginated
// listing plus create, update and delete by id.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

var ErrNotFound = errors.New("record not found")

const DefaultPerPage = 100

type ListOptions struct {
	Filter filter.Expr
	// comma separated field names, "-" prefix for descending
	Sort    string
	Page    int
	PerPage int
}

type ListResult struct {
	Items      []model.CacheRecord
	Page       int
	PerPage    int
	TotalItems int
}

type Interface interface {
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Create(ctx context.Context, rec model.CacheRecord) (model.CacheRecord, error)
	Update(ctx context.Context, id string, p model.Patch) (model.CacheRecord, error)
	Delete(ctx context.Context, id string) error
}

func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	return o
}

// FindByGridKey returns the live record for key. When duplicate rows exist the
// one with the oldest lastAccessAt wins, so every caller picks the same row.
func FindByGridKey(ctx context.Context, s Interface, key string) (model.CacheRecord, error) {
	res, err := s.List(ctx, ListOptions{
		Filter:  filter.Eq("gridKey", key),
		Sort:    "lastAccessAt,id",
		Page:    1,
		PerPage: 1,
	})
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("find %q: %w", key, err)
	}
	if len(res.Items) == 0 {
		return model.CacheRecord{}, ErrNotFound
	}
	return res.Items[0], nil
}

// Scan pages through every record matching opts.Filter and calls fn per page.
// It stops on the first empty or partial page, or when fn returns an error.
func Scan(ctx context.Context, s Interface, opts ListOptions, fn func(page []model.CacheRecord) error) error {
	opts = opts.normalized()
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan page %d: %w", page, err)
		}
		opts.Page = page
		res, err := s.List(ctx, opts)
		if err != nil {
			return fmt.Errorf("scan page %d: %w", page, err)
		}
		if len(res.Items) == 0 {
			return nil
		}
		if err := fn(res.Items); err != nil {
			return err
		}
		if len(res.Items) < opts.PerPage {
			return nil
		}
	}
}

// Count returns the number of records matching f.
func Count(ctx context.Context, s Interface, f filter.Expr) (int, error) {
	res, err := s.List(ctx, ListOptions{Filter: f, Page: 1, PerPage: 1})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return res.TotalItems, nil
}

// Query evaluates opts against an in-memory record set. Backends without a
// query engine of their own use it to serve List.
func Query(all []model.CacheRecord, opts ListOptions) ListResult {
	opts = opts.normalized()

	matched := make([]model.CacheRecord, 0, len(all))
	for i := range all {
		if opts.Filter == nil || opts.Filter.Match(&all[i]) {
			matched = append(matched, all[i])
		}
	}

	if keys := parseSort(opts.Sort); len(keys) > 0 {
		slices.SortStableFunc(matched, func(a, b model.CacheRecord) int {
			for _, k := range keys {
				av, _ := a.Field(k.field)
				bv, _ := b.Field(k.field)
				if d := filter.Compare(av, bv); d != 0 {
					if k.desc {
						return -d
					}
					return d
				}
			}
			return 0
		})
	}

	out := ListResult{Page: opts.Page, PerPage: opts.PerPage, TotalItems: len(matched)}
	start := (opts.Page - 1) * opts.PerPage
	if start >= len(matched) {
		return out
	}
	end := min(start+opts.PerPage, len(matched))
	out.Items = slices.Clone(matched[start:end])
	return out
}

type sortKey struct {
	field string
	desc  bool
}

func parseSort(s string) []sortKey {
	var out []sortKey
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k := sortKey{field: p}
		switch p[0] {
		case '-':
			k = sortKey{field: p[1:], desc: true}
		case '+':
			k = sortKey{field: p[1:]}
		}
		if k.field != "" {
			out = append(out, k)
		}
	}
	return out
}
