package store

import (
	"context"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
)

// Pinger is implemented by backends that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WithTimeout bounds every operation on inner by d. A non-positive d returns
// inner unchanged.
func WithTimeout(inner Interface, d time.Duration) Interface {
	if d <= 0 {
		return inner
	}
	return &timeoutStore{inner: inner, d: d}
}

type timeoutStore struct {
	inner Interface
	d     time.Duration
}

func (t *timeoutStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.List(ctx, opts)
}

func (t *timeoutStore) Create(ctx context.Context, rec model.CacheRecord) (model.CacheRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Create(ctx, rec)
}

func (t *timeoutStore) Update(ctx context.Context, id string, p model.Patch) (model.CacheRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Update(ctx, id, p)
}

func (t *timeoutStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.inner.Delete(ctx, id)
}

// Ping forwards to inner when it is a Pinger and succeeds otherwise.
func (t *timeoutStore) Ping(ctx context.Context) error {
	p, ok := t.inner.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return p.Ping(ctx)
}
