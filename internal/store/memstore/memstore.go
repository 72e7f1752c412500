// Package memstore is an in-process record store, used for single-node
// deployments and as the test double for the cache engines.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	order []string
	recs  map[string]model.CacheRecord

	now func() time.Time

	// fault injection for tests
	FailList   func(opts store.ListOptions) error
	FailUpdate func(id string) error
	FailDelete func(id string) error
}

var _ store.Interface = (*Store)(nil)

func New() *Store {
	return &Store{recs: map[string]model.CacheRecord{}, now: time.Now}
}

func (s *Store) List(ctx context.Context, opts store.ListOptions) (store.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return store.ListResult{}, fmt.Errorf("memstore list: %w", err)
	}
	if s.FailList != nil {
		if err := s.FailList(opts); err != nil {
			return store.ListResult{}, err
		}
	}
	s.mu.RLock()
	all := make([]model.CacheRecord, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.recs[id])
	}
	s.mu.RUnlock()
	return store.Query(all, opts), nil
}

func (s *Store) Create(ctx context.Context, rec model.CacheRecord) (model.CacheRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.CacheRecord{}, fmt.Errorf("memstore create: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Created.IsZero() {
		rec.Created = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return model.CacheRecord{}, fmt.Errorf("memstore create %q: duplicate id", rec.ID)
	}
	s.recs[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id string, p model.Patch) (model.CacheRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.CacheRecord{}, fmt.Errorf("memstore update: %w", err)
	}
	if s.FailUpdate != nil {
		if err := s.FailUpdate(id); err != nil {
			return model.CacheRecord{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return model.CacheRecord{}, fmt.Errorf("memstore update %q: %w", id, store.ErrNotFound)
	}
	p.Apply(&rec)
	s.recs[id] = rec
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore delete: %w", err)
	}
	if s.FailDelete != nil {
		if err := s.FailDelete(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return fmt.Errorf("memstore delete %q: %w", id, store.ErrNotFound)
	}
	delete(s.recs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a record by id.
func (s *Store) Get(id string) (model.CacheRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[id]
	return r, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
