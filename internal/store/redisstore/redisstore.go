// Package redisstore keeps cache records in Redis as JSON documents, with a
// creation-ordered sorted set for scans and a per-grid-key id set for
// equality lookups.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Store struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ store.Interface = (*Store)(nil)

func New(ctx context.Context, addr, prefix string, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if prefix == "" {
		prefix = "solar"
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}, nil
}

func (s *Store) recKey(id string) string { return s.prefix + ":rec:" + id }
func (s *Store) gridKeySet(key string) string { return s.prefix + ":gk:" + key }
func (s *Store) orderKey() string { return s.prefix + ":idx:created" }

// List serves unfiltered creation-ordered pages straight from the sorted
// set. Every other query loads the candidate ids and is evaluated in process.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (res store.ListResult, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("list", err, time.Since(start).Seconds()) }()

	if opts.Filter == nil && creationOrdered(opts.Sort) {
		return s.listWindow(ctx, opts)
	}

	var ids []string
	if f, v, ok := filter.Equality(opts.Filter); ok && f == "gridKey" {
		key, _ := v.(string)
		ids, err = s.rdb.SMembers(ctx, s.gridKeySet(key)).Result()
	} else {
		ids, err = s.rdb.ZRange(ctx, s.orderKey(), 0, -1).Result()
	}
	if err != nil {
		return store.ListResult{}, fmt.Errorf("redis list ids: %w", err)
	}

	recs, err := s.load(ctx, ids)
	if err != nil {
		return store.ListResult{}, err
	}
	return store.Query(recs, opts), nil
}

// creationOrdered reports whether sort matches the order index: created
// score, ties broken by member id.
func creationOrdered(sort string) bool {
	switch strings.ReplaceAll(sort, " ", "") {
	case "", "created", "+created", "created,id", "+created,+id", "created,+id", "+created,id":
		return true
	default:
		return false
	}
}

func (s *Store) listWindow(ctx context.Context, opts store.ListOptions) (store.ListResult, error) {
	page, perPage := max(opts.Page, 1), opts.PerPage
	if perPage <= 0 {
		perPage = store.DefaultPerPage
	}
	first := int64((page - 1) * perPage)

	var total *redis.IntCmd
	var window *redis.StringSliceCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		total = p.ZCard(ctx, s.orderKey())
		window = p.ZRange(ctx, s.orderKey(), first, first+int64(perPage)-1)
		return nil
	})
	if err != nil {
		return store.ListResult{}, fmt.Errorf("redis list window: %w", err)
	}
	recs, err := s.load(ctx, window.Val())
	if err != nil {
		return store.ListResult{}, err
	}
	return store.ListResult{
		Items:      recs,
		Page:       page,
		PerPage:    perPage,
		TotalItems: int(total.Val()),
	}, nil
}

// load fetches records by id, skipping ids whose document has vanished.
func (s *Store) load(ctx context.Context, ids []string) ([]model.CacheRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d records: %w", len(keys), err)
	}
	out := make([]model.CacheRecord, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.CacheRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, rec model.CacheRecord) (_ model.CacheRecord, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("create", err, time.Since(start).Seconds()) }()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Created.IsZero() {
		rec.Created = s.now().UTC()
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("encode record: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.recKey(rec.ID), b, 0).Result()
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("redis create %s: %w", rec.ID, err)
	}
	if !ok {
		return model.CacheRecord{}, fmt.Errorf("redis create %s: duplicate id", rec.ID)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.orderKey(), redis.Z{Score: float64(rec.Created.UnixNano()), Member: rec.ID})
		p.SAdd(ctx, s.gridKeySet(rec.GridKey), rec.ID)
		return nil
	})
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("redis index %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *Store) get(ctx context.Context, id string) (model.CacheRecord, error) {
	b, err := s.rdb.Get(ctx, s.recKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CacheRecord{}, store.ErrNotFound
	}
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("redis GET %s: %w", id, err)
	}
	var rec model.CacheRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.CacheRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

// Update is read-modify-write; concurrent writers are last-write-wins.
func (s *Store) Update(ctx context.Context, id string, p model.Patch) (_ model.CacheRecord, err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("update", err, time.Since(start).Seconds()) }()

	rec, err := s.get(ctx, id)
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("redis update %s: %w", id, err)
	}
	p.Apply(&rec)
	b, err := json.Marshal(rec)
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("encode record: %w", err)
	}
	// XX: never resurrect a record deleted since the read
	ok, err := s.rdb.SetXX(ctx, s.recKey(id), b, 0).Result()
	if err != nil {
		return model.CacheRecord{}, fmt.Errorf("redis update %s: %w", id, err)
	}
	if !ok {
		return model.CacheRecord{}, fmt.Errorf("redis update %s: %w", id, store.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observability.ObserveStoreOp("delete", err, time.Since(start).Seconds()) }()

	rec, err := s.get(ctx, id)
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.recKey(id))
		p.ZRem(ctx, s.orderKey(), id)
		p.SRem(ctx, s.gridKeySet(rec.GridKey), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
