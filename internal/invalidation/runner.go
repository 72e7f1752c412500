package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/freshness"
	mylog "github.com/mohammed-shakir/solar-grid-cache/internal/logger"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/filter"
)

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
	DedupeSize       int
}

func DefaultConfig() Config {
	return Config{
		Brokers:          []string{"localhost:9092"},
		Topic:            "solar-invalidation",
		GroupID:          "solarcache-invalidator",
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
		DedupeSize:       4096,
	}
}

// Result summarizes one applied message.
type Result struct {
	Applied    int
	Duplicates int
	Deleted    int
	Expired    int
}

type Runner struct {
	cfg      Config
	store    store.Interface
	log      *slog.Logger
	ver      *versionDedupe
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	now      func() time.Time
}

func New(cfg Config, s store.Interface, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		cfg:    cfg,
		store:  s,
		log:    log,
		ver:    newVersionDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
		now:    time.Now,
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if r.store == nil {
		return errors.New("invalidation: store dependency is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(mylog.WithComponent(ctx, "invalidation"))
	r.cancel = cancel

	h := &groupHandler{
		setup:   r.onAssign,
		cleanup: func(sarama.ConsumerGroupSession) { r.onRevoke() },
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.ErrorContext(ctx, "kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.InfoContext(ctx, "invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("invalidation runner stopped")
}

// Readiness reports whether partitions are currently assigned.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (r *Runner) onAssign(sess sarama.ConsumerGroupSession) {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			r.assign[p] = struct{}{}
		}
	}
	r.assigned.Store(true)
}

func (r *Runner) onRevoke() {
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	r.assigned.Store(false)
	r.assign = map[int32]struct{}{}
}

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if !msg.Timestamp.IsZero() {
		observability.SetInvalidationLagSeconds(time.Since(msg.Timestamp).Seconds())
	}

	// malformed messages are dropped so they cannot block the partition
	var ev WireEvent
	err := json.Unmarshal(msg.Value, &ev)
	if err == nil {
		ev.Normalize()
		err = ev.Validate()
	}
	if err != nil {
		observability.ObserveInvalidation("error", 0)
		r.log.WarnContext(ctx, "invalid invalidation message",
			"partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	res, err := r.Apply(ctx, ev)
	switch {
	case err != nil:
		observability.ObserveInvalidation("error", res.Deleted)
	case res.Applied == 0 && res.Duplicates > 0:
		observability.ObserveInvalidation("duplicate", 0)
	default:
		observability.ObserveInvalidation("ok", res.Deleted)
	}
	return err
}

// Apply runs ev against the store. Keys whose version was already applied are
// skipped.
func (r *Runner) Apply(ctx context.Context, ev WireEvent) (Result, error) {
	var res Result
	var errs []error
	for _, key := range ev.GridKeys {
		if r.ver.stale(key, ev.Version) {
			res.Duplicates++
			continue
		}
		n, err := r.applyKey(ctx, ev.Op, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", ev.Op, key, err))
			continue
		}
		r.ver.record(key, ev.Version)
		res.Applied++
		if ev.Op == OpExpire {
			res.Expired += n
		} else {
			res.Deleted += n
		}
		r.log.DebugContext(mylog.WithGridKey(ctx, key), "grid key invalidated",
			"op", string(ev.Op), "records", n, "version", ev.Version)
	}
	return res, errors.Join(errs...)
}

func (r *Runner) applyKey(ctx context.Context, op Op, key string) (int, error) {
	var recs []model.CacheRecord
	err := store.Scan(ctx, r.store, store.ListOptions{
		Filter: filter.Eq("gridKey", key),
		Sort:   "id",
	}, func(page []model.CacheRecord) error {
		recs = append(recs, page...)
		return nil
	})
	if err != nil {
		return 0, err
	}

	now := r.now().UTC()
	n := 0
	for i := range recs {
		rec := &recs[i]
		switch op {
		case OpExpire:
			_, err = r.store.Update(ctx, rec.ID, expirePatch(rec, now))
		default:
			err = r.store.Delete(ctx, rec.ID)
		}
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// expirePatch moves lastAccessAt just past the record's TTL so freshness
// rejects it on the next read. Popularity fields are left alone.
func expirePatch(rec *model.CacheRecord, now time.Time) model.Patch {
	ttl := time.Duration(freshness.TTLDays(rec)) * freshness.Day
	last := now.Add(-ttl - time.Second)
	if rec.LastAccessAt.Before(last) {
		last = rec.LastAccessAt
	}
	return model.Patch{
		FetchedAt:    model.Ptr(time.Time{}),
		LastAccessAt: &last,
	}
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

// ConsumeClaim marks a message only after it was processed.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
				msg.Topic, msg.Partition, msg.Offset, err)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
