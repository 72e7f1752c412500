// Package invalidation consumes grid-key invalidation messages from Kafka and
// applies them to the record store.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Op string

const (
	// OpEvict deletes every record stored under the grid key.
	OpEvict Op = "evict"
	// OpExpire keeps the record and its popularity but marks the payload
	// stale so the next access refetches it.
	OpExpire Op = "expire"
)

// WireEvent is the message body. Version is monotonically increasing per
// producer; 0 means unversioned and is always applied.
type WireEvent struct {
	GridKeys []string  `json:"grid_keys"`
	Version  uint64    `json:"version,omitempty"`
	Op       Op        `json:"op,omitempty"`
	TS       time.Time `json:"ts,omitzero"`
}

func (e *WireEvent) Normalize() {
	if e.Op == "" {
		e.Op = OpEvict
	}
	keys := e.GridKeys[:0]
	for _, k := range e.GridKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	e.GridKeys = keys
}

func (e WireEvent) Validate() error {
	switch e.Op {
	case OpEvict, OpExpire:
	default:
		return fmt.Errorf("op must be evict|expire (got %q)", e.Op)
	}
	if len(e.GridKeys) == 0 {
		return errors.New("grid_keys is required")
	}
	return nil
}
