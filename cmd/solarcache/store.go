package main

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/config"
	"github.com/mohammed-shakir/solar-grid-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/memstore"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/pbstore"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store/redisstore"
)

// openStore builds the record store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg config.Config) (store.Interface, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return memstore.New(), func() {}, nil
	case "redis":
		s, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "http":
		s := pbstore.New(cfg.RecordStoreURL, cfg.RecordCollection, httpclient.NewOutbound(cfg.StoreOpTimeout))
		if err := s.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("record store ping: %w", err)
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q (want memory|redis|http)", cfg.StoreDriver)
	}
}
