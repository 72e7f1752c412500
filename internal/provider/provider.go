// Package provider fetches solar yield estimates from external irradiance
// services and chains them primary, secondary, synthetic.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/model"
)

// ErrNoData means the provider answered but had nothing usable.
var ErrNoData = errors.New("provider returned no usable data")

const DefaultTimeout = 15 * time.Second

// Shared yield assumptions.
const (
	PanelEfficiency   = 0.20
	PerformanceRatio  = 0.85
	SystemLossPercent = 14
	CO2KgPerKWh       = 0.4
)

type Query struct {
	Lat   float64
	Lng   float64
	Panel model.PanelParams
}

// Provider returns a payload or an error; a nil payload with nil error is
// treated the same as ErrNoData.
type Provider interface {
	Source() model.Source
	GetSolarData(ctx context.Context, q Query) (*model.Payload, error)
}

// PeakPowerKW is the nameplate rating of the panel area at PanelEfficiency.
func PeakPowerKW(p model.PanelParams) float64 { return p.AreaM2 * PanelEfficiency }

// OrientationFactor scales yield down for panels facing away from south.
func OrientationFactor(p model.PanelParams) float64 {
	off := (p.AzimuthDeg - 180) * math.Pi / 180
	return 0.8 + 0.2*(1+math.Cos(off))/2
}

func Round2(v float64) float64 { return math.Round(v*100) / 100 }

// Chain asks each provider in order until one yields a usable payload.
type Chain struct {
	providers []Provider
	timeouts  map[model.Source]time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

func NewChain(log *slog.Logger, providers ...Provider) *Chain {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Chain{providers: providers, timeout: DefaultTimeout, timeouts: map[model.Source]time.Duration{}, log: log}
}

// WithTimeout sets the default per-provider deadline and optional overrides
// keyed by source name.
func (c *Chain) WithTimeout(d time.Duration, overrides map[string]time.Duration) *Chain {
	if d > 0 {
		c.timeout = d
	}
	for k, v := range overrides {
		if s := model.Source(k); s.Valid() && v > 0 {
			c.timeouts[s] = v
		}
	}
	return c
}

func (c *Chain) deadline(s model.Source) time.Duration {
	if d, ok := c.timeouts[s]; ok {
		return d
	}
	return c.timeout
}

// Fetch returns the first usable payload and the source that produced it.
// It fails only when every provider, synthetic included, came up empty.
func (c *Chain) Fetch(ctx context.Context, q Query) (*model.Payload, model.Source, error) {
	var errs []error
	for _, p := range c.providers {
		src := p.Source()
		pl, err := c.call(ctx, p, q)
		if err == nil {
			return pl, src, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src, err))
		c.log.WarnContext(ctx, "provider fell through", "provider", src, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}

func (c *Chain) call(ctx context.Context, p Provider, q Query) (pl *model.Payload, err error) {
	src := p.Source()
	cctx, cancel := context.WithTimeout(ctx, c.deadline(src))
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			pl, err = nil, fmt.Errorf("provider panic: %v", r)
		}
		observability.ObserveProvider(string(src), outcome(err), time.Since(start).Seconds())
	}()

	pl, err = p.GetSolarData(cctx, q)
	if err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("timeout after %s: %w", c.deadline(src), err)
		}
		return nil, err
	}
	if pl.Empty() || pl.AnnualKWh <= 0 {
		return nil, ErrNoData
	}
	if !pl.Source.Valid() {
		pl.Source = src
	}
	return pl, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoData):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
