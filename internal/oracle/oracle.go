// Package oracle implements the Oracle Service (C3): it owns the three
// exchange sources and the aggregator, drives compute_update on a fixed
// poll interval, and republishes the result onto the bus together with
// the system events that accompany it.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"btc-loan-sentinel/internal/aggregator"
	"btc-loan-sentinel/internal/bus"
	"btc-loan-sentinel/internal/model"
	"btc-loan-sentinel/internal/source"
)

// Config controls the oracle's polling cadence and degradation threshold.
type Config struct {
	PollInterval time.Duration
	MinSources   int
}

// DefaultConfig returns sensible defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		MinSources:   1,
	}
}

// Oracle owns the three exchange sources and the aggregator, and drives
// the periodic compute_update / publish cycle.
type Oracle struct {
	cfg  Config
	bus  *bus.Bus
	agg  *aggregator.Aggregator
	srcs []*source.Source

	mu         sync.Mutex
	lastUpdate model.PriceUpdate
	hasUpdate  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New wires an Oracle from its dependencies. srcs is typically
// {source.NewKraken(b), source.NewCoinbase(b), source.NewBitstamp(b)}.
// Every source_tick published on the bus is fed straight into the
// aggregator's per-source freshness map, matching C1's direct hand-off to C2.
func New(cfg Config, b *bus.Bus, agg *aggregator.Aggregator, srcs []*source.Source) *Oracle {
	o := &Oracle{
		cfg:  cfg,
		bus:  b,
		agg:  agg,
		srcs: srcs,
	}
	b.SubscribeSourceTick(func(t bus.SourceTick) {
		agg.IngestTick(t.Source, t.Price, t.TimestampMS)
	})
	return o
}

// Start is idempotent: calling it more than once has no additional effect.
func (o *Oracle) Start(ctx context.Context) {
	o.once.Do(func() {
		o.ctx, o.cancel = context.WithCancel(ctx)
		for _, s := range o.srcs {
			s.Start(o.ctx)
		}
		o.wg.Add(1)
		go o.pollLoop()
	})
}

// Stop cancels the poll timer and stops every source.
func (o *Oracle) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	for _, s := range o.srcs {
		s.Stop()
	}
}

// LastUpdate returns the most recently published PriceUpdate, if any.
func (o *Oracle) LastUpdate() (model.PriceUpdate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastUpdate, o.hasUpdate
}

func (o *Oracle) pollLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.tick()
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Oracle) tick() {
	update, ok := o.agg.ComputeUpdate()
	if !ok {
		return
	}

	o.mu.Lock()
	o.lastUpdate = update
	o.hasUpdate = true
	o.mu.Unlock()

	o.bus.PublishPriceUpdate(update)
	o.bus.PublishSystemEvent(model.SystemEvent{
		Type: model.EventPriceUpdate,
		Fields: map[string]any{
			"price":           update.Price,
			"twap_5m":         update.TWAP5m,
			"confidence":      update.Confidence.String(),
			"sources":         update.Sources,
			"circuit_breaker": update.CircuitBreaker,
		},
	})

	if update.CircuitBreaker {
		o.bus.PublishSystemEvent(model.SystemEvent{
			Type: model.EventCircuitBreaker,
			Fields: map[string]any{
				"price": update.Price,
			},
		})
	}

	if len(update.Sources) < o.cfg.MinSources {
		o.bus.PublishSystemEvent(model.SystemEvent{
			Type: model.EventSourceDegraded,
			Fields: map[string]any{
				"active_sources": len(update.Sources),
				"min_sources":    o.cfg.MinSources,
			},
		})
		log.Warn().
			Int("active_sources", len(update.Sources)).
			Int("min_sources", o.cfg.MinSources).
			Msg("price source degraded")
	}
}
