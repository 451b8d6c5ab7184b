// Package aggregator implements the price aggregator (C2): a pure module
// that combines the freshest per-source ticks into a validated market
// price, with a time-weighted average, a confidence score, and a
// circuit breaker that rejects sudden excursions for a cooldown period.
//
// The aggregator schedules nothing itself — the oracle service (C3)
// drives ComputeUpdate on a timer. All mutable state (the per-source
// freshness map and the sample ring) is protected by a single mutex,
// so ingestion from any source never races with a concurrent compute.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/model"
)

const (
	// maxSamples bounds the TWAP sample ring; ample for a 5-minute window
	// at any realistic tick rate.
	maxSamples = 2000

	freshnessWindowMs        = 30_000
	circuitBreakerCooldownMs = 60_000
)

// Config enumerates the aggregator's tunables.
type Config struct {
	// TWAPWindow is the width of the trailing time-weighted average window.
	TWAPWindow time.Duration
	// CircuitBreakerPct is the relative-change threshold, in percent
	// (10 means a move of more than 10% from last_known_good trips the
	// breaker).
	CircuitBreakerPct decimal.Decimal
	// MinSources is the freshness-set size below which the oracle emits
	// a SOURCE_DEGRADED event. The aggregator itself does not act on it.
	MinSources int
}

// DefaultConfig returns sensible defaults for a single-process deployment.
func DefaultConfig() Config {
	return Config{
		TWAPWindow:        5 * time.Minute,
		CircuitBreakerPct: decimal.NewFromInt(10),
		MinSources:        1,
	}
}

type tickRecord struct {
	price       decimal.Decimal
	timestampMS int64
}

// Aggregator combines per-source ticks into PriceUpdates. It is safe for
// concurrent use by IngestTick callers and a single ComputeUpdate caller.
type Aggregator struct {
	mu  sync.Mutex
	cfg Config

	// now returns the current time; overridable in tests so fixed clocks
	// can exercise freshness, circuit-breaker, and TWAP edges precisely.
	now func() time.Time

	lastTick map[string]tickRecord
	samples  []model.PriceSample

	lastKnownGood decimal.Decimal
	tripped       bool
	trippedAtMS   int64
}

// New constructs an Aggregator with the given configuration.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		now:      time.Now,
		lastTick: make(map[string]tickRecord),
		samples:  make([]model.PriceSample, 0, 64),
	}
}

// WithClock overrides the aggregator's time source; intended for tests only.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// IngestTick overwrites the freshest observed price for source. The
// aggregator is interested only in the latest value per source, not the
// stream, so repeated calls for the same source simply replace the
// previous record.
func (a *Aggregator) IngestTick(source string, price decimal.Decimal, timestampMS int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTick[source] = tickRecord{price: price, timestampMS: timestampMS}
}

// ComputeUpdate combines the freshest per-source ticks into a
// PriceUpdate, or returns ok=false if no source is fresh.
func (a *Aggregator) ComputeUpdate() (model.PriceUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	nowMS := a.now().UnixMilli()

	type freshEntry struct {
		source string
		price  decimal.Decimal
	}
	fresh := make([]freshEntry, 0, len(a.lastTick))
	for source, tick := range a.lastTick {
		if nowMS-tick.timestampMS < freshnessWindowMs {
			fresh = append(fresh, freshEntry{source: source, price: tick.price})
		}
	}
	if len(fresh) == 0 {
		return model.PriceUpdate{}, false
	}

	// Sort by source name for deterministic output (property 3: repeated
	// calls within the same millisecond return identical results).
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].source < fresh[j].source })

	prices := make([]decimal.Decimal, len(fresh))
	sources := make([]string, len(fresh))
	for i, e := range fresh {
		prices[i] = e.price
		sources[i] = e.source
	}

	median := medianOf(prices)

	circuitBreaker, sampledPrice := a.applyCircuitBreaker(median, nowMS)
	a.appendSample(sampledPrice, nowMS, sources)

	twap := a.twap(nowMS)
	confidence := confidenceOf(prices)

	return model.PriceUpdate{
		Price:          median,
		TimestampMS:    nowMS,
		Sources:        sources,
		TWAP5m:         twap,
		Confidence:     confidence,
		CircuitBreaker: circuitBreaker,
	}, true
}

// applyCircuitBreaker rejects a median that has moved too far from
// last_known_good. It returns whether the returned update should carry
// circuit_breaker=true, and the price that should be appended to the
// sample ring (the rejected median's last-known-good substitute while
// tripped, or the accepted median otherwise).
func (a *Aggregator) applyCircuitBreaker(median decimal.Decimal, nowMS int64) (bool, decimal.Decimal) {
	if a.lastKnownGood.IsZero() {
		a.lastKnownGood = median
		a.tripped = false
		return false, median
	}

	delta := median.Sub(a.lastKnownGood).Abs().Div(a.lastKnownGood)
	threshold := a.cfg.CircuitBreakerPct.Div(decimal.NewFromInt(100))

	if delta.LessThanOrEqual(threshold) {
		a.tripped = false
		a.lastKnownGood = median
		return false, median
	}

	// Δ exceeds threshold: trip, or re-trip if the cooldown has elapsed.
	if !a.tripped {
		a.tripped = true
		a.trippedAtMS = nowMS
	} else if nowMS-a.trippedAtMS >= circuitBreakerCooldownMs {
		a.trippedAtMS = nowMS
	}

	return true, a.lastKnownGood
}

func (a *Aggregator) appendSample(price decimal.Decimal, nowMS int64, sources []string) {
	a.samples = append(a.samples, model.PriceSample{
		Price:               price,
		TimestampMS:         nowMS,
		ContributingSources: sources,
	})
	if len(a.samples) > maxSamples {
		a.samples = a.samples[len(a.samples)-maxSamples:]
	}
}

// twap computes the time-weighted average over the trailing window.
// Each sample's weight is the interval until its successor, or until now
// for the last sample in the window.
func (a *Aggregator) twap(nowMS int64) decimal.Decimal {
	windowStart := nowMS - a.cfg.TWAPWindow.Milliseconds()

	var inWindow []model.PriceSample
	for _, s := range a.samples {
		if s.TimestampMS >= windowStart && s.TimestampMS <= nowMS {
			inWindow = append(inWindow, s)
		}
	}

	if len(inWindow) == 0 {
		if a.lastKnownGood.IsZero() {
			return decimal.Zero
		}
		return a.lastKnownGood
	}
	if len(inWindow) == 1 {
		return inWindow[0].Price
	}

	var weightedSum decimal.Decimal
	var totalWeight decimal.Decimal
	for i, s := range inWindow {
		var weightMS int64
		if i == len(inWindow)-1 {
			weightMS = nowMS - s.TimestampMS
		} else {
			weightMS = inWindow[i+1].TimestampMS - s.TimestampMS
		}
		weight := decimal.NewFromInt(weightMS)
		weightedSum = weightedSum.Add(s.Price.Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}

	if totalWeight.IsZero() {
		return inWindow[len(inWindow)-1].Price
	}
	return weightedSum.Div(totalWeight)
}

func medianOf(prices []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

func confidenceOf(prices []decimal.Decimal) model.Confidence {
	switch len(prices) {
	case 0:
		return model.Low
	case 1:
		return model.Low
	case 2:
		return model.Medium
	}

	min, max := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p.LessThan(min) {
			min = p
		}
		if p.GreaterThan(max) {
			max = p
		}
	}
	if min.IsZero() {
		return model.Low
	}
	spread := max.Sub(min).Div(min)

	switch {
	case spread.LessThan(decimal.NewFromFloat(0.01)):
		return model.High
	case spread.LessThan(decimal.NewFromFloat(0.015)):
		return model.Medium
	default:
		return model.Low
	}
}
