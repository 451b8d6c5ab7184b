// Package bus implements the in-process publish/subscribe hub that
// connects the exchange sources, the oracle, the alert engine, and the
// dashboard boundary. Delivery is synchronous and unbuffered: every
// subscriber handler for a given publication runs to completion, in
// registration order, before the call returns. Consumers of
// price:update depend on seeing a strictly ordered stream with no
// tick silently dropped, which a buffered or dropping queue cannot
// guarantee.
package bus

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/model"
)

const systemEventRingSize = 1000

// SourceTick is the payload of the price:source_tick channel.
type SourceTick struct {
	Source      string
	Price       decimal.Decimal
	TimestampMS int64
}

// Bus is an injected dependency, not a global: each component that needs
// to publish or subscribe receives a *Bus explicitly, which keeps tests
// isolated from one another.
type Bus struct {
	mu sync.Mutex

	priceUpdateSubs []func(model.PriceUpdate)
	sourceTickSubs  []func(SourceTick)
	systemEventSubs []func(model.SystemEvent)
	logSubs         []func(string)

	eventsMu sync.Mutex
	events   []model.SystemEvent
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		events: make([]model.SystemEvent, 0, systemEventRingSize),
	}
}

// SubscribePriceUpdate registers a handler invoked synchronously, in
// registration order, for every price:update publication.
func (b *Bus) SubscribePriceUpdate(handler func(model.PriceUpdate)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priceUpdateSubs = append(b.priceUpdateSubs, handler)
}

// PublishPriceUpdate delivers update to every price:update subscriber in
// registration order. Handlers are expected to be cheap; the bus applies
// no timeout or recovery around them.
func (b *Bus) PublishPriceUpdate(update model.PriceUpdate) {
	b.mu.Lock()
	subs := make([]func(model.PriceUpdate), len(b.priceUpdateSubs))
	copy(subs, b.priceUpdateSubs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub(update)
	}
}

// SubscribeSourceTick registers a handler for every price:source_tick publication.
func (b *Bus) SubscribeSourceTick(handler func(SourceTick)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sourceTickSubs = append(b.sourceTickSubs, handler)
}

// PublishSourceTick delivers tick to every price:source_tick subscriber.
func (b *Bus) PublishSourceTick(tick SourceTick) {
	b.mu.Lock()
	subs := make([]func(SourceTick), len(b.sourceTickSubs))
	copy(subs, b.sourceTickSubs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub(tick)
	}
}

// SubscribeSystemEvent registers a handler for every system:event publication.
func (b *Bus) SubscribeSystemEvent(handler func(model.SystemEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemEventSubs = append(b.systemEventSubs, handler)
}

// PublishSystemEvent delivers event to subscribers and appends it to the
// ring buffer, evicting the oldest entry once 1,000 events are retained.
func (b *Bus) PublishSystemEvent(event model.SystemEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.eventsMu.Lock()
	if len(b.events) >= systemEventRingSize {
		b.events = append(b.events[1:], event)
	} else {
		b.events = append(b.events, event)
	}
	b.eventsMu.Unlock()

	b.mu.Lock()
	subs := make([]func(model.SystemEvent), len(b.systemEventSubs))
	copy(subs, b.systemEventSubs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

// RecentSystemEvents returns a snapshot of retained events, optionally
// filtered to a single type. The returned slice is a copy; callers may
// retain it freely.
func (b *Bus) RecentSystemEvents(filter *model.SystemEventType) []model.SystemEvent {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()

	if filter == nil {
		out := make([]model.SystemEvent, len(b.events))
		copy(out, b.events)
		return out
	}

	out := make([]model.SystemEvent, 0, len(b.events))
	for _, e := range b.events {
		if e.Type == *filter {
			out = append(out, e)
		}
	}
	return out
}

// SubscribeLog registers a handler for every system:log publication.
func (b *Bus) SubscribeLog(handler func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logSubs = append(b.logSubs, handler)
}

// PublishLog delivers a free-form diagnostic line to system:log subscribers.
func (b *Bus) PublishLog(line string) {
	b.mu.Lock()
	subs := make([]func(string), len(b.logSubs))
	copy(subs, b.logSubs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub(line)
	}
}
