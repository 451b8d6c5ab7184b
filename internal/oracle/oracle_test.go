package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-loan-sentinel/internal/aggregator"
	"btc-loan-sentinel/internal/bus"
	"btc-loan-sentinel/internal/model"
)

func TestOracle_PublishesPriceUpdateOnTick(t *testing.T) {
	b := bus.New()
	agg := aggregator.New(aggregator.DefaultConfig())

	o := New(Config{PollInterval: 20 * time.Millisecond, MinSources: 1}, b, agg, nil)

	updates := make(chan model.PriceUpdate, 4)
	b.SubscribePriceUpdate(func(u model.PriceUpdate) { updates <- u })

	b.PublishSourceTick(bus.SourceTick{Source: "kraken", Price: decimal.NewFromInt(60000), TimestampMS: time.Now().UnixMilli()})

	o.Start(context.Background())
	defer o.Stop()

	select {
	case u := <-updates:
		assert.True(t, u.Price.Equal(decimal.NewFromInt(60000)))
		assert.Contains(t, u.Sources, "kraken")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for price update")
	}

	last, ok := o.LastUpdate()
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.NewFromInt(60000)))
}

func TestOracle_PublishesSourceDegradedWhenBelowMinSources(t *testing.T) {
	b := bus.New()
	agg := aggregator.New(aggregator.DefaultConfig())

	o := New(Config{PollInterval: 20 * time.Millisecond, MinSources: 2}, b, agg, nil)

	events := make(chan model.SystemEvent, 8)
	b.SubscribeSystemEvent(func(e model.SystemEvent) { events <- e })

	b.PublishSourceTick(bus.SourceTick{Source: "kraken", Price: decimal.NewFromInt(60000), TimestampMS: time.Now().UnixMilli()})

	o.Start(context.Background())
	defer o.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == model.EventSourceDegraded {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for SOURCE_DEGRADED event")
		}
	}
}

func TestOracle_StartIsIdempotent(t *testing.T) {
	b := bus.New()
	agg := aggregator.New(aggregator.DefaultConfig())
	o := New(Config{PollInterval: time.Hour, MinSources: 1}, b, agg, nil)

	o.Start(context.Background())
	o.Start(context.Background())
	o.Stop()
}

func TestOracle_NoFreshSource_PublishesNothing(t *testing.T) {
	b := bus.New()
	agg := aggregator.New(aggregator.DefaultConfig())
	o := New(Config{PollInterval: 20 * time.Millisecond, MinSources: 1}, b, agg, nil)

	var count int
	b.SubscribePriceUpdate(func(model.PriceUpdate) { count++ })

	o.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	o.Stop()

	assert.Equal(t, 0, count)
}
