package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btc-loan-sentinel/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestComputeUpdate_NoFreshSource_ReturnsNotOK(t *testing.T) {
	agg := New(DefaultConfig())
	_, ok := agg.ComputeUpdate()
	assert.False(t, ok)
}

func TestComputeUpdate_StaleTickIgnored(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	agg := New(DefaultConfig()).WithClock(fixedClock(base))

	agg.IngestTick("kraken", decimal.NewFromInt(60000), base.Add(-31*time.Second).UnixMilli())

	_, ok := agg.ComputeUpdate()
	assert.False(t, ok, "a tick older than 30s must be excluded from the freshness set")
}

// S5: median aggregation with three agreeing sources.
func TestComputeUpdate_MedianOfThreeSources(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	agg := New(DefaultConfig()).WithClock(fixedClock(base))

	agg.IngestTick("kraken", decimal.NewFromInt(60000), base.UnixMilli())
	agg.IngestTick("coinbase", decimal.NewFromInt(60500), base.UnixMilli())
	agg.IngestTick("bitstamp", decimal.NewFromInt(60200), base.UnixMilli())

	update, ok := agg.ComputeUpdate()
	require.True(t, ok)

	assert.True(t, update.Price.Equal(decimal.NewFromInt(60200)))
	assert.ElementsMatch(t, []string{"kraken", "coinbase", "bitstamp"}, update.Sources)
	assert.Equal(t, model.High, update.Confidence)
}

func TestComputeUpdate_MedianOfThree_MiddleValue(t *testing.T) {
	assert.True(t, medianOf([]decimal.Decimal{
		decimal.NewFromInt(10), decimal.NewFromInt(30), decimal.NewFromInt(20),
	}).Equal(decimal.NewFromInt(20)))
}

func TestComputeUpdate_MedianOfTwo_Averages(t *testing.T) {
	got := medianOf([]decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(20)})
	assert.True(t, got.Equal(decimal.NewFromInt(15)))
}

func TestComputeUpdate_RepeatedCallsSameMillisecond_AreIdentical(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	agg := New(DefaultConfig()).WithClock(fixedClock(base))

	agg.IngestTick("kraken", decimal.NewFromInt(60000), base.UnixMilli())
	agg.IngestTick("coinbase", decimal.NewFromInt(60500), base.UnixMilli())

	first, ok1 := agg.ComputeUpdate()
	second, ok2 := agg.ComputeUpdate()
	require.True(t, ok1)
	require.True(t, ok2)

	assert.True(t, first.Price.Equal(second.Price))
	assert.Equal(t, first.Sources, second.Sources)
	assert.Equal(t, first.Confidence, second.Confidence)
}

// S6: circuit breaker trips on a >10% excursion and re-trips after cooldown.
func TestComputeUpdate_CircuitBreakerTripsAndHoldsLastKnownGood(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	clockTime := base
	agg := New(DefaultConfig()).WithClock(func() time.Time { return clockTime })

	agg.IngestTick("kraken", decimal.NewFromInt(60000), clockTime.UnixMilli())
	first, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.False(t, first.CircuitBreaker)
	assert.True(t, first.TWAP5m.Equal(decimal.NewFromInt(60000)))

	clockTime = base.Add(5 * time.Second)
	agg.IngestTick("kraken", decimal.NewFromInt(72000), clockTime.UnixMilli())
	second, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.True(t, second.Price.Equal(decimal.NewFromInt(72000)))
	assert.True(t, second.CircuitBreaker)

	// Within the 60s cooldown, still tripped.
	clockTime = base.Add(30 * time.Second)
	agg.IngestTick("kraken", decimal.NewFromInt(72000), clockTime.UnixMilli())
	third, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.True(t, third.CircuitBreaker)

	// After 60s from the first trip, the breaker re-evaluates and re-trips
	// since the price is still +20% away from last_known_good (60000).
	clockTime = base.Add(66 * time.Second)
	agg.IngestTick("kraken", decimal.NewFromInt(72000), clockTime.UnixMilli())
	fourth, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.True(t, fourth.CircuitBreaker)
}

func TestComputeUpdate_CircuitBreakerClears_WhenWithinThreshold(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	clockTime := base
	agg := New(DefaultConfig()).WithClock(func() time.Time { return clockTime })

	agg.IngestTick("kraken", decimal.NewFromInt(60000), clockTime.UnixMilli())
	_, ok := agg.ComputeUpdate()
	require.True(t, ok)

	clockTime = base.Add(5 * time.Second)
	agg.IngestTick("kraken", decimal.NewFromInt(60500), clockTime.UnixMilli())
	update, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.False(t, update.CircuitBreaker)
	assert.True(t, update.Price.Equal(decimal.NewFromInt(60500)))
}

func TestTWAP_SingleSampleEqualsItsPrice(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	agg := New(DefaultConfig()).WithClock(fixedClock(base))

	agg.IngestTick("kraken", decimal.NewFromInt(61234), base.UnixMilli())
	update, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.True(t, update.TWAP5m.Equal(decimal.NewFromInt(61234)))
}

func TestSampleRing_NeverExceedsBound(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	clockTime := base
	agg := New(DefaultConfig()).WithClock(func() time.Time { return clockTime })

	for i := 0; i < maxSamples+50; i++ {
		clockTime = base.Add(time.Duration(i) * time.Millisecond)
		agg.IngestTick("kraken", decimal.NewFromInt(60000), clockTime.UnixMilli())
		_, ok := agg.ComputeUpdate()
		require.True(t, ok)
	}

	assert.LessOrEqual(t, len(agg.samples), maxSamples)
}

func TestConfidence_TwoSourcesIsMedium(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	agg := New(DefaultConfig()).WithClock(fixedClock(base))

	agg.IngestTick("kraken", decimal.NewFromInt(60000), base.UnixMilli())
	agg.IngestTick("coinbase", decimal.NewFromInt(60100), base.UnixMilli())

	update, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.Equal(t, model.Medium, update.Confidence)
}

func TestConfidence_WideSpreadIsLow(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	agg := New(DefaultConfig()).WithClock(fixedClock(base))

	agg.IngestTick("kraken", decimal.NewFromInt(60000), base.UnixMilli())
	agg.IngestTick("coinbase", decimal.NewFromInt(60500), base.UnixMilli())
	agg.IngestTick("bitstamp", decimal.NewFromInt(61000), base.UnixMilli())

	update, ok := agg.ComputeUpdate()
	require.True(t, ok)
	assert.Equal(t, model.Low, update.Confidence)
}
