package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKraken_ValidTickerArray(t *testing.T) {
	raw := []byte(`[336,{"c":["61234.50000","0.1"],"v":["100","200"]},"ticker","XBT/USD"]`)
	price, ok := parseKraken(raw)
	assert.True(t, ok)
	assert.Equal(t, "61234.5", price.String())
}

func TestParseKraken_SubscriptionAckIsIgnored(t *testing.T) {
	raw := []byte(`{"event":"subscriptionStatus","status":"subscribed","pair":"XBT/USD"}`)
	_, ok := parseKraken(raw)
	assert.False(t, ok)
}

func TestParseKraken_HeartbeatIsIgnored(t *testing.T) {
	raw := []byte(`{"event":"heartbeat"}`)
	_, ok := parseKraken(raw)
	assert.False(t, ok)
}

func TestParseKraken_NonTickerChannelIgnored(t *testing.T) {
	raw := []byte(`[336,{"a":["61234.50","1","1.0"]},"spread","XBT/USD"]`)
	_, ok := parseKraken(raw)
	assert.False(t, ok)
}

func TestParseKraken_MalformedJSON(t *testing.T) {
	_, ok := parseKraken([]byte(`not json`))
	assert.False(t, ok)
}

func TestParseKraken_EmptyCloseArray(t *testing.T) {
	raw := []byte(`[336,{"c":[]},"ticker","XBT/USD"]`)
	_, ok := parseKraken(raw)
	assert.False(t, ok)
}

func TestParseCoinbase_ValidTicker(t *testing.T) {
	raw := []byte(`{"type":"ticker","product_id":"BTC-USD","price":"61500.25","sequence":1}`)
	price, ok := parseCoinbase(raw)
	assert.True(t, ok)
	assert.Equal(t, "61500.25", price.String())
}

func TestParseCoinbase_HeartbeatIgnored(t *testing.T) {
	raw := []byte(`{"type":"heartbeat","sequence":1}`)
	_, ok := parseCoinbase(raw)
	assert.False(t, ok)
}

func TestParseCoinbase_SubscriptionsAckIgnored(t *testing.T) {
	raw := []byte(`{"type":"subscriptions","channels":[{"name":"ticker","product_ids":["BTC-USD"]}]}`)
	_, ok := parseCoinbase(raw)
	assert.False(t, ok)
}

func TestParseCoinbase_WrongProductIgnored(t *testing.T) {
	raw := []byte(`{"type":"ticker","product_id":"ETH-USD","price":"3000.00"}`)
	_, ok := parseCoinbase(raw)
	assert.False(t, ok)
}

func TestParseCoinbase_MalformedPrice(t *testing.T) {
	raw := []byte(`{"type":"ticker","product_id":"BTC-USD","price":"not-a-number"}`)
	_, ok := parseCoinbase(raw)
	assert.False(t, ok)
}

func TestParseBitstamp_ValidTrade(t *testing.T) {
	raw := []byte(`{"event":"trade","channel":"live_trades_btcusd","data":{"price":61800.1,"amount":0.05}}`)
	price, ok := parseBitstamp(raw)
	assert.True(t, ok)
	assert.Equal(t, "61800.1", price.String())
}

func TestParseBitstamp_SubscriptionSucceededIgnored(t *testing.T) {
	raw := []byte(`{"event":"bts:subscription_succeeded","channel":"live_trades_btcusd","data":{}}`)
	_, ok := parseBitstamp(raw)
	assert.False(t, ok)
}

func TestParseBitstamp_WrongChannelIgnored(t *testing.T) {
	raw := []byte(`{"event":"trade","channel":"live_trades_ethusd","data":{"price":3000.0}}`)
	_, ok := parseBitstamp(raw)
	assert.False(t, ok)
}

func TestParseBitstamp_MalformedJSON(t *testing.T) {
	_, ok := parseBitstamp([]byte(`{"event":`))
	assert.False(t, ok)
}
