package source

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/bus"
)

const coinbaseEndpoint = "wss://ws-feed.exchange.coinbase.com"

type coinbaseSubscribeFrame struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

func coinbaseSubscribeMessage() []byte {
	msg, _ := json.Marshal(coinbaseSubscribeFrame{
		Type:       "subscribe",
		ProductIDs: []string{"BTC-USD"},
		Channels:   []string{"ticker"},
	})
	return msg
}

type coinbaseTickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
}

// parseCoinbase accepts only {"type":"ticker","product_id":"BTC-USD",...};
// any other message type (heartbeat, subscriptions ack, match, l2update)
// is silently dropped.
func parseCoinbase(raw []byte) (decimal.Decimal, bool) {
	var msg coinbaseTickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return decimal.Zero, false
	}
	if msg.Type != "ticker" || msg.ProductID != "BTC-USD" || msg.Price == "" {
		return decimal.Zero, false
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

// NewCoinbase constructs the Coinbase exchange source.
func NewCoinbase(b *bus.Bus) *Source {
	return newSource("coinbase", coinbaseEndpoint, coinbaseSubscribeMessage(), parseCoinbase, b)
}
