package source

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/bus"
)

const bitstampEndpoint = "wss://ws.bitstamp.net"

type bitstampSubscribeFrame struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

func bitstampSubscribeMessage() []byte {
	msg, _ := json.Marshal(bitstampSubscribeFrame{
		Event: "bts:subscribe",
		Data:  map[string]interface{}{"channel": "live_trades_btcusd"},
	})
	return msg
}

type bitstampTradeMessage struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Data    struct {
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

// parseBitstamp accepts only {"event":"trade","channel":"live_trades_btcusd",...};
// subscription confirmations and other channel traffic are silently dropped.
func parseBitstamp(raw []byte) (decimal.Decimal, bool) {
	var msg bitstampTradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return decimal.Zero, false
	}
	if msg.Event != "trade" || msg.Channel != "live_trades_btcusd" {
		return decimal.Zero, false
	}
	return msg.Data.Price, true
}

// NewBitstamp constructs the Bitstamp exchange source.
func NewBitstamp(b *bus.Bus) *Source {
	return newSource("bitstamp", bitstampEndpoint, bitstampSubscribeMessage(), parseBitstamp, b)
}
