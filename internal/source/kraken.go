package source

import (
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/bus"
)

const krakenEndpoint = "wss://ws.kraken.com"

// krakenSubscribeFrame is sent immediately after connecting.
type krakenSubscribeFrame struct {
	Event        string            `json:"event"`
	Pair         []string          `json:"pair"`
	Subscription map[string]string `json:"subscription"`
}

func krakenSubscribeMessage() []byte {
	msg, _ := json.Marshal(krakenSubscribeFrame{
		Event: "subscribe",
		Pair:  []string{"XBT/USD"},
		Subscription: map[string]string{
			"name": "ticker",
		},
	})
	return msg
}

// krakenTickerPayload mirrors the "c" (close) array of a Kraken ticker
// message; index 0 is the last trade price.
type krakenTickerPayload struct {
	Close []string `json:"c"`
}

// parseKraken handles both shapes Kraken's stream sends: object
// messages (subscription acks, heartbeats) and the ticker array
// [channelID, payload, "ticker", pair]. Anything else, or any field
// that fails to parse, is silently dropped.
func parseKraken(raw []byte) (decimal.Decimal, bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return decimal.Zero, false
	}
	if len(frame) < 3 {
		return decimal.Zero, false
	}

	var channelType string
	if err := json.Unmarshal(frame[2], &channelType); err != nil || channelType != "ticker" {
		return decimal.Zero, false
	}

	var payload krakenTickerPayload
	if err := json.Unmarshal(frame[1], &payload); err != nil || len(payload.Close) == 0 {
		return decimal.Zero, false
	}

	price, err := decimal.NewFromString(payload.Close[0])
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

// NewKraken constructs the Kraken exchange source.
func NewKraken(b *bus.Bus) *Source {
	return newSource("kraken", krakenEndpoint, krakenSubscribeMessage(), parseKraken, b)
}
