// Command sentinel monitors Bitcoin-collateralized loans in real time.
//
// It runs three independent exchange WebSocket feeds (Kraken, Coinbase,
// Bitstamp), aggregates them into a median price with a trailing
// time-weighted average and a circuit breaker against bad ticks, and
// raises notifications when a loan's price or loan-to-value thresholds
// are crossed.
//
// Usage:
//
//	sentinel run --config config.yaml
package main

import (
	"btc-loan-sentinel/internal/cli"
)

func main() {
	cli.Execute()
}
