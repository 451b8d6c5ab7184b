// Package source implements the exchange price sources (C1): Kraken,
// Coinbase, and Bitstamp. Each maintains one streaming WebSocket
// connection, publishes every validly parsed tick onto the event bus,
// and reconnects on a fixed 5s cadence after any disconnect — exchanges
// are cooperative enough in practice that per-source exponential
// backoff isn't worth the added state.
//
// The reconnect loop and state machine here are shared across all three
// connectors; only the endpoint, subscribe frame, and wire parser are
// exchange-specific (see kraken.go, coinbase.go, bitstamp.go).
package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/rs/zerolog/log"

	"btc-loan-sentinel/internal/bus"
	"btc-loan-sentinel/internal/transport"
)

// Phase is the connection state-machine position of a Source.
type Phase int32

const (
	Disconnected Phase = iota
	Connecting
	Subscribed
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Subscribed:
		return "SUBSCRIBED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

const reconnectDelay = 5 * time.Second

// parseFunc extracts a price from one inbound message. ok is false for
// any message that doesn't match the exchange's ticker/trade shape —
// heartbeats, subscription acks, and schema variants are all expected
// and must not be treated as errors.
type parseFunc func(raw []byte) (price decimal.Decimal, ok bool)

// Source is a single exchange connection. It is constructed by the
// per-exchange files below with the wire details filled in.
type Source struct {
	name         string
	endpoint     string
	subscribeMsg []byte
	parse        parseFunc

	bus *bus.Bus

	phase atomic.Int32

	mu              sync.Mutex
	lastPrice       decimal.Decimal
	lastTimestampMS int64

	clientMu sync.Mutex
	client   *transport.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	now func() time.Time
}

func newSource(name, endpoint string, subscribeMsg []byte, parse parseFunc, b *bus.Bus) *Source {
	return &Source{
		name:         name,
		endpoint:     endpoint,
		subscribeMsg: subscribeMsg,
		parse:        parse,
		bus:          b,
		now:          time.Now,
	}
}

// Start begins the connect/subscribe/reconnect loop in the background.
func (s *Source) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.phase.Store(int32(Connecting))
	s.wg.Add(1)
	go s.run()
}

// Stop cancels any pending reconnect timer, closes the active
// connection, and waits for the run loop to exit. No tick is emitted
// after Stop returns.
func (s *Source) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.phase.Store(int32(Stopped))
		s.wg.Wait()
	})
}

// Name identifies this source for bus ticks and system events.
func (s *Source) Name() string { return s.name }

// CurrentPhase reports the current connection state.
func (s *Source) CurrentPhase() Phase { return Phase(s.phase.Load()) }

// IsStale reports whether the last successfully parsed tick is older
// than maxAge.
func (s *Source) IsStale(maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTimestampMS == 0 {
		return true
	}
	return s.now().UnixMilli()-s.lastTimestampMS >= maxAge.Milliseconds()
}

// LastPrice returns the most recently parsed price and its receipt timestamp.
func (s *Source) LastPrice() (decimal.Decimal, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice, s.lastTimestampMS
}

func (s *Source) run() {
	defer s.wg.Done()
	logger := log.With().Str("source", s.name).Logger()

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.phase.Store(int32(Connecting))
		client, err := transport.Dial(s.ctx, transport.Config{
			Endpoint:             s.endpoint,
			Handler:              s.handleMessage,
			SubscriptionMessages: [][]byte{s.subscribeMsg},
		})
		if err != nil {
			logger.Warn().Err(err).Msg("connect failed, will retry")
			s.phase.Store(int32(Disconnected))
			if !s.waitReconnect() {
				return
			}
			continue
		}

		s.setClient(client)
		s.phase.Store(int32(Subscribed))
		logger.Info().Msg("subscribed")

		select {
		case <-client.DisconnectChan():
			logger.Warn().Msg("disconnected, will reconnect")
		case <-s.ctx.Done():
			client.Close()
			return
		}

		s.phase.Store(int32(Disconnected))
		if !s.waitReconnect() {
			return
		}
	}
}

func (s *Source) waitReconnect() bool {
	timer := time.NewTimer(reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Source) setClient(c *transport.Client) {
	s.clientMu.Lock()
	s.client = c
	s.clientMu.Unlock()
}

// handleMessage is the transport.Config.Handler: it parses the raw
// message, drops anything that doesn't yield a strictly positive price,
// and otherwise records the tick and publishes it to the bus.
func (s *Source) handleMessage(raw []byte) error {
	price, ok := s.parse(raw)
	if !ok || !price.IsPositive() {
		return nil
	}

	ts := s.now().UnixMilli()

	s.mu.Lock()
	s.lastPrice = price
	s.lastTimestampMS = ts
	s.mu.Unlock()

	s.bus.PublishSourceTick(bus.SourceTick{
		Source:      s.name,
		Price:       price,
		TimestampMS: ts,
	})
	return nil
}
