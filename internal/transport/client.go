// Package transport provides the WebSocket client used by every exchange
// source. It owns the low-level connection lifecycle (dial, ping,
// read loop, graceful close); reconnection policy is the caller's
// responsibility (see internal/source), which keeps the state-machine
// bookkeeping around the 5s fixed reconnect cadence.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultPingPeriod       = 15 * time.Second
	defaultSendTimeout      = 5 * time.Second
	defaultReadLimit        = 1 << 20
	defaultHandshakeTimeout = 10 * time.Second
)

// ErrClientShuttingDown indicates the client is in the process of shutting down.
var ErrClientShuttingDown = errors.New("transport: client is shutting down")

// Config configures a single WebSocket connection attempt.
type Config struct {
	// Endpoint is the WebSocket URL to connect to.
	Endpoint string

	// Handler is called for every inbound message. A malformed message
	// must not be allowed to propagate a connection-closing error: the
	// exchange-specific handler drops parse failures internally and
	// returns nil.
	Handler func([]byte) error

	TLSInsecureSkip      bool
	PingPeriod           time.Duration
	SendTimeout          time.Duration
	SubscriptionMessages [][]byte
}

// Client wraps a single websocket.Conn with lifecycle management. A
// Client represents exactly one connection attempt; callers that need
// reconnection construct a new Client each time (see source.Source).
type Client struct {
	conn atomic.Value // *websocket.Conn

	disconnect chan struct{}
	errChan    chan error

	cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	wg   sync.WaitGroup
}

// Dial establishes the connection, sends any subscription messages, and
// starts the background read/ping goroutines.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("transport: endpoint is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("transport: handler is required")
	}
	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	ctx, cancel := context.WithCancel(ctx)

	c := &Client{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
	}

	if err := c.run(cfg.SubscriptionMessages); err != nil {
		cancel()
		return nil, fmt.Errorf("transport: dial failed: %w", err)
	}

	return c, nil
}

func (c *Client) run(subMsgs [][]byte) error {
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "transport").Logger()

	conn, err := c.dial(c.ctx)
	if err != nil {
		return err
	}

	c.conn.Store(conn)
	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PingPeriod * 2))
	})

	for _, msg := range subMsgs {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Error().Err(err).Msg("failed to send subscription message")
			_ = conn.Close()
			return err
		}
	}

	c.wg.Add(3)
	go func() { defer c.wg.Done(); c.readLoop() }()
	go func() { defer c.wg.Done(); c.pingLoop() }()
	go func() { defer c.wg.Done(); c.shutdownListener() }()

	return nil
}

func (c *Client) readLoop() {
	conn := c.conn.Load().(*websocket.Conn)
	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "transport.read").Logger()

	defer func() {
		close(c.disconnect)
		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else {
					logger.Warn().Err(err).Msg("read error")
				}
				select {
				case c.errChan <- err:
				default:
				}
				return
			}

			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Any("recover", r).Msg("panic in message handler")
					}
				}()
				if err := c.cfg.Handler(data); err != nil {
					logger.Debug().Err(err).Msg("message handler returned an error")
				}
			}()
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	logger := log.With().Str("endpoint", c.cfg.Endpoint).Str("component", "transport.ping").Logger()

	for {
		select {
		case <-ticker.C:
			connVal := c.conn.Load()
			if connVal == nil {
				continue
			}
			conn := connVal.(*websocket.Conn)
			if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) shutdownListener() {
	<-c.ctx.Done()
	c.Close()
}

// Close cancels the client's context, sends a close frame, and waits
// (up to 5s) for the background goroutines to exit. Safe to call
// multiple times; no tick is emitted after Close returns.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()

		if connVal := c.conn.Load(); connVal != nil {
			conn := connVal.(*websocket.Conn)
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, make(http.Header))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", c.cfg.Endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Endpoint, err)
	}
	return conn, nil
}

// DisconnectChan is closed when the connection is lost for any reason.
func (c *Client) DisconnectChan() <-chan struct{} { return c.disconnect }

// ErrChan emits the terminal error that caused disconnection, if any.
func (c *Client) ErrChan() <-chan error { return c.errChan }
