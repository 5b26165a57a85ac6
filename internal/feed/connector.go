// Package feed maintains the persistent market-data subscription to the
// exchange, deduplicates ticks against the price cache, and fans accepted
// price changes out to the store and the broadcast hub.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/pricecache"
	"github.com/papertrade/trading-engine/internal/symbolmap"
)

// PriceTopic is the broadcast topic price updates are published on.
const PriceTopic = "prices"

// State of the connector, for observability and tests.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReconnectWait
	StateStopped
)

// Conn is the minimal surface of a feed connection. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens feed connections. Swapped for a fake in tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Broadcaster delivers price updates to subscribers, fire-and-forget.
type Broadcaster interface {
	Publish(topic string, payload any)
}

// PriceWriter is the slice of the store the connector needs.
type PriceWriter interface {
	UpdateAssetPrice(ctx context.Context, symbol string, price decimal.Decimal) error
}

// Config holds connector tuning. Zero durations fall back to defaults.
type Config struct {
	URL            string
	Pairs          []string // exchange pairs to subscribe; nil → full mapped set
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	PersistTimeout time.Duration
}

const (
	defaultReconnectDelay = 5 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultPersistTimeout = 5 * time.Second
)

// Connector owns one connection to the exchange. A single goroutine runs
// the connect/read/reconnect loop, so connector state needs no locking
// beyond the conn handle shared with Stop.
type Connector struct {
	cfg    Config
	dialer Dialer
	cache  *pricecache.Cache
	store  PriceWriter
	hub    Broadcaster

	state atomic.Int32

	mu      sync.Mutex // guards conn
	conn    Conn
	writeMu sync.Mutex

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped sync.Once
}

// NewConnector wires a connector. Start must be called to connect.
func NewConnector(cfg Config, dialer Dialer, cache *pricecache.Cache, store PriceWriter, hub Broadcaster) *Connector {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if cfg.Pairs == nil {
		cfg.Pairs = symbolmap.SubscribedPairs()
	}
	return &Connector{
		cfg:    cfg,
		dialer: dialer,
		cache:  cache,
		store:  store,
		hub:    hub,
	}
}

// State reports the current connection state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

// Start launches the connection loop. Reconnect attempts continue until
// Stop is called.
func (c *Connector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop closes the connection gracefully, cancels any pending reconnect
// wait, and joins the loop goroutine. Safe from any goroutine, idempotent.
func (c *Connector) Stop() {
	c.stopped.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.closeConn(true)
		c.wg.Wait()
		c.state.Store(int32(StateStopped))
	})
}

func (c *Connector) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.state.Store(int32(StateConnecting))
		if err := c.connect(ctx); err != nil {
			slog.Warn("feed connect failed", "url", c.cfg.URL, "err", err)
			if !c.waitReconnect(ctx) {
				return
			}
			continue
		}

		c.state.Store(int32(StateSubscribed))
		c.readLoop(ctx)
		c.closeConn(false)
		c.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return
		}
		slog.Info("feed disconnected, scheduling reconnect", "delay", c.cfg.ReconnectDelay)
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

// waitReconnect enforces the minimum delay between attempts. Returns false
// when the connector is stopping.
func (c *Connector) waitReconnect(ctx context.Context) bool {
	c.state.Store(int32(StateReconnectWait))
	metrics.FeedReconnects.Inc()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	}
}

// connect dials the exchange and sends the single subscription request
// covering the configured pair set.
func (c *Connector) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := c.dialer.Dial(dialCtx, c.cfg.URL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	sub := subscribeRequest{Event: "subscribe", Pair: c.cfg.Pairs}
	sub.Subscription.Name = "ticker"
	payload, err := json.Marshal(sub)
	if err != nil {
		c.closeConn(false)
		return err
	}
	if err := c.write(websocket.TextMessage, payload); err != nil {
		c.closeConn(false)
		return err
	}

	slog.Info("feed subscribed", "url", c.cfg.URL, "pairs", len(c.cfg.Pairs))
	return nil
}

type subscribeRequest struct {
	Event        string   `json:"event"`
	Pair         []string `json:"pair"`
	Subscription struct {
		Name string `json:"name"`
	} `json:"subscription"`
}

// readLoop processes frames strictly sequentially until the transport
// fails or closes. Parse and persistence errors never terminate the loop.
func (c *Connector) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("feed read error", "err", err)
			}
			return
		}

		c.handleFrame(ctx, msg)
	}
}

func (c *Connector) handleFrame(ctx context.Context, msg []byte) {
	f := DecodeFrame(msg)
	switch f.Kind {
	case FrameStatus:
		slog.Debug("feed status frame", "event", f.Event)
	case FrameTick:
		c.handleTick(ctx, f.Pair, f.Price)
	case FrameUnrecognized:
		// Consumed without side effects.
	}
}

// handleTick applies the dedup-update-persist-broadcast pipeline for one
// price tick.
func (c *Connector) handleTick(ctx context.Context, pair string, price decimal.Decimal) {
	metrics.FeedTicksTotal.Inc()

	symbol, ok := symbolmap.SymbolFor(pair)
	if !ok {
		// Unknown pair: dropped, never an error.
		metrics.FeedTicksDropped.Inc()
		return
	}

	if last, ok := c.cache.Get(symbol); ok && last.Equal(price) {
		return
	}

	c.cache.Set(symbol, price)
	metrics.PriceUpdatesTotal.Inc()

	// Best-effort persistence: a failure is logged but does not roll back
	// the cache update or suppress the broadcast.
	persistCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	if err := c.store.UpdateAssetPrice(persistCtx, symbol, price); err != nil {
		metrics.FeedPersistFailures.Inc()
		slog.Error("price persist failed", "symbol", symbol, "price", price.String(), "err", err)
	}
	cancel()

	c.hub.Publish(PriceTopic, model.PriceUpdate{
		Symbol:    symbol,
		NewPrice:  price,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Connector) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return conn.WriteMessage(messageType, data)
}

// closeConn releases the connection. When graceful, a close frame is sent
// first so the exchange sees a clean shutdown.
func (c *Connector) closeConn(graceful bool) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down")
		c.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
	}
	conn.Close()
}

// WSDialer dials real WebSocket connections.
type WSDialer struct{}

func (WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
