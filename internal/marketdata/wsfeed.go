// Package marketdata streams quotes from the market-data endpoint into the
// quote router.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quanterhq/strategyd/internal/bus/marketbus"
	"github.com/quanterhq/strategyd/internal/observability"
	"github.com/quanterhq/strategyd/internal/schema"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	pingInterval            = 30 * time.Second
	pingTimeout             = 5 * time.Second
	controlWriteTimeout     = 5 * time.Second
	maxReconnectInterval    = 30 * time.Second
	readLimit               = 1024 * 1024
)

// FeedConfig declares the upstream quote stream connection settings.
type FeedConfig struct {
	URL              string
	HandshakeTimeout time.Duration
}

// WSFeed maintains a single websocket session against the quote endpoint and
// publishes parsed events into the router. The session reconnects with
// exponential backoff and replays its subscriptions after each reconnect.
type WSFeed struct {
	cfg    FeedConfig
	router marketbus.Router
	log    observability.Logger

	ctx    context.Context
	cancel context.CancelFunc

	conn     *websocket.Conn
	connMu   sync.RWMutex
	msgIDGen atomic.Uint64

	subscriptions map[string]struct{}
	subsMu        sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
}

type controlRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
	ID      uint64   `json:"id"`
}

type streamFrame struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Volume    int64  `json:"volume"`
	Timestamp int64  `json:"timestamp"`
	ID        uint64 `json:"id"`
	Error     string `json:"error,omitempty"`
}

// NewWSFeed constructs a websocket quote feed publishing into router.
func NewWSFeed(ctx context.Context, cfg FeedConfig, router marketbus.Router, log observability.Logger) *WSFeed {
	if log == nil {
		log = observability.NopLogger{}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	feedCtx, cancel := context.WithCancel(ctx)
	return &WSFeed{
		cfg:           cfg,
		router:        router,
		log:           log,
		ctx:           feedCtx,
		cancel:        cancel,
		subscriptions: make(map[string]struct{}),
		ready:         make(chan struct{}),
	}
}

// Start establishes the connection in a background goroutine and waits for the
// initial session.
func (f *WSFeed) Start() error {
	go func() {
		if err := f.connect(); err != nil && !errors.Is(err, context.Canceled) {
			f.log.Error("quote feed connection failed", observability.F("error", err))
		}
	}()

	select {
	case <-f.ready:
		return nil
	case <-time.After(f.cfg.HandshakeTimeout):
		return errors.New("timeout waiting for quote feed connection")
	case <-f.ctx.Done():
		return fmt.Errorf("quote feed context done: %w", f.ctx.Err())
	}
}

// Stop closes the session and cancels the feed context.
func (f *WSFeed) Stop() {
	f.cancel()
	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.Close(websocket.StatusNormalClosure, "shutdown")
		f.conn = nil
	}
	f.connMu.Unlock()
}

// Subscribe adds symbol subscriptions. Already-subscribed symbols are skipped;
// the upstream request carries only the new ones.
func (f *WSFeed) Subscribe(symbols ...string) error {
	f.subsMu.Lock()
	added := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		if _, exists := f.subscriptions[symbol]; !exists {
			added = append(added, symbol)
			f.subscriptions[symbol] = struct{}{}
		}
	}
	f.subsMu.Unlock()

	if len(added) == 0 {
		return nil
	}
	return f.sendControl("subscribe", added)
}

// Unsubscribe removes symbol subscriptions.
func (f *WSFeed) Unsubscribe(symbols ...string) error {
	f.subsMu.Lock()
	removed := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if _, exists := f.subscriptions[symbol]; exists {
			removed = append(removed, symbol)
			delete(f.subscriptions, symbol)
		}
	}
	f.subsMu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	return f.sendControl("unsubscribe", removed)
}

func (f *WSFeed) connect() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = maxReconnectInterval

	// Keep one session alive until the feed context terminates. Each pass
	// dials, replays subscriptions, and runs reader and pinger goroutines.
	for {
		select {
		case <-f.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(f.ctx, f.cfg.URL, nil)
		if err != nil {
			f.log.Warn("quote feed dial failed",
				observability.F("url", f.cfg.URL),
				observability.F("error", err))
			select {
			case <-f.ctx.Done():
				return context.Canceled
			case <-time.After(f.nextBackOff(backoffCfg)):
				continue
			}
		}

		f.connMu.Lock()
		f.conn = conn
		f.connMu.Unlock()

		conn.SetReadLimit(readLimit)
		f.readyOnce.Do(func() { close(f.ready) })
		backoffCfg.Reset()

		if err := f.resubscribeAll(); err != nil {
			f.log.Warn("resubscribe after reconnect failed", observability.F("error", err))
		}

		connCtx, connCancel := context.WithCancel(f.ctx)
		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			errCh <- f.readLoop(connCtx, conn)
		}()
		go func() {
			defer wg.Done()
			errCh <- f.pingLoop(connCtx, conn)
		}()

		firstErr := <-errCh
		connCancel()

		f.connMu.Lock()
		if f.conn == conn {
			f.conn = nil
		}
		f.connMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		wg.Wait()

		if firstErr != nil && !errors.Is(firstErr, context.Canceled) {
			f.log.Warn("quote feed session ended", observability.F("error", firstErr))
		}

		select {
		case <-f.ctx.Done():
			return context.Canceled
		case <-time.After(f.nextBackOff(backoffCfg)):
		}
	}
}

func (f *WSFeed) nextBackOff(b *backoff.ExponentialBackOff) time.Duration {
	sleep := b.NextBackOff()
	if sleep == backoff.Stop || sleep <= 0 {
		sleep = maxReconnectInterval
	}
	return sleep
}

func (f *WSFeed) resubscribeAll() error {
	f.subsMu.Lock()
	symbols := make([]string, 0, len(f.subscriptions))
	for symbol := range f.subscriptions {
		symbols = append(symbols, symbol)
	}
	f.subsMu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return f.sendControl("subscribe", symbols)
}

func (f *WSFeed) sendControl(op string, symbols []string) error {
	f.connMu.RLock()
	conn := f.conn
	f.connMu.RUnlock()
	if conn == nil {
		// Not connected yet; resubscribeAll replays once the session is up.
		return nil
	}

	req := controlRequest{Op: op, Symbols: symbols, ID: f.msgIDGen.Add(1)}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}

	writeCtx, cancel := context.WithTimeout(f.ctx, controlWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write %s request: %w", op, err)
	}
	return nil
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
					return context.Canceled
				}
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			if errors.Is(err, net.ErrClosed) {
				return context.Canceled
			}
			if status := websocket.CloseStatus(err); status != -1 {
				if status == websocket.StatusNormalClosure {
					return context.Canceled
				}
				return fmt.Errorf("read: remote closed with status %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		f.handleFrame(ctx, data)
	}
}

func (f *WSFeed) handleFrame(ctx context.Context, data []byte) {
	var frame streamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.log.Debug("discarding malformed frame", observability.F("error", err))
		return
	}
	if frame.ID > 0 {
		if frame.Error != "" {
			f.log.Warn("quote feed control rejected",
				observability.F("id", frame.ID),
				observability.F("error", frame.Error))
		}
		return
	}
	if frame.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(frame.Price)
	if err != nil {
		f.log.Debug("discarding frame with bad price",
			observability.F("symbol", frame.Symbol),
			observability.F("price", frame.Price))
		return
	}
	ts := time.UnixMilli(frame.Timestamp)

	switch frame.Type {
	case "tick":
		f.router.Publish(ctx, frame.Symbol, schema.TickEvent{
			Symbol:    frame.Symbol,
			Price:     price,
			Volume:    frame.Volume,
			Timestamp: ts,
		})
	default:
		f.router.Publish(ctx, frame.Symbol, schema.QuoteEvent{
			Symbol:    frame.Symbol,
			Price:     price,
			Timestamp: ts,
		})
	}
}
