// Package transport owns the persistent websocket connection to the
// dispatch backend. It serializes outbound commands, decodes inbound
// frames and fans them out to subscribers by message type. Handlers run
// on the single read loop goroutine, so delivery order matches wire
// order.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/wire"
)

// Handler consumes one decoded inbound frame.
type Handler func(msg wire.Message)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

type Conn struct {
	url          string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex // guards ws, connected, gen, userID
	ws        *websocket.Conn
	connected bool
	gen       int
	userID    string

	writeMu sync.Mutex

	subsMu       sync.RWMutex
	subs         map[wire.Type][]Handler
	onDisconnect []func(error)
}

type Option func(*Conn)

func WithLogger(l *slog.Logger) Option { return func(c *Conn) { c.logger = l } }

func WithDialTimeout(d time.Duration) Option { return func(c *Conn) { c.dialTimeout = d } }

func WithWriteTimeout(d time.Duration) Option { return func(c *Conn) { c.writeTimeout = d } }

func New(url string, opts ...Option) *Conn {
	c := &Conn{
		url:          url,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
		subs:         make(map[wire.Type][]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the dispatch endpoint and sends the rider handshake.
// Calling it while already connected tears the prior connection down
// first; subscriptions survive so a reconnect resumes delivery to the
// same handlers.
func (c *Conn) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
		c.connected = false
	}
	c.gen++
	gen := c.gen
	c.userID = userID
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("dispatch dial failed", "url", c.url, "error", err)
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if gen != c.gen {
		// a newer Connect raced us while dialing
		c.mu.Unlock()
		_ = ws.Close()
		return fmt.Errorf("transport: connect superseded")
	}
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(ws, gen)

	if !c.Send(wire.Handshake(userID)) {
		return fmt.Errorf("transport: handshake send failed")
	}
	c.logger.Info("dispatch connected", "url", c.url, "user_id", userID)
	return nil
}

// Connected reports the observable connection state.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send serializes the command and transmits it. Reports false instead
// of returning an error when disconnected or when the write fails.
func (c *Conn) Send(cmd wire.Command) bool {
	c.mu.Lock()
	ws, ok := c.ws, c.connected
	c.mu.Unlock()
	if !ok || ws == nil {
		c.logger.Warn("send while disconnected", "type", cmd.Type)
		observability.SendsFailed.Inc()
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := ws.WriteJSON(cmd); err != nil {
		c.logger.Warn("send failed", "type", cmd.Type, "error", err)
		observability.SendsFailed.Inc()
		return false
	}
	observability.CommandsSent.WithLabelValues(string(cmd.Type)).Inc()
	return true
}

// Subscribe adds a handler for the message type. Multiple handlers per
// type are supported; each receives every frame of that type.
func (c *Conn) Subscribe(t wire.Type, h Handler) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[t] = append(c.subs[t], h)
}

// OnDisconnect registers a callback fired when the connection drops for
// any reason other than being superseded by a newer Connect.
func (c *Conn) OnDisconnect(fn func(error)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Close shuts the connection down. Subscriptions are kept.
func (c *Conn) Close() {
	c.mu.Lock()
	ws := c.ws
	c.gen++ // mark the running read loop stale
	c.ws = nil
	c.connected = false
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

func (c *Conn) readLoop(ws *websocket.Conn, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := gen != c.gen
			if !stale {
				c.connected = false
				c.ws = nil
			}
			c.mu.Unlock()
			if stale {
				return
			}
			c.logger.Warn("dispatch connection lost", "error", err)
			c.subsMu.RLock()
			fns := append(([]func(error))(nil), c.onDisconnect...)
			c.subsMu.RUnlock()
			for _, fn := range fns {
				fn(err)
			}
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			observability.FramesDropped.Inc()
			c.logger.Warn("dropping frame", "error", err)
			continue
		}
		observability.MessagesReceived.WithLabelValues(string(msg.MessageType())).Inc()
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg wire.Message) {
	c.subsMu.RLock()
	hs := append([]Handler(nil), c.subs[msg.MessageType()]...)
	c.subsMu.RUnlock()
	for _, h := range hs {
		h(msg)
	}
}
