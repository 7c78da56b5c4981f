package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/transport"
	"github.com/example/ride-dispatch/internal/wire"
)

// rideScoped is every inbound type the active session consumes.
var rideScoped = []wire.Type{
	wire.TypeNearbyDrivers,
	wire.TypeDriverRequest,
	wire.TypeRideAccepted,
	wire.TypeRideRejected,
	wire.TypeRideCancelled,
	wire.TypeDriverLocation,
	wire.TypeRideStarted,
	wire.TypeRideCompleted,
	wire.TypeError,
}

// Client binds one rider identity to one dispatch connection and owns
// the single active session. Subscriptions are installed once and
// survive reconnects; frames are routed to whichever session is active,
// which drops foreign ride ids itself.
type Client struct {
	conn    *transport.Conn
	userID  string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	active *Session
}

type ClientOption func(*Client)

func ClientWithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func ClientWithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func NewClient(conn *transport.Conn, userID string, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		userID:  userID,
		timeout: DefaultOfferTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, t := range rideScoped {
		conn.Subscribe(t, c.route)
	}
	conn.OnDisconnect(c.handleDisconnect)
	return c
}

// Connect opens the dispatch connection and announces the rider.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx, c.userID)
}

func (c *Client) Close() { c.conn.Close() }

// NewSession creates the next ride-request attempt. A session that is
// still live must be cancelled first; the second request is rejected
// rather than silently replacing the first.
func (c *Client) NewSession(pickup, destination models.Place, cb Callbacks, opts ...Option) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.State().Terminal() {
		return nil, &ActiveSessionError{RideID: c.active.ID()}
	}
	opts = append([]Option{
		WithTimeout(c.timeout),
		WithLogger(c.logger),
		WithCallbacks(cb),
	}, opts...)
	s, err := New(c.conn, c.userID, pickup, destination, opts...)
	if err != nil {
		return nil, err
	}
	c.active = s
	return s, nil
}

// Active returns the current session, live or terminal, or nil.
func (c *Client) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) route(msg wire.Message) {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		c.logger.Debug("frame with no active session", "type", msg.MessageType())
		return
	}
	s.HandleMessage(msg)
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		s.HandleDisconnect(err)
	}
}
