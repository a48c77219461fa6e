package events

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig holds tunable parameters for a StreamClient.
type ClientConfig struct {
	URL string

	// HeartbeatTimeout is the longest silence (no event and no ping) before
	// the connection is considered dead and redialed.
	HeartbeatTimeout time.Duration

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	Headers http.Header
}

// DefaultClientConfig returns defaults matching the server's ping period.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		HeartbeatTimeout: pongWait + 5*time.Second,
		BackoffInitial:   100 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		BackoffFactor:    2.0,
	}
}

// StreamClient consumes a StreamServer, reconnecting with exponential backoff.
// Events may be missed while disconnected; Seq gaps reveal them.
type StreamClient struct {
	cfg ClientConfig
	log *zap.Logger

	connected atomic.Bool

	mu   sync.Mutex
	conn *websocket.Conn

	out    chan Event
	cancel context.CancelFunc
	done   chan struct{}

	// onReconnect is called after each successful redial (testing hook).
	onReconnect func()
}

// NewStreamClient creates a client. Call Connect to start.
func NewStreamClient(cfg ClientConfig, log *zap.Logger) *StreamClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamClient{
		cfg:  cfg,
		log:  log.Named("stream-client"),
		out:  make(chan Event, 512),
		done: make(chan struct{}),
	}
}

// Events returns the channel of received events. It is closed after the
// client stops.
func (c *StreamClient) Events() <-chan Event { return c.out }

// Connected reports whether a connection is currently up.
func (c *StreamClient) Connected() bool { return c.connected.Load() }

// Connect dials the server and starts the read loop. It blocks until the
// first connection succeeds or fails.
func (c *StreamClient) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.dial(ctx); err != nil {
		c.cancel()
		return err
	}
	c.connected.Store(true)
	go c.readLoop(ctx)
	return nil
}

// Close stops the client and waits for the read loop to exit.
func (c *StreamClient) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	<-c.done
}

func (c *StreamClient) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		return err
	}
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *StreamClient) reconnect(ctx context.Context) bool {
	c.connected.Store(false)

	delay := c.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := c.dial(ctx); err != nil {
			c.log.Debug("reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
			delay = time.Duration(math.Min(
				float64(delay)*c.cfg.BackoffFactor,
				float64(c.cfg.BackoffMax),
			))
			continue
		}

		c.connected.Store(true)
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return true
	}
}

func (c *StreamClient) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		conn.SetReadDeadline(time.Now().Add(c.cfg.HeartbeatTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Info("stream read error, reconnecting", zap.Error(err))
			conn.Close()
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.log.Warn("malformed event", zap.Error(err))
			continue
		}
		select {
		case c.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}
