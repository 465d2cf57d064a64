package calcmq

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultConnectionTimeout bounds the transport handshake in Connect
const DefaultConnectionTimeout = 30 * time.Second

// Connection tracks the connected state of one Transport handle and gates
// every send and receive on it. It never reconnects on its own.
type Connection struct {
	transport Transport
	timeout   time.Duration
	log       zerolog.Logger

	mu        sync.RWMutex
	connected bool
	disposed  bool
}

// ConnectionOption configures a Connection
type ConnectionOption func(*Connection)

// WithConnectionTimeout bounds the handshake performed by Connect
func WithConnectionTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewConnection creates a disconnected Connection over transport
func NewConnection(transport Transport, log zerolog.Logger, opts ...ConnectionOption) *Connection {
	c := &Connection{
		transport: transport,
		timeout:   DefaultConnectionTimeout,
		log:       log.With().Str("component", "connection").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsConnected returns whether the connection is established
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.disposed
}

// Connect opens the transport. It is a no-op when already connected.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return newDisposedError("connect")
	}
	if c.connected {
		c.log.Debug().Msg("already connected")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.transport.Open(ctx); err != nil {
		c.log.Error().Err(err).Msg("failed to connect to queue manager")
		return newTransportError("connect", "", err)
	}

	c.connected = true
	c.log.Info().Msg("connected to queue manager")
	return nil
}

// Disconnect closes the transport. It is a no-op when already disconnected.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.disconnectLocked()
}

func (c *Connection) disconnectLocked() error {
	if c.disposed || !c.connected {
		return nil
	}

	c.connected = false
	if err := c.transport.Close(); err != nil {
		c.log.Error().Err(err).Msg("error disconnecting from queue manager")
		return newTransportError("disconnect", "", err)
	}

	c.log.Info().Msg("disconnected from queue manager")
	return nil
}

// Close disconnects and disposes the connection. Every later operation
// fails with a Disposed error. Close is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil
	}

	err := c.disconnectLocked()
	c.disposed = true
	return err
}

// checkUsable returns the state error for op, if any. Caller holds c.mu.
func (c *Connection) checkUsable(op string) error {
	if c.disposed {
		return newDisposedError(op)
	}
	if !c.connected {
		return newNotConnectedError(op)
	}
	return nil
}

// usable checks the state for op. The lock is released before any transport
// I/O so Close never waits on a stalled send or receive.
func (c *Connection) usable(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkUsable(op)
}

// SendMessage enqueues payload onto queue
func (c *Connection) SendMessage(queue string, payload []byte) error {
	if err := c.usable("send"); err != nil {
		return err
	}

	if err := c.transport.Send(queue, payload); err != nil {
		c.log.Error().Err(err).Str("queue", queue).Msg("failed to send message")
		return newTransportError("send", queue, err)
	}

	c.log.Debug().Str("queue", queue).Int("length", len(payload)).Msg("message sent")
	return nil
}

// TryReceiveMessage dequeues the next message from queue without blocking
func (c *Connection) TryReceiveMessage(queue string) ([]byte, bool, error) {
	if err := c.usable("receive"); err != nil {
		return nil, false, err
	}

	payload, ok, err := c.transport.TryReceive(queue)
	if err != nil {
		c.log.Error().Err(err).Str("queue", queue).Msg("failed to receive message")
		return nil, false, newTransportError("receive", queue, err)
	}

	if ok {
		c.log.Debug().Str("queue", queue).Int("length", len(payload)).Msg("message received")
	}
	return payload, ok, nil
}

// DeclareQueue prepares queue on transports that need it
func (c *Connection) DeclareQueue(queue string) error {
	if err := c.usable("declare"); err != nil {
		return err
	}

	declarer, ok := c.transport.(QueueDeclarer)
	if !ok {
		return nil
	}
	if err := declarer.DeclareQueue(queue); err != nil {
		return newTransportError("declare", queue, err)
	}

	c.log.Debug().Str("queue", queue).Msg("queue declared")
	return nil
}
