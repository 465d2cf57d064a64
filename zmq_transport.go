package calcmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	zmq "github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// DefaultBrokerRequestTimeout bounds one command round trip to the broker
const DefaultBrokerRequestTimeout = 5 * time.Second

// errTransportClosed is returned for commands pending when the transport
// closes
var errTransportClosed = errors.New("transport closed")

// ZMQTransportConfig holds configuration for creating a ZMQTransport
type ZMQTransportConfig struct {
	// Endpoint is the broker address, e.g. tcp://localhost:5555. When empty
	// the port is discovered from Registry by ServiceID.
	Endpoint       string
	ServiceID      string
	Registry       *ServiceRegistry
	RequestTimeout time.Duration
}

// ZMQTransport reaches a Broker through a ZeroMQ DEALER socket. Each
// command carries an id and its reply is matched back by that id, so
// commands from many goroutines may be in flight at once.
type ZMQTransport struct {
	config ZMQTransportConfig
	log    zerolog.Logger

	// ZMQ state
	socket  zmq.Socket
	running bool
	done    chan struct{}

	// Pending commands
	pendingRequests map[string]chan *brokerFrame
	mu              sync.RWMutex
}

// NewZMQTransport creates a ZMQTransport
func NewZMQTransport(config ZMQTransportConfig, log zerolog.Logger) *ZMQTransport {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultBrokerRequestTimeout
	}
	if config.Registry == nil {
		config.Registry = NewServiceRegistry("")
	}

	return &ZMQTransport{
		config:          config,
		log:             log.With().Str("component", "zmq_transport").Logger(),
		pendingRequests: make(map[string]chan *brokerFrame),
	}
}

// resolveEndpoint returns the configured endpoint or discovers it
func (t *ZMQTransport) resolveEndpoint(ctx context.Context) (string, error) {
	if t.config.Endpoint != "" {
		return t.config.Endpoint, nil
	}
	if t.config.ServiceID == "" {
		return "", fmt.Errorf("need broker endpoint or service id")
	}

	timeout := DiscoveryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	port, err := t.config.Registry.Discover(t.config.ServiceID, timeout)
	if err != nil {
		return "", fmt.Errorf("failed to discover broker '%s': %w", t.config.ServiceID, err)
	}
	return fmt.Sprintf("tcp://localhost:%d", port), nil
}

// Open dials the broker and starts the reply loop
func (t *ZMQTransport) Open(ctx context.Context) error {
	endpoint, err := t.resolveEndpoint(ctx)
	if err != nil {
		return err
	}

	// The socket outlives ctx, which only bounds the handshake.
	socket := zmq.NewDealer(context.Background())
	if err := socket.Dial(endpoint); err != nil {
		socket.Close()
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	t.mu.Lock()
	t.socket = socket
	t.running = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.messageLoop(socket, t.done)

	t.log.Info().Str("endpoint", endpoint).Msg("connected to broker")
	return nil
}

func (t *ZMQTransport) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// messageLoop handles incoming replies
func (t *ZMQTransport) messageLoop(socket zmq.Socket, done chan struct{}) {
	defer close(done)

	for t.isRunning() {
		// DEALER socket receives: [empty_frame, message_data]
		msg, err := socket.Recv()
		if err != nil {
			if t.isRunning() {
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		frames := msg.Frames
		if len(frames) >= 2 {
			// frames[0] is empty delimiter
			t.handleMessage(frames[1])
		}
	}
}

// handleMessage routes a reply to the command waiting for it
func (t *ZMQTransport) handleMessage(data []byte) {
	reply, err := unpackFrame(data)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to unpack reply")
		return
	}

	t.mu.Lock()
	pending, exists := t.pendingRequests[reply.ID]
	if exists {
		delete(t.pendingRequests, reply.ID)
	}
	t.mu.Unlock()

	if !exists {
		// Reply to a command that already timed out.
		t.log.Debug().Str("id", reply.ID).Msg("discarding late reply")
		return
	}
	pending <- reply
}

// roundTrip sends a command and waits for its reply
func (t *ZMQTransport) roundTrip(cmd *brokerFrame) (*brokerFrame, error) {
	data, err := cmd.pack()
	if err != nil {
		return nil, fmt.Errorf("failed to pack command: %w", err)
	}

	replyChan := make(chan *brokerFrame, 1)

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil, errTransportClosed
	}
	socket := t.socket
	t.pendingRequests[cmd.ID] = replyChan
	t.mu.Unlock()

	// Cleanup on exit
	defer func() {
		t.mu.Lock()
		delete(t.pendingRequests, cmd.ID)
		t.mu.Unlock()
	}()

	// DEALER envelope: [empty_frame, message_data]
	if err := socket.Send(zmq.NewMsgFrom([]byte{}, data)); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	timer := time.NewTimer(t.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replyChan:
		if !ok {
			return nil, errTransportClosed
		}
		if reply.Error != "" {
			return nil, fmt.Errorf("broker: %s", reply.Error)
		}
		return reply, nil
	case <-timer.C:
		return nil, fmt.Errorf("broker '%s' command timed out after %v", cmd.Op, t.config.RequestTimeout)
	}
}

// Send enqueues payload onto queue on the broker
func (t *ZMQTransport) Send(queue string, payload []byte) error {
	_, err := t.roundTrip(newCommandFrame(frameOpPut, queue, payload))
	return err
}

// TryReceive dequeues from queue on the broker without waiting for a message
func (t *ZMQTransport) TryReceive(queue string) ([]byte, bool, error) {
	reply, err := t.roundTrip(newCommandFrame(frameOpGet, queue, nil))
	if err != nil {
		return nil, false, err
	}
	return reply.Payload, reply.Found, nil
}

// DeclareQueue creates queue on the broker
func (t *ZMQTransport) DeclareQueue(queue string) error {
	_, err := t.roundTrip(newCommandFrame(frameOpDeclare, queue, nil))
	return err
}

// Close stops the reply loop, fails pending commands and closes the socket
func (t *ZMQTransport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	socket := t.socket
	done := t.done

	// Cancel pending commands
	for id, pending := range t.pendingRequests {
		close(pending)
		delete(t.pendingRequests, id)
	}
	t.mu.Unlock()

	err := socket.Close()
	<-done
	return err
}
