package calcmq

import (
	"context"
	"fmt"
	"sync"

	zmq "github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// Broker serves a set of MemoryQueues to ZMQTransport clients over a ZeroMQ
// ROUTER socket. It stands in for a queue manager shared by processes.
type Broker struct {
	// ServiceID, when set, is registered in Registry so clients can
	// discover the broker port by name.
	ServiceID string
	Registry  *ServiceRegistry

	queues *MemoryQueues
	port   int
	log    zerolog.Logger

	mu      sync.Mutex
	socket  zmq.Socket
	running bool
	done    chan struct{}
}

// BrokerConfig holds configuration for creating a Broker
type BrokerConfig struct {
	Port      int
	ServiceID string
	Registry  *ServiceRegistry
	Queues    *MemoryQueues
}

// NewBroker creates a Broker. A zero port picks a free one.
func NewBroker(config BrokerConfig, log zerolog.Logger) *Broker {
	if config.Port == 0 {
		config.Port = findFreePort()
	}
	if config.Queues == nil {
		config.Queues = NewMemoryQueues()
	}
	if config.ServiceID != "" && config.Registry == nil {
		config.Registry = NewServiceRegistry("")
	}

	return &Broker{
		ServiceID: config.ServiceID,
		Registry:  config.Registry,
		queues:    config.Queues,
		port:      config.Port,
		log:       log.With().Str("component", "broker").Int("port", config.Port).Logger(),
		done:      make(chan struct{}),
	}
}

// Start binds the ROUTER socket and begins serving
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.socket = zmq.NewRouter(context.Background())

	endpoint := fmt.Sprintf("tcp://*:%d", b.port)
	if err := b.socket.Listen(endpoint); err != nil {
		b.socket.Close()
		return fmt.Errorf("failed to bind to %s: %w", endpoint, err)
	}

	if b.ServiceID != "" {
		if err := b.Registry.Register(b.ServiceID, b.port); err != nil {
			b.socket.Close()
			return fmt.Errorf("failed to register service: %w", err)
		}
		b.log.Info().Str("service_id", b.ServiceID).Msg("broker registered")
	}

	b.running = true
	go b.messageLoop()

	b.log.Info().Msg("broker ready")
	return nil
}

// Endpoint returns the address clients dial
func (b *Broker) Endpoint() string {
	return fmt.Sprintf("tcp://localhost:%d", b.port)
}

// Port returns the port the broker listens on
func (b *Broker) Port() int {
	return b.port
}

// Queues returns the queues served by the broker
func (b *Broker) Queues() *MemoryQueues {
	return b.queues
}

func (b *Broker) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// messageLoop handles incoming commands
func (b *Broker) messageLoop() {
	defer close(b.done)

	for b.isRunning() {
		// ROUTER socket receives: [sender_id, empty_frame, message_data]
		msg, err := b.socket.Recv()
		if err != nil {
			if b.isRunning() {
				b.log.Error().Err(err).Msg("receive error")
			}
			continue
		}

		frames := msg.Frames
		if len(frames) >= 3 {
			b.handleMessage(frames[2], frames[0])
		}
	}
}

// handleMessage executes one command and replies to its sender
func (b *Broker) handleMessage(data []byte, senderID []byte) {
	cmd, err := unpackFrame(data)
	if err != nil {
		b.log.Error().Err(err).Msg("failed to unpack frame")
		return
	}

	reply := newReplyFrame(cmd.ID)
	switch cmd.Op {
	case frameOpPut:
		b.queues.Enqueue(cmd.Queue, cmd.Payload)
	case frameOpGet:
		reply.Payload, reply.Found = b.queues.TryDequeue(cmd.Queue)
	case frameOpDeclare:
		b.queues.Declare(cmd.Queue)
	default:
		reply.Error = fmt.Sprintf("unknown operation '%s'", cmd.Op)
	}

	b.sendReply(reply, senderID)
}

// sendReply sends a reply frame with ROUTER envelope
func (b *Broker) sendReply(reply *brokerFrame, senderID []byte) {
	data, err := reply.pack()
	if err != nil {
		b.log.Error().Err(err).Msg("failed to pack reply")
		return
	}

	// ROUTER envelope: [sender_id, empty_frame, reply_data]
	zmqMsg := zmq.NewMsgFrom(senderID, []byte{}, data)
	if err := b.socket.Send(zmqMsg); err != nil {
		b.log.Error().Err(err).Msg("failed to send reply")
	}
}

// Stop closes the socket and unregisters the broker. Stop is idempotent.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	if b.ServiceID != "" {
		if err := b.Registry.Unregister(b.ServiceID); err != nil {
			b.log.Warn().Err(err).Msg("failed to unregister service")
		}
	}

	err := b.socket.Close()
	<-b.done

	b.log.Info().Msg("broker stopped")
	return err
}

// Run starts the broker and blocks until ctx is done
func (b *Broker) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return b.Stop()
}
