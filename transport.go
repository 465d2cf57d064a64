package calcmq

import (
	"context"
	"sync"
	"time"
)

// Transport is a named-queue send/receive capability. Implementations must
// be safe for concurrent use. A Transport is driven through a Connection,
// which enforces the connected/disposed state.
type Transport interface {
	// Open performs the handshake with the queue manager
	Open(ctx context.Context) error
	// Close tears the handshake down
	Close() error
	// Send enqueues payload onto queue
	Send(queue string, payload []byte) error
	// TryReceive dequeues the next payload from queue if one is present.
	// It does not block waiting for a message.
	TryReceive(queue string) ([]byte, bool, error)
}

// QueueDeclarer is implemented by transports that need a queue to be set up
// before its first message, e.g. to register a subscription.
type QueueDeclarer interface {
	DeclareQueue(queue string) error
}

// MemoryQueues is a set of named in-memory FIFO queues. One MemoryQueues is
// shared by every MemoryTransport that should see the same messages.
type MemoryQueues struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

// NewMemoryQueues creates an empty queue set
func NewMemoryQueues() *MemoryQueues {
	return &MemoryQueues{queues: make(map[string][][]byte)}
}

// Declare creates queue if it does not exist yet
func (q *MemoryQueues) Declare(queue string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[queue]; !ok {
		q.queues[queue] = nil
	}
}

// Enqueue appends a copy of payload to queue, creating the queue if needed
func (q *MemoryQueues) Enqueue(queue string, payload []byte) {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.queues[queue] = append(q.queues[queue], msg)
}

// TryDequeue removes and returns the oldest message of queue, if any
func (q *MemoryQueues) TryDequeue(queue string) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[queue]
	if len(msgs) == 0 {
		return nil, false
	}

	msg := msgs[0]
	msgs[0] = nil
	q.queues[queue] = msgs[1:]
	return msg, true
}

// Len returns the number of messages waiting on queue
func (q *MemoryQueues) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queues[queue])
}

// Names returns the names of all known queues
func (q *MemoryQueues) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.queues))
	for name := range q.queues {
		names = append(names, name)
	}
	return names
}

// MemoryTransport is the simulated transport: every handle over the same
// MemoryQueues sees the same queues.
type MemoryTransport struct {
	queues *MemoryQueues

	// HandshakeDelay simulates the time taken to reach a queue manager
	HandshakeDelay time.Duration
}

// NewMemoryTransport creates a transport over queues
func NewMemoryTransport(queues *MemoryQueues) *MemoryTransport {
	return &MemoryTransport{queues: queues}
}

// Open waits for HandshakeDelay, if any
func (t *MemoryTransport) Open(ctx context.Context) error {
	if t.HandshakeDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(t.HandshakeDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close is a no-op; the queues outlive any one handle
func (t *MemoryTransport) Close() error {
	return nil
}

// Send enqueues payload onto queue
func (t *MemoryTransport) Send(queue string, payload []byte) error {
	t.queues.Enqueue(queue, payload)
	return nil
}

// TryReceive dequeues from queue without blocking
func (t *MemoryTransport) TryReceive(queue string) ([]byte, bool, error) {
	msg, ok := t.queues.TryDequeue(queue)
	return msg, ok, nil
}

// DeclareQueue creates queue
func (t *MemoryTransport) DeclareQueue(queue string) error {
	t.queues.Declare(queue)
	return nil
}
