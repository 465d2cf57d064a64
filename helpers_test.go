package calcmq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.ErrorLevel)
}

// faultyTransport wraps a MemoryTransport and injects failures
type faultyTransport struct {
	*MemoryTransport

	mu         sync.Mutex
	openErr    error
	sendErr    func(queue string) error
	receiveErr error
	receives   int
	sent       []string
}

func newFaultyTransport(queues *MemoryQueues) *faultyTransport {
	return &faultyTransport{MemoryTransport: NewMemoryTransport(queues)}
}

func (f *faultyTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openErr
}

func (f *faultyTransport) Send(queue string, payload []byte) error {
	f.mu.Lock()
	sendErr := f.sendErr
	f.sent = append(f.sent, queue)
	f.mu.Unlock()

	if sendErr != nil {
		if err := sendErr(queue); err != nil {
			return err
		}
	}
	return f.MemoryTransport.Send(queue, payload)
}

func (f *faultyTransport) TryReceive(queue string) ([]byte, bool, error) {
	f.mu.Lock()
	f.receives++
	receiveErr := f.receiveErr
	f.mu.Unlock()

	if receiveErr != nil {
		return nil, false, receiveErr
	}
	return f.MemoryTransport.TryReceive(queue)
}

func (f *faultyTransport) setReceiveErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiveErr = err
}

func (f *faultyTransport) receiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receives
}

func (f *faultyTransport) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// startTestService runs a calculator service over queues with a fast poll
func startTestService(t *testing.T, queues *MemoryQueues) *Service {
	t.Helper()

	conn := NewConnection(NewMemoryTransport(queues), testLogger(t))
	svc := NewService(conn, ServiceConfig{
		Consumer: ConsumerConfig{
			PollInterval: 5 * time.Millisecond,
			ErrorBackoff: 20 * time.Millisecond,
		},
		ShutdownGrace: 2 * time.Second,
	}, testLogger(t))

	if err := svc.Start(); err != nil {
		t.Fatalf("failed to start service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func newTestProducer(t *testing.T, transport Transport, timeout time.Duration) *Producer {
	t.Helper()

	p := NewProducer(NewConnection(transport, testLogger(t)), ProducerConfig{
		PollInterval:   5 * time.Millisecond,
		RequestTimeout: timeout,
	}, testLogger(t))
	t.Cleanup(func() { _ = p.Close() })
	return p
}
