package calcmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	DefaultNATSSubjectPrefix = "calcmq"
	DefaultNATSQueueGroup    = "calcmq"
	DefaultNATSReceiveWait   = 10 * time.Millisecond
)

// NATSTransportConfig holds configuration for creating a NATSTransport
type NATSTransportConfig struct {
	URL           string
	Name          string
	User          string
	Password      string
	SubjectPrefix string
	QueueGroup    string
	// ReceiveWait is how long TryReceive lets the client settle before
	// reporting an empty queue
	ReceiveWait time.Duration
}

// NATSTransport maps each queue onto a NATS subject. Receivers join a queue
// group, so each message reaches exactly one of them. Core NATS keeps no
// messages for absent subscribers: declare a queue before anything is sent
// to it.
type NATSTransport struct {
	config NATSTransportConfig
	log    zerolog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs map[string]*nats.Subscription
}

// NewNATSTransport creates a NATSTransport
func NewNATSTransport(config NATSTransportConfig, log zerolog.Logger) *NATSTransport {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = DefaultNATSSubjectPrefix
	}
	if config.QueueGroup == "" {
		config.QueueGroup = DefaultNATSQueueGroup
	}
	if config.ReceiveWait <= 0 {
		config.ReceiveWait = DefaultNATSReceiveWait
	}

	return &NATSTransport{
		config: config,
		log:    log.With().Str("component", "nats_transport").Logger(),
		subs:   make(map[string]*nats.Subscription),
	}
}

func (t *NATSTransport) subject(queue string) string {
	return t.config.SubjectPrefix + "." + queue
}

// Open connects to the NATS server
func (t *NATSTransport) Open(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(t.config.Name),
		nats.NoReconnect(),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	if t.config.User != "" {
		opts = append(opts, nats.UserInfo(t.config.User, t.config.Password))
	}

	nc, err := nats.Connect(t.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.config.URL, err)
	}

	t.mu.Lock()
	t.conn = nc
	t.subs = make(map[string]*nats.Subscription)
	t.mu.Unlock()

	t.log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to nats")
	return nil
}

// Close unsubscribes and closes the NATS connection
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	for queue, sub := range t.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			t.log.Warn().Err(err).Str("queue", queue).Msg("failed to unsubscribe")
		}
	}
	t.subs = make(map[string]*nats.Subscription)

	t.conn.Close()
	t.conn = nil
	return nil
}

// subscription returns the queue-group subscription for queue, creating it
// on first use
func (t *NATSTransport) subscription(queue string) (*nats.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, nats.ErrConnectionClosed
	}
	if sub, ok := t.subs[queue]; ok {
		return sub, nil
	}

	sub, err := t.conn.QueueSubscribeSync(t.subject(queue), t.config.QueueGroup)
	if err != nil {
		return nil, err
	}
	// Make sure the server knows about the interest before returning.
	if err := t.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	t.subs[queue] = sub
	return sub, nil
}

// DeclareQueue subscribes to queue so that later messages are retained
func (t *NATSTransport) DeclareQueue(queue string) error {
	_, err := t.subscription(queue)
	return err
}

// Send publishes payload on the queue's subject
func (t *NATSTransport) Send(queue string, payload []byte) error {
	t.mu.Lock()
	nc := t.conn
	t.mu.Unlock()

	if nc == nil {
		return nats.ErrConnectionClosed
	}
	if err := nc.Publish(t.subject(queue), payload); err != nil {
		return err
	}
	return nc.Flush()
}

// TryReceive returns the next pending message on queue, if any
func (t *NATSTransport) TryReceive(queue string) ([]byte, bool, error) {
	sub, err := t.subscription(queue)
	if err != nil {
		return nil, false, err
	}

	msg, err := sub.NextMsg(t.config.ReceiveWait)
	if errors.Is(err, nats.ErrTimeout) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return msg.Data, true, nil
}
