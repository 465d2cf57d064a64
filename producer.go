package calcmq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nuid"
	"github.com/rs/zerolog"
)

const (
	DefaultResponseQueue  = "CALC.RESPONSE"
	DefaultRequestTimeout = 30 * time.Second
)

// NewReplyQueueName returns a reply queue name unique to the caller, so that
// producers in different processes do not share a response queue.
func NewReplyQueueName(prefix string) string {
	if prefix == "" {
		prefix = DefaultResponseQueue
	}
	return prefix + "." + nuid.Next()
}

// ProducerConfig holds configuration for creating a Producer
type ProducerConfig struct {
	RequestQueue   string
	ResponseQueue  string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Metrics        *Metrics
}

// Producer sends requests and waits for their correlated responses.
//
// Every Producer sharing a response queue competes for its messages: a
// response dequeued by a caller waiting on a different correlation id is
// dropped, not put back. Give each Producer its own ResponseQueue (see
// NewReplyQueueName) when several run at once.
type Producer struct {
	conn    *Connection
	config  ProducerConfig
	metrics *Metrics
	log     zerolog.Logger
}

// NewProducer creates a Producer sending through conn
func NewProducer(conn *Connection, config ProducerConfig, log zerolog.Logger) *Producer {
	if config.RequestQueue == "" {
		config.RequestQueue = DefaultRequestQueue
	}
	if config.ResponseQueue == "" {
		config.ResponseQueue = DefaultResponseQueue
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(0, 0)
	}

	return &Producer{
		conn:    conn,
		config:  config,
		metrics: metrics,
		log:     log.With().Str("component", "producer").Str("reply_to", config.ResponseQueue).Logger(),
	}
}

// ResponseQueue returns the queue this producer reads responses from
func (p *Producer) ResponseQueue() string {
	return p.config.ResponseQueue
}

// Metrics returns the producer's metrics collector
func (p *Producer) Metrics() *Metrics {
	return p.metrics
}

// Close releases the underlying connection
func (p *Producer) Close() error {
	return p.conn.Close()
}

// NewRequest builds a request replying to this producer's response queue
func (p *Producer) NewRequest(op Operation, operand1, operand2 float64) *CalculationRequest {
	return NewRequest(op, operand1, operand2, p.config.ResponseQueue)
}

// Add computes a + b remotely
func (p *Producer) Add(ctx context.Context, a, b float64) *CalculationResponse {
	return p.SendAndAwait(ctx, p.NewRequest(OperationAdd, a, b), p.config.RequestTimeout)
}

// Subtract computes a - b remotely
func (p *Producer) Subtract(ctx context.Context, a, b float64) *CalculationResponse {
	return p.SendAndAwait(ctx, p.NewRequest(OperationSubtract, a, b), p.config.RequestTimeout)
}

// Multiply computes a * b remotely
func (p *Producer) Multiply(ctx context.Context, a, b float64) *CalculationResponse {
	return p.SendAndAwait(ctx, p.NewRequest(OperationMultiply, a, b), p.config.RequestTimeout)
}

// Divide computes a / b remotely
func (p *Producer) Divide(ctx context.Context, a, b float64) *CalculationResponse {
	return p.SendAndAwait(ctx, p.NewRequest(OperationDivide, a, b), p.config.RequestTimeout)
}

// SendAndAwait enqueues req and waits up to timeout for the response with
// the same correlation id. It never fails: timeouts, cancellation and
// transport errors are all reported as a response with Success false.
func (p *Producer) SendAndAwait(ctx context.Context, req *CalculationRequest, timeout time.Duration) *CalculationResponse {
	log := p.log.With().Str("correlation_id", req.CorrelationID).Logger()
	start := p.metrics.StartRequest()

	resp := p.sendAndAwait(ctx, req, timeout, log)

	p.metrics.EndRequest(start, resp.Success)
	return resp
}

func (p *Producer) sendAndAwait(ctx context.Context, req *CalculationRequest, timeout time.Duration, log zerolog.Logger) *CalculationResponse {
	if err := p.send(ctx, req); err != nil {
		log.Error().Err(err).Msg("error sending calculation request")
		return NewFailureResponse(req.CorrelationID, "Failed to send calculation request: "+err.Error())
	}

	log.Info().
		Str("operation", string(req.Operation)).
		Float64("operand1", req.Operand1).
		Float64("operand2", req.Operand2).
		Msg("sent calculation request")

	resp, err := p.awaitResponse(ctx, req.CorrelationID, timeout, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("request cancelled while waiting for response")
			return NewFailureResponse(req.CorrelationID, "Request cancelled: "+err.Error())
		}
		log.Error().Err(err).Msg("error waiting for response")
		return NewFailureResponse(req.CorrelationID, "Error waiting for response: "+err.Error())
	}
	if resp == nil {
		p.metrics.RecordTimeout()
		log.Warn().Dur("timeout", timeout).Msg("timeout waiting for response")
		return NewFailureResponse(req.CorrelationID, timeoutMessage(timeout))
	}

	log.Info().
		Float64("result", resp.Result).
		Bool("success", resp.Success).
		Msg("received calculation response")
	return resp
}

func timeoutMessage(timeout time.Duration) string {
	return "Timeout waiting for response after " + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64) + " seconds"
}

// send connects if needed and enqueues req
func (p *Producer) send(ctx context.Context, req *CalculationRequest) error {
	if !p.conn.IsConnected() {
		if err := p.conn.Connect(ctx); err != nil {
			return err
		}
	}

	// The response queue must exist before the request is visible to a
	// consumer, or transports without durable queues lose the reply.
	if err := p.conn.DeclareQueue(p.config.ResponseQueue); err != nil {
		return err
	}

	data, err := EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return p.conn.SendMessage(p.config.RequestQueue, data)
}

// awaitResponse polls the response queue until a response for correlationID
// arrives or timeout elapses. A nil response with a nil error means timeout.
func (p *Producer) awaitResponse(ctx context.Context, correlationID string, timeout time.Duration, log zerolog.Logger) (*CalculationResponse, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, ok, err := p.conn.TryReceiveMessage(p.config.ResponseQueue)
		if err != nil {
			return nil, err
		}
		if ok {
			resp, err := DecodeResponse(payload)
			switch {
			case err != nil:
				p.metrics.RecordDecodeError()
				log.Error().Err(err).Msg("failed to decode response, discarding message")
			case resp.CorrelationID == correlationID:
				return resp, nil
			default:
				// Not ours: dropped, never re-queued.
				p.metrics.RecordDropped()
				log.Warn().Str("other_correlation_id", resp.CorrelationID).Msg("discarding response for another request")
			}
			if time.Now().Before(deadline) {
				continue
			}
			return nil, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		sleepContext(ctx, min(p.config.PollInterval, remaining))
	}
}
