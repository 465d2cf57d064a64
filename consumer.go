package calcmq

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRequestQueue  = "CALC.REQUEST"
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultErrorBackoff  = 1000 * time.Millisecond
	DefaultShutdownGrace = 5 * time.Second
)

// ConsumerState is a step of the consumer loop state machine
type ConsumerState int32

const (
	ConsumerIdle ConsumerState = iota
	ConsumerConnecting
	ConsumerPolling
	ConsumerDispatching
	ConsumerStopping
	ConsumerStopped
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerIdle:
		return "idle"
	case ConsumerConnecting:
		return "connecting"
	case ConsumerPolling:
		return "polling"
	case ConsumerDispatching:
		return "dispatching"
	case ConsumerStopping:
		return "stopping"
	case ConsumerStopped:
		return "stopped"
	}
	return "unknown"
}

// ConsumerConfig holds configuration for creating a Consumer
type ConsumerConfig struct {
	RequestQueue string
	PollInterval time.Duration
	ErrorBackoff time.Duration
	Metrics      *Metrics
}

// Consumer drains the request queue one message at a time and publishes a
// correlated response for each request.
type Consumer struct {
	conn       *Connection
	calculator *Calculator
	config     ConsumerConfig
	metrics    *Metrics
	log        zerolog.Logger

	state atomic.Int32
}

// NewConsumer creates a Consumer reading through conn
func NewConsumer(conn *Connection, config ConsumerConfig, log zerolog.Logger) *Consumer {
	if config.RequestQueue == "" {
		config.RequestQueue = DefaultRequestQueue
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = DefaultErrorBackoff
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetrics(0, 0)
	}

	return &Consumer{
		conn:       conn,
		calculator: NewCalculator(log),
		config:     config,
		metrics:    metrics,
		log:        log.With().Str("component", "consumer").Str("queue", config.RequestQueue).Logger(),
	}
}

// State returns the current state of the loop
func (c *Consumer) State() ConsumerState {
	return ConsumerState(c.state.Load())
}

// Metrics returns the consumer's metrics collector
func (c *Consumer) Metrics() *Metrics {
	return c.metrics
}

func (c *Consumer) setState(s ConsumerState) {
	c.state.Store(int32(s))
}

// Connect establishes the connection and declares the request queue
func (c *Consumer) Connect(ctx context.Context) error {
	c.setState(ConsumerConnecting)

	if !c.conn.IsConnected() {
		if err := c.conn.Connect(ctx); err != nil {
			c.setState(ConsumerStopped)
			return err
		}
	}
	if err := c.conn.DeclareQueue(c.config.RequestQueue); err != nil {
		c.setState(ConsumerStopped)
		return err
	}

	c.log.Info().Msg("request queue ready")
	return nil
}

// Run polls the request queue until ctx is cancelled. The connection is
// released when Run returns. Run only fails if the connection cannot be
// established; errors while polling or dispatching never stop the loop.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.conn.Disconnect(); err != nil {
			c.log.Error().Err(err).Msg("error releasing connection")
		}
		c.setState(ConsumerStopped)
	}()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	c.setState(ConsumerPolling)
	c.log.Info().Msg("started consuming messages")

	for ctx.Err() == nil {
		c.poll(ctx)
	}

	c.setState(ConsumerStopping)
	c.log.Info().Msg("message consumption stopped")
	return nil
}

// poll runs one iteration of the loop
func (c *Consumer) poll(ctx context.Context) {
	payload, ok, err := c.conn.TryReceiveMessage(c.config.RequestQueue)
	if err != nil {
		c.metrics.RecordPollError()
		c.log.Error().Err(err).Msg("error occurred while consuming messages")
		sleepContext(ctx, c.config.ErrorBackoff)
		return
	}
	if !ok {
		sleepContext(ctx, c.config.PollInterval)
		return
	}

	c.setState(ConsumerDispatching)
	c.dispatch(payload)
	c.setState(ConsumerPolling)
}

// dispatch handles a single request payload
func (c *Consumer) dispatch(payload []byte) {
	req, err := DecodeRequest(payload)
	if err != nil {
		c.metrics.RecordDecodeError()
		c.log.Error().Err(err).Msg("failed to decode calculation request, discarding message")
		return
	}

	log := c.log.With().Str("correlation_id", req.CorrelationID).Logger()
	if req.ReplyTo == "" {
		log.Warn().Msg("no reply-to queue specified, discarding request")
		return
	}

	start := c.metrics.StartRequest()
	resp, err := c.process(req)
	if err == nil {
		err = c.reply(req.ReplyTo, resp)
	}
	if err != nil {
		c.metrics.EndRequest(start, false)
		log.Error().Err(err).Msg("error processing message")
		c.replyInternalError(req, log)
		return
	}

	c.metrics.EndRequest(start, resp.Success)
	log.Info().Bool("success", resp.Success).Msg("processed calculation request")
}

// process runs the calculator, turning a panic into an error
func (c *Consumer) process(req *CalculationRequest) (resp *CalculationResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing request: %v", r)
		}
	}()
	return c.calculator.Process(req), nil
}

func (c *Consumer) reply(queue string, resp *CalculationResponse) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.conn.SendMessage(queue, data)
}

// replyInternalError sends a best-effort failure response; its own failure
// is logged and dropped.
func (c *Consumer) replyInternalError(req *CalculationRequest, log zerolog.Logger) {
	resp := NewFailureResponse(req.CorrelationID, InternalErrorMessage)
	resp.Operation = string(req.Operation)

	if err := c.reply(req.ReplyTo, resp); err != nil {
		log.Error().Err(err).Msg("failed to send error response")
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
