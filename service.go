package calcmq

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
)

// ErrServiceStopped is returned by Start on a Service that was already
// stopped; a Service runs at most once.
var ErrServiceStopped = errors.New("service already stopped")

// Service runs a Consumer in the background for the lifetime of a server
// process.
type Service struct {
	conn     *Connection
	consumer *Consumer
	grace    time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	t       *tomb.Tomb
	started bool
	stopped bool
	stopErr error
}

// ServiceConfig holds configuration for creating a Service
type ServiceConfig struct {
	Consumer      ConsumerConfig
	ShutdownGrace time.Duration
}

// NewService creates a Service consuming through conn. The Service owns conn
// and closes it on Stop.
func NewService(conn *Connection, config ServiceConfig, log zerolog.Logger) *Service {
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = DefaultShutdownGrace
	}

	return &Service{
		conn:     conn,
		consumer: NewConsumer(conn, config.Consumer, log),
		grace:    config.ShutdownGrace,
		log:      log.With().Str("component", "service").Logger(),
		t:        new(tomb.Tomb),
	}
}

// Consumer returns the consumer driven by the service
func (s *Service) Consumer() *Consumer {
	return s.consumer
}

// Start connects and launches the consumer loop. A connection failure is
// returned to the caller and the loop is not started.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServiceStopped
	}
	if s.started {
		return nil
	}

	s.log.Info().Msg("calculator service is starting")

	ctx := s.t.Context(context.Background())
	if err := s.consumer.Connect(ctx); err != nil {
		s.log.Error().Err(err).Msg("calculator service failed to start")
		// Record err as the tomb's reason so Dead closes
		s.t.Go(func() error { return err })
		return err
	}

	s.started = true
	s.t.Go(func() error {
		err := s.consumer.Run(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("calculator service encountered an error")
			return err
		}
		if s.t.Alive() {
			// The loop only returns cleanly once the tomb is dying.
			return errors.New("consumer loop exited unexpectedly")
		}
		return nil
	})
	return nil
}

// Stop signals the consumer loop and waits up to the shutdown grace period
// for it to exit, then closes the connection. Stop is idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return s.stopErr
	}
	s.stopped = true

	s.log.Info().Msg("calculator service is stopping")

	if s.started {
		s.t.Kill(nil)

		timer := time.NewTimer(s.grace)
		defer timer.Stop()

		select {
		case <-s.t.Dead():
			if err := s.t.Err(); err != nil {
				s.stopErr = err
			}
		case <-timer.C:
			s.stopErr = newShutdownTimeoutError(s.grace.String())
			s.log.Error().Dur("grace", s.grace).Msg("consumer did not stop in time")
		}
	}

	if err := s.conn.Close(); err != nil {
		s.log.Error().Err(err).Msg("error closing connection")
	}

	s.log.Info().Msg("calculator service stopped")
	return s.stopErr
}

// Dead returns a channel that closes when the consumer loop has exited or
// Start has failed
func (s *Service) Dead() <-chan struct{} {
	return s.t.Dead()
}

// Err returns the reason the consumer loop died, or tomb.ErrStillAlive
func (s *Service) Err() error {
	return s.t.Err()
}

// Run starts the service and blocks until ctx is done, SIGINT or SIGTERM is
// received, or the consumer loop dies. It then stops the service.
func (s *Service) Run(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := s.Start(); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		s.log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case <-ctx.Done():
	case <-s.t.Dying():
	}

	return s.Stop()
}
