package calcmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Lifecycle(t *testing.T) {
	t.Run("connect is idempotent", func(t *testing.T) {
		conn := NewConnection(NewMemoryTransport(NewMemoryQueues()), testLogger(t))
		assert.False(t, conn.IsConnected())

		require.NoError(t, conn.Connect(context.Background()))
		require.NoError(t, conn.Connect(context.Background()))
		assert.True(t, conn.IsConnected())
	})

	t.Run("disconnect is idempotent", func(t *testing.T) {
		conn := NewConnection(NewMemoryTransport(NewMemoryQueues()), testLogger(t))
		require.NoError(t, conn.Disconnect())

		require.NoError(t, conn.Connect(context.Background()))
		require.NoError(t, conn.Disconnect())
		require.NoError(t, conn.Disconnect())
		assert.False(t, conn.IsConnected())
	})

	t.Run("reconnect after disconnect", func(t *testing.T) {
		conn := NewConnection(NewMemoryTransport(NewMemoryQueues()), testLogger(t))
		require.NoError(t, conn.Connect(context.Background()))
		require.NoError(t, conn.Disconnect())
		require.NoError(t, conn.Connect(context.Background()))
		assert.True(t, conn.IsConnected())
	})

	t.Run("close disposes", func(t *testing.T) {
		conn := NewConnection(NewMemoryTransport(NewMemoryQueues()), testLogger(t))
		require.NoError(t, conn.Connect(context.Background()))

		require.NoError(t, conn.Close())
		require.NoError(t, conn.Close())
		assert.False(t, conn.IsConnected())

		err := conn.Connect(context.Background())
		assert.True(t, HasCode(err, ErrCodeDisposed))

		err = conn.SendMessage("Q", []byte("x"))
		assert.True(t, HasCode(err, ErrCodeDisposed))

		_, _, err = conn.TryReceiveMessage("Q")
		assert.True(t, HasCode(err, ErrCodeDisposed))
	})

	t.Run("connect failure", func(t *testing.T) {
		tr := newFaultyTransport(NewMemoryQueues())
		tr.openErr = errors.New("queue manager unavailable")
		conn := NewConnection(tr, testLogger(t))

		err := conn.Connect(context.Background())
		assert.True(t, HasCode(err, ErrCodeTransport))
		assert.False(t, conn.IsConnected())
	})

	t.Run("handshake bounded by connection timeout", func(t *testing.T) {
		tr := NewMemoryTransport(NewMemoryQueues())
		tr.HandshakeDelay = time.Second
		conn := NewConnection(tr, testLogger(t), WithConnectionTimeout(20*time.Millisecond))

		start := time.Now()
		err := conn.Connect(context.Background())
		assert.True(t, HasCode(err, ErrCodeTransport))
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
}

func TestConnection_Messaging(t *testing.T) {
	t.Run("requires a connection", func(t *testing.T) {
		conn := NewConnection(NewMemoryTransport(NewMemoryQueues()), testLogger(t))

		err := conn.SendMessage("Q", []byte("x"))
		assert.True(t, HasCode(err, ErrCodeNotConnected))

		_, _, err = conn.TryReceiveMessage("Q")
		assert.True(t, HasCode(err, ErrCodeNotConnected))

		err = conn.DeclareQueue("Q")
		assert.True(t, HasCode(err, ErrCodeNotConnected))
	})

	t.Run("send then receive", func(t *testing.T) {
		queues := NewMemoryQueues()
		conn := NewConnection(NewMemoryTransport(queues), testLogger(t))
		require.NoError(t, conn.Connect(context.Background()))
		require.NoError(t, conn.DeclareQueue("Q"))

		_, ok, err := conn.TryReceiveMessage("Q")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, conn.SendMessage("Q", []byte("x")))

		msg, ok, err := conn.TryReceiveMessage("Q")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("x"), msg)
	})

	t.Run("transport errors are wrapped", func(t *testing.T) {
		tr := newFaultyTransport(NewMemoryQueues())
		tr.setReceiveErr(errors.New("broken pipe"))
		tr.sendErr = func(string) error { return errors.New("broken pipe") }
		conn := NewConnection(tr, testLogger(t))
		require.NoError(t, conn.Connect(context.Background()))

		_, _, err := conn.TryReceiveMessage("Q")
		assert.True(t, HasCode(err, ErrCodeTransport))

		err = conn.SendMessage("Q", []byte("x"))
		assert.True(t, HasCode(err, ErrCodeTransport))
	})
}

func TestConnection_CloseDuringReceive(t *testing.T) {
	tr := newSlowTransport(10 * time.Second)
	conn := NewConnection(tr, testLogger(t))
	require.NoError(t, conn.Connect(context.Background()))

	errs := make(chan error, 1)
	go func() {
		_, _, err := conn.TryReceiveMessage("Q")
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case err := <-errs:
		assert.True(t, HasCode(err, ErrCodeTransport))
	case <-time.After(2 * time.Second):
		t.Fatal("receive not released by close")
	}
}
