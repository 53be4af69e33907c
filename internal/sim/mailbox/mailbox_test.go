package mailbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendReceive(t *testing.T) {
	mb := New[int](2)
	require.NoError(t, mb.Send(1, time.Second))
	require.NoError(t, mb.Send(2, time.Second))
	require.Equal(t, 2, mb.Len())
	require.Equal(t, 1, <-mb.C())
	require.Equal(t, 2, <-mb.C())
}

func TestSendTimesOutWhenFull(t *testing.T) {
	mb := New[int](1)
	require.NoError(t, mb.Send(1, 10*time.Millisecond))

	start := time.Now()
	err := mb.Send(2, 20*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout), "err=%v", err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.ErrorIs(t, mb.TrySend(3), ErrTimeout)
}

func TestSendAfterCloseDoesNotPanic(t *testing.T) {
	mb := New[string](1)
	mb.Close()
	mb.Close()

	require.True(t, mb.Closed())
	require.ErrorIs(t, mb.Send("x", time.Second), ErrClosed)
	require.ErrorIs(t, mb.Send("x", 0), ErrClosed)
	require.ErrorIs(t, mb.TrySend("x"), ErrClosed)
}

func TestCloseUnblocksPendingSend(t *testing.T) {
	mb := New[int](0)
	errCh := make(chan error, 1)
	go func() { errCh <- mb.Send(1, 0) }()

	time.Sleep(10 * time.Millisecond)
	mb.Close()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatalf("send still blocked after close")
	}
}
