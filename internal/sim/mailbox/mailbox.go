package mailbox

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrClosed  = errors.New("mailbox closed")
	ErrTimeout = errors.New("mailbox send timed out")
)

// Mailbox is a bounded one-directional queue with an explicit close signal.
// The data channel itself is never closed, so a send racing a Close returns
// ErrClosed instead of panicking.
type Mailbox[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

func New[T any](size int) *Mailbox[T] {
	if size < 0 {
		size = 0
	}
	return &Mailbox[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

// Send enqueues v, waiting at most timeout for room. A non-positive timeout
// waits until the mailbox is closed.
func (m *Mailbox[T]) Send(v T, timeout time.Duration) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	if timeout <= 0 {
		select {
		case m.ch <- v:
			return nil
		case <-m.done:
			return ErrClosed
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m.ch <- v:
		return nil
	case <-m.done:
		return ErrClosed
	case <-t.C:
		return ErrTimeout
	}
}

// TrySend enqueues v only if there is room right now.
func (m *Mailbox[T]) TrySend(v T) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- v:
		return nil
	default:
		return ErrTimeout
	}
}

func (m *Mailbox[T]) C() <-chan T          { return m.ch }
func (m *Mailbox[T]) Done() <-chan struct{} { return m.done }

func (m *Mailbox[T]) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *Mailbox[T]) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Mailbox[T]) Len() int { return len(m.ch) }
func (m *Mailbox[T]) Cap() int { return cap(m.ch) }
