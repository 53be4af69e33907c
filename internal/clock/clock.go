package clock

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/mailbox"
)

// Source sends the same message into the authority inbox on a fixed interval.
// A tick that cannot be delivered within SendTimeout is dropped; the next one
// is not delayed by it.
type Source struct {
	Name        string
	Interval    time.Duration
	Message     authority.Message
	Inbox       authority.Sink[authority.Message]
	SendTimeout time.Duration
	Logger      *log.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func Ticks(inbox authority.Sink[authority.Message], interval time.Duration, logger *log.Logger) *Source {
	return &Source{Name: "tick", Interval: interval, Message: authority.Tick{}, Inbox: inbox, Logger: logger}
}

func Heartbeats(inbox authority.Sink[authority.Message], interval time.Duration, logger *log.Logger) *Source {
	return &Source{Name: "heartbeat", Interval: interval, Message: authority.HeartbeatCheck{}, Inbox: inbox, Logger: logger}
}

// Run returns when ctx is done or the inbox is closed.
func (s *Source) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.New("clock: interval must be positive")
	}
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	timeout := s.SendTimeout
	if timeout <= 0 {
		timeout = s.Interval
	}

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			err := s.Inbox.Send(s.Message, timeout)
			switch {
			case err == nil:
				s.sent.Add(1)
			case errors.Is(err, mailbox.ErrClosed):
				logger.Printf("%s clock: inbox closed, stopping", s.Name)
				return nil
			default:
				if s.dropped.Add(1) == 1 {
					logger.Printf("%s clock: %v (dropping)", s.Name, err)
				}
			}
		}
	}
}

func (s *Source) Sent() uint64    { return s.sent.Load() }
func (s *Source) Dropped() uint64 { return s.dropped.Load() }
