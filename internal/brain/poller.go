package brain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"boiding.ai/internal/protocol"
	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/flock"
	"boiding.ai/internal/sim/mailbox"
)

var (
	ErrStatus  = errors.New("brain: unexpected status")
	ErrNotText = errors.New("brain: response is not text")
)

type Config struct {
	Timeout     time.Duration
	SendTimeout time.Duration
	Concurrency int
	Logger      *log.Logger
	Client      *resty.Client
}

type Stats struct {
	Batches   uint64 `json:"batches"`
	Coalesced uint64 `json:"coalesced"`
	Polls     uint64 `json:"polls"`
	Failures  uint64 `json:"failures"`
	Updates   uint64 `json:"updates"`
}

// Poller calls each team's brain with its flock and forwards parsed intents
// to the authority. Failed polls are logged and dropped, never retried.
// When batches queue up behind a slow round, only the newest is polled.
type Poller struct {
	in  *mailbox.Mailbox[[]authority.PollRequest]
	out authority.Sink[authority.Message]

	client      *resty.Client
	sendTimeout time.Duration
	concurrency int
	log         *log.Logger

	batches   atomic.Uint64
	coalesced atomic.Uint64
	polls     atomic.Uint64
	failures  atomic.Uint64
	updates   atomic.Uint64
}

func NewPoller(in *mailbox.Mailbox[[]authority.PollRequest], out authority.Sink[authority.Message], cfg Config) *Poller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	client := cfg.Client
	if client == nil {
		client = resty.New()
	}
	client.SetTimeout(cfg.Timeout)
	return &Poller{
		in:          in,
		out:         out,
		client:      client,
		sendTimeout: cfg.SendTimeout,
		concurrency: cfg.Concurrency,
		log:         cfg.Logger,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.in.Done():
			return nil
		case batch := <-p.in.C():
			batch = p.latest(batch)
			p.batches.Add(1)
			if len(batch) == 0 {
				continue
			}
			if err := p.pollAll(ctx, batch); err != nil {
				if errors.Is(err, mailbox.ErrClosed) {
					p.log.Printf("poller: authority inbox closed, stopping")
					return nil
				}
				return err
			}
		}
	}
}

func (p *Poller) latest(batch []authority.PollRequest) []authority.PollRequest {
	for {
		select {
		case next := <-p.in.C():
			p.coalesced.Add(1)
			batch = next
		default:
			return batch
		}
	}
}

func (p *Poller) pollAll(ctx context.Context, batch []authority.PollRequest) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, req := range batch {
		g.Go(func() error {
			p.polls.Add(1)
			intents, err := p.Poll(gctx, req)
			if err != nil {
				p.failures.Add(1)
				p.log.Printf("poller: team=%s: %v", req.Name, err)
				return nil
			}
			err = p.out.Send(authority.BrainUpdate{Name: req.Name, Intent: intents}, p.sendTimeout)
			if errors.Is(err, mailbox.ErrClosed) {
				return err
			}
			if err != nil {
				p.log.Printf("poller: update team=%s: %v", req.Name, err)
				return nil
			}
			p.updates.Add(1)
			return nil
		})
	}
	return g.Wait()
}

// Poll POSTs the flock to the brain and parses its intents.
func (p *Poller) Poll(ctx context.Context, req authority.PollRequest) (flock.Intents, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req.Payload).
		Post(req.URL)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", req.URL, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode())
	}
	body := resp.Body()
	if !utf8.Valid(body) {
		return nil, ErrNotText
	}
	intents, err := protocol.DecodeIntents(body)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (p *Poller) Stats() Stats {
	return Stats{
		Batches:   p.batches.Load(),
		Coalesced: p.coalesced.Load(),
		Polls:     p.polls.Load(),
		Failures:  p.failures.Load(),
		Updates:   p.updates.Load(),
	}
}
