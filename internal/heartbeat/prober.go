package heartbeat

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"boiding.ai/internal/sim/authority"
	"boiding.ai/internal/sim/mailbox"
)

type Config struct {
	Timeout     time.Duration
	SendTimeout time.Duration
	Concurrency int
	Logger      *log.Logger
	Client      *resty.Client
}

type Stats struct {
	Rounds uint64 `json:"rounds"`
	Probes uint64 `json:"probes"`
	Down   uint64 `json:"down"`
}

// Prober answers probe batches from the authority with one HeartbeatStatus
// per target. Any HTTP response counts as alive; transport errors and
// timeouts count as down.
type Prober struct {
	in  *mailbox.Mailbox[[]authority.ProbeTarget]
	out authority.Sink[authority.Message]

	client      *resty.Client
	sendTimeout time.Duration
	concurrency int
	log         *log.Logger

	rounds atomic.Uint64
	probes atomic.Uint64
	down   atomic.Uint64
}

func NewProber(in *mailbox.Mailbox[[]authority.ProbeTarget], out authority.Sink[authority.Message], cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
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
	return &Prober{
		in:          in,
		out:         out,
		client:      client,
		sendTimeout: cfg.SendTimeout,
		concurrency: cfg.Concurrency,
		log:         cfg.Logger,
	}
}

func (p *Prober) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.in.Done():
			return nil
		case targets := <-p.in.C():
			if err := p.probeAll(ctx, targets); err != nil {
				if errors.Is(err, mailbox.ErrClosed) {
					p.log.Printf("prober: authority inbox closed, stopping")
					return nil
				}
				return err
			}
		}
	}
}

func (p *Prober) probeAll(ctx context.Context, targets []authority.ProbeTarget) error {
	p.rounds.Add(1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			alive := p.Probe(gctx, t.URL)
			p.probes.Add(1)
			if !alive {
				p.down.Add(1)
			}
			err := p.out.Send(authority.HeartbeatStatus{Name: t.Name, Connected: alive}, p.sendTimeout)
			if errors.Is(err, mailbox.ErrClosed) {
				return err
			}
			if err != nil {
				p.log.Printf("prober: status team=%s: %v", t.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Prober) Stats() Stats {
	return Stats{Rounds: p.rounds.Load(), Probes: p.probes.Load(), Down: p.down.Load()}
}

// Probe issues HEAD url and reports whether any response came back.
func (p *Prober) Probe(ctx context.Context, url string) bool {
	resp, err := p.client.R().SetContext(ctx).Head(url)
	if err != nil {
		return false
	}
	return resp.RawResponse != nil
}
