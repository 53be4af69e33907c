package authority

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"boiding.ai/internal/sim/mailbox"
	"boiding.ai/internal/sim/teams"
)

// Sink is the sending half of a collaborator's mailbox.
type Sink[T any] interface {
	Send(v T, timeout time.Duration) error
}

type Outbox struct {
	Prober      Sink[[]ProbeTarget]
	Poller      Sink[[]PollRequest]
	Broadcaster Sink[[]byte]
}

type Config struct {
	Inbox  *mailbox.Mailbox[Message]
	Outbox Outbox

	// EmitTimeout bounds every send toward a collaborator.
	EmitTimeout time.Duration

	Registry *teams.Registry
	Applier  IntentApplier
	Journal  Journal
	Events   EventSink

	Logger *log.Logger
}

const defaultEmitTimeout = 250 * time.Millisecond

// Authority owns the team registry. All registry access happens on the
// goroutine running Run.
type Authority struct {
	inbox  *mailbox.Mailbox[Message]
	out    Outbox
	emitTO time.Duration

	reg     *teams.Registry
	applier IntentApplier
	journal Journal
	events  EventSink
	log     *log.Logger

	seq uint64

	// failing tracks per-collaborator emit state so a dead collaborator is
	// logged once instead of on every message.
	failing map[string]bool

	c      counters
	gauges atomic.Value
}

func New(cfg Config) *Authority {
	if cfg.Inbox == nil {
		cfg.Inbox = mailbox.New[Message](1024)
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = defaultEmitTimeout
	}
	if cfg.Registry == nil {
		cfg.Registry = teams.NewRegistry()
	}
	if cfg.Applier == nil {
		cfg.Applier = LogIntent{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	a := &Authority{
		inbox:   cfg.Inbox,
		out:     cfg.Outbox,
		emitTO:  cfg.EmitTimeout,
		reg:     cfg.Registry,
		applier: cfg.Applier,
		journal: cfg.Journal,
		events:  cfg.Events,
		log:     cfg.Logger,
		failing: map[string]bool{},
	}
	a.gauges.Store(gauges{})
	return a
}

// Inbox is the mailbox every collaborator sends into.
func (a *Authority) Inbox() *mailbox.Mailbox[Message] { return a.inbox }

// Run processes messages one at a time until ctx is done or the inbox is
// closed. Collaborator failures never end the loop.
func (a *Authority) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.inbox.Done():
			return nil
		case m := <-a.inbox.C():
			a.handle(m)
		}
	}
}

// Stop closes the inbox; Run returns after the message in hand.
func (a *Authority) Stop() { a.inbox.Close() }

func (a *Authority) handle(m Message) {
	a.seq++
	entry := JournalEntry{
		Seq:    a.seq,
		UnixMS: time.Now().UnixMilli(),
		Kind:   Kind(m),
		OK:     true,
	}

	switch msg := m.(type) {
	case Register:
		entry.Team = msg.Name
		err := a.reg.Register(msg.Name, msg.Host, msg.Port)
		if err != nil {
			a.log.Printf("register name=%s host=%s port=%d: %v", msg.Name, msg.Host, msg.Port, err)
			entry.OK, entry.Reason = false, teams.Reason(err)
		} else {
			a.log.Printf("registered team=%s host=%s port=%d", msg.Name, msg.Host, msg.Port)
			a.recordEvent(TeamEvent{Team: msg.Name, Kind: EventRegistered, Host: msg.Host, Port: msg.Port})
		}
		reply(msg.Reply, err)

	case Unregister:
		entry.Team = msg.Name
		err := a.reg.Unregister(msg.Name)
		if err != nil {
			a.log.Printf("unregister name=%s: %v", msg.Name, err)
			entry.OK, entry.Reason = false, teams.Reason(err)
		} else {
			a.log.Printf("unregistered team=%s", msg.Name)
			a.recordEvent(TeamEvent{Team: msg.Name, Kind: EventUnregistered})
		}
		reply(msg.Reply, err)

	case HeartbeatCheck:
		a.emitProbes()

	case HeartbeatStatus:
		entry.Team = msg.Name
		a.setLiveness(msg.Name, msg.Connected, &entry)

	case Tick:
		a.c.ticks.Add(1)
		a.reg.Step(1)
		a.emitPolls()

	case SpawnAll:
		entry.Count = msg.Count
		a.reg.Spawn(msg.Count)
		if msg.Count > 0 {
			for _, name := range a.reg.Names() {
				a.recordEvent(TeamEvent{Team: name, Kind: EventSpawned, Count: msg.Count})
			}
		}

	case Spawn:
		entry.Team, entry.Count = msg.Name, msg.Count
		if !a.reg.SpawnFor(msg.Name, msg.Count) {
			a.log.Printf("spawn for unknown team=%s ignored", msg.Name)
			entry.OK, entry.Reason = false, teams.ReasonNameNotRegistered
		} else if msg.Count > 0 {
			a.recordEvent(TeamEvent{Team: msg.Name, Kind: EventSpawned, Count: msg.Count})
		}

	case BrainUpdate:
		entry.Team = msg.Name
		a.c.brainUpdates.Add(1)
		t, ok := a.reg.Get(msg.Name)
		if !ok {
			a.log.Printf("brain update for unknown team=%s dropped", msg.Name)
			entry.OK, entry.Reason = false, teams.ReasonNameNotRegistered
			break
		}
		n := a.applier.ApplyIntent(t, msg.Intent, a.reg.MaxSpeed())
		a.c.intentsApplied.Add(uint64(n))
		entry.Count = n

	default:
		a.c.unknownKinds.Add(1)
		a.log.Printf("unknown message %T ignored", m)
		entry.OK = false
	}

	a.updateGauges()
	entry.Teams = a.reg.Len()
	entry.Agents = a.reg.Agents()
	if a.journal != nil {
		if err := a.journal.WriteEntry(entry); err != nil {
			a.log.Printf("journal seq=%d: %v", entry.Seq, err)
		}
	}
	a.broadcast()
	a.c.processed.Add(1)
}

func (a *Authority) setLiveness(name string, connected bool, entry *JournalEntry) {
	t, ok := a.reg.Get(name)
	if !ok {
		a.log.Printf("heartbeat status for unknown team=%s ignored", name)
		entry.OK, entry.Reason = false, teams.ReasonNameNotRegistered
		return
	}
	was := t.Connected
	a.reg.SetLiveness(name, connected)
	if was == connected {
		return
	}
	kind := EventDisconnected
	if connected {
		kind = EventConnected
	}
	a.log.Printf("team=%s %s", name, kind)
	a.recordEvent(TeamEvent{Team: name, Kind: kind})
}

// pollBatch lists the teams whose brains are due a poll: connected and with
// at least one agent.
func (a *Authority) pollBatch() []PollRequest {
	var batch []PollRequest
	for _, t := range a.reg.Teams() {
		if !t.Connected || t.Flock.Empty() {
			continue
		}
		u, err := t.BrainURL()
		if err != nil {
			a.log.Printf("poll batch: %v", err)
			continue
		}
		payload, err := t.BrainPayload()
		if err != nil {
			a.log.Printf("poll batch team=%s: payload: %v", t.Name, err)
			continue
		}
		batch = append(batch, PollRequest{Name: t.Name, URL: u, Payload: payload})
	}
	return batch
}

func (a *Authority) probeTargets() []ProbeTarget {
	targets := make([]ProbeTarget, 0, a.reg.Len())
	for _, t := range a.reg.Teams() {
		u, err := t.ProbeURL()
		if err != nil {
			a.log.Printf("probe targets: %v", err)
			continue
		}
		targets = append(targets, ProbeTarget{Name: t.Name, URL: u})
	}
	return targets
}

func (a *Authority) emitProbes() {
	targets := a.probeTargets()
	if a.out.Prober == nil {
		return
	}
	a.emitted("prober", &a.c.proberFail, a.out.Prober.Send(targets, a.emitTO))
}

func (a *Authority) emitPolls() {
	batch := a.pollBatch()
	if a.out.Poller == nil {
		return
	}
	a.emitted("poller", &a.c.pollerFail, a.out.Poller.Send(batch, a.emitTO))
}

func (a *Authority) broadcast() {
	b, err := a.reg.Snapshot()
	if err != nil {
		a.log.Printf("snapshot: %v", err)
		return
	}
	if a.out.Broadcaster == nil {
		return
	}
	a.emitted("broadcaster", &a.c.broadcasterFail, a.out.Broadcaster.Send(b, a.emitTO))
}

func (a *Authority) emitted(name string, failures *atomic.Uint64, err error) {
	if err == nil {
		if a.failing[name] {
			a.failing[name] = false
			a.log.Printf("emit to %s recovered", name)
		}
		return
	}
	failures.Add(1)
	if !a.failing[name] {
		a.failing[name] = true
		a.log.Printf("emit to %s: %v", name, err)
	}
}

func (a *Authority) recordEvent(ev TeamEvent) {
	if a.events == nil {
		return
	}
	ev.Seq = a.seq
	ev.UnixMS = time.Now().UnixMilli()
	a.events.RecordTeamEvent(ev)
}

func (a *Authority) updateGauges() {
	g := gauges{Teams: a.reg.Len()}
	for _, t := range a.reg.Teams() {
		if t.Connected {
			g.Connected++
		}
		g.Agents += t.Flock.Len()
	}
	a.gauges.Store(g)
}

func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
